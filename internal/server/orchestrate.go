package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ashkan-rafiee/conductor/internal/orchestrator"
	"github.com/ashkan-rafiee/conductor/internal/store"
)

// Runner is the orchestration facade the handlers drive.
type Runner interface {
	Run(ctx context.Context, request string) (orchestrator.RunResult, error)
	RunApprovedPlan(ctx context.Context, tasks []*orchestrator.Task, initialInput string) (orchestrator.PlanRunResult, error)
}

// RunStore is the subset of the store the run handlers need.
type RunStore interface {
	SaveRun(ctx context.Context, userID string, result orchestrator.RunResult, runErr string) error
	GetRun(ctx context.Context, id string) (store.RunRecord, error)
	ListRuns(ctx context.Context, userID string, limit int) ([]store.RunRecord, error)
}

type OrchestrateHandler struct {
	Runner Runner
	Store  RunStore
	Debug  bool
	Logger *log.Logger
}

func (h *OrchestrateHandler) Register(g *echo.Group) {
	g.POST("/orchestrate", h.orchestrate)
	g.POST("/plans/execute", h.executePlan)
	g.GET("/runs", h.listRuns)
	g.GET("/runs/:id", h.getRun)
}

func (h *OrchestrateHandler) orchestrate(c echo.Context) error {
	var req OrchestrateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Request) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "request is required")
	}

	ctx := c.Request().Context()
	userID, _ := SubjectFromContext(ctx)

	result, runErr := h.Runner.Run(ctx, req.Request)
	h.persist(ctx, userID, result, errString(runErr))
	if runErr != nil {
		h.Logger.Printf("run %s failed: %v", result.RunID, runErr)
		return echo.NewHTTPError(http.StatusBadGateway, orchestrator.Sanitize(runErr, h.Debug))
	}

	return c.JSON(http.StatusOK, OrchestrateResponse{
		RunID:         result.RunID,
		ExecutionType: result.ExecutionType,
		Complexity:    result.Complexity,
		Response:      result.Response,
		FinalOutput:   result.FinalOutput,
		Tasks:         result.Tasks,
		TokensUsed:    result.TokensUsed,
		Cost:          result.Cost,
	})
}

// executePlan runs an approved plan, either inline or loaded from a stored
// run that ended in todo_required.
func (h *OrchestrateHandler) executePlan(c echo.Context) error {
	var req ExecutePlanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	userID, _ := SubjectFromContext(ctx)

	tasks := req.Tasks
	initialInput := req.InitialInput
	var stored store.RunRecord
	if len(tasks) == 0 && req.RunID != "" {
		var err error
		stored, err = h.Store.GetRun(ctx, req.RunID)
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if stored.ExecutionType != orchestrator.ExecTodoRequired {
			return echo.NewHTTPError(http.StatusConflict, "run has no pending plan")
		}
		tasks = stored.Tasks
		if initialInput == "" {
			initialInput = stored.Request
		}
	}
	if len(tasks) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "tasks or run_id required")
	}

	result, runErr := h.Runner.RunApprovedPlan(ctx, tasks, initialInput)
	if stored.ID != "" {
		updated := orchestrator.RunResult{
			RunID:         stored.ID,
			Request:       stored.Request,
			Complexity:    stored.Complexity,
			ExecutionType: orchestrator.ExecChainExecuted,
			Response:      result.FinalOutput,
			Tasks:         result.Tasks,
			FinalOutput:   result.FinalOutput,
			CreatedAt:     stored.CreatedAt,
		}
		for _, t := range result.Tasks {
			updated.TokensUsed += t.TokensUsed
			updated.Cost += t.Cost
		}
		h.persist(ctx, userID, updated, errString(runErr))
	}
	if runErr != nil {
		h.Logger.Printf("plan execution failed: %v", runErr)
		return echo.NewHTTPError(http.StatusBadGateway, orchestrator.Sanitize(runErr, h.Debug))
	}

	return c.JSON(http.StatusOK, ExecutePlanResponse{
		Tasks:       result.Tasks,
		FinalOutput: result.FinalOutput,
	})
}

func (h *OrchestrateHandler) listRuns(c echo.Context) error {
	userID, ok := SubjectFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	runs, err := h.Store.ListRuns(c.Request().Context(), userID, 50)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	return c.JSON(http.StatusOK, runs)
}

func (h *OrchestrateHandler) getRun(c echo.Context) error {
	rec, err := h.Store.GetRun(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *OrchestrateHandler) persist(ctx context.Context, userID string, result orchestrator.RunResult, errMsg string) {
	if h.Store == nil {
		return
	}
	if err := h.Store.SaveRun(ctx, userID, result, errMsg); err != nil {
		h.Logger.Printf("persist run %s: %v", result.RunID, err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
