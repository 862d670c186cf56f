package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ashkan-rafiee/conductor/config"
	"github.com/ashkan-rafiee/conductor/internal/catalog"
)

// RunRecorder receives run-level accounting events.
type RunRecorder interface {
	RecordRun(executionType string, duration time.Duration, tokens int64, cost float64, failed bool)
}

// Orchestrator is the facade over classification, plan synthesis, and
// execution. One instance serves many concurrent runs.
type Orchestrator struct {
	cfg         *config.Config
	catalog     catalog.Catalog
	classifier  *Classifier
	synthesizer *Synthesizer
	executor    *Executor
	recorder    RunRecorder
	logger      *log.Logger
}

// New wires an orchestrator from its parts. recorder may be nil.
func New(cfg *config.Config, cat catalog.Catalog, caller Caller, cost CostFunc, taskRec TaskRecorder, runRec RunRecorder) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		catalog:     cat,
		classifier:  NewClassifier(cfg.LLM, caller),
		synthesizer: NewSynthesizer(cfg.LLM, caller),
		executor:    NewExecutor(caller, cat, cost, taskRec),
		recorder:    runRec,
		logger:      log.New(log.Writer(), "[ORCHESTRATOR] ", log.LstdFlags),
	}
}

const noProvidersResponse = "None of the available capabilities match this request. " +
	"Try rephrasing it, or ask what this system can do."

// Run processes a request end to end: triage, classification, then either a
// direct answer, a single provider call, a plan handed back for approval, or
// a fully executed task chain. The whole run is bounded by the configured
// maximum processing time.
func (o *Orchestrator) Run(ctx context.Context, request string) (RunResult, error) {
	if o.cfg.General.MaxProcessingTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.General.MaxProcessingTime)
		defer cancel()
	}

	result := RunResult{
		RunID:     uuid.NewString(),
		Request:   request,
		CreatedAt: time.Now(),
	}
	started := time.Now()
	finish := func(err error) (RunResult, error) {
		result.Duration = time.Since(started)
		for _, t := range result.Tasks {
			result.TokensUsed += t.TokensUsed
			result.Cost += t.Cost
		}
		if o.recorder != nil {
			o.recorder.RecordRun(result.ExecutionType, result.Duration, result.TokensUsed, result.Cost, err != nil)
		}
		return result, err
	}

	informational, answer, err := o.classifier.IsInformational(ctx, request)
	if err != nil {
		return finish(fmt.Errorf("run %s: %w", result.RunID, err))
	}
	if informational {
		result.ExecutionType = ExecGuidance
		result.Response = answer
		return finish(nil)
	}

	agents := o.catalog.Agents(ctx)
	cls, err := o.classifier.Classify(ctx, request, agents)
	if err != nil {
		return finish(fmt.Errorf("run %s: %w", result.RunID, err))
	}
	result.Complexity = cls.Complexity
	o.logger.Printf("run %s: complexity=%.2f multi_step=%v agents=%v", result.RunID, cls.Complexity, cls.MultiStep, cls.SuggestedAgents)

	if cls.NoRelevantAgents {
		result.ExecutionType = ExecGuidance
		result.Response = noProvidersResponse
		return finish(nil)
	}

	if o.isDirect(ctx, cls) {
		agent, _ := o.catalog.Agent(ctx, cls.SuggestedAgents[0])
		task := &Task{
			ID:      uuid.NewString(),
			Title:   agent.Name,
			AgentID: agent.ID,
			Status:  StatusPending,
		}
		result.Tasks = []*Task{task}
		final, err := o.executor.Execute(ctx, result.Tasks, request)
		if err != nil {
			result.ExecutionType = ExecDirect
			return finish(fmt.Errorf("run %s: %w", result.RunID, err))
		}
		result.ExecutionType = ExecDirect
		result.Response = final
		result.FinalOutput = final
		return finish(nil)
	}

	tasks, err := o.synthesizeWithRetry(ctx, request, cls, agents)
	if err != nil {
		return finish(fmt.Errorf("run %s: %w", result.RunID, err))
	}
	if len(tasks) == 0 {
		result.ExecutionType = ExecGuidance
		result.Response = noProvidersResponse
		return finish(nil)
	}
	result.Tasks = tasks

	if o.cfg.Orchestrator.RequireApproval {
		result.ExecutionType = ExecTodoRequired
		result.Response = fmt.Sprintf("Planned %d tasks; awaiting approval.", len(tasks))
		return finish(nil)
	}

	final, err := o.executor.Execute(ctx, tasks, request)
	if err != nil {
		result.ExecutionType = ExecChainExecuted
		return finish(fmt.Errorf("run %s: %w", result.RunID, err))
	}
	result.ExecutionType = ExecChainExecuted
	result.Response = final
	result.FinalOutput = final
	return finish(nil)
}

// RunApprovedPlan executes a plan the caller has already reviewed. Tasks
// already completed are skipped, so a partially executed plan resumes where
// it stopped.
func (o *Orchestrator) RunApprovedPlan(ctx context.Context, tasks []*Task, initialInput string) (PlanRunResult, error) {
	if o.cfg.General.MaxProcessingTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.General.MaxProcessingTime)
		defer cancel()
	}
	final, err := o.executor.Execute(ctx, tasks, initialInput)
	if err != nil {
		return PlanRunResult{Tasks: tasks}, err
	}
	return PlanRunResult{Tasks: tasks, FinalOutput: final}, nil
}

// isDirect reports whether the classification permits the single-provider
// fast path. A provider-specific complexity threshold, when present, takes
// precedence over the configured default.
func (o *Orchestrator) isDirect(ctx context.Context, cls Classification) bool {
	if cls.MultiStep || len(cls.SuggestedAgents) != 1 {
		return false
	}
	threshold := o.cfg.Orchestrator.ComplexityThreshold
	if agent, ok := o.catalog.Agent(ctx, cls.SuggestedAgents[0]); ok && agent.ComplexityThreshold != nil {
		threshold = *agent.ComplexityThreshold
	}
	return cls.Complexity < threshold
}

// synthesizeWithRetry retries plan synthesis with exponential backoff, since
// a malformed plan is usually transient model output.
func (o *Orchestrator) synthesizeWithRetry(ctx context.Context, request string, cls Classification, agents []catalog.AgentDescriptor) ([]*Task, error) {
	var lastErr error
	attempts := o.cfg.Orchestrator.SynthesisRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := o.cfg.Orchestrator.SynthesisBackoff << (attempt - 1)
			o.logger.Printf("plan synthesis attempt %d failed, retrying in %s: %v", attempt, backoff, lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		tasks, err := o.synthesizer.Synthesize(ctx, request, cls, agents)
		if err == nil {
			return tasks, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
