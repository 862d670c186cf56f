package orchestrator

import (
	"context"
	"time"

	"github.com/ashkan-rafiee/conductor/internal/gateway"
)

// Task lifecycle statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Execution types reported by Run.
const (
	ExecGuidance      = "guidance"
	ExecDirect        = "direct"
	ExecTodoRequired  = "todo_required"
	ExecChainExecuted = "chain_executed"
)

// TaskInput holds per-task input overrides, split into the primary input and
// the two side-channel parameter buckets a provider may accept.
type TaskInput struct {
	Prompt string                 `json:"prompt,omitempty"`
	Body   map[string]interface{} `json:"body,omitempty"`
	Extra  map[string]interface{} `json:"extra,omitempty"`
}

// Task is one planned unit of work bound to a capability provider. It is
// created by the synthesizer (or the facade for the single-provider fast
// path) and mutated only by the executor during its own step.
type Task struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	AgentID     string        `json:"agent_id"`
	DependsOn   []string      `json:"depends_on,omitempty"`
	Input       *TaskInput    `json:"input,omitempty"`
	Status      string        `json:"status"`
	Output      interface{}   `json:"output,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at,omitempty"`
	CompletedAt time.Time     `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	TokensUsed  int64         `json:"tokens_used,omitempty"`
	Cost        float64       `json:"cost,omitempty"`
	Model       string        `json:"model,omitempty"`
}

// Classification is the ephemeral outcome of complexity analysis.
type Classification struct {
	Complexity       float64  `json:"complexity"`
	MultiStep        bool     `json:"multi_step"`
	SuggestedAgents  []string `json:"suggested_agents"`
	NoRelevantAgents bool     `json:"no_relevant_agents"`
}

// RunResult is the aggregate outcome of one orchestration run.
type RunResult struct {
	RunID         string        `json:"run_id"`
	Request       string        `json:"request"`
	Complexity    float64       `json:"complexity"`
	ExecutionType string        `json:"execution_type"`
	Response      string        `json:"response,omitempty"`
	Tasks         []*Task       `json:"tasks,omitempty"`
	FinalOutput   string        `json:"final_output,omitempty"`
	TokensUsed    int64         `json:"tokens_used"`
	Cost          float64       `json:"cost"`
	Duration      time.Duration `json:"duration"`
	CreatedAt     time.Time     `json:"created_at"`
}

// PlanRunResult is the outcome of executing an already-approved plan.
type PlanRunResult struct {
	Tasks       []*Task `json:"tasks"`
	FinalOutput string  `json:"final_output"`
}

// Caller abstracts the capability gateway so components can be exercised
// against stub providers in tests.
type Caller interface {
	Call(ctx context.Context, endpoint string, payload interface{}) (*gateway.Response, error)
}
