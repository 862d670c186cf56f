package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/ashkan-rafiee/conductor/internal/catalog"
	"github.com/ashkan-rafiee/conductor/internal/gateway"
)

// TaskRecorder receives per-task accounting events.
type TaskRecorder interface {
	RecordTask(agentID string, duration time.Duration, tokens int64, cost float64, failed bool)
}

// CostFunc prices a provider call from its reported usage.
type CostFunc func(model string, usage gateway.Usage) float64

// Executor runs a validated task plan in dependency order, forwarding each
// task's output as the primary input of the next.
type Executor struct {
	caller   Caller
	catalog  catalog.Catalog
	cost     CostFunc
	recorder TaskRecorder
	logger   *log.Logger
}

// NewExecutor creates an executor. cost and recorder may be nil.
func NewExecutor(caller Caller, cat catalog.Catalog, cost CostFunc, recorder TaskRecorder) *Executor {
	return &Executor{
		caller:   caller,
		catalog:  cat,
		cost:     cost,
		recorder: recorder,
		logger:   log.New(log.Writer(), "[EXECUTOR] ", log.LstdFlags),
	}
}

// Execute validates the plan, orders it topologically, and runs each pending
// task in turn. initialInput seeds the first task's primary input; afterwards
// each task receives the previous completed task's output unless its own
// input overrides it. Execution aborts at the first task failure. Tasks
// already completed (a resumed plan) are skipped but still feed forwarding.
func (e *Executor) Execute(ctx context.Context, tasks []*Task, initialInput string) (string, error) {
	if len(tasks) == 0 {
		return "", fmt.Errorf("empty plan")
	}
	agents, err := e.agentIndex(ctx, tasks)
	if err != nil {
		return "", err
	}
	if err := validatePlan(tasks); err != nil {
		return "", err
	}
	ordered, err := topoSort(tasks)
	if err != nil {
		return "", err
	}

	byID := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	currentInput := initialInput
	for _, t := range ordered {
		if t.Status == StatusCompleted {
			currentInput = stringifyOutput(t.Output)
			continue
		}
		for _, dep := range t.DependsOn {
			if byID[dep].Status != StatusCompleted {
				return "", fmt.Errorf("task %s scheduled before dependency %s completed", t.ID, dep)
			}
		}
		if err := ctx.Err(); err != nil {
			return "", &gateway.Error{Kind: gateway.KindTimeout, Err: err}
		}

		if err := e.runTask(ctx, t, agents[t.AgentID], currentInput); err != nil {
			return "", fmt.Errorf("task %q (%s): %w", t.Title, t.AgentID, err)
		}
		currentInput = stringifyOutput(t.Output)
	}
	return currentInput, nil
}

// runTask invokes the task's provider and records the outcome on the task.
func (e *Executor) runTask(ctx context.Context, t *Task, agent catalog.AgentDescriptor, currentInput string) error {
	primary := currentInput
	if t.Input != nil && t.Input.Prompt != "" {
		primary = t.Input.Prompt
	}

	t.StartedAt = time.Now()
	e.logger.Printf("running task %q via %s", t.Title, agent.ID)

	resp, err := e.caller.Call(ctx, agent.Endpoint, buildPayload(agent, primary, t))
	t.CompletedAt = time.Now()
	t.Duration = t.CompletedAt.Sub(t.StartedAt)

	if err != nil {
		t.Status = StatusFailed
		t.Error = err.Error()
		t.Output = t.Error
		if e.recorder != nil {
			e.recorder.RecordTask(agent.ID, t.Duration, 0, 0, true)
		}
		return err
	}

	t.Output = extractOutput(agent, resp)
	t.Status = StatusCompleted
	if resp.Usage != nil {
		t.TokensUsed = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
		t.Model = resp.Usage.Model
		if e.cost != nil {
			t.Cost = e.cost(resp.Usage.Model, *resp.Usage)
		}
	}
	if e.recorder != nil {
		e.recorder.RecordTask(agent.ID, t.Duration, t.TokensUsed, t.Cost, false)
	}
	return nil
}

// agentIndex resolves every provider the plan references, failing fast on
// unknown bindings.
func (e *Executor) agentIndex(ctx context.Context, tasks []*Task) (map[string]catalog.AgentDescriptor, error) {
	agents := make(map[string]catalog.AgentDescriptor)
	for _, t := range tasks {
		if _, ok := agents[t.AgentID]; ok {
			continue
		}
		a, ok := e.catalog.Agent(ctx, t.AgentID)
		if !ok {
			return nil, &UnknownAgentError{TaskID: t.ID, AgentID: t.AgentID}
		}
		agents[t.AgentID] = a
	}
	return agents, nil
}

// validatePlan checks that every dependency reference points at a task in
// the plan.
func validatePlan(tasks []*Task) error {
	ids := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		ids[t.ID] = true
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if !ids[dep] {
				return &InvalidDependencyError{TaskID: t.ID, Ref: dep}
			}
		}
	}
	return nil
}

// topoSort orders tasks with Kahn's algorithm, breaking ties by plan order
// so runs are deterministic. A cycle yields a CircularDependencyError naming
// the tasks left unordered.
func topoSort(tasks []*Task) ([]*Task, error) {
	pos := make(map[string]int, len(tasks))
	indegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))
	byID := make(map[string]*Task, len(tasks))
	for i, t := range tasks {
		pos[t.ID] = i
		byID[t.ID] = t
		indegree[t.ID] = len(t.DependsOn)
		for _, dep := range t.DependsOn {
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	var ready []string
	for _, t := range tasks {
		if indegree[t.ID] == 0 {
			ready = append(ready, t.ID)
		}
	}

	ordered := make([]*Task, 0, len(tasks))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return pos[ready[i]] < pos[ready[j]] })
		id := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byID[id])
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(ordered) != len(tasks) {
		var stuck []string
		for _, t := range tasks {
			if indegree[t.ID] > 0 {
				stuck = append(stuck, t.ID)
			}
		}
		return nil, &CircularDependencyError{TaskIDs: stuck}
	}
	return ordered, nil
}

// buildPayload shapes the outbound request for a provider: the primary input
// goes where the provider's kind expects it, the body bucket merges into the
// request body, and the extra bucket rides along under its own key.
func buildPayload(agent catalog.AgentDescriptor, primary string, t *Task) map[string]interface{} {
	payload := map[string]interface{}{}
	switch agent.Kind {
	case catalog.KindText:
		payload["messages"] = []gateway.Message{{Role: "user", Content: primary}}
	case catalog.KindMedia:
		payload["prompt"] = primary
	default:
		payload["input"] = primary
	}
	if t.Input != nil {
		for k, v := range t.Input.Body {
			payload[k] = v
		}
		if len(t.Input.Extra) > 0 {
			payload["extra"] = t.Input.Extra
		}
	}
	return payload
}

// extractOutput pulls the useful result out of a provider response by kind.
func extractOutput(agent catalog.AgentDescriptor, resp *gateway.Response) interface{} {
	switch agent.Kind {
	case catalog.KindText:
		if choices, ok := resp.Data["choices"].([]interface{}); ok && len(choices) > 0 {
			if m, ok := choices[0].(map[string]interface{}); ok {
				if msg, ok := m["message"].(map[string]interface{}); ok {
					if content, ok := msg["content"].(string); ok {
						return content
					}
				}
			}
		}
		for _, key := range []string{"output", "text", "content"} {
			if s, ok := resp.Data[key].(string); ok {
				return s
			}
		}
	case catalog.KindMedia:
		if data, ok := resp.Data["data"].([]interface{}); ok && len(data) > 0 {
			if m, ok := data[0].(map[string]interface{}); ok {
				if u, ok := m["url"].(string); ok {
					return u
				}
			}
		}
	default:
		if data, ok := resp.Data["data"]; ok {
			return data
		}
	}
	return resp.Data
}

// stringifyOutput renders a task output as the next task's primary input.
// Strings pass through; anything else is forwarded as compact JSON.
func stringifyOutput(out interface{}) string {
	switch v := out.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
