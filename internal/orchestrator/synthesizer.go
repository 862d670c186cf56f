package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ashkan-rafiee/conductor/config"
	"github.com/ashkan-rafiee/conductor/internal/catalog"
)

// Synthesizer turns a classified request into an ordered plan of tasks bound
// to catalog providers.
type Synthesizer struct {
	cfg    config.LLMConfig
	caller Caller
	logger *log.Logger
}

// NewSynthesizer creates a plan synthesizer backed by the given gateway.
func NewSynthesizer(cfg config.LLMConfig, caller Caller) *Synthesizer {
	return &Synthesizer{
		cfg:    cfg,
		caller: caller,
		logger: log.New(log.Writer(), "[SYNTHESIZER] ", log.LstdFlags),
	}
}

const synthesizeSystemPrompt = `You plan work for a task orchestration system.
Break the user's request into the smallest set of tasks that satisfies it, using only the
capability providers listed. Respond with a JSON array only, no prose:
[{"title": "...", "description": "...", "agent": "provider-id",
  "input": {"prompt": "...", "body": {...}, "extra": {...}},
  "depends_on": ["title or index of an earlier task", ...]}]
Rules:
- agent must be one of the listed provider ids.
- input.prompt is the task's primary instruction. body and extra carry provider parameters
  from the listed params, keyed by param name; omit them when unused.
- depends_on names tasks whose output this task needs. Leave it empty for tasks that start
  from the original request.
- Order tasks so dependencies come before dependents.`

// Synthesize produces a normalized task plan for the request. The returned
// tasks carry fresh ids, validated provider bindings, and dependency lists
// resolved to task ids.
func (s *Synthesizer) Synthesize(ctx context.Context, request string, cls Classification, agents []catalog.AgentDescriptor) ([]*Task, error) {
	if len(cls.SuggestedAgents) == 0 {
		return nil, nil
	}
	suggested := make(map[string]bool, len(cls.SuggestedAgents))
	for _, id := range cls.SuggestedAgents {
		suggested[id] = true
	}
	relevant := make([]catalog.AgentDescriptor, 0, len(cls.SuggestedAgents))
	for _, a := range agents {
		if suggested[a.ID] {
			relevant = append(relevant, a)
		}
	}
	user := fmt.Sprintf("Request:\n%s\n\nAvailable providers:\n%s", request, agentManifest(relevant, true))

	resp, err := s.caller.Call(ctx, chatEndpoint(s.cfg), chatPayload(s.cfg, synthesizeSystemPrompt, user))
	if err != nil {
		return nil, fmt.Errorf("synthesize plan: %w", err)
	}
	content, err := completionText(resp)
	if err != nil {
		return nil, fmt.Errorf("synthesize plan: %w", err)
	}

	raw, err := parsePlan(content)
	if err != nil {
		return nil, fmt.Errorf("synthesize plan: %w", err)
	}

	known := make(map[string]bool, len(agents))
	for _, a := range agents {
		known[a.ID] = true
	}

	tasks := make([]*Task, 0, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r.Title) == "" || strings.TrimSpace(r.Agent) == "" {
			s.logger.Printf("dropping planned task with missing title or agent: %+v", r)
			continue
		}
		if !known[r.Agent] {
			s.logger.Printf("dropping planned task %q bound to unknown agent %q", r.Title, r.Agent)
			continue
		}
		t := &Task{
			ID:          uuid.NewString(),
			Title:       strings.TrimSpace(r.Title),
			Description: strings.TrimSpace(r.Description),
			AgentID:     r.Agent,
			DependsOn:   r.DependsOn,
			Input:       r.Input,
			Status:      StatusPending,
		}
		tasks = append(tasks, t)
	}
	NormalizeDependencies(tasks)
	return tasks, nil
}

type rawTask struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Agent       string     `json:"agent"`
	Input       *TaskInput `json:"input"`
	DependsOn   []string   `json:"depends_on"`
}

// parsePlan decodes the model's plan output, applying mechanical JSON repair
// when the first decode fails.
func parsePlan(content string) ([]rawTask, error) {
	block := ExtractJSONBlock(content)
	if block == "" {
		return nil, fmt.Errorf("no JSON in plan response")
	}
	var raw []rawTask
	if err := json.Unmarshal([]byte(block), &raw); err == nil {
		return raw, nil
	}
	if err := json.Unmarshal([]byte(RepairJSON(block)), &raw); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	return raw, nil
}

var stepRefRe = regexp.MustCompile(`(?i)^(?:step|task)[\s_-]*(\d+)$`)

// NormalizeDependencies rewrites each task's dependency references to task
// ids. References are resolved in order: step-number patterns ("step 2",
// "task_3"), bare numeric indices (1-based), exact title match, existing task
// id. A task whose references are all unresolvable, or that declares none,
// falls back to depending on the task immediately before it; the first task
// keeps an empty list. The rewrite is idempotent.
func NormalizeDependencies(tasks []*Task) {
	byTitle := make(map[string]string, len(tasks))
	byID := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		byTitle[strings.ToLower(strings.TrimSpace(t.Title))] = t.ID
		byID[t.ID] = true
	}

	for i, t := range tasks {
		var resolved []string
		seen := make(map[string]bool)
		for _, ref := range t.DependsOn {
			id := resolveRef(ref, tasks, byTitle, byID)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			resolved = append(resolved, id)
		}
		if len(resolved) == 0 && i > 0 {
			resolved = []string{tasks[i-1].ID}
		}
		t.DependsOn = resolved
	}
}

func resolveRef(ref string, tasks []*Task, byTitle map[string]string, byID map[string]bool) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if m := stepRefRe.FindStringSubmatch(ref); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n >= 1 && n <= len(tasks) {
			return tasks[n-1].ID
		}
		return ""
	}
	if n, err := strconv.Atoi(ref); err == nil {
		if n >= 1 && n <= len(tasks) {
			return tasks[n-1].ID
		}
		return ""
	}
	if id, ok := byTitle[strings.ToLower(ref)]; ok {
		return id
	}
	if byID[ref] {
		return ref
	}
	return ""
}
