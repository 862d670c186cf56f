package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/ashkan-rafiee/conductor/config"
	"github.com/ashkan-rafiee/conductor/internal/catalog"
)

// Classifier decides whether a request needs provider work at all and, when
// it does, scores its complexity and nominates candidate providers.
type Classifier struct {
	cfg    config.LLMConfig
	caller Caller
	logger *log.Logger
}

// NewClassifier creates a classifier backed by the given gateway.
func NewClassifier(cfg config.LLMConfig, caller Caller) *Classifier {
	return &Classifier{
		cfg:    cfg,
		caller: caller,
		logger: log.New(log.Writer(), "[CLASSIFIER] ", log.LstdFlags),
	}
}

const informationalSystemPrompt = `You triage user requests for a task orchestration system.
Decide whether the request is purely informational (a question the assistant can answer directly
from general knowledge, a greeting, or small talk) or whether it asks for work that requires
invoking external capabilities.
Respond with JSON only: {"informational": true|false, "answer": "..."}.
When informational is true, answer must contain a complete, helpful reply to the request.
When informational is false, answer must be an empty string.`

// IsInformational returns true together with a direct answer when the
// request needs no provider work.
func (c *Classifier) IsInformational(ctx context.Context, request string) (bool, string, error) {
	resp, err := c.caller.Call(ctx, chatEndpoint(c.cfg), chatPayload(c.cfg, informationalSystemPrompt, request))
	if err != nil {
		return false, "", fmt.Errorf("informational triage: %w", err)
	}
	content, err := completionText(resp)
	if err != nil {
		return false, "", fmt.Errorf("informational triage: %w", err)
	}
	var parsed struct {
		Informational bool   `json:"informational"`
		Answer        string `json:"answer"`
	}
	block := ExtractJSONBlock(content)
	if block == "" {
		return false, "", fmt.Errorf("informational triage: no JSON in response")
	}
	if err := json.Unmarshal([]byte(block), &parsed); err != nil {
		if err2 := json.Unmarshal([]byte(RepairJSON(block)), &parsed); err2 != nil {
			return false, "", fmt.Errorf("informational triage: parse response: %w", err)
		}
	}
	return parsed.Informational, parsed.Answer, nil
}

const classifySystemPrompt = `You analyze user requests for a task orchestration system.
Given the request and the catalog of available capability providers, respond with JSON only:
{"complexity": <0.0-1.0>, "multi_step": true|false, "suggested_agents": ["provider-id", ...]}.
complexity reflects how much coordinated work the request needs (0 trivial, 1 a long chain of
dependent steps). multi_step is true when the request cannot be satisfied by a single provider
call. suggested_agents lists only provider ids from the catalog, most relevant first. Use an
empty list when no provider is relevant to the request.`

// Classify scores the request against the provider catalog. Suggested agents
// not present in the catalog are filtered out; complexity is clamped to
// [0, 1].
func (c *Classifier) Classify(ctx context.Context, request string, agents []catalog.AgentDescriptor) (Classification, error) {
	user := fmt.Sprintf("Request:\n%s\n\nAvailable providers:\n%s", request, agentManifest(agents, false))
	resp, err := c.caller.Call(ctx, chatEndpoint(c.cfg), chatPayload(c.cfg, classifySystemPrompt, user))
	if err != nil {
		return Classification{}, fmt.Errorf("classify request: %w", err)
	}
	content, err := completionText(resp)
	if err != nil {
		return Classification{}, fmt.Errorf("classify request: %w", err)
	}

	var parsed struct {
		Complexity      float64  `json:"complexity"`
		MultiStep       bool     `json:"multi_step"`
		SuggestedAgents []string `json:"suggested_agents"`
	}
	block := ExtractJSONBlock(content)
	if block == "" {
		return Classification{}, fmt.Errorf("classify request: no JSON in response")
	}
	if err := json.Unmarshal([]byte(block), &parsed); err != nil {
		if err2 := json.Unmarshal([]byte(RepairJSON(block)), &parsed); err2 != nil {
			return Classification{}, fmt.Errorf("classify request: parse response: %w", err)
		}
	}

	cls := Classification{
		Complexity: clamp01(parsed.Complexity),
		MultiStep:  parsed.MultiStep,
	}
	known := make(map[string]bool, len(agents))
	for _, a := range agents {
		known[a.ID] = true
	}
	for _, id := range parsed.SuggestedAgents {
		if known[id] {
			cls.SuggestedAgents = append(cls.SuggestedAgents, id)
		} else {
			c.logger.Printf("dropping unknown suggested agent %q", id)
		}
	}
	cls.NoRelevantAgents = len(cls.SuggestedAgents) == 0
	return cls, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
