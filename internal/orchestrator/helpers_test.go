package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/ashkan-rafiee/conductor/config"
	"github.com/ashkan-rafiee/conductor/internal/catalog"
	"github.com/ashkan-rafiee/conductor/internal/gateway"
)

// scriptedCall is one queued gateway outcome.
type scriptedCall struct {
	resp *gateway.Response
	err  error
}

// stubCaller replays a scripted sequence of gateway responses and records
// every call it receives.
type stubCaller struct {
	mu        sync.Mutex
	script    []scriptedCall
	endpoints []string
	payloads  []interface{}
}

func (s *stubCaller) Call(ctx context.Context, endpoint string, payload interface{}) (*gateway.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints = append(s.endpoints, endpoint)
	s.payloads = append(s.payloads, payload)
	if len(s.script) == 0 {
		return nil, fmt.Errorf("unexpected call to %s", endpoint)
	}
	next := s.script[0]
	s.script = s.script[1:]
	return next.resp, next.err
}

func (s *stubCaller) enqueue(resp *gateway.Response, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, scriptedCall{resp: resp, err: err})
}

// chatResponse wraps text in an OpenAI-style chat completions body.
func chatResponse(content string) *gateway.Response {
	return &gateway.Response{Data: map[string]interface{}{
		"choices": []interface{}{
			map[string]interface{}{
				"message": map[string]interface{}{"content": content},
			},
		},
	}}
}

// mapCatalog is a fixed in-memory catalog for tests.
type mapCatalog struct {
	agents []catalog.AgentDescriptor
}

func (m *mapCatalog) Agents(ctx context.Context) []catalog.AgentDescriptor {
	return m.agents
}

func (m *mapCatalog) Agent(ctx context.Context, id string) (catalog.AgentDescriptor, bool) {
	for _, a := range m.agents {
		if a.ID == id {
			return a, true
		}
	}
	return catalog.AgentDescriptor{}, false
}

func testConfig() *config.Config {
	return &config.Config{
		LLM: config.LLMConfig{
			BaseURL: "https://planner.test/v1",
			Model:   "planner-1",
		},
		Orchestrator: config.OrchestratorConfig{
			ComplexityThreshold: 0.4,
			SynthesisRetries:    1,
		},
	}
}

func testAgents() []catalog.AgentDescriptor {
	return []catalog.AgentDescriptor{
		{ID: "summarizer", Name: "Summarizer", Description: "Condenses text", Kind: catalog.KindText, Endpoint: "https://agents.test/summarize"},
		{ID: "translator", Name: "Translator", Description: "Translates text", Kind: catalog.KindText, Endpoint: "https://agents.test/translate"},
		{ID: "renderer", Name: "Renderer", Description: "Renders images", Kind: catalog.KindMedia, Endpoint: "https://agents.test/render"},
	}
}
