package orchestrator

import (
	"fmt"
	"strings"

	"github.com/ashkan-rafiee/conductor/config"
	"github.com/ashkan-rafiee/conductor/internal/catalog"
	"github.com/ashkan-rafiee/conductor/internal/gateway"
)

// chatEndpoint builds the chat completions URL for the configured planning
// model provider.
func chatEndpoint(cfg config.LLMConfig) string {
	return strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions"
}

// chatPayload builds an OpenAI-style chat request for the planning model.
func chatPayload(cfg config.LLMConfig, system, user string) map[string]interface{} {
	payload := map[string]interface{}{
		"model": cfg.Model,
		"messages": []gateway.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		"temperature": cfg.Temperature,
	}
	if cfg.MaxTokens > 0 {
		payload["max_tokens"] = cfg.MaxTokens
	}
	return payload
}

// completionText extracts the assistant message content from a chat
// completions response body.
func completionText(resp *gateway.Response) (string, error) {
	choices, ok := resp.Data["choices"].([]interface{})
	if !ok || len(choices) == 0 {
		return "", fmt.Errorf("response has no choices")
	}
	first, ok := choices[0].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("malformed choice")
	}
	message, ok := first["message"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("choice has no message")
	}
	content, ok := message["content"].(string)
	if !ok {
		return "", fmt.Errorf("message content is not text")
	}
	return content, nil
}

// agentManifest renders the provider catalog as a prompt fragment. With
// fields set, each provider's accepted configuration parameters are listed so
// the model can populate input buckets.
func agentManifest(agents []catalog.AgentDescriptor, fields bool) string {
	var b strings.Builder
	for _, a := range agents {
		fmt.Fprintf(&b, "- %s: %s — %s (kind: %s)\n", a.ID, a.Name, a.Description, a.Kind)
		if !fields {
			continue
		}
		for _, f := range a.ConfigFields {
			fmt.Fprintf(&b, "    param %s (%s, target: %s)", f.Name, f.Type, f.Target)
			if f.Description != "" {
				fmt.Fprintf(&b, ": %s", f.Description)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
