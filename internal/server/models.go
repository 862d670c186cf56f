package server

import "github.com/ashkan-rafiee/conductor/internal/orchestrator"

// HTTPError is the unified error body returned by the API.
type HTTPError struct {
	Error string `json:"error"`
}

type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type OrchestrateRequest struct {
	Request string `json:"request"`
}

type OrchestrateResponse struct {
	RunID         string               `json:"run_id"`
	ExecutionType string               `json:"execution_type"`
	Complexity    float64              `json:"complexity"`
	Response      string               `json:"response,omitempty"`
	FinalOutput   string               `json:"final_output,omitempty"`
	Tasks         []*orchestrator.Task `json:"tasks,omitempty"`
	TokensUsed    int64                `json:"tokens_used"`
	Cost          float64              `json:"cost"`
}

type ExecutePlanRequest struct {
	RunID        string               `json:"run_id,omitempty"`
	Tasks        []*orchestrator.Task `json:"tasks,omitempty"`
	InitialInput string               `json:"initial_input,omitempty"`
}

type ExecutePlanResponse struct {
	Tasks       []*orchestrator.Task `json:"tasks"`
	FinalOutput string               `json:"final_output"`
}
