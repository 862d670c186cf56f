package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ashkan-rafiee/conductor/internal/gateway"
)

// InvalidDependencyError indicates a task references a dependency id that is
// not present in the plan.
type InvalidDependencyError struct {
	TaskID string
	Ref    string
}

func (e *InvalidDependencyError) Error() string {
	return fmt.Sprintf("task %s depends on unknown task %s", e.TaskID, e.Ref)
}

// CircularDependencyError indicates the plan's dependency graph contains a
// cycle and cannot be ordered.
type CircularDependencyError struct {
	TaskIDs []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency among tasks: %s", strings.Join(e.TaskIDs, ", "))
}

// UnknownAgentError indicates a task is bound to a provider id that is not in
// the catalog.
type UnknownAgentError struct {
	TaskID  string
	AgentID string
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("task %s references unknown agent %s", e.TaskID, e.AgentID)
}

// Sanitize maps an internal error onto a message safe to show end users.
// With debug enabled the raw error text is returned unchanged.
func Sanitize(err error, debug bool) string {
	if err == nil {
		return ""
	}
	if debug {
		return err.Error()
	}

	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		switch gwErr.Kind {
		case gateway.KindRateLimited:
			return "The service is receiving too many requests right now. Please try again shortly."
		case gateway.KindTimeout:
			return "The request took too long to complete. Please try again."
		case gateway.KindConfig:
			return "The service is misconfigured. Please contact the administrator."
		case gateway.KindProvider:
			return "An upstream service reported an error. Please try again later."
		case gateway.KindNetwork:
			return "A network problem interrupted the request. Please try again."
		}
	}

	var depErr *InvalidDependencyError
	var cycErr *CircularDependencyError
	if errors.As(err, &depErr) || errors.As(err, &cycErr) {
		return "The generated plan was inconsistent and could not be executed. Please try again."
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return "The service is receiving too many requests right now. Please try again shortly."
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "context canceled"):
		return "The request took too long to complete. Please try again."
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "api key"), strings.Contains(msg, "forbidden"):
		return "The service is misconfigured. Please contact the administrator."
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"), strings.Contains(msg, "network"):
		return "A network problem interrupted the request. Please try again."
	case strings.Contains(msg, "internal server error"), strings.Contains(msg, "status 5"):
		return "An upstream service reported an error. Please try again later."
	default:
		return "Something went wrong while processing your request. Please try again."
	}
}
