// Package agent implements the query agent that answers questions about the datasets.
package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrStepLimit is returned when the model keeps calling tools past the step budget.
	ErrStepLimit = errors.New("agent exceeded tool step limit")
	// ErrEmptyAnswer is returned when the model finishes without any text.
	ErrEmptyAnswer = errors.New("agent returned an empty answer")
	// ErrUnknownTool is reported to the model when it calls a tool that does not exist.
	ErrUnknownTool = errors.New("unknown tool")
)

// APIError is a non-success response from a hosted model API.
type APIError struct {
	Provider string
	Status   int
	Type     string
	Message  string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s api error %d: %s: %s", e.Provider, e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("%s api error %d: %s", e.Provider, e.Status, e.Message)
}
