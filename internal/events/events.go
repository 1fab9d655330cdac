// Package events publishes conversation turn events to other services.
package events

import (
	"context"
	"time"
)

// Turn outcomes.
const (
	OutcomeAnswered = "answered"
	OutcomeFailed   = "failed"
)

// TurnEvent describes one completed or failed conversation turn.
type TurnEvent struct {
	SessionID string        `json:"session_id"`
	OwnerKey  string        `json:"owner_key"`
	Question  string        `json:"question"`
	Answer    string        `json:"answer,omitempty"`
	Error     string        `json:"error,omitempty"`
	Outcome   string        `json:"outcome"`
	Provider  string        `json:"provider,omitempty"`
	Model     string        `json:"model,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	At        time.Time     `json:"at"`
}

// Publisher sends turn events.
type Publisher interface {
	PublishTurn(ctx context.Context, event TurnEvent) error
	Close()
}

type noopPublisher struct{}

func (noopPublisher) PublishTurn(context.Context, TurnEvent) error { return nil }
func (noopPublisher) Close()                                       {}

// Noop returns a Publisher that drops every event.
func Noop() Publisher { return noopPublisher{} }
