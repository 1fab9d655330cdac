package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/risk-assistant/internal/agent"
	"github.com/ashureev/risk-assistant/internal/events"
)

// Turn is the result of one submitted message.
type Turn struct {
	Question string        `json:"question"`
	Answer   string        `json:"answer,omitempty"`
	Ignored  bool          `json:"ignored,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// TurnError is returned when the agent could not answer. The transcript is
// left unchanged.
type TurnError struct {
	Question string
	Err      error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("answer %q: %v", e.Question, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

type channelKey struct{}

// WithChannel tags ctx with the surface a question arrived on ("http", "ws", "cli").
func WithChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, channelKey{}, channel)
}

func channelFrom(ctx context.Context) string {
	if v, ok := ctx.Value(channelKey{}).(string); ok && v != "" {
		return v
	}
	return "unknown"
}

// Loop runs question turns against the query agent.
type Loop struct {
	agent     agent.QueryAgent
	template  string
	convLog   agent.ConversationLogger
	publisher events.Publisher
	provider  string
	model     string
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Loop.
type Option func(*Loop)

// WithConversationLogger records every turn to l.
func WithConversationLogger(l agent.ConversationLogger) Option {
	return func(lp *Loop) {
		if l != nil {
			lp.convLog = l
		}
	}
}

// WithPublisher publishes a TurnEvent after every turn.
func WithPublisher(p events.Publisher) Option {
	return func(lp *Loop) {
		if p != nil {
			lp.publisher = p
		}
	}
}

// WithModel labels published events with the agent provider and model.
func WithModel(provider, model string) Option {
	return func(lp *Loop) {
		lp.provider = provider
		lp.model = model
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(lp *Loop) {
		if logger != nil {
			lp.logger = logger
		}
	}
}

// NewLoop creates a loop that prefixes every question with template.
func NewLoop(a agent.QueryAgent, template string, opts ...Option) *Loop {
	l := &Loop{
		agent:     a,
		template:  template,
		convLog:   agent.NoopConversationLogger(),
		publisher: events.Noop(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Submit answers message within session. Whitespace-only messages are
// ignored. On agent failure nothing is appended and a *TurnError is returned.
func (l *Loop) Submit(ctx context.Context, s *Session, message string, observe Observer) (Turn, error) {
	if strings.TrimSpace(message) == "" {
		return Turn{Ignored: true}, nil
	}
	if observe == nil {
		observe = func(Snapshot) {}
	}
	if !s.turn.TryLock() {
		return Turn{}, ErrTurnInProgress
	}
	defer s.turn.Unlock()
	if s.Closed() {
		return Turn{}, ErrSessionClosed
	}

	start := l.now()
	s.touch(start)
	channel := channelFrom(ctx)

	l.transition(s, StateComposing, message, observe)
	prompt := ComposePrompt(l.template, message)
	l.logEvent(s, channel, "in", "question", message, nil)

	l.transition(s, StateAgentExecuting, message, observe)
	answer, err := l.agent.Answer(ctx, prompt)
	elapsed := l.now().Sub(start)
	if err != nil {
		s.setState(StateIdle)
		snap := s.Snapshot()
		snap.Question = message
		snap.Error = err.Error()
		observe(snap)

		l.logger.Warn("Turn failed", "session_id", s.ID(), "channel", channel, "duration", elapsed, "error", err)
		l.logEvent(s, channel, "out", "error", err.Error(), map[string]any{"duration_ms": elapsed.Milliseconds()})
		l.publish(ctx, s, events.TurnEvent{Question: message, Error: err.Error(), Outcome: events.OutcomeFailed, Duration: elapsed})
		return Turn{Question: message}, &TurnError{Question: message, Err: err}
	}

	l.transition(s, StateRecording, message, observe)
	s.appendPair(message, answer, l.now())
	l.transition(s, StateIdle, "", observe)

	l.logger.Info("Turn answered", "session_id", s.ID(), "channel", channel, "duration", elapsed, "entries", s.Len())
	l.logEvent(s, channel, "out", "answer", answer, map[string]any{"duration_ms": elapsed.Milliseconds()})
	l.publish(ctx, s, events.TurnEvent{Question: message, Answer: answer, Outcome: events.OutcomeAnswered, Duration: elapsed})

	return Turn{Question: message, Answer: answer, Duration: elapsed}, nil
}

func (l *Loop) transition(s *Session, state State, question string, observe Observer) {
	s.setState(state)
	snap := s.Snapshot()
	snap.Question = question
	observe(snap)
}

func (l *Loop) logEvent(s *Session, channel, direction, eventType, content string, meta map[string]any) {
	l.convLog.Log(agent.ConversationLogEvent{
		Timestamp:  l.now().UTC().Format(time.RFC3339Nano),
		UserID:     s.Owner(),
		SessionID:  s.ID(),
		Channel:    channel,
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Meta:       meta,
	})
}

func (l *Loop) publish(ctx context.Context, s *Session, event events.TurnEvent) {
	event.SessionID = s.ID()
	event.OwnerKey = s.Owner()
	event.Provider = l.provider
	event.Model = l.model
	event.At = l.now()
	if err := l.publisher.PublishTurn(context.WithoutCancel(ctx), event); err != nil {
		l.logger.Warn("Failed to publish turn event", "session_id", s.ID(), "error", err)
	}
}
