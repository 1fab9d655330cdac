package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ashureev/risk-assistant/internal/agent"
	"github.com/ashureev/risk-assistant/internal/events"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testTemplate = "\n| **kpi.csv** | **Description** |\n| KPI | Indicator name |\n"

type fakeAgent struct {
	mu      sync.Mutex
	prompts []string
	answer  func(prompt string) (string, error)
	block   chan struct{}
	started chan struct{}
}

func (f *fakeAgent) Answer(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.answer == nil {
		return "ok", nil
	}
	return f.answer(prompt)
}

type recordingLogger struct {
	mu     sync.Mutex
	events []agent.ConversationLogEvent
}

func (r *recordingLogger) Log(e agent.ConversationLogEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingLogger) Close() error { return nil }

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.TurnEvent
}

func (r *recordingPublisher) PublishTurn(_ context.Context, e events.TurnEvent) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recordingPublisher) Close() {}

func TestComposePrompt(t *testing.T) {
	t.Parallel()

	got := ComposePrompt("TEMPLATE", "What is the MAO for Payroll?")
	assert.Equal(t, "Use the data dictionary below for context:\n\nTEMPLATE\n\nQuestion: What is the MAO for Payroll?", got)
}

func TestSubmitAlternatesEntries(t *testing.T) {
	t.Parallel()

	a := &fakeAgent{answer: func(p string) (string, error) { return "answer " + fmt.Sprint(len(p)), nil }}
	loop := NewLoop(a, testTemplate)
	s := NewRegistry(nil).GetOrCreate("owner")

	questions := []string{"How many activities?", "  Which KPI has the highest target?  ", "List payroll RTO"}
	for _, q := range questions {
		turn, err := loop.Submit(context.Background(), s, q, nil)
		require.NoError(t, err)
		assert.Equal(t, q, turn.Question)
		assert.False(t, turn.Ignored)
	}

	entries := s.Entries()
	require.Len(t, entries, 2*len(questions))
	for i, e := range entries {
		if i%2 == 0 {
			assert.Equal(t, SpeakerUser, e.Speaker)
			assert.Equal(t, questions[i/2], e.Message)
		} else {
			assert.Equal(t, SpeakerAssistant, e.Speaker)
			assert.NotEmpty(t, e.Message)
		}
	}
	assert.Equal(t, StateIdle, s.State())
}

func TestSubmitPromptCarriesTemplateAndQuestion(t *testing.T) {
	t.Parallel()

	a := &fakeAgent{}
	loop := NewLoop(a, testTemplate)
	s := NewRegistry(nil).GetOrCreate("owner")

	question := `What's the "MAO" for Payroll; DROP TABLE kpi?`
	_, err := loop.Submit(context.Background(), s, question, nil)
	require.NoError(t, err)

	require.Len(t, a.prompts, 1)
	assert.Equal(t, ComposePrompt(testTemplate, question), a.prompts[0])
	assert.Contains(t, a.prompts[0], testTemplate)
	assert.Contains(t, a.prompts[0], "Question: "+question)
}

func TestSubmitIgnoresBlankInput(t *testing.T) {
	t.Parallel()

	a := &fakeAgent{}
	loop := NewLoop(a, testTemplate)
	s := NewRegistry(nil).GetOrCreate("owner")

	for _, msg := range []string{"", "   ", "\n\t"} {
		called := false
		turn, err := loop.Submit(context.Background(), s, msg, func(Snapshot) { called = true })
		require.NoError(t, err)
		assert.True(t, turn.Ignored)
		assert.False(t, called)
	}
	assert.Zero(t, s.Len())
	assert.Empty(t, a.prompts)
}

func TestSubmitReportsStates(t *testing.T) {
	t.Parallel()

	loop := NewLoop(&fakeAgent{answer: func(string) (string, error) { return "2 days", nil }}, testTemplate)
	s := NewRegistry(nil).GetOrCreate("owner")

	var snaps []Snapshot
	_, err := loop.Submit(context.Background(), s, "MAO?", func(snap Snapshot) { snaps = append(snaps, snap) })
	require.NoError(t, err)

	states := make([]State, 0, len(snaps))
	for _, snap := range snaps {
		states = append(states, snap.State)
		assert.Equal(t, s.ID(), snap.SessionID)
	}
	assert.Equal(t, []State{StateComposing, StateAgentExecuting, StateRecording, StateIdle}, states)

	last := snaps[len(snaps)-1]
	want := []Entry{
		{Speaker: SpeakerUser, Message: "MAO?"},
		{Speaker: SpeakerAssistant, Message: "2 days"},
	}
	if diff := cmp.Diff(want, last.Entries, cmpopts.IgnoreFields(Entry{}, "At")); diff != "" {
		t.Errorf("final snapshot entries mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmitFailureLeavesTranscript(t *testing.T) {
	t.Parallel()

	upstream := errors.New("rate limited")
	calls := 0
	a := &fakeAgent{answer: func(string) (string, error) {
		calls++
		if calls == 2 {
			return "", upstream
		}
		return "fine", nil
	}}
	conv := &recordingLogger{}
	pub := &recordingPublisher{}
	loop := NewLoop(a, testTemplate, WithConversationLogger(conv), WithPublisher(pub), WithModel("openai", "gpt-4o-mini"))
	s := NewRegistry(nil).GetOrCreate("owner")

	_, err := loop.Submit(context.Background(), s, "first", nil)
	require.NoError(t, err)

	var last Snapshot
	_, err = loop.Submit(context.Background(), s, "second", func(snap Snapshot) { last = snap })
	var turnErr *TurnError
	require.ErrorAs(t, err, &turnErr)
	assert.Equal(t, "second", turnErr.Question)
	assert.ErrorIs(t, err, upstream)

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, "rate limited", last.Error)
	assert.Equal(t, "second", last.Question)

	require.Len(t, pub.events, 2)
	assert.Equal(t, events.OutcomeAnswered, pub.events[0].Outcome)
	assert.Equal(t, events.OutcomeFailed, pub.events[1].Outcome)
	assert.Equal(t, "gpt-4o-mini", pub.events[1].Model)
	assert.Equal(t, "owner", pub.events[1].OwnerKey)

	require.Len(t, conv.events, 4)
	assert.Equal(t, "question", conv.events[2].EventType)
	assert.Equal(t, "error", conv.events[3].EventType)
	assert.Equal(t, "unknown", conv.events[3].Channel)
}

func TestSubmitRejectsConcurrentTurn(t *testing.T) {
	t.Parallel()

	a := &fakeAgent{block: make(chan struct{}), started: make(chan struct{}, 1)}
	loop := NewLoop(a, testTemplate)
	s := NewRegistry(nil).GetOrCreate("owner")

	done := make(chan error, 1)
	go func() {
		_, err := loop.Submit(WithChannel(context.Background(), "ws"), s, "slow question", nil)
		done <- err
	}()
	<-a.started

	_, err := loop.Submit(context.Background(), s, "second", nil)
	assert.ErrorIs(t, err, ErrTurnInProgress)
	assert.Equal(t, StateAgentExecuting, s.State())

	close(a.block)
	require.NoError(t, <-done)
	assert.Equal(t, 2, s.Len())
}

func TestSessionsAreIsolated(t *testing.T) {
	t.Parallel()

	loop := NewLoop(&fakeAgent{}, testTemplate)
	reg := NewRegistry(nil)
	alice := reg.GetOrCreate("alice")
	bob := reg.GetOrCreate("bob")

	_, err := loop.Submit(context.Background(), alice, "q1", nil)
	require.NoError(t, err)
	_, err = loop.Submit(context.Background(), alice, "q2", nil)
	require.NoError(t, err)

	assert.Equal(t, 4, alice.Len())
	assert.Zero(t, bob.Len())
	assert.NotEqual(t, alice.ID(), bob.ID())
}

func TestEntriesReturnsCopy(t *testing.T) {
	t.Parallel()

	loop := NewLoop(&fakeAgent{}, testTemplate)
	s := NewRegistry(nil).GetOrCreate("owner")
	_, err := loop.Submit(context.Background(), s, "q", nil)
	require.NoError(t, err)

	entries := s.Entries()
	entries[0].Message = "changed"
	assert.Equal(t, "q", s.Entries()[0].Message)
}
