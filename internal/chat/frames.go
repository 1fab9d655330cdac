package chat

import "github.com/ashureev/risk-assistant/internal/conversation"

// Frame types.
const (
	TypeMessage    = "message"
	TypePing       = "ping"
	TypePong       = "pong"
	TypeState      = "state"
	TypeTranscript = "transcript"
	TypeError      = "error"
)

// ClientMessage is a frame sent by the browser.
type ClientMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// Frame is a frame sent by the server. Fields are set according to Type.
type Frame struct {
	Type      string               `json:"type"`
	SessionID string               `json:"session_id,omitempty"`
	State     conversation.State   `json:"state,omitempty"`
	Question  string               `json:"question,omitempty"`
	Entries   []conversation.Entry `json:"entries,omitzero"`
	Error     string               `json:"error,omitempty"`
}

// TranscriptFrame renders a session snapshot. Entries is never null so
// clients can replace their list unconditionally.
func TranscriptFrame(s conversation.Snapshot) Frame {
	entries := s.Entries
	if entries == nil {
		entries = []conversation.Entry{}
	}
	return Frame{Type: TypeTranscript, SessionID: s.SessionID, State: s.State, Entries: entries}
}

func stateFrame(s conversation.Snapshot) Frame {
	return Frame{Type: TypeState, SessionID: s.SessionID, State: s.State, Question: s.Question}
}

func errorFrame(err, question string) Frame {
	return Frame{Type: TypeError, Error: err, Question: question}
}
