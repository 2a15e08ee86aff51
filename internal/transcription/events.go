package transcription

import (
	"github.com/verbatim-audio/verbatim/internal/asr"
	"github.com/verbatim-audio/verbatim/internal/protocol"
)

// Event is one element of the ordered result stream for a session. The
// pipeline produces events; the protocol adapter consumes and serializes
// them, so transcription logic stays decoupled from transport.
type Event interface {
	// Frame returns the wire representation of the event.
	Frame() any
}

// StatusEvent reports a session lifecycle change.
type StatusEvent struct {
	Status    string
	SessionID string
}

func (e StatusEvent) Frame() any {
	return protocol.NewStatus(e.Status, e.SessionID)
}

// PartialEvent carries cumulative text-so-far for a span in progress.
type PartialEvent struct {
	Text      string
	Timestamp float64
}

func (e PartialEvent) Frame() any {
	return protocol.PartialFrame{Type: protocol.TypePartial, Text: e.Text, Timestamp: e.Timestamp}
}

// FinalEvent is the conclusive result for one span.
type FinalEvent struct {
	Text     string
	Start    float64
	End      float64
	Language string
	Words    []asr.Word
}

func (e FinalEvent) Frame() any {
	words := make([]protocol.WordTimestamp, len(e.Words))
	for i, w := range e.Words {
		words[i] = protocol.WordTimestamp{
			Word:        w.Word,
			Start:       w.Start,
			End:         w.End,
			Probability: w.Probability,
		}
	}
	return protocol.FinalFrame{
		Type:     protocol.TypeFinal,
		Text:     e.Text,
		Start:    e.Start,
		End:      e.End,
		Language: e.Language,
		Words:    words,
	}
}

// ErrorEvent reports a failure that leaves the session running.
type ErrorEvent struct {
	Kind   string
	Detail string
}

func (e ErrorEvent) Frame() any {
	return protocol.NewError(e.Kind, e.Detail)
}

// PongEvent answers a client ping.
type PongEvent struct{}

func (e PongEvent) Frame() any {
	return protocol.NewPong()
}
