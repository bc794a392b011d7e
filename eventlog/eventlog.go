package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Common errors.
var (
	ErrClosed       = errors.New("log closed")
	ErrInvalidEntry = errors.New("invalid entry")
	ErrUnknownLog   = errors.New("unknown log")
)

// Log names. Both logs share the same entry shape and semantics.
const (
	Messages    = "messages"
	SpokenTexts = "spoken_texts"
)

// Names lists the logs every backend provides.
var Names = []string{Messages, SpokenTexts}

// Lifecycle message texts.
const (
	Started   = "started"
	Exited    = "exited"
	Heartbeat = "heartbeat"
)

// Kind tells which payload an entry carries.
type Kind int

const (
	// KindMessage is a lifecycle announcement.
	KindMessage Kind = iota
	// KindSpeech is committed speech text.
	KindSpeech
)

// String returns the payload field name.
func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindSpeech:
		return "speech"
	default:
		return "unknown"
	}
}

// Position is the id a log assigns to an appended entry. Ids are strictly
// increasing in append order. Before sorts ahead of every real entry.
type Position uint64

// Before is the "before-first" resume marker.
const Before Position = 0

// Entry is one immutable log entry.
type Entry struct {
	Kind     Kind
	Time     time.Time
	Sender   string
	SenderID string
	Text     string
}

// Validate checks that the entry can be appended.
func (e Entry) Validate() error {
	if e.Kind != KindMessage && e.Kind != KindSpeech {
		return fmt.Errorf("%w: kind %d", ErrInvalidEntry, e.Kind)
	}
	if e.Sender == "" {
		return fmt.Errorf("%w: empty sender", ErrInvalidEntry)
	}
	return nil
}

// document is the persisted shape of an entry. Exactly one of Message and
// Speech is set.
type document struct {
	Time     time.Time `json:"time"`
	Sender   string    `json:"sender"`
	SenderID string    `json:"sender_id"`
	Message  *string   `json:"message,omitempty"`
	Speech   *string   `json:"speech,omitempty"`
}

func toDocument(e Entry) document {
	d := document{Time: e.Time, Sender: e.Sender, SenderID: e.SenderID}
	text := e.Text
	if e.Kind == KindSpeech {
		d.Speech = &text
	} else {
		d.Message = &text
	}
	return d
}

func (d document) entry() Entry {
	e := Entry{Time: d.Time, Sender: d.Sender, SenderID: d.SenderID}
	switch {
	case d.Speech != nil:
		e.Kind = KindSpeech
		e.Text = *d.Speech
	case d.Message != nil:
		e.Text = *d.Message
	}
	return e
}

// MarshalJSON encodes the entry in its persisted form:
// {"time":...,"sender":...,"sender_id":...,"message"|"speech":...}.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(toDocument(e))
}

// UnmarshalJSON decodes the persisted form.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var d document
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	*e = d.entry()
	return nil
}

// Record is an entry together with the position the log assigned to it.
type Record struct {
	ID    Position `json:"id"`
	Entry Entry    `json:"entry"`
}

// AppendLog is an ordered, append-only collection with a tailing read mode.
type AppendLog interface {
	// Name returns the log name.
	Name() string

	// Append adds an entry and returns its position.
	Append(ctx context.Context, e Entry) (Position, error)

	// Last returns the position of the newest entry, or Before if the log
	// is empty.
	Last(ctx context.Context) (Position, error)

	// Subscribe opens a cursor over entries with positions greater than
	// after. The cursor blocks in Next until an entry arrives.
	Subscribe(ctx context.Context, after Position) (Cursor, error)
}

// Cursor reads a log in position order.
type Cursor interface {
	// Next blocks until the next record is available or ctx is done.
	Next(ctx context.Context) (Record, error)

	// Close releases the cursor.
	Close() error
}

// Backend opens logs by name and owns the underlying connection.
type Backend interface {
	Log(name string) (AppendLog, error)
	Close() error
}

func checkName(name string) error {
	for _, n := range Names {
		if n == name {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownLog, name)
}
