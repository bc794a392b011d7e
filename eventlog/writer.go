package eventlog

import (
	"context"
	"time"
)

// Writer appends entries on behalf of one participant, stamping each with
// the participant's sender name and session id.
type Writer struct {
	Messages    AppendLog
	SpokenTexts AppendLog
	Sender      string
	SenderID    string

	// Now returns the entry time. Defaults to time.Now.
	Now func() time.Time
}

func (w *Writer) entry(kind Kind, text string) Entry {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	return Entry{
		Kind:     kind,
		Time:     now(),
		Sender:   w.Sender,
		SenderID: w.SenderID,
		Text:     text,
	}
}

// Message appends a lifecycle announcement to the messages log.
func (w *Writer) Message(ctx context.Context, text string) (Position, error) {
	return w.Messages.Append(ctx, w.entry(KindMessage, text))
}

// Speech appends committed speech text to the spoken_texts log.
func (w *Writer) Speech(ctx context.Context, text string) (Position, error) {
	return w.SpokenTexts.Append(ctx, w.entry(KindSpeech, text))
}
