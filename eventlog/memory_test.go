package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func msg(text string) Entry {
	return Entry{Kind: KindMessage, Sender: "main", SenderID: "abcd1234", Text: text}
}

func speech(text string) Entry {
	return Entry{Kind: KindSpeech, Sender: "speech_console", SenderID: "efgh5678", Text: text}
}

func TestEntry_Validate(t *testing.T) {
	if err := msg("started").Validate(); err != nil {
		t.Errorf("valid entry rejected: %v", err)
	}
	e := msg("started")
	e.Sender = ""
	if err := e.Validate(); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("expected ErrInvalidEntry for empty sender, got %v", err)
	}
	e = msg("x")
	e.Kind = Kind(7)
	if err := e.Validate(); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("expected ErrInvalidEntry for bad kind, got %v", err)
	}
}

func TestEntry_JSONShape(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := speech("hello")
	e.Time = ts

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"speech":"hello"`) || strings.Contains(s, `"message"`) {
		t.Errorf("unexpected speech document: %s", s)
	}
	if !strings.Contains(s, `"sender_id":"efgh5678"`) {
		t.Errorf("missing sender_id: %s", s)
	}

	var back Entry
	if err := json.Unmarshal([]byte(`{"time":"2026-01-02T03:04:05Z","sender":"main","sender_id":"x","message":""}`), &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if back.Kind != KindMessage || back.Text != "" || back.Sender != "main" {
		t.Errorf("unexpected entry: %+v", back)
	}
}

func TestMemory_UnknownLog(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	if _, err := m.Log("other"); !errors.Is(err, ErrUnknownLog) {
		t.Errorf("expected ErrUnknownLog, got %v", err)
	}
	a, _ := m.Log(Messages)
	b, _ := m.Log(Messages)
	if a != b {
		t.Error("expected the same log instance for the same name")
	}
}

func TestMemoryLog_AppendAssignsIncreasingIDs(t *testing.T) {
	l := NewMemoryLog(Messages)
	ctx := context.Background()

	last, err := l.Last(ctx)
	if err != nil || last != Before {
		t.Fatalf("empty log Last = %d, %v", last, err)
	}

	for i := 1; i <= 3; i++ {
		id, err := l.Append(ctx, msg("m"))
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if id != Position(i) {
			t.Errorf("expected id %d, got %d", i, id)
		}
	}

	last, _ = l.Last(ctx)
	if last != 3 {
		t.Errorf("expected Last 3, got %d", last)
	}
}

func TestMemoryLog_AppendStampsTime(t *testing.T) {
	l := NewMemoryLog(Messages)
	if _, err := l.Append(context.Background(), msg("m")); err != nil {
		t.Fatal(err)
	}
	if l.Records()[0].Entry.Time.IsZero() {
		t.Error("expected zero time to be stamped")
	}
}

func TestMemoryLog_CursorBlocksUntilAppend(t *testing.T) {
	l := NewMemoryLog(SpokenTexts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	l.Append(ctx, speech("one"))

	cur, err := l.Subscribe(ctx, 1)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cur.Close()

	got := make(chan Record, 1)
	go func() {
		rec, err := cur.Next(ctx)
		if err == nil {
			got <- rec
		}
	}()

	select {
	case rec := <-got:
		t.Fatalf("Next returned before append: %+v", rec)
	case <-time.After(30 * time.Millisecond):
	}

	l.Append(ctx, speech("two"))

	select {
	case rec := <-got:
		if rec.ID != 2 || rec.Entry.Text != "two" {
			t.Errorf("unexpected record: %+v", rec)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not wake on append")
	}
}

func TestMemoryLog_CloseWakesCursor(t *testing.T) {
	l := NewMemoryLog(Messages)
	cur, _ := l.Subscribe(context.Background(), Before)

	errCh := make(chan error, 1)
	go func() {
		_, err := cur.Next(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	l.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cursor not woken by Close")
	}

	if _, err := l.Append(context.Background(), msg("late")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed on append after close, got %v", err)
	}
}

func TestMemoryLog_CursorContextCancel(t *testing.T) {
	l := NewMemoryLog(Messages)
	cur, _ := l.Subscribe(context.Background(), Before)
	defer cur.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := cur.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestWriter_StampsSender(t *testing.T) {
	msgs := NewMemoryLog(Messages)
	spoken := NewMemoryLog(SpokenTexts)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	w := &Writer{
		Messages:    msgs,
		SpokenTexts: spoken,
		Sender:      "main",
		SenderID:    "s1s2s3s4",
		Now:         func() time.Time { return now },
	}
	ctx := context.Background()

	if _, err := w.Message(ctx, Started); err != nil {
		t.Fatalf("Message failed: %v", err)
	}
	if _, err := w.Speech(ctx, "hello"); err != nil {
		t.Fatalf("Speech failed: %v", err)
	}

	m := msgs.Records()[0].Entry
	if m.Kind != KindMessage || m.Text != Started || m.Sender != "main" || m.SenderID != "s1s2s3s4" || !m.Time.Equal(now) {
		t.Errorf("unexpected message entry: %+v", m)
	}
	s := spoken.Records()[0].Entry
	if s.Kind != KindSpeech || s.Text != "hello" {
		t.Errorf("unexpected speech entry: %+v", s)
	}
}
