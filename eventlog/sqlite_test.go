package eventlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLite(t *testing.T, path string) *SQLite {
	t.Helper()
	s, err := OpenSQLite(SQLiteConfig{Path: path, PollInterval: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_RequiresPath(t *testing.T) {
	if _, err := OpenSQLite(SQLiteConfig{}); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestSQLiteLog_AppendAndLast(t *testing.T) {
	s := newTestSQLite(t, filepath.Join(t.TempDir(), "log.db"))
	l, err := s.Log(Messages)
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	ctx := context.Background()

	last, err := l.Last(ctx)
	if err != nil || last != Before {
		t.Fatalf("empty Last = %d, %v", last, err)
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
	if last, _ := l.Last(ctx); last != 3 {
		t.Errorf("expected Last 3, got %d", last)
	}
}

func TestSQLiteLog_RoundTrip(t *testing.T) {
	s := newTestSQLite(t, filepath.Join(t.TempDir(), "log.db"))
	l, _ := s.Log(SpokenTexts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ts := time.Date(2026, 3, 4, 5, 6, 7, 123456000, time.UTC)
	e := speech("hello there")
	e.Time = ts
	if _, err := l.Append(ctx, e); err != nil {
		t.Fatal(err)
	}

	cur, err := l.Subscribe(ctx, Before)
	if err != nil {
		t.Fatal(err)
	}
	defer cur.Close()

	rec, err := cur.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if rec.ID != 1 || rec.Entry.Kind != KindSpeech || rec.Entry.Text != "hello there" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.Entry.SenderID != "efgh5678" {
		t.Errorf("sender_id lost: %+v", rec.Entry)
	}
	if !rec.Entry.Time.Equal(ts) {
		t.Errorf("time = %v, want %v", rec.Entry.Time, ts)
	}
}

func TestSQLiteLog_CursorSeesOtherHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	reader := newTestSQLite(t, path)
	writer := newTestSQLite(t, path)

	rl, _ := reader.Log(Messages)
	wl, _ := writer.Log(Messages)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	cur, err := rl.Subscribe(ctx, Before)
	if err != nil {
		t.Fatal(err)
	}
	defer cur.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		wl.Append(context.Background(), msg(Started))
	}()

	rec, err := cur.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if rec.Entry.Text != Started {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestSQLiteLog_TailerDeliversInOrder(t *testing.T) {
	s := newTestSQLite(t, filepath.Join(t.TempDir(), "log.db"))
	l, _ := s.Log(SpokenTexts)

	c := &collector{}
	tl := NewTailer(l, TailerConfig{})
	startTailer(t, tl, c)

	deadline := time.Now().Add(2 * time.Second)
	for tl.Position() == Before && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	for i := 0; i < 100; i++ {
		if _, err := l.Append(context.Background(), speech("x")); err != nil {
			t.Fatal(err)
		}
	}

	ids := c.waitFor(t, 100)
	for i, id := range ids {
		if id != Position(i+2) {
			t.Fatalf("gap or repeat at index %d: %v", i, ids)
		}
	}
}

func TestSQLite_CloseRejects(t *testing.T) {
	s, err := OpenSQLite(SQLiteConfig{Path: filepath.Join(t.TempDir(), "log.db")})
	if err != nil {
		t.Fatal(err)
	}
	l, _ := s.Log(Messages)
	s.Close()

	if _, err := l.Append(context.Background(), msg("m")); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := s.Log(Messages); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestTimeFromUnix(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 500000000, time.UTC)
	if got := timeFromUnix(unixFromTime(ts)); !got.Equal(ts) {
		t.Errorf("got %v, want %v", got, ts)
	}
}
