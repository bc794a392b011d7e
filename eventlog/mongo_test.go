//go:build integration

package eventlog

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

// getMongoURI returns the MongoDB URI from environment or default.
func getMongoURI() string {
	if uri := os.Getenv("MONGO_URI"); uri != "" {
		return uri
	}
	return "mongodb://localhost:27017"
}

func newTestMongo(t *testing.T) *Mongo {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	db := fmt.Sprintf("laststop-test-%d", time.Now().UnixNano())
	m, err := ConnectMongo(ctx, MongoConfig{URI: getMongoURI(), Database: db, ConnectTimeout: 2 * time.Second})
	if err != nil {
		t.Skipf("MongoDB not available: %v", err)
	}
	t.Cleanup(func() {
		m.db.Drop(context.Background())
		m.Close()
	})
	return m
}

func TestMongoLog_AppendAndLast(t *testing.T) {
	m := newTestMongo(t)
	l, err := m.Log(Messages)
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	ctx := context.Background()

	if last, err := l.Last(ctx); err != nil || last != Before {
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

func TestMongoLog_TailerFromNow(t *testing.T) {
	m := newTestMongo(t)
	l, _ := m.Log(SpokenTexts)

	c := &collector{}
	tl := NewTailer(l, TailerConfig{})
	startTailer(t, tl, c)

	deadline := time.Now().Add(3 * time.Second)
	for tl.Position() == Before && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	for i := 0; i < 10; i++ {
		if _, err := l.Append(context.Background(), speech("x")); err != nil {
			t.Fatal(err)
		}
	}

	ids := c.waitFor(t, 10)
	for i, id := range ids {
		if id != Position(i+2) {
			t.Fatalf("gap or repeat at index %d: %v", i, ids)
		}
	}
}
