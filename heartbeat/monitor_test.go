package heartbeat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/laststop/eventlog"
)

func announce(sender, id, text string, at time.Time) eventlog.Record {
	return eventlog.Record{Entry: eventlog.Entry{
		Kind:     eventlog.KindMessage,
		Time:     at,
		Sender:   sender,
		SenderID: id,
		Text:     text,
	}}
}

// --- Unit Tests ---

func TestMonitorConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     MonitorConfig
		wantErr bool
	}{
		{"valid", MonitorConfig{}, false},
		{"negative timeout", MonitorConfig{Timeout: -time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultMonitorConfig(t *testing.T) {
	cfg := DefaultMonitorConfig()
	if cfg.Timeout != 15*time.Second {
		t.Errorf("Timeout = %v, want 15s", cfg.Timeout)
	}
	if cfg.CheckInterval != time.Second {
		t.Errorf("CheckInterval = %v, want 1s", cfg.CheckInterval)
	}
}

func TestMonitor_TracksLifecycle(t *testing.T) {
	m, _ := NewMonitor(MonitorConfig{Self: "self0000"})
	now := time.Now()

	m.Observe(announce("main", "self0000", eventlog.Started, now))
	m.Observe(announce("speech_console", "sc000001", eventlog.Started, now))
	m.Observe(announce("elec", "el000001", eventlog.Started, now.Add(time.Millisecond)))
	m.Observe(announce("speech_console", "sc000001", eventlog.Exited, now.Add(2*time.Millisecond)))

	ps := m.Participants()
	if len(ps) != 2 {
		t.Fatalf("expected 2 participants (self excluded), got %+v", ps)
	}
	if ps[0].SenderID != "sc000001" || ps[0].Status != StatusExited {
		t.Errorf("unexpected first participant: %+v", ps[0])
	}
	if ps[1].SenderID != "el000001" || ps[1].Status != StatusStarted {
		t.Errorf("unexpected second participant: %+v", ps[1])
	}
	if m.IsAlive("sc000001", time.Hour) {
		t.Error("exited participant reported alive")
	}
	if !m.IsAlive("el000001", time.Hour) {
		t.Error("started participant not alive")
	}
}

func TestMonitor_IgnoresSpeech(t *testing.T) {
	m, _ := NewMonitor(MonitorConfig{})
	m.Observe(eventlog.Record{Entry: eventlog.Entry{Kind: eventlog.KindSpeech, Sender: "speech_console", SenderID: "x", Text: "hi"}})
	if len(m.Participants()) != 0 {
		t.Error("speech entries must not create participants")
	}
}

func TestMonitor_StaleHeartbeat(t *testing.T) {
	m, _ := NewMonitor(MonitorConfig{Timeout: 50 * time.Millisecond})

	var mu sync.Mutex
	var dead []string
	m.OnDead(func(p Participant) {
		mu.Lock()
		dead = append(dead, p.SenderID)
		mu.Unlock()
	})

	old := time.Now().Add(-time.Second)
	m.Observe(announce("elec", "el1", eventlog.Heartbeat, old))
	m.Observe(announce("speech_console", "sc1", eventlog.Started, old)) // never heartbeats

	m.CheckDead()
	m.CheckDead() // reported once

	mu.Lock()
	if len(dead) != 1 || dead[0] != "el1" {
		t.Errorf("expected [el1] reported once, got %v", dead)
	}
	mu.Unlock()

	for _, p := range m.Participants() {
		if p.SenderID == "el1" && p.Status != StatusStale {
			t.Errorf("expected el1 stale, got %s", p.Status)
		}
	}

	// A fresh heartbeat recovers the participant.
	m.Observe(announce("elec", "el1", eventlog.Heartbeat, time.Now()))
	if !m.IsAlive("el1", time.Second) {
		t.Error("expected el1 alive after fresh heartbeat")
	}
}

func TestMonitor_StartStop(t *testing.T) {
	m, _ := NewMonitor(MonitorConfig{Timeout: 10 * time.Millisecond, CheckInterval: 5 * time.Millisecond})

	fired := make(chan Participant, 1)
	m.OnDead(func(p Participant) { fired <- p })

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	m.Observe(announce("elec", "el1", eventlog.Heartbeat, time.Now()))

	select {
	case p := <-fired:
		if p.SenderID != "el1" {
			t.Errorf("unexpected participant: %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("stale participant not reported")
	}

	if err := m.Stop(); err != nil {
		t.Errorf("Stop error: %v", err)
	}
	if err := m.Stop(); err != ErrNotStarted {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}
}

func TestMonitor_FedByTailer(t *testing.T) {
	l := eventlog.NewMemoryLog(eventlog.Messages)
	l.Append(context.Background(), announce("main", "self", eventlog.Started, time.Now()).Entry)

	m, _ := NewMonitor(MonitorConfig{Self: "self"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tl := eventlog.NewTailer(l, eventlog.TailerConfig{From: 1})
	go tl.Run(ctx, m.Observe)

	w := &eventlog.Writer{Messages: l, Sender: "elec", SenderID: "el1"}
	w.Message(ctx, eventlog.Started)

	deadline := time.Now().Add(time.Second)
	for len(m.Participants()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	ps := m.Participants()
	if len(ps) != 1 || ps[0].Sender != "elec" {
		t.Errorf("unexpected roster: %+v", ps)
	}
}
