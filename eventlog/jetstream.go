package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// JetStreamConfig holds NATS JetStream backend configuration.
type JetStreamConfig struct {
	// Conn is the NATS connection to use.
	Conn *nats.Conn

	// Prefix namespaces stream names and subjects.
	// Default: "laststop"
	Prefix string

	// MaxBytes caps each stream; the oldest messages are discarded first.
	// Default: 16 MiB
	MaxBytes int64
}

// DefaultJetStreamConfig returns configuration with sensible defaults.
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		Prefix:   "laststop",
		MaxBytes: 16 << 20,
	}
}

// JetStream is a Backend with one stream per log. The stream sequence is
// the entry position.
type JetStream struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
	closed atomic.Bool

	mu   sync.Mutex
	logs map[string]*JetStreamLog
}

// NewJetStream creates a JetStream backend on an existing connection.
func NewJetStream(cfg JetStreamConfig) (*JetStream, error) {
	if cfg.Conn == nil {
		return nil, fmt.Errorf("nats connection required")
	}
	def := DefaultJetStreamConfig()
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}

	js, err := jetstream.New(cfg.Conn)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	return &JetStream{
		conn:   cfg.Conn,
		js:     js,
		config: cfg,
		logs:   make(map[string]*JetStreamLog),
	}, nil
}

// Conn returns the underlying connection.
func (j *JetStream) Conn() *nats.Conn {
	return j.conn
}

// Log returns the named log, creating its stream if needed.
func (j *JetStream) Log(name string) (AppendLog, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if j.closed.Load() {
		return nil, ErrClosed
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if l, ok := j.logs[name]; ok {
		return l, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	streamName := j.config.Prefix + "_" + name
	subject := j.config.Prefix + "." + name
	stream, err := j.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		Discard:   jetstream.DiscardOld,
		MaxBytes:  j.config.MaxBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream %s: %w", streamName, err)
	}

	l := &JetStreamLog{
		name:       name,
		js:         j.js,
		stream:     stream,
		streamName: streamName,
		subject:    subject,
		closed:     &j.closed,
	}
	j.logs[name] = l
	return l, nil
}

// Close marks the backend closed. The connection belongs to the caller.
func (j *JetStream) Close() error {
	j.closed.Store(true)
	return nil
}

// JetStreamLog is one stream.
type JetStreamLog struct {
	name       string
	js         jetstream.JetStream
	stream     jetstream.Stream
	streamName string
	subject    string
	closed     *atomic.Bool
}

// Name returns the log name.
func (l *JetStreamLog) Name() string { return l.name }

// Append publishes the entry and returns the stream sequence it was stored at.
func (l *JetStreamLog) Append(ctx context.Context, e Entry) (Position, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}
	if err := e.Validate(); err != nil {
		return 0, err
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return 0, err
	}
	ack, err := l.js.Publish(ctx, l.subject, data)
	if err != nil {
		return 0, fmt.Errorf("publish: %w", err)
	}
	return Position(ack.Sequence), nil
}

// Last returns the stream's last sequence.
func (l *JetStreamLog) Last(ctx context.Context) (Position, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}
	info, err := l.stream.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("stream info: %w", err)
	}
	return Position(info.State.LastSeq), nil
}

// Subscribe starts an ordered consumer at sequence after+1.
func (l *JetStreamLog) Subscribe(ctx context.Context, after Position) (Cursor, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	cons, err := l.js.OrderedConsumer(ctx, l.streamName, jetstream.OrderedConsumerConfig{
		DeliverPolicy: jetstream.DeliverByStartSequencePolicy,
		OptStartSeq:   uint64(after) + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("ordered consumer: %w", err)
	}
	iter, err := cons.Messages()
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	return &jetStreamCursor{iter: iter}, nil
}

type jetStreamCursor struct {
	iter jetstream.MessagesContext
	once sync.Once
}

func (c *jetStreamCursor) Next(ctx context.Context) (Record, error) {
	stop := context.AfterFunc(ctx, c.stop)
	defer stop()

	msg, err := c.iter.Next()
	if ctx.Err() != nil {
		return Record{}, ctx.Err()
	}
	if err != nil {
		return Record{}, err
	}
	md, err := msg.Metadata()
	if err != nil {
		return Record{}, fmt.Errorf("metadata: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(msg.Data(), &e); err != nil {
		return Record{}, fmt.Errorf("decode seq %d: %w", md.Sequence.Stream, err)
	}
	return Record{ID: Position(md.Sequence.Stream), Entry: e}, nil
}

func (c *jetStreamCursor) stop() {
	c.once.Do(c.iter.Stop)
}

func (c *jetStreamCursor) Close() error {
	c.stop()
	return nil
}
