package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	_ "modernc.org/sqlite"
)

// SQLiteConfig holds SQLite backend configuration.
type SQLiteConfig struct {
	// Path is the database file. It is created if missing.
	Path string

	// PollInterval is the fallback re-query interval for cursors when no
	// file change notification arrives.
	// Default: 500ms
	PollInterval time.Duration

	// BatchSize is the number of rows a cursor fetches per query.
	// Default: 64
	BatchSize int
}

// DefaultSQLiteConfig returns configuration with sensible defaults.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		PollInterval: 500 * time.Millisecond,
		BatchSize:    64,
	}
}

// SQLite is a Backend with one AUTOINCREMENT table per log. Several
// processes may share the file; cursors wake on writes to the database or
// its WAL through fsnotify and fall back to polling.
type SQLite struct {
	db      *sql.DB
	config  SQLiteConfig
	watcher *fsnotify.Watcher
	closed  atomic.Bool
	done    chan struct{}

	wakeMu sync.Mutex
	wakeCh chan struct{} // closed and replaced on every observed write

	mu   sync.Mutex
	logs map[string]*SQLiteLog
}

// OpenSQLite opens or creates the database at cfg.Path.
func OpenSQLite(cfg SQLiteConfig) (*SQLite, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path required")
	}
	def := DefaultSQLiteConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}

	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLite{
		db:     db,
		config: cfg,
		done:   make(chan struct{}),
		wakeCh: make(chan struct{}),
		logs:   make(map[string]*SQLiteLog),
	}

	// Change notification is an optimisation; cursors still poll without it.
	if w, err := fsnotify.NewWatcher(); err == nil {
		if err := w.Add(filepath.Dir(cfg.Path)); err == nil {
			s.watcher = w
			go s.watchLoop(filepath.Base(cfg.Path))
		} else {
			w.Close()
		}
	}

	return s, nil
}

func (s *SQLite) watchLoop(base string) {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if strings.HasPrefix(filepath.Base(ev.Name), base) && ev.Has(fsnotify.Write|fsnotify.Create) {
				s.wake()
			}
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (s *SQLite) wake() {
	s.wakeMu.Lock()
	close(s.wakeCh)
	s.wakeCh = make(chan struct{})
	s.wakeMu.Unlock()
}

func (s *SQLite) wakeChan() <-chan struct{} {
	s.wakeMu.Lock()
	defer s.wakeMu.Unlock()
	return s.wakeCh
}

// Log returns the named log, creating its table if needed.
func (s *SQLite) Log(name string) (AppendLog, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.logs[name]; ok {
		return l, nil
	}

	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS ` + name + ` (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		time      REAL NOT NULL,
		sender    TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		message   TEXT,
		speech    TEXT
	)`)
	if err != nil {
		return nil, fmt.Errorf("create table %s: %w", name, err)
	}

	l := &SQLiteLog{name: name, backend: s}
	s.logs[name] = l
	return l, nil
}

// Close stops change notification and closes the database.
func (s *SQLite) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.wake()
	return s.db.Close()
}

// SQLiteLog is one table.
type SQLiteLog struct {
	name    string
	backend *SQLite
}

// Name returns the table name.
func (l *SQLiteLog) Name() string { return l.name }

// Append inserts the entry; the rowid is its position.
func (l *SQLiteLog) Append(ctx context.Context, e Entry) (Position, error) {
	if l.backend.closed.Load() {
		return 0, ErrClosed
	}
	if err := e.Validate(); err != nil {
		return 0, err
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	d := toDocument(e)
	res, err := l.backend.db.ExecContext(ctx,
		`INSERT INTO `+l.name+` (time, sender, sender_id, message, speech) VALUES (?, ?, ?, ?, ?)`,
		unixFromTime(d.Time), d.Sender, d.SenderID, nullable(d.Message), nullable(d.Speech))
	if err != nil {
		return 0, fmt.Errorf("insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert id: %w", err)
	}
	l.backend.wake()
	return Position(id), nil
}

// Last returns the highest id present.
func (l *SQLiteLog) Last(ctx context.Context) (Position, error) {
	if l.backend.closed.Load() {
		return 0, ErrClosed
	}
	var last int64
	err := l.backend.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM `+l.name).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("query last: %w", err)
	}
	return Position(last), nil
}

// Subscribe opens a polling cursor after the given id.
func (l *SQLiteLog) Subscribe(ctx context.Context, after Position) (Cursor, error) {
	if l.backend.closed.Load() {
		return nil, ErrClosed
	}
	return &sqliteCursor{log: l, after: after, done: make(chan struct{})}, nil
}

// fetch reads up to limit rows after the given id.
func (l *SQLiteLog) fetch(ctx context.Context, after Position, limit int) ([]Record, error) {
	rows, err := l.backend.db.QueryContext(ctx, `
		SELECT id, time, sender, sender_id, message, speech
		FROM `+l.name+`
		WHERE id > ?
		ORDER BY id ASC
		LIMIT ?
	`, int64(after), limit)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			id               int64
			ts               float64
			sender, senderID string
			message, speech  sql.NullString
		)
		if err := rows.Scan(&id, &ts, &sender, &senderID, &message, &speech); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		d := document{Time: timeFromUnix(ts), Sender: sender, SenderID: senderID}
		if message.Valid {
			d.Message = &message.String
		}
		if speech.Valid {
			d.Speech = &speech.String
		}
		out = append(out, Record{ID: Position(id), Entry: d.entry()})
	}
	return out, rows.Err()
}

type sqliteCursor struct {
	log       *SQLiteLog
	after     Position
	buf       []Record
	done      chan struct{}
	closeOnce sync.Once
}

func (c *sqliteCursor) Next(ctx context.Context) (Record, error) {
	b := c.log.backend
	for {
		if len(c.buf) > 0 {
			rec := c.buf[0]
			c.buf = c.buf[1:]
			c.after = rec.ID
			return rec, nil
		}
		if b.closed.Load() {
			return Record{}, ErrClosed
		}

		// Take the wake channel before querying so a write that lands
		// between the query and the wait is not missed.
		wake := b.wakeChan()
		recs, err := c.log.fetch(ctx, c.after, b.config.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return Record{}, ctx.Err()
			}
			return Record{}, err
		}
		if len(recs) > 0 {
			c.buf = recs
			continue
		}

		select {
		case <-ctx.Done():
			return Record{}, ctx.Err()
		case <-c.done:
			return Record{}, ErrClosed
		case <-wake:
		case <-time.After(b.config.PollInterval):
		}
	}
}

func (c *sqliteCursor) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// timeFromUnix converts a float unix timestamp to time.Time.
func timeFromUnix(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*1e3)
}
