// Package feed streams a log tail to WebSocket clients, so a front-end can
// follow spoken_texts (or messages) live and resume after a disconnect.
//
// A client connects to GET /logs/{name}. With ?after=N it receives every
// entry after position N; without it, only entries appended from now on.
// Each entry arrives as one JSON text frame holding an eventlog.Record.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vinayprograms/laststop/eventlog"
	"github.com/vinayprograms/laststop/logging"
)

// Source resolves log names. store.Store and eventlog.Backend implement it.
type Source interface {
	Log(name string) (eventlog.AppendLog, error)
}

// Config configures a Server.
type Config struct {
	Source Source

	// WriteTimeout bounds each frame write.
	// Default: 10s
	WriteTimeout time.Duration

	// PingInterval for keepalive pings (0 = disabled).
	// Default: 30s
	PingInterval time.Duration

	// ReconnectWait is passed to each tailer.
	ReconnectWait time.Duration

	// OnSubscribe, if set, is called once a client's tailer is about to
	// start.
	OnSubscribe func(name string, after eventlog.Position)

	Logger *logging.Logger
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Server is an http.Handler serving log tails over WebSocket.
type Server struct {
	config   Config
	logger   *logging.Logger
	upgrader *websocket.Upgrader
	mux      *http.ServeMux
	clients  atomic.Int64
}

// NewServer creates a server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Source == nil {
		return nil, errors.New("feed: source is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	s := &Server{
		config: cfg,
		logger: logger.WithComponent("feed"),
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		mux: http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /logs/{name}", s.handleLog)
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int64 { return s.clients.Load() }

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	log, err := s.config.Source.Log(name)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, eventlog.ErrUnknownLog) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	var after eventlog.Position
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "after must be a non-negative integer", http.StatusBadRequest)
			return
		}
		after = eventlog.Position(n)
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		return
	}

	s.clients.Add(1)
	defer s.clients.Add(-1)

	c := &client{conn: conn, writeTimeout: s.config.WriteTimeout}
	defer c.close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Clients only read. The read loop exists to process control frames and
	// notice the connection closing.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if s.config.PingInterval > 0 {
		go c.ping(ctx, s.config.PingInterval)
	}

	logger := s.logger.WithComponent("feed:" + name)
	logger.Debug("subscribed", map[string]interface{}{
		"remote": r.RemoteAddr,
		"after":  uint64(after),
	})
	if s.config.OnSubscribe != nil {
		s.config.OnSubscribe(name, after)
	}

	tailer := eventlog.NewTailer(log, eventlog.TailerConfig{
		From:          after,
		ReconnectWait: s.config.ReconnectWait,
		Logger:        s.logger,
	})
	err = tailer.Run(ctx, c.send)
	if err != nil && ctx.Err() == nil {
		logger.Warn("tail ended", map[string]interface{}{"error": err})
	}
	logger.Debug("unsubscribed", map[string]interface{}{"position": uint64(tailer.Position())})
}

type client struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// send writes one record as a JSON text frame.
func (c *client) send(rec eventlog.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) ping(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
		}
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.conn.Close()
}
