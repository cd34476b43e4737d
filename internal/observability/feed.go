package observability

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	feedWriteTimeout = 5 * time.Second
	feedBacklog      = 64
)

// WithFeedLogger sets the logger of a Feed.
func WithFeedLogger(logger *slog.Logger) func(f *Feed) {
	return func(f *Feed) {
		f.logger = logger
	}
}

// Feed mirrors everything sent to the ground station to websocket clients.
// Each message is a JSON text frame. Slow clients lose messages rather than
// stall the control loop.
type Feed struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*feedClient]struct{}
	closed  bool
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewFeed(opts ...func(f *Feed)) *Feed {
	f := &Feed{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		clients: make(map[*feedClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With(slog.String("component", "feed"))
	return f
}

// ServeHTTP upgrades the request and streams messages until the client
// disconnects or the feed is closed.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn(fmt.Sprintf("websocket upgrade error: %s", err.Error()))
		return
	}

	c := &feedClient{conn: conn, send: make(chan []byte, feedBacklog)}
	if !f.add(c) {
		_ = conn.Close()
		return
	}
	f.logger.Info("client connected", slog.String("remote", r.RemoteAddr))

	go f.write(c)

	// incoming messages are ignored; reading detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	f.remove(c)
	f.logger.Info("client disconnected", slog.String("remote", r.RemoteAddr))
}

func (f *Feed) write(c *feedClient) {
	defer c.conn.Close()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			f.logger.Debug(fmt.Sprintf("write failed: %s", err.Error()))
			return
		}
	}
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(feedWriteTimeout),
	)
}

func (f *Feed) add(c *feedClient) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.clients[c] = struct{}{}
	return true
}

func (f *Feed) remove(c *feedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		close(c.send)
	}
}

// Send encodes v as JSON and queues it for every connected client.
func (f *Feed) Send(v any) error {
	p, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding feed message: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("feed closed")
	}
	for c := range f.clients {
		select {
		case c.send <- p:
		default:
			f.logger.Debug("client backlog full, message dropped")
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (f *Feed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// Close disconnects every client. Later connections are refused.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	for c := range f.clients {
		delete(f.clients, c)
		close(c.send)
	}
	return nil
}
