package sensor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"time"
)

const (
	// DefaultTimeout is how long Read waits for the sensor service to reply.
	DefaultTimeout = 500 * time.Millisecond

	// RequestMarker is the payload of every read request.
	RequestMarker = "READ"
)

// ErrReadFailed is wrapped by every error returned from Client.Read.
var ErrReadFailed = errors.New("sensor read failed")

var replyPattern = regexp.MustCompile(`^Temperature: (\S+) Altitude: (\S+)`)

// Reading is a raw reply from the sensor service. Values are kept as the
// service formatted them.
type Reading struct {
	Temperature string
	Altitude    string
}

// Celsius parses the temperature.
func (r Reading) Celsius() (float64, error) {
	c, err := strconv.ParseFloat(r.Temperature, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing temperature %q: %w", r.Temperature, err)
	}
	return c, nil
}

// requester sends one request and waits for its reply.
type requester interface {
	Request(ctx context.Context, payload []byte) ([]byte, error)
	io.Closer
}

// WithLogger sets the logger for the client
func WithLogger(logger *slog.Logger) func(c *Client) {
	return func(c *Client) {
		c.logger = logger.With(slog.String("component", "sensor"))
	}
}

// WithTimeout sets how long a read waits for a reply.
func WithTimeout(timeout time.Duration) func(c *Client) {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// Client reads temperature and pressure altitude from the sensor service
// using a strict request/reply exchange.
type Client struct {
	transport requester
	timeout   time.Duration

	logger *slog.Logger
}

func newClient(transport requester, options ...func(c *Client)) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	c := Client{
		transport: transport,
		timeout:   DefaultTimeout,
		logger:    logger,
	}

	for _, option := range options {
		option(&c)
	}

	return &c
}

// Read requests one reading. Send failures, timeouts and replies that do not
// match the expected format all return an error wrapping ErrReadFailed.
func (c *Client) Read(ctx context.Context) (Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reply, err := c.transport.Request(ctx, []byte(RequestMarker))
	if err != nil {
		c.logger.Debug(fmt.Sprintf("sensor request failed: %s", err.Error()))
		return Reading{}, fmt.Errorf("%w: %w", ErrReadFailed, err)
	}

	m := replyPattern.FindSubmatch(reply)
	if m == nil {
		c.logger.Debug("unexpected sensor reply", slog.String("reply", string(reply)))
		return Reading{}, fmt.Errorf("%w: unexpected reply %q", ErrReadFailed, reply)
	}

	return Reading{Temperature: string(m[1]), Altitude: string(m[2])}, nil
}

// Close releases the transport.
func (c *Client) Close() error {
	return c.transport.Close()
}
