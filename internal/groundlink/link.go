package groundlink

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/team-204/control/internal/geo"
)

const (
	// MaxFrameSize bounds a single inbound frame; longer input is discarded.
	MaxFrameSize = 64 * 1024

	readChunkSize = 256
)

// WithLogger sets the logger for the link
func WithLogger(logger *slog.Logger) func(l *Link) {
	return func(l *Link) {
		l.logger = logger.With(slog.String("component", "groundlink"))
	}
}

// Link exchanges newline-delimited JSON frames with the ground station. It is
// tolerant of a lossy radio: timeouts and corrupt frames read as "no message".
type Link struct {
	rw     io.ReadWriter
	closer io.Closer

	wmu sync.Mutex // frames are written whole

	pending []byte
	chunk   []byte

	logger *slog.Logger
}

// New creates a Link over rw. If rw is also an io.Closer it is closed by
// Link.Close.
func New(rw io.ReadWriter, options ...func(l *Link)) *Link {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	l := Link{
		rw:     rw,
		chunk:  make([]byte, readChunkSize),
		logger: logger,
	}
	if c, ok := rw.(io.Closer); ok {
		l.closer = c
	}

	for _, option := range options {
		option(&l)
	}

	return &l
}

// OpenSerial opens the radio modem at port. A read returns empty once
// readTimeout elapses without data.
func OpenSerial(port string, baud int, readTimeout time.Duration, options ...func(l *Link)) (*Link, error) {
	p, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", port, err)
	}

	if err = p.SetReadTimeout(readTimeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("setting read timeout on %s: %w", port, err)
	}

	return New(p, options...), nil
}

// Send encodes v (a record or a plain string) as a single frame.
func (l *Link) Send(v any) error {
	p, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	p = append(p, '\n')

	l.wmu.Lock()
	defer l.wmu.Unlock()

	if _, err = l.rw.Write(p); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Receive reads one frame. It reports false when the read timed out, the
// channel ended, or the frame is not valid JSON.
func (l *Link) Receive() (json.RawMessage, bool) {
	line, err := l.readLine()
	if err != nil && !errors.Is(err, io.EOF) {
		l.logger.Warn(fmt.Sprintf("error reading frame: %s", err.Error()))
	}

	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, false
	}

	if !json.Valid(line) {
		l.logger.Warn("discarding corrupt frame", slog.Int("bytes", len(line)))
		return nil, false
	}

	return json.RawMessage(line), true
}

// ReceiveFlightPath reads one frame and decodes it as a flight path. Frames
// that are not a well-formed flight path read as "no message".
func (l *Link) ReceiveFlightPath() ([]geo.OffsetPoint, bool) {
	raw, ok := l.Receive()
	if !ok {
		return nil, false
	}

	path, err := DecodeFlightPath(raw)
	if err != nil {
		l.logger.Warn(fmt.Sprintf("discarding frame: %s", err.Error()), slog.String("frame", string(raw)))
		return nil, false
	}

	return path, true
}

// Close closes the underlying channel when it can be closed.
func (l *Link) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// readLine returns bytes up to the next newline, or whatever arrived before a
// read came back empty.
func (l *Link) readLine() ([]byte, error) {
	for {
		if i := bytes.IndexByte(l.pending, '\n'); i >= 0 {
			line := bytes.Clone(l.pending[:i])
			l.pending = l.pending[i+1:]
			return line, nil
		}

		if len(l.pending) > MaxFrameSize {
			l.pending = nil
			return nil, fmt.Errorf("frame exceeds %d bytes", MaxFrameSize)
		}

		n, err := l.rw.Read(l.chunk)
		l.pending = append(l.pending, l.chunk[:n]...)

		if err != nil || n == 0 {
			line := l.pending
			l.pending = nil
			return line, err
		}
	}
}

type pathPoint struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	Z *float64 `json:"z"`
}

// DecodeFlightPath parses a ground-station flight path: a non-empty list of
// {"x": east, "y": north, "z": up} records, all fields required.
func DecodeFlightPath(raw []byte) ([]geo.OffsetPoint, error) {
	var points []pathPoint
	if err := json.Unmarshal(raw, &points); err != nil {
		return nil, fmt.Errorf("decoding flight path: %w", err)
	}
	if len(points) == 0 {
		return nil, errors.New("decoding flight path: no waypoints")
	}

	path := make([]geo.OffsetPoint, len(points))
	for i, p := range points {
		switch {
		case p.X == nil:
			return nil, fmt.Errorf("decoding flight path: waypoint %d: missing \"x\"", i)
		case p.Y == nil:
			return nil, fmt.Errorf("decoding flight path: waypoint %d: missing \"y\"", i)
		case p.Z == nil:
			return nil, fmt.Errorf("decoding flight path: waypoint %d: missing \"z\"", i)
		}

		path[i] = geo.OffsetPoint{East: *p.X, North: *p.Y, Up: *p.Z}
	}

	return path, nil
}
