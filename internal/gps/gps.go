package gps

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"go.bug.st/serial"

	"github.com/team-204/control/internal/geo"
)

const (
	// MaxAttempts is the number of unparseable lines tolerated by one Read.
	MaxAttempts = 4

	DefaultReadTimeout = time.Second

	maxLineSize   = 1024
	readChunkSize = 128
)

// ErrReadFailed is returned when no GGA sentence could be parsed within
// MaxAttempts.
var ErrReadFailed = errors.New("gps read failed")

var errLineTooLong = fmt.Errorf("line exceeds %d bytes", maxLineSize)

// WithLogger sets the logger for the reader
func WithLogger(logger *slog.Logger) func(r *Reader) {
	return func(r *Reader) {
		r.logger = logger.With(slog.String("component", "gps"))
	}
}

// Reader pulls fixes out of an NMEA 0183 stream. Only GGA sentences carry a
// fix; other sentence types are skipped.
type Reader struct {
	r      io.Reader
	closer io.Closer

	pending []byte
	chunk   []byte

	logger *slog.Logger
}

// New creates a Reader over r. If r is also an io.Closer it is closed by
// Reader.Close.
func New(r io.Reader, options ...func(r *Reader)) *Reader {
	rd := Reader{
		r:      r,
		chunk:  make([]byte, readChunkSize),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if c, ok := r.(io.Closer); ok {
		rd.closer = c
	}

	for _, option := range options {
		option(&rd)
	}

	return &rd
}

// OpenSerial opens the GPS receiver at port with a one second read timeout.
func OpenSerial(port string, baud int, options ...func(r *Reader)) (*Reader, error) {
	p, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", port, err)
	}

	if err = p.SetReadTimeout(DefaultReadTimeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("setting read timeout on %s: %w", port, err)
	}

	return New(p, options...), nil
}

// Read returns the position of the next GGA sentence. Altitude is the
// receiver's altitude above mean sea level and Timestamp is the UTC time of
// the fix in seconds since midnight. Non-GGA sentences do not count against
// MaxAttempts; lines that fail to parse, including empty reads after a
// timeout, do.
func (r *Reader) Read() (geo.Position, error) {
	var lastErr error

	for attempt := 1; attempt <= MaxAttempts; {
		line, err := r.readLine()
		if err != nil && !errors.Is(err, errLineTooLong) && len(line) == 0 {
			return geo.Position{}, fmt.Errorf("%w: %w", ErrReadFailed, err)
		}

		s, err := nmea.Parse(strings.TrimSpace(string(line)))
		if err != nil {
			r.logger.Debug(fmt.Sprintf("unparseable sentence: %s", err.Error()), slog.Int("attempt", attempt))
			lastErr = err
			attempt++
			continue
		}

		gga, ok := s.(nmea.GGA)
		if !ok {
			continue
		}

		return Fix(gga), nil
	}

	return geo.Position{}, fmt.Errorf("%w: max number of parse attempts reached: %w", ErrReadFailed, lastErr)
}

// Fix converts a GGA sentence to a position.
func Fix(gga nmea.GGA) geo.Position {
	var ts float64
	if gga.Time.Valid {
		ts = float64(gga.Time.Hour*3600+gga.Time.Minute*60+gga.Time.Second) +
			float64(gga.Time.Millisecond)/1000
	}

	return geo.Position{
		Latitude:  gga.Latitude,
		Longitude: gga.Longitude,
		Altitude:  gga.Altitude,
		Timestamp: ts,
	}
}

// Close closes the underlying stream when it can be closed.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// readLine returns bytes up to the next newline, or whatever arrived before a
// read came back empty.
func (r *Reader) readLine() ([]byte, error) {
	for {
		if i := bytes.IndexByte(r.pending, '\n'); i >= 0 {
			line := bytes.Clone(r.pending[:i])
			r.pending = r.pending[i+1:]
			return line, nil
		}

		if len(r.pending) > maxLineSize {
			r.pending = nil
			return nil, errLineTooLong
		}

		n, err := r.r.Read(r.chunk)
		r.pending = append(r.pending, r.chunk[:n]...)

		if err != nil || n == 0 {
			line := r.pending
			r.pending = nil
			return line, err
		}
	}
}
