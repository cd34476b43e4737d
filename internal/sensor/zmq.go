package sensor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-zeromq/zmq4"
)

// Dial connects a Client to the sensor service at endpoint, for example
// "tcp://localhost:5555".
func Dial(ctx context.Context, endpoint string, options ...func(c *Client)) (*Client, error) {
	t := &zmqTransport{endpoint: endpoint}
	if err := t.connect(ctx); err != nil {
		return nil, err
	}

	return newClient(t, options...), nil
}

// zmqTransport is a REQ socket. A request that times out leaves the socket
// waiting for a reply that may never come, so it is dropped and the next
// request dials a fresh one.
type zmqTransport struct {
	endpoint string

	mu     sync.Mutex
	socket zmq4.Socket
}

func (t *zmqTransport) connect(ctx context.Context) error {
	// the socket outlives the dial context, it is closed explicitly
	socket := zmq4.NewReq(context.WithoutCancel(ctx))
	if err := socket.Dial(t.endpoint); err != nil {
		_ = socket.Close()
		return fmt.Errorf("dialing sensor service %s: %w", t.endpoint, err)
	}

	t.socket = socket
	return nil
}

func (t *zmqTransport) Request(ctx context.Context, payload []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.socket == nil {
		if err := t.connect(ctx); err != nil {
			return nil, err
		}
	}

	type result struct {
		msg zmq4.Msg
		err error
	}

	socket := t.socket
	done := make(chan result, 1)

	go func() {
		if err := socket.Send(zmq4.NewMsg(payload)); err != nil {
			done <- result{err: fmt.Errorf("sending request: %w", err)}
			return
		}

		msg, err := socket.Recv()
		if err != nil {
			err = fmt.Errorf("receiving reply: %w", err)
		}
		done <- result{msg: msg, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			t.reset()
			return nil, r.err
		}
		return r.msg.Bytes(), nil

	case <-ctx.Done():
		t.reset()
		return nil, fmt.Errorf("waiting for reply: %w", ctx.Err())
	}
}

// reset closes the current socket. Callers hold t.mu.
func (t *zmqTransport) reset() {
	if t.socket != nil {
		_ = t.socket.Close()
		t.socket = nil
	}
}

func (t *zmqTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.socket == nil {
		return nil
	}

	err := t.socket.Close()
	t.socket = nil

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("closing sensor socket: %w", err)
	}
	return nil
}
