package sensor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
)

type fakeRequester struct {
	reply   []byte
	err     error
	block   bool
	request []byte
	closed  bool
}

func (f *fakeRequester) Request(ctx context.Context, payload []byte) ([]byte, error) {
	f.request = payload
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.reply, f.err
}

func (f *fakeRequester) Close() error {
	f.closed = true
	return nil
}

func TestClient_Read(t *testing.T) {
	transport := &fakeRequester{reply: []byte("Temperature: 0 Altitude: 100")}
	client := newClient(transport)

	reading, err := client.Read(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if reading != (Reading{Temperature: "0", Altitude: "100"}) {
		t.Errorf("unexpected reading %+v", reading)
	}
	if string(transport.request) != RequestMarker {
		t.Errorf("expected request %q, got %q", RequestMarker, transport.request)
	}
}

func TestClient_ReadFailures(t *testing.T) {
	testCases := []struct {
		name      string
		transport *fakeRequester
	}{
		{"non-matching reply", &fakeRequester{reply: []byte("garbage")}},
		{"missing altitude", &fakeRequester{reply: []byte("Temperature: 21.5")}},
		{"leading noise", &fakeRequester{reply: []byte("> Temperature: 1 Altitude: 2")}},
		{"send failure", &fakeRequester{err: errors.New("connection refused")}},
		{"timeout", &fakeRequester{block: true}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client := newClient(tc.transport, WithTimeout(10*time.Millisecond))

			_, err := client.Read(context.Background())
			if !errors.Is(err, ErrReadFailed) {
				t.Errorf("expected ErrReadFailed, got %v", err)
			}
		})
	}
}

func TestClient_ReadTimeoutIsBounded(t *testing.T) {
	client := newClient(&fakeRequester{block: true}, WithTimeout(20*time.Millisecond))

	start := time.Now()
	_, _ = client.Read(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("read took %s, expected about 20ms", elapsed)
	}
}

func TestReading_Celsius(t *testing.T) {
	c, err := Reading{Temperature: "21.5", Altitude: "3"}.Celsius()
	if err != nil || c != 21.5 {
		t.Errorf("expected 21.5, got %g (%v)", c, err)
	}

	if _, err = (Reading{Temperature: "n/a"}).Celsius(); err == nil {
		t.Error("expected parse error")
	}
}

func TestDial_RequestReply(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const endpoint = "inproc://sensor-test"

	rep := zmq4.NewRep(ctx)
	defer rep.Close()
	if err := rep.Listen(endpoint); err != nil {
		t.Fatalf("listen: %v", err)
	}

	go func() {
		msg, err := rep.Recv()
		if err != nil || string(msg.Bytes()) != RequestMarker {
			return
		}
		_ = rep.Send(zmq4.NewMsg([]byte("Temperature: 23.1 Altitude: 4.2")))
	}()

	client, err := Dial(ctx, endpoint, WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	reading, err := client.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if reading != (Reading{Temperature: "23.1", Altitude: "4.2"}) {
		t.Errorf("unexpected reading %+v", reading)
	}
}
