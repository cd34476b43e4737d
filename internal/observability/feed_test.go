package observability

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/team-204/control/internal/telemetry"
)

func dialFeed(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForClients(t *testing.T, f *Feed, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for f.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Clients() = %d, want %d", f.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFeed_Broadcast(t *testing.T) {
	f := NewFeed()
	srv := httptest.NewServer(f)
	defer srv.Close()
	defer f.Close()

	a := dialFeed(t, srv)
	b := dialFeed(t, srv)
	waitForClients(t, f, 2)

	if err := f.Send("Destination Reached"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := f.Send(telemetry.Frame{East: 1, North: 2, Up: 3, FlightTime: 4}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	want := []string{
		`"Destination Reached"`,
		`{"x":1,"y":2,"z":3,"lat":0,"lon":0,"time":4}`,
	}
	for _, conn := range []*websocket.Conn{a, b} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for _, w := range want {
			kind, msg, err := conn.ReadMessage()
			if err != nil {
				t.Fatalf("ReadMessage: %v", err)
			}
			if kind != websocket.TextMessage {
				t.Errorf("message type = %d, want text", kind)
			}
			if string(msg) != w {
				t.Errorf("message = %s, want %s", msg, w)
			}
		}
	}
}

func TestFeed_ClientDisconnect(t *testing.T) {
	f := NewFeed()
	srv := httptest.NewServer(f)
	defer srv.Close()
	defer f.Close()

	conn := dialFeed(t, srv)
	waitForClients(t, f, 1)

	_ = conn.Close()
	waitForClients(t, f, 0)

	if err := f.Send("still running"); err != nil {
		t.Errorf("Send without clients: %v", err)
	}
}

func TestFeed_Close(t *testing.T) {
	f := NewFeed()
	srv := httptest.NewServer(f)
	defer srv.Close()

	conn := dialFeed(t, srv)
	waitForClients(t, f, 1)

	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if f.Clients() != 0 {
		t.Errorf("Clients() = %d after Close, want 0", f.Clients())
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("ReadMessage after Close error = %v, want normal closure", err)
	}

	if err := f.Send("late"); err == nil {
		t.Error("Send after Close error = nil, want error")
	}
	if err := f.Send(make(chan int)); err == nil {
		t.Error("Send(chan) error = nil, want encoding error")
	}
}
