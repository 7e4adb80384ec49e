package relay

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/matst80/ws2s/internal/bridge"
)

func readAll(t *testing.T, cl *bridge.Client, h bridge.Handle, want int) []byte {
	t.Helper()
	var got []byte
	for len(got) < want {
		ch, err := cl.ReadChan(h)
		if err != nil {
			t.Fatal(err)
		}
		select {
		case r := <-ch:
			if r.Err != nil {
				t.Fatalf("Expected data, got %v", r.Err)
			}
			got = append(got, r.Data...)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out reading")
		}
	}
	return got
}

func TestClientThroughBridge(t *testing.T) {
	host, port := startTCP(t, echoConn)
	_, url := startBridge(t, Options{})

	cl := bridge.NewClient(bridge.Options{PingInterval: 50 * time.Millisecond})
	defer cl.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h, err := cl.ConnectWait(ctx, bridge.Config{BridgeURL: url, Host: host, Port: strconv.Itoa(port)})
	if err != nil {
		t.Fatalf("Expected connect, got %v", err)
	}

	msg := []byte("ping\x00\xffpong")
	wch, err := cl.WriteChan(h, msg)
	if err != nil {
		t.Fatal(err)
	}
	if r := <-wch; r.Err != nil || r.N != len(msg) {
		t.Fatalf("Expected full write, got %+v", r)
	}
	if got := readAll(t, cl, h, len(msg)); string(got) != string(msg) {
		t.Errorf("Expected echo %q, got %q", msg, got)
	}

	// keepalive pings must not surface as data or errors
	time.Sleep(150 * time.Millisecond)
	if st, _ := cl.State(h); st != bridge.Open {
		t.Errorf("Expected Open after keepalives, got %v", st)
	}

	cch, err := cl.CloseChan(h)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-cch:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected close callback")
	}
	if err := cl.Write(h, []byte("x"), nil); !errors.Is(err, bridge.ErrInvalidHandle) {
		t.Errorf("Expected ErrInvalidHandle after close, got %v", err)
	}
}

// The classic scenario: an HTTP/1.0 request through the bridge returns a
// status line starting with "HTTP/".
func TestClientHTTPRequestThroughBridge(t *testing.T) {
	host, port := startTCP(t, func(c net.Conn) {
		defer c.Close()
		br := bufio.NewReader(c)
		for {
			line, err := br.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		_, _ = c.Write([]byte("HTTP/1.0 200 OK\r\nContent-Length: 2\r\n\r\nok"))
	})
	_, url := startBridge(t, Options{})

	cl := bridge.NewClient(bridge.Options{PingInterval: -1})
	defer cl.Shutdown(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h, err := cl.ConnectWait(ctx, bridge.Config{BridgeURL: url, Host: host, Port: strconv.Itoa(port)})
	if err != nil {
		t.Fatal(err)
	}
	wch, err := cl.WriteChan(h, []byte("GET / HTTP/1.0\r\nHost: "+host+"\r\n\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	if r := <-wch; r.Err != nil {
		t.Fatalf("Expected write success, got %v", r.Err)
	}
	// the target answers and hangs up; the answer must outlive the hang-up
	waitFor(t, func() bool {
		st, _ := cl.State(h)
		return st == bridge.Failed
	})
	var got []byte
	for {
		rch, err := cl.ReadChan(h)
		if errors.Is(err, bridge.ErrInvalidState) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		r := <-rch
		if r.Err != nil {
			t.Fatalf("Expected queued data, got %v", r.Err)
		}
		got = append(got, r.Data...)
	}
	if !strings.HasPrefix(string(got), "HTTP/") || !strings.HasSuffix(string(got), "\r\n\r\nok") {
		t.Errorf("Expected full HTTP response, got %q", got)
	}
}

func TestClientRemoteCloseFailsHandle(t *testing.T) {
	host, port := startTCP(t, func(c net.Conn) { c.Close() })
	_, url := startBridge(t, Options{})

	cl := bridge.NewClient(bridge.Options{PingInterval: -1})
	defer cl.Shutdown(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h, err := cl.ConnectWait(ctx, bridge.Config{BridgeURL: url, Host: host, Port: strconv.Itoa(port)})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		st, _ := cl.State(h)
		return st == bridge.Failed
	})
	if err := cl.Read(h, func(bridge.ReadResult) {}); !errors.Is(err, bridge.ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState on failed handle, got %v", err)
	}
	cch, err := cl.CloseChan(h)
	if err != nil {
		t.Fatal(err)
	}
	<-cch
	if st, _ := cl.State(h); st != bridge.Closed {
		t.Errorf("Expected Closed, got %v", st)
	}
}

func TestClientConnectRefusedByBridge(t *testing.T) {
	_, url := startBridge(t, Options{
		Dial: func(context.Context, string, string) (net.Conn, error) {
			return nil, errors.New("no route")
		},
	})
	cl := bridge.NewClient(bridge.Options{PingInterval: -1})
	defer cl.Shutdown(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := cl.ConnectWait(ctx, bridge.Config{BridgeURL: url, Host: "example.com", Port: "80"})
	if !errors.Is(err, bridge.ErrTransport) {
		t.Errorf("Expected ErrTransport, got %v", err)
	}
}
