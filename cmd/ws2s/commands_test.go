package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matst80/ws2s/internal/obs"
	"github.com/matst80/ws2s/internal/relay"
)

func TestMain(m *testing.M) {
	obs.SetLogger(zap.NewNop())
	os.Exit(m.Run())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startTarget(t *testing.T, handle func(net.Conn)) (string, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go handle(c)
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), strconv.Itoa(addr.Port)
}

func echo(c net.Conn) {
	defer c.Close()
	_, _ = io.Copy(c, c)
}

func testCLI(t *testing.T) *CLI {
	t.Helper()
	srv := relay.NewServer(relay.Options{})
	hs := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		hs.Close()
	})
	return &CLI{Bridge: hs.URL, HandshakeTimeout: 2 * time.Second}
}

func TestEchoCmd(t *testing.T) {
	host, port := startTarget(t, echo)
	g := testCLI(t)
	var out bytes.Buffer
	cmd := &EchoCmd{Host: host, Port: port, Message: "hello bridge", Timeout: 2 * time.Second}
	if err := cmd.Run(context.Background(), g, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "echo ok: 12 bytes") {
		t.Errorf("Unexpected output %q", out.String())
	}
}

func TestEchoCmdMismatch(t *testing.T) {
	host, port := startTarget(t, func(c net.Conn) {
		defer c.Close()
		buf := make([]byte, 64)
		n, _ := c.Read(buf)
		_, _ = c.Write(bytes.ToUpper(buf[:n]))
		time.Sleep(200 * time.Millisecond)
	})
	g := testCLI(t)
	cmd := &EchoCmd{Host: host, Port: port, Message: "abc", Timeout: 2 * time.Second}
	if err := cmd.Run(context.Background(), g, io.Discard); !errors.Is(err, errEchoMismatch) {
		t.Errorf("Expected echo mismatch, got %v", err)
	}
}

func TestEchoCmdBadPort(t *testing.T) {
	g := testCLI(t)
	cmd := &EchoCmd{Host: "example.com", Port: "http", Message: "x", Timeout: time.Second}
	if err := cmd.Run(context.Background(), g, io.Discard); err == nil {
		t.Error("Expected invalid port to fail")
	}
}

func TestGetCmd(t *testing.T) {
	host, port := startTarget(t, func(c net.Conn) {
		defer c.Close()
		br := bufio.NewReader(c)
		reqLine, _ := br.ReadString('\n')
		for {
			line, err := br.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		if !strings.HasPrefix(reqLine, "GET /health HTTP/1.0") {
			_, _ = c.Write([]byte("HTTP/1.0 400 Bad Request\r\n\r\n"))
			return
		}
		_, _ = c.Write([]byte("HTTP/1.0 200 OK\r\nServer: test\r\n\r\nfine"))
	})
	g := testCLI(t)
	var out bytes.Buffer
	cmd := &GetCmd{Host: host, Port: port, Path: "/health", Headers: true, Timeout: 2 * time.Second}
	if err := cmd.Run(context.Background(), g, &out); err != nil {
		t.Fatal(err)
	}
	want := "HTTP/1.0 200 OK\nServer: test\n"
	if out.String() != want {
		t.Errorf("Expected %q, got %q", want, out.String())
	}
}

func TestSessionCmd(t *testing.T) {
	host, port := startTarget(t, echo)
	g := testCLI(t)
	in, feed := io.Pipe()
	out := &syncBuffer{}
	errc := make(chan error, 1)
	go func() {
		errc <- (&SessionCmd{Host: host, Port: port}).run(context.Background(), g, in, out)
	}()

	_, _ = io.WriteString(feed, "hello\n")
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), "< hello") {
		if time.Now().After(deadline) {
			t.Fatalf("Expected echoed line, got %q", out.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
	feed.Close()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Expected session to end after input closed")
	}
	got := out.String()
	for _, want := range []string{"connected to ", "> hello\n", "< hello\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("Expected %q in output %q", want, got)
		}
	}
}

func TestHandleStreamTimeoutKeepsRead(t *testing.T) {
	var slow net.Conn
	ready := make(chan struct{})
	host, port := startTarget(t, func(c net.Conn) {
		slow = c
		close(ready)
	})
	g := testCLI(t)
	cl := g.newClient()
	defer shutdown(cl)
	h, err := g.dial(context.Background(), cl, host, port)
	if err != nil {
		t.Fatal(err)
	}
	<-ready
	s := newHandleStream(cl, h, 50*time.Millisecond)
	buf := make([]byte, 8)
	if _, err := s.Read(buf); !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("Expected deadline error, got %v", err)
	}
	_, _ = slow.Write([]byte("late"))
	s.timeout = 2 * time.Second
	n, err := s.Read(buf)
	if err != nil || string(buf[:n]) != "late" {
		t.Errorf("Expected late data on retry, got %q %v", buf[:n], err)
	}
	slow.Close()
	if _, err := s.Read(buf); err != io.EOF {
		t.Errorf("Expected EOF after remote close, got %v", err)
	}
}
