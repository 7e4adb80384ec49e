package httpx

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func TestRequestWriteTo(t *testing.T) {
	r := NewRequest("GET", "example.com", "")
	r.Headers.Set("user-agent", "ws2s-test")
	var buf bytes.Buffer
	if _, err := r.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	want := "GET / HTTP/1.0\r\nHost: example.com\r\nUser-Agent: ws2s-test\r\nConnection: close\r\n\r\n"
	if buf.String() != want {
		t.Errorf("Expected %q, got %q", want, buf.String())
	}
}

func TestHeadersDel(t *testing.T) {
	var hs Headers
	hs.Add("X-A", "1")
	hs.Add("x-a", "2")
	hs.Add("X-B", "3")
	hs.Del("X-A")
	if len(hs) != 1 || hs.Get("x-b") != "3" {
		t.Errorf("Expected only X-B left, got %v", hs)
	}
}

func TestParseResponse(t *testing.T) {
	raw := "HTTP/1.0 301 Moved Permanently\r\nLocation: https://example.com/\r\nContent-Length: 0\r\n\r\nbody"
	resp, err := ParseResponse(bufio.NewReader(strings.NewReader(raw)), 4096)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != 301 || resp.Proto != "HTTP/1.0" || resp.Reason != "Moved Permanently" {
		t.Errorf("Unexpected status %+v", resp)
	}
	if resp.Headers.Get("location") != "https://example.com/" {
		t.Errorf("Expected Location header, got %q", resp.Headers.Get("location"))
	}
	if string(resp.RawBodyStart) != "body" {
		t.Errorf("Expected body start, got %q", resp.RawBodyStart)
	}
	if resp.StatusLine() != "HTTP/1.0 301 Moved Permanently" {
		t.Errorf("Unexpected status line %q", resp.StatusLine())
	}
}

func TestParseResponseTruncated(t *testing.T) {
	resp, err := ParseResponse(bufio.NewReader(strings.NewReader("HTTP/1.1 200 OK\r\nServer: x")), 4096)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != 200 || resp.Headers.Get("Server") != "x" {
		t.Errorf("Unexpected response %+v", resp)
	}
}

func TestParseResponseErrors(t *testing.T) {
	cases := map[string]string{
		"empty":     "",
		"not http":  "SSH-2.0-OpenSSH\r\n\r\n",
		"bad code":  "HTTP/1.0 abc OK\r\n\r\n",
		"too large": "HTTP/1.0 200 OK\r\nX: " + strings.Repeat("a", 200) + "\r\n",
	}
	for name, raw := range cases {
		if _, err := ParseResponse(bufio.NewReader(strings.NewReader(raw)), 64); err == nil {
			t.Errorf("%s: Expected error", name)
		}
	}
}
