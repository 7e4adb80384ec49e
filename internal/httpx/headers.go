package httpx

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Header represents a single HTTP header field (case preserved as seen on wire).
type Header struct {
	Name  string
	Value string
}

// Headers keeps fields in wire order.
type Headers []Header

// Get returns the first value associated with name (case-insensitive) or empty.
func (hs Headers) Get(name string) string {
	for _, h := range hs {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// Set sets (replaces) a header (case of Name preserved as provided).
func (hs *Headers) Set(name, value string) {
	for i, h := range *hs {
		if strings.EqualFold(h.Name, name) {
			(*hs)[i].Value = value
			return
		}
	}
	*hs = append(*hs, Header{Name: name, Value: value})
}

// Add appends a header (does not replace existing).
func (hs *Headers) Add(name, value string) {
	*hs = append(*hs, Header{Name: name, Value: value})
}

// Del deletes all headers with given name (case-insensitive).
func (hs *Headers) Del(name string) {
	out := (*hs)[:0]
	for _, h := range *hs {
		if !strings.EqualFold(h.Name, name) {
			out = append(out, h)
		}
	}
	*hs = out
}

// Request is a raw HTTP/1.x request written straight onto a tunnel.
type Request struct {
	Method  string
	URI     string
	Proto   string
	Headers Headers
}

// NewRequest builds an HTTP/1.0 request for host. The connection closes after
// the response, so the body ends at EOF.
func NewRequest(method, host, uri string) *Request {
	if uri == "" {
		uri = "/"
	}
	r := &Request{Method: method, URI: uri, Proto: "HTTP/1.0"}
	r.Headers.Set("Host", host)
	r.Headers.Set("User-Agent", "ws2s")
	r.Headers.Set("Connection", "close")
	return r
}

// WriteTo writes the request line and headers followed by the blank line.
func (p *Request) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s %s\r\n", p.Method, p.URI, p.Proto)
	for _, h := range p.Headers {
		buf.WriteString(h.Name + ": " + h.Value + "\r\n")
	}
	buf.WriteString("\r\n")
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// Response is a parsed status line plus headers.
type Response struct {
	Proto   string
	Status  int
	Reason  string
	Headers Headers
	// RawBodyStart holds any bytes read that belong to the body
	RawBodyStart []byte
}

// StatusLine renders the status line without CRLF.
func (r *Response) StatusLine() string {
	return strings.TrimSpace(fmt.Sprintf("%s %d %s", r.Proto, r.Status, r.Reason))
}

// ParseResponse reads from r until complete HTTP headers are obtained or the
// size limit is exceeded. A peer that closes early still yields what was read.
func ParseResponse(r *bufio.Reader, max int) (*Response, error) {
	var buf []byte
	for !hasHeaderEnd(buf) {
		if len(buf) > max {
			return nil, fmt.Errorf("header too large (%d>%d)", len(buf), max)
		}
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			buf = append(buf, line...)
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
	}
	if len(buf) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return parseBuffer(buf)
}

func hasHeaderEnd(b []byte) bool {
	return bytes.Contains(b, []byte("\r\n\r\n")) || bytes.Contains(b, []byte("\n\n"))
}

func parseBuffer(buf []byte) (*Response, error) {
	var headerPart, bodyStart []byte
	if idx := bytes.Index(buf, []byte("\r\n\r\n")); idx != -1 {
		headerPart = buf[:idx+4]
		bodyStart = buf[idx+4:]
	} else if idx := bytes.Index(buf, []byte("\n\n")); idx != -1 {
		headerPart = buf[:idx+2]
		bodyStart = buf[idx+2:]
	} else {
		headerPart = buf
	}
	reader := bufio.NewReader(bytes.NewReader(headerPart))
	statusLine, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	statusLine = strings.TrimRight(statusLine, "\r\n")
	proto, rest, _ := strings.Cut(statusLine, " ")
	code, reason, _ := strings.Cut(rest, " ")
	if !strings.HasPrefix(proto, "HTTP/") {
		return nil, fmt.Errorf("bad status line: %q", statusLine)
	}
	status, err := strconv.Atoi(code)
	if err != nil || status < 100 || status > 999 {
		return nil, fmt.Errorf("bad status code in %q", statusLine)
	}
	resp := &Response{Proto: proto, Status: status, Reason: reason}
	for {
		line, err := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if colon := strings.Index(line, ":"); colon > 0 {
			resp.Headers.Add(line[:colon], strings.TrimSpace(line[colon+1:]))
		}
		if err != nil {
			break
		}
	}
	if len(bodyStart) > 0 {
		resp.RawBodyStart = append([]byte{}, bodyStart...)
	}
	return resp, nil
}
