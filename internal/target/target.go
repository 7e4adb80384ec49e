package target

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Target is where a tunnel goes: the bridge to talk to and the host:port the
// bridge should dial on our behalf.
type Target struct {
	Bridge string // normalized ws:// or wss:// URL
	Host   string
	Port   int
}

// Addr returns the destination as host:port.
func (t Target) Addr() string { return net.JoinHostPort(t.Host, strconv.Itoa(t.Port)) }

func (t Target) String() string { return t.Bridge + " -> " + t.Addr() }

// Parse validates user supplied bridge URL, destination host and port.
func Parse(bridge, host, port string) (Target, error) {
	b, err := ParseBridgeURL(bridge)
	if err != nil {
		return Target{}, err
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return Target{}, errors.New("destination host is empty")
	}
	// [::1] style input; the wire carries the bare address
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	p, err := ParsePort(port)
	if err != nil {
		return Target{}, err
	}
	return Target{Bridge: b, Host: host, Port: p}, nil
}

// ParsePort accepts a decimal port in 1..65535.
func ParsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("destination port %q is not a number", s)
	}
	if p < 1 || p > 65535 {
		return 0, fmt.Errorf("destination port %d out of range 1-65535", p)
	}
	return p, nil
}

// ParseBridgeURL checks the bridge address and maps http(s) to ws(s).
func ParseBridgeURL(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("bridge url is empty")
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("bridge url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("bridge url %q: scheme must be ws or wss", s)
	}
	if u.Host == "" {
		return "", fmt.Errorf("bridge url %q has no host", s)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	return u.String(), nil
}
