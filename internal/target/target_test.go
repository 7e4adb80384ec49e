package target

import "testing"

func TestParse(t *testing.T) {
	tg, err := Parse("ws://localhost:9000", "example.com", "80")
	if err != nil {
		t.Fatal(err)
	}
	if tg.Bridge != "ws://localhost:9000" || tg.Host != "example.com" || tg.Port != 80 {
		t.Errorf("Unexpected target %+v", tg)
	}
	if tg.Addr() != "example.com:80" {
		t.Errorf("Unexpected addr %s", tg.Addr())
	}
}

func TestParseIPv6Host(t *testing.T) {
	tg, err := Parse("ws://localhost:9000", "[::1]", "8080")
	if err != nil {
		t.Fatal(err)
	}
	if tg.Host != "::1" || tg.Addr() != "[::1]:8080" {
		t.Errorf("Unexpected target %+v addr %s", tg, tg.Addr())
	}
}

func TestParsePort(t *testing.T) {
	good := map[string]int{"1": 1, "80": 80, " 443 ": 443, "65535": 65535}
	for in, want := range good {
		got, err := ParsePort(in)
		if err != nil || got != want {
			t.Errorf("ParsePort(%q) = %d, %v; expected %d", in, got, err, want)
		}
	}
	for _, in := range []string{"abc", "", "0", "-1", "65536", "80x", "8.5"} {
		if _, err := ParsePort(in); err == nil {
			t.Errorf("Expected ParsePort(%q) to fail", in)
		}
	}
}

func TestParseBridgeURL(t *testing.T) {
	cases := map[string]string{
		"ws://127.0.0.1:3613":      "ws://127.0.0.1:3613",
		"WSS://bridge.example/ws2s": "wss://bridge.example/ws2s",
		"http://localhost:9000":    "ws://localhost:9000",
		"https://bridge.example":   "wss://bridge.example",
	}
	for in, want := range cases {
		got, err := ParseBridgeURL(in)
		if err != nil {
			t.Errorf("ParseBridgeURL(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseBridgeURL(%q) = %q, expected %q", in, got, want)
		}
	}
	for _, in := range []string{"", "localhost:9000", "tcp://x:1", "ws://"} {
		if _, err := ParseBridgeURL(in); err == nil {
			t.Errorf("Expected ParseBridgeURL(%q) to fail", in)
		}
	}
}

func TestParseRejectsEmptyHost(t *testing.T) {
	if _, err := Parse("ws://localhost:9000", "  ", "80"); err == nil {
		t.Error("Expected empty host to be rejected")
	}
}
