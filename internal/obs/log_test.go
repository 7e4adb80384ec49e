package obs

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFieldsReachLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(zap.NewNop())

	Info("bridge.session.open", Fields{"id": "abc", "remote": "127.0.0.1"})
	Error("bridge.dial", Fields{"err": "refused"})
	Debug("client.read", nil)

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	if entries[0].Message != "bridge.session.open" {
		t.Errorf("Unexpected message %q", entries[0].Message)
	}
	ctx := entries[0].ContextMap()
	if ctx["id"] != "abc" || ctx["remote"] != "127.0.0.1" {
		t.Errorf("Unexpected fields %v", ctx)
	}
	if entries[1].Level != zapcore.ErrorLevel {
		t.Errorf("Expected error level, got %v", entries[1].Level)
	}
}

func TestDebugSuppressedAtInfo(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	SetLogger(zap.New(core))
	defer SetLogger(zap.NewNop())

	Debug("client.read", Fields{"n": 1})
	if logs.Len() != 0 {
		t.Errorf("Expected debug entry to be dropped, got %d entries", logs.Len())
	}
}
