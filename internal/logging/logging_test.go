package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_DebugLevelEnabled(t *testing.T) {
	logger := New("debug", "text")
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug level to be enabled")
	}
}

func TestRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithRequestID(ctx, "req-2")
	if got := RequestID(ctx); got != "req-2" {
		t.Errorf("RequestID = %q, want req-2", got)
	}
	if RequestID(context.Background()) != "" {
		t.Error("expected empty request id on bare context")
	}
}

func TestL_AttachesContextTags(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(&buf, "info", "json")

	ctx := WithLogger(context.Background(), base)
	ctx = WithRequestID(ctx, "req-9")
	ctx = WithWallet(ctx, "wal_1")
	ctx = WithChain(ctx, "solana")
	L(ctx).Info("synced")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	for key, want := range map[string]string{"request_id": "req-9", "wallet_id": "wal_1", "chain": "solana", "msg": "synced"} {
		if rec[key] != want {
			t.Errorf("%s = %v, want %s", key, rec[key], want)
		}
	}
}

func TestFromContext_DefaultsToSlogDefault(t *testing.T) {
	if FromContext(context.Background()) != slog.Default() {
		t.Error("expected slog.Default when no logger in context")
	}
}
