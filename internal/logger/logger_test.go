package logger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "defaults", config: Config{}},
		{name: "debug console", config: Config{Level: "debug", Format: "console", Development: true}},
		{name: "upper case level", config: Config{Level: "WARN", Format: "JSON"}},
		{name: "invalid level", config: Config{Level: "verbose"}, wantErr: true},
		{name: "invalid format", config: Config{Format: "logfmt"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && logger == nil {
				t.Fatal("New() returned nil logger")
			}
		})
	}
}

// TestNew_LevelAndFormat writes through a file output and checks what lands
func TestNew_LevelAndFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chainwatch.log")

	logger, err := New(Config{Level: "warn", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	WithComponent(logger, "reconciler").Info("backfill complete")
	WithComponent(logger, "reconciler").Warn("duplicate transfer", zap.String("hash", "0x01"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line above the level, got %d: %q", len(lines), data)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("output is not json: %v", err)
	}
	if entry["msg"] != "duplicate transfer" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["component"] != "reconciler" {
		t.Errorf("component = %v", entry["component"])
	}
	if entry["hash"] != "0x01" {
		t.Errorf("hash = %v", entry["hash"])
	}
}

func TestWithComponent(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	WithComponent(zap.New(core), "fetcher").Info("resolved")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["component"]; got != "fetcher" {
		t.Errorf("component = %v, want fetcher", got)
	}
}

func TestContextLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core).With(zap.String("request_id", "abc"))

	ctx := WithLogger(context.Background(), logger)
	FromContext(ctx).Info("from context")

	if logs.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", logs.Len())
	}
	if got := logs.All()[0].ContextMap()["request_id"]; got != "abc" {
		t.Errorf("request_id = %v", got)
	}
}

func TestContextLoggerFallback(t *testing.T) {
	//nolint:staticcheck // nil context is part of the contract
	if FromContext(nil) == nil {
		t.Error("FromContext(nil) returned nil")
	}
	if FromContext(context.Background()) == nil {
		t.Error("FromContext(empty) returned nil")
	}
}
