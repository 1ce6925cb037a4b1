// Package logging tests for structured JSON logging.
package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// =====================================================
// Logger Creation and Initialization Tests
// =====================================================

// TestInit_idempotent verifies Init is idempotent.
func TestInit_idempotent(t *testing.T) {
	global = nil
	once = *new(sync.Once)

	var buf1 bytes.Buffer
	Init(&buf1, LevelInfo)
	firstLogger := Get()

	var buf2 bytes.Buffer
	Init(&buf2, LevelDebug)

	logger := Get()
	if logger != firstLogger {
		t.Error("Second Init() should be ignored, different logger returned")
	}
	if logger.out != &buf1 {
		t.Error("Second Init() should be ignored, output writer changed")
	}
}

// TestGet_default verifies default logger creation.
func TestGet_default(t *testing.T) {
	global = nil
	once = *new(sync.Once)

	logger := Get()
	if logger == nil {
		t.Fatal("Get() returned nil without Init()")
	}
	if logger.out != os.Stdout {
		t.Error("Get() should default to os.Stdout")
	}
	if logger.minLevel != LevelInfo {
		t.Errorf("minLevel = %v, want LevelInfo", logger.minLevel)
	}
}

// TestParseLevel verifies configuration strings map onto levels.
func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{" INFO ", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

// =====================================================
// Logging Tests
// =====================================================

func decodeLines(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("Output is not valid JSON: %v", err)
		}
		entries = append(entries, entry)
	}
	return entries
}

// TestLogger_Info verifies info logging with context.
func TestLogger_Info(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	logger.Info("drain finished", map[string]interface{}{"synced": 3})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Level != "INFO" {
		t.Errorf("Level = %q, want 'INFO'", entries[0].Level)
	}
	if entries[0].Context["synced"] != float64(3) {
		t.Errorf("Context['synced'] = %v, want 3", entries[0].Context["synced"])
	}
}

// TestLogger_Error verifies error logging.
func TestLogger_Error(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	logger.Error("error occurred", io.ErrUnexpectedEOF)

	entries := decodeLines(t, &buf)
	if entries[0].Level != "ERROR" {
		t.Errorf("Level = %q, want 'ERROR'", entries[0].Level)
	}
	if !strings.Contains(entries[0].Error, io.ErrUnexpectedEOF.Error()) {
		t.Errorf("Error field should contain error details, got: %s", entries[0].Error)
	}
}

// TestLogger_ErrorWithCode verifies error logging with code.
func TestLogger_ErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	logger.ErrorWithCode("drain failed", "SYNC_FAILED", io.ErrUnexpectedEOF, map[string]interface{}{"item": "q1"})

	entries := decodeLines(t, &buf)
	if entries[0].Context["error_code"] != "SYNC_FAILED" {
		t.Errorf("error_code = %v, want 'SYNC_FAILED'", entries[0].Context["error_code"])
	}
	if entries[0].Context["item"] != "q1" {
		t.Errorf("item = %v, want 'q1'", entries[0].Context["item"])
	}
}

// TestLogger_filtering verifies minimum level filtering.
func TestLogger_filtering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelWarn)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message", nil)

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 log lines, got %d", len(entries))
	}
	if entries[0].Level != "WARN" || entries[1].Level != "ERROR" {
		t.Errorf("levels = %q, %q; want WARN, ERROR", entries[0].Level, entries[1].Level)
	}
}

// TestLogger_Named verifies component tagging shares the parent's output.
func TestLogger_Named(t *testing.T) {
	var buf bytes.Buffer
	parent := New(&buf, LevelInfo)
	child := parent.Named("sync")

	child.Info("hello")
	parent.Info("world")

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Component != "sync" {
		t.Errorf("Component = %q, want 'sync'", entries[0].Component)
	}
	if entries[1].Component != "" {
		t.Errorf("parent Component = %q, want empty", entries[1].Component)
	}
}

// =====================================================
// Context Handling Tests
// =====================================================

// TestMergeContext verifies later maps override earlier keys.
func TestMergeContext(t *testing.T) {
	ctx := mergeContext(
		map[string]interface{}{"key1": "value1"},
		map[string]interface{}{"key2": "value2"},
		map[string]interface{}{"key1": "overridden"},
	)

	if ctx["key1"] != "overridden" {
		t.Errorf("ctx['key1'] = %v, want 'overridden'", ctx["key1"])
	}
	if ctx["key2"] != "value2" {
		t.Errorf("ctx['key2'] = %v, want 'value2'", ctx["key2"])
	}
	if mergeContext() != nil {
		t.Error("mergeContext() with no arguments should return nil")
	}
}

// =====================================================
// File Output Tests
// =====================================================

// TestNewFileWriter verifies the rotated writer creates its directory.
func TestNewFileWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "edusync.log")

	w, err := NewFileWriter(path, 1, 2, 7)
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}

	logger := New(w, LevelInfo)
	logger.Info("to file")
	if c, ok := w.(io.Closer); ok {
		c.Close()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("log file missing entry: %s", data)
	}
}

// TestLogger_concurrent verifies concurrent writers emit whole lines.
func TestLogger_concurrent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)
	named := logger.Named("worker")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				logger.Info("even", map[string]interface{}{"i": i})
			} else {
				named.Info("odd", map[string]interface{}{"i": i})
			}
		}(i)
	}
	wg.Wait()

	if got := len(decodeLines(t, &buf)); got != 20 {
		t.Errorf("got %d entries, want 20", got)
	}
}
