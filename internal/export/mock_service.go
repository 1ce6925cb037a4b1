package export

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// MockArchiver is an Archiver that writes a small placeholder file.
type MockArchiver struct {
	mu    sync.Mutex
	fail  bool
	delay time.Duration
	paths []string
}

var _ Archiver = (*MockArchiver)(nil)

// NewMockArchiver creates a mock archiver that succeeds.
func NewMockArchiver() *MockArchiver {
	return &MockArchiver{}
}

// WriteArchive records path and writes placeholder content to it.
func (m *MockArchiver) WriteArchive(ctx context.Context, path string) (*ExportResult, error) {
	m.mu.Lock()
	fail, delay := m.fail, m.delay
	m.paths = append(m.paths, path)
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, fmt.Errorf("mock archive failed")
	}
	if err := os.WriteFile(path, []byte("mock archive"), 0644); err != nil {
		return nil, err
	}
	return &ExportResult{FilePath: path, SizeBytes: 12, Checksum: "mock"}, nil
}

// SetShouldFail makes subsequent calls fail.
func (m *MockArchiver) SetShouldFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

// SetDelay delays subsequent calls.
func (m *MockArchiver) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Paths returns every path WriteArchive was called with.
func (m *MockArchiver) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.paths...)
}

// CallCount returns the number of WriteArchive calls.
func (m *MockArchiver) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.paths)
}
