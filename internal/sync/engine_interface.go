package sync

import (
	"context"
	"time"

	"github.com/nabhalearn/edusync/internal/models"
)

// SyncEngineInterface defines the engine operations the scheduler and CLI use.
// This interface allows for mocking in tests.
type SyncEngineInterface interface {
	// Drain attempts every pending queue item once.
	Drain(ctx context.Context, force bool) (*DrainResult, error)

	// InProgress reports whether a drain or batch is running.
	InProgress() bool

	// PendingCount returns the current backlog.
	PendingCount(ctx context.Context) (int, error)

	// Status returns the last computed status.
	Status() Status

	// RefreshStatus recomputes backlog counts.
	RefreshStatus(ctx context.Context) (Status, error)
}

var _ SyncEngineInterface = (*Engine)(nil)

// SyncEventType names an engine notification.
type SyncEventType string

const (
	SyncEventStarted    SyncEventType = "started"
	SyncEventCompleted  SyncEventType = "completed"
	SyncEventFailed     SyncEventType = "failed"
	SyncEventItemSynced SyncEventType = "item_synced"
	SyncEventItemFailed SyncEventType = "item_failed"
)

// SyncEvent is delivered to the event handler during a drain.
type SyncEvent struct {
	Type     SyncEventType
	ItemID   string
	Kind     models.Kind
	RecordID string
	Error    error
	Result   *DrainResult
}

// SyncEventHandler receives engine notifications. Handlers run on the
// draining goroutine.
type SyncEventHandler interface {
	OnSyncEvent(event SyncEvent)
}

// SyncEventHandlerFunc adapts a function to SyncEventHandler.
type SyncEventHandlerFunc func(event SyncEvent)

func (f SyncEventHandlerFunc) OnSyncEvent(event SyncEvent) { f(event) }

// SetEventHandler sets the event handler. nil disables notifications.
func (e *Engine) SetEventHandler(handler SyncEventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
}

func (e *Engine) emitEvent(event SyncEvent) {
	e.mu.RLock()
	handler := e.handler
	e.mu.RUnlock()
	if handler != nil {
		handler.OnSyncEvent(event)
	}
}

// maxErrorHistory bounds the retained error history.
const maxErrorHistory = 100

// SyncErrorEntry is one remembered failure.
type SyncErrorEntry struct {
	ItemID    string    `json:"itemId"`
	Operation string    `json:"operation"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *Engine) recordError(itemID, operation string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errHistory = append(e.errHistory, SyncErrorEntry{
		ItemID:    itemID,
		Operation: operation,
		Error:     err.Error(),
		Timestamp: e.opts.Clock(),
	})
	if n := len(e.errHistory); n > maxErrorHistory {
		e.errHistory = append([]SyncErrorEntry(nil), e.errHistory[n-maxErrorHistory:]...)
	}
}

// GetErrorHistory returns a copy of the most recent failures, oldest first.
func (e *Engine) GetErrorHistory() []SyncErrorEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]SyncErrorEntry, len(e.errHistory))
	copy(out, e.errHistory)
	return out
}
