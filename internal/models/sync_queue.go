package models

import (
	"encoding/json"
	"time"
)

// QueueStatus is the lifecycle state of a queue item.
type QueueStatus string

const (
	QueuePending QueueStatus = "pending"
	QueueFailed  QueueStatus = "failed"
	QueueSettled QueueStatus = "settled"
)

// SyncQueueItem is a durable record of a local mutation awaiting
// propagation. Data is the payload snapshot taken at enqueue time and
// Version is the record version that snapshot carries.
type SyncQueueItem struct {
	ID          string          `json:"id"`
	Type        Kind            `json:"type"`
	Action      Action          `json:"action"`
	RecordID    string          `json:"recordId"`
	Version     int             `json:"version"`
	Data        json.RawMessage `json:"data"`
	Priority    int             `json:"priority"`
	RetryCount  int             `json:"retryCount"`
	MaxRetries  int             `json:"maxRetries"`
	Status      QueueStatus     `json:"status"`
	Seq         int64           `json:"seq"`
	CreatedAt   time.Time       `json:"createdAt"`
	NextRetryAt *time.Time      `json:"nextRetryAt,omitempty"`
	SyncedAt    *time.Time      `json:"syncedAt,omitempty"`
	Error       string          `json:"error,omitempty"`
}

func (q *SyncQueueItem) RecordKey() string { return q.ID }
func (SyncQueueItem) TableName() string    { return "sync_queue" }

// RecordRef is the by-record index value of an item.
func (q *SyncQueueItem) RecordRef() string {
	return RecordRef(q.Type, q.RecordID)
}

// RecordRef joins a kind and record id into one index key.
func RecordRef(kind Kind, id string) string {
	return string(kind) + ":" + id
}

// Payload decodes the item's data into its typed payload.
func (q *SyncQueueItem) Payload() (Payload, error) {
	return DecodePayload(q.Type, q.Action, q.Data)
}

// Due reports whether a pending item may be attempted at now.
func (q *SyncQueueItem) Due(now time.Time) bool {
	return q.NextRetryAt == nil || !now.Before(*q.NextRetryAt)
}

// Exhausted reports whether the retry budget is spent.
func (q *SyncQueueItem) Exhausted() bool {
	return q.RetryCount > q.MaxRetries
}
