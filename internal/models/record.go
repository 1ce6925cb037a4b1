// Package models provides the record types stored by edusync and the
// payload union carried by sync queue items.
package models

import "time"

// Record is anything stored in a collection, keyed by RecordKey.
type Record interface {
	RecordKey() string
}

// Kind names a sync-relevant entity kind.
type Kind string

const (
	KindStudent          Kind = "student"
	KindClass            Kind = "class"
	KindAttendance       Kind = "attendance"
	KindScore            Kind = "score"
	KindAssignment       Kind = "assignment"
	KindSubmission       Kind = "submission"
	KindLessonAttendance Kind = "lesson_attendance"
	KindProgress         Kind = "progress"
)

// Kinds lists every sync-relevant kind.
var Kinds = []Kind{
	KindStudent, KindClass, KindAttendance, KindScore,
	KindAssignment, KindSubmission, KindLessonAttendance, KindProgress,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// RemoteCollection is the collection name used on the remote store.
func (k Kind) RemoteCollection() string {
	switch k {
	case KindStudent:
		return "students"
	case KindClass:
		return "classes"
	case KindScore:
		return "scores"
	case KindAssignment:
		return "assignments"
	case KindSubmission:
		return "submissions"
	default:
		return string(k)
	}
}

// Action is the mutation a queue item propagates.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

// Queue priorities. Lower numbers drain first.
const (
	PriorityUrgent = 1
	PriorityNormal = 5
)

// Policy is the default queueing policy for a kind.
type Policy struct {
	Priority   int
	MaxRetries int
}

// DefaultPolicy returns the priority and retry budget items of kind k get
// unless the caller overrides them.
func DefaultPolicy(k Kind) Policy {
	switch k {
	case KindStudent, KindClass:
		return Policy{Priority: PriorityNormal, MaxRetries: 3}
	default:
		return Policy{Priority: PriorityUrgent, MaxRetries: 5}
	}
}

// Meta carries the bookkeeping every sync-relevant record shares.
type Meta struct {
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int       `json:"version"`
	Synced    bool      `json:"synced"`
}

// SyncMeta exposes the embedded bookkeeping.
func (m *Meta) SyncMeta() *Meta { return m }

// Stamp prepares m for a local write that supersedes prior (nil for a new
// record): the version moves past both, updatedAt never goes backwards, and
// the record becomes unsynced.
func (m *Meta) Stamp(now time.Time, prior *Meta) {
	version := m.Version
	if prior != nil {
		if prior.Version > version {
			version = prior.Version
		}
		if !prior.CreatedAt.IsZero() {
			m.CreatedAt = prior.CreatedAt
		}
		if now.Before(prior.UpdatedAt) {
			now = prior.UpdatedAt
		}
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	m.Version = version + 1
	m.Synced = false
}

// Syncable is a record that propagates to the remote store.
type Syncable interface {
	Payload
	SyncMeta() *Meta
}
