// Package remote defines the contract between the sync engine and the remote
// store that durably keeps records server-side, plus an in-memory store and
// fault injection for tests and local runs.
package remote

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// Store is the remote side of synchronization. Upsert must treat a repeated
// id as an overwrite so retransmitting a record is harmless.
type Store interface {
	// Upsert stores body as the record id of collection.
	Upsert(ctx context.Context, collection, id string, body json.RawMessage) error

	// Delete removes the record id of collection. Deleting an absent record
	// succeeds.
	Delete(ctx context.Context, collection, id string) error

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}

// Error is a failed remote call.
type Error struct {
	Op         string
	Collection string
	ID         string
	// Status is the transport status code when one exists (HTTP status).
	Status int
	// Temporary errors are worth retrying; the rest are rejections.
	Temporary bool
	Err       error
}

func (e *Error) Error() string {
	kind := "rejected"
	if e.Temporary {
		kind = "temporary failure"
	}
	msg := fmt.Sprintf("remote %s %s/%s: %s", e.Op, e.Collection, e.ID, kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Transient builds a retryable failure.
func Transient(op, collection, id string, err error) *Error {
	return &Error{Op: op, Collection: collection, ID: id, Temporary: true, Err: err}
}

// Rejected builds a permanent failure.
func Rejected(op, collection, id string, status int, err error) *Error {
	return &Error{Op: op, Collection: collection, ID: id, Status: status, Err: err}
}

// IsRejected reports whether err is a permanent remote failure. Unknown
// errors are treated as temporary.
func IsRejected(err error) bool {
	var re *Error
	return stderrors.As(err, &re) && !re.Temporary
}

// IsTemporary reports whether err is worth retrying.
func IsTemporary(err error) bool {
	return err != nil && !IsRejected(err)
}

// StatusError classifies an HTTP-like status: 5xx, 408 and 429 are
// temporary, other 4xx are rejections.
func StatusError(op, collection, id string, status int, err error) *Error {
	e := &Error{Op: op, Collection: collection, ID: id, Status: status, Err: err}
	e.Temporary = status >= 500 || status == 408 || status == 429
	return e
}
