package models

import (
	"encoding/json"
	"fmt"
)

// Payload is the closed set of values a queue item can carry: one variant
// per Kind plus Tombstone for deletes.
type Payload interface {
	Record
	PayloadKind() Kind
	isPayload()
}

// Tombstone is the payload of a delete.
type Tombstone struct {
	Kind Kind   `json:"type"`
	ID   string `json:"id"`
}

func (t *Tombstone) RecordKey() string { return t.ID }
func (t *Tombstone) PayloadKind() Kind { return t.Kind }
func (*Tombstone) isPayload()          {}

func (*Student) isPayload()          {}
func (*Class) isPayload()            {}
func (*Attendance) isPayload()       {}
func (*Score) isPayload()            {}
func (*Assignment) isPayload()       {}
func (*Submission) isPayload()       {}
func (*LessonAttendance) isPayload() {}
func (*Progress) isPayload()         {}

// EncodePayload returns the wire body for p.
func EncodePayload(p Payload) (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.PayloadKind(), err)
	}
	return data, nil
}

// DecodePayload rebuilds the typed payload of a queue item.
func DecodePayload(kind Kind, action Action, data []byte) (Payload, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("unknown action %q", action)
	}
	if action == ActionDelete {
		t := &Tombstone{}
		if err := json.Unmarshal(data, t); err != nil {
			return nil, fmt.Errorf("decode %s tombstone: %w", kind, err)
		}
		t.Kind = kind
		return t, nil
	}

	var p Payload
	switch kind {
	case KindStudent:
		p = &Student{}
	case KindClass:
		p = &Class{}
	case KindAttendance:
		p = &Attendance{}
	case KindScore:
		p = &Score{}
	case KindAssignment:
		p = &Assignment{}
	case KindSubmission:
		p = &Submission{}
	case KindLessonAttendance:
		p = &LessonAttendance{}
	case KindProgress:
		p = &Progress{}
	default:
		return nil, fmt.Errorf("unknown payload kind %q", kind)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return p, nil
}
