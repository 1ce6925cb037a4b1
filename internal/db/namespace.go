package db

import (
	"encoding/json"
	"fmt"

	"github.com/nabhalearn/edusync/internal/models"
)

// Namespace is a versioned set of collections stored in one database file.
type Namespace struct {
	Name        string
	Version     int
	Collections []CollectionDef
}

// CollectionDef is the untyped description of a collection. Extract
// returns the index values of a stored body; it is used to backfill
// indexes added to a collection that already holds records.
type CollectionDef struct {
	Name    string
	KeyPath string
	Indexes []string
	Extract func(body []byte) (map[string]any, error)
}

func (ns Namespace) lookup(name string) (CollectionDef, bool) {
	for _, def := range ns.Collections {
		if def.Name == name {
			return def, true
		}
	}
	return CollectionDef{}, false
}

func (ns Namespace) validate() error {
	if ns.Name == "" {
		return fmt.Errorf("namespace name is required")
	}
	if ns.Version < 1 {
		return fmt.Errorf("namespace %s: version must be positive", ns.Name)
	}
	seen := make(map[string]bool)
	for _, def := range ns.Collections {
		if def.Name == "" {
			return fmt.Errorf("namespace %s: collection name is required", ns.Name)
		}
		if seen[def.Name] {
			return fmt.Errorf("namespace %s: duplicate collection %s", ns.Name, def.Name)
		}
		seen[def.Name] = true
	}
	return nil
}

// Index extracts one secondary index value from a record.
type Index[T models.Record] struct {
	Name    string
	Extract func(T) any
}

// Spec describes a typed collection.
type Spec[T models.Record] struct {
	Name    string
	KeyPath string
	Indexes []Index[T]
}

// Def returns the untyped description registered with a Namespace.
func (s Spec[T]) Def() CollectionDef {
	names := make([]string, len(s.Indexes))
	for i, idx := range s.Indexes {
		names[i] = idx.Name
	}
	keyPath := s.KeyPath
	if keyPath == "" {
		keyPath = "id"
	}
	return CollectionDef{
		Name:    s.Name,
		KeyPath: keyPath,
		Indexes: names,
		Extract: func(body []byte) (map[string]any, error) {
			var v T
			if err := json.Unmarshal(body, &v); err != nil {
				return nil, err
			}
			return s.extract(v), nil
		},
	}
}

func (s Spec[T]) extract(v T) map[string]any {
	out := make(map[string]any, len(s.Indexes))
	for _, idx := range s.Indexes {
		out[idx.Name] = idx.Extract(v)
	}
	return out
}
