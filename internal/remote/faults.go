package remote

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"math/rand"
	"sync"
)

// ErrInjected is the cause of every injected fault.
var ErrInjected = stderrors.New("injected fault")

// Injector decides whether a call fails. It returns nil to let the call
// through. Ping is never subject to injection.
type Injector func(op, collection, id string) error

// WithFaults wraps s so every Upsert and Delete first consults inject.
func WithFaults(s Store, inject Injector) Store {
	if inject == nil {
		return s
	}
	return &faultyStore{Store: s, inject: inject}
}

type faultyStore struct {
	Store
	inject Injector
}

func (f *faultyStore) Upsert(ctx context.Context, collection, id string, body json.RawMessage) error {
	if err := f.inject("upsert", collection, id); err != nil {
		return err
	}
	return f.Store.Upsert(ctx, collection, id, body)
}

func (f *faultyStore) Delete(ctx context.Context, collection, id string) error {
	if err := f.inject("delete", collection, id); err != nil {
		return err
	}
	return f.Store.Delete(ctx, collection, id)
}

// RandomFaults fails each call with probability rate as a temporary error.
func RandomFaults(rate float64, seed int64) Injector {
	if rate <= 0 {
		return nil
	}
	var mu sync.Mutex
	rng := rand.New(rand.NewSource(seed))
	return func(op, collection, id string) error {
		mu.Lock()
		fail := rng.Float64() < rate
		mu.Unlock()
		if fail {
			return Transient(op, collection, id, ErrInjected)
		}
		return nil
	}
}

// FailNTimes fails the first n calls as temporary errors, then lets every
// call through.
func FailNTimes(n int) Injector {
	var mu sync.Mutex
	return func(op, collection, id string) error {
		mu.Lock()
		defer mu.Unlock()
		if n <= 0 {
			return nil
		}
		n--
		return Transient(op, collection, id, ErrInjected)
	}
}

// FailAlways fails every call, as a rejection when rejected is set.
func FailAlways(rejected bool) Injector {
	return func(op, collection, id string) error {
		if rejected {
			return Rejected(op, collection, id, 400, ErrInjected)
		}
		return Transient(op, collection, id, ErrInjected)
	}
}
