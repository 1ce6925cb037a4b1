package redisstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nabhalearn/edusync/internal/remote"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := New(Config{Addr: mr.Addr()})
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestStore_upsert(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	body := json.RawMessage(`{"id":"a1","status":"present"}`)
	require.NoError(t, s.Upsert(ctx, "attendance", "a1", body))
	require.NoError(t, s.Upsert(ctx, "attendance", "a1", body))

	assert.Equal(t, string(body), mr.HGet("edusync:attendance:a1", "body"))
	assert.Equal(t, "1700000000000", mr.HGet("edusync:attendance:a1", "updated_at"))

	members, err := mr.Members("edusync:attendance")
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, members)

	got, ok, err := s.Get(ctx, "attendance", "a1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, string(body), string(got))
}

func TestStore_delete(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "scores", "sc1", json.RawMessage(`{}`)))
	require.NoError(t, s.Upsert(ctx, "scores", "sc2", json.RawMessage(`{}`)))
	require.NoError(t, s.Delete(ctx, "scores", "sc1"))
	require.NoError(t, s.Delete(ctx, "scores", "missing"))

	assert.False(t, mr.Exists("edusync:scores:sc1"))
	ids, err := s.IDs(ctx, "scores")
	require.NoError(t, err)
	assert.Equal(t, []string{"sc2"}, ids)

	_, ok, err := s.Get(ctx, "scores", "sc1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_prefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewFromClient(client, "school42:")
	defer s.Close()

	require.NoError(t, s.Upsert(context.Background(), "students", "s1", json.RawMessage(`{}`)))
	assert.True(t, mr.Exists("school42:students:s1"))
	assert.True(t, mr.Exists("school42:students"))
}

func TestStore_unreachableIsTemporary(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	mr.Close()

	err := s.Upsert(ctx, "scores", "sc1", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.True(t, remote.IsTemporary(err))
	assert.Error(t, s.Ping(ctx))
}
