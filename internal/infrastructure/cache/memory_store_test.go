package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetAndGet(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))

	got, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), got)
}

func TestMemoryStore_Expiration(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 50*time.Millisecond))
	time.Sleep(80 * time.Millisecond)

	got, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
}

func TestMemoryStore_CleanupRemovesExpired(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "old", []byte("v"), -time.Second))
	require.NoError(t, s.Set(ctx, "new", []byte("v"), time.Minute))
	s.cleanup()

	s.mu.RLock()
	defer s.mu.RUnlock()
	assert.NotContains(t, s.entries, "old")
	assert.Contains(t, s.entries, "new")
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()
	ctx := context.Background()

	value := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", value, time.Minute))
	value[0] = 'z'

	got, _, _ := s.Get(ctx, "k")
	assert.Equal(t, []byte("abc"), got)
}
