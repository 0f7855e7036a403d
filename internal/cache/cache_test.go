package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemory_SetGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(ctx, 0)

	m.SetWithTTL(ctx, "k", "v", time.Minute)
	v, ok := m.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	_, ok = m.Get(ctx, "missing")
	assert.False(t, ok)
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(ctx, 0)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.SetWithTTL(ctx, "k", "v", time.Minute)
	_, ok := m.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(time.Minute + time.Second)
	_, ok = m.Get(ctx, "k")
	assert.False(t, ok)

	// Expired but not yet evicted.
	assert.Equal(t, 1, m.Len())
	m.Evict()
	assert.Equal(t, 0, m.Len())
}

func TestMemory_Delete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(ctx, 0)

	m.SetWithTTL(ctx, "k", "v", time.Minute)
	m.Delete(ctx, "k")
	_, ok := m.Get(ctx, "k")
	assert.False(t, ok)
}
