package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySetGet(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "mfa:challenge:abc", "user-1", time.Minute))

	got, err := c.Get(ctx, "mfa:challenge:abc")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got)

	_, err = c.Get(ctx, "no-existe")
	assert.True(t, IsNotFound(err))
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryGetDelIsSingleUse(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "reset:tok", "user-1", time.Minute))

	got, err := c.GetDel(ctx, "reset:tok")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got)

	_, err = c.GetDel(ctx, "reset:tok")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryGetDelConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "sso:state:xyz", "tenant-a", time.Minute))

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.GetDel(ctx, "sso:state:xyz"); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners, "un token de un solo uso se canjea exactamente una vez")
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "efimero", "v", 20*time.Millisecond))
	time.Sleep(50 * time.Millisecond)

	_, err := c.Get(ctx, "efimero")
	assert.ErrorIs(t, err, ErrNotFound)
}
