// ABOUTME: Tests for the routing command dedupe cache
// ABOUTME: Covers first-seen semantics, TTL expiry, eviction, and concurrent access

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeen_FirstCallIsNew(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	assert.False(t, cache.Seen("cmd-1"))
	assert.True(t, cache.Seen("cmd-1"))
	assert.True(t, cache.Seen("cmd-1"))
}

func TestSeen_DistinctIDsAreIndependent(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	assert.False(t, cache.Seen("escalate:sess-1"))
	assert.False(t, cache.Seen("assign:sess-1"))
	assert.True(t, cache.Seen("escalate:sess-1"))
}

func TestSeen_ExpiredIDIsNewAgain(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	assert.False(t, cache.Seen("cmd-1"))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, cache.Seen("cmd-1"))
}

func TestSeen_EvictsOldestAtCapacity(t *testing.T) {
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	cache.Seen("cmd-1")
	cache.Seen("cmd-2")
	cache.Seen("cmd-3")
	cache.Seen("cmd-4") // evicts cmd-1

	assert.Equal(t, 3, cache.Len())
	assert.False(t, cache.Seen("cmd-1"), "oldest id should have been evicted")
	assert.True(t, cache.Seen("cmd-4"))
}

func TestSeen_RetryRefreshesOrder(t *testing.T) {
	cache := New(5*time.Minute, 2)
	defer cache.Close()

	cache.Seen("cmd-1")
	cache.Seen("cmd-2")
	cache.Seen("cmd-1") // refresh, cmd-2 is now oldest
	cache.Seen("cmd-3") // evicts cmd-2

	assert.True(t, cache.Seen("cmd-1"))
	assert.False(t, cache.Seen("cmd-2"))
}

func TestDropExpired(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	cache.Seen("cmd-1")
	cache.Seen("cmd-2")
	time.Sleep(20 * time.Millisecond)
	cache.dropExpired()

	assert.Equal(t, 0, cache.Len())
}

func TestClose_Idempotent(t *testing.T) {
	cache := New(5*time.Minute, 100)
	cache.Close()
	cache.Close()
}

func TestSeen_Concurrent(t *testing.T) {
	cache := New(5*time.Minute, 1000)
	defer cache.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				cache.Seen(fmt.Sprintf("cmd-%d-%d", n, j))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1000, cache.Len())
}
