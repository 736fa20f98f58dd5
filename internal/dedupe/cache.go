// ABOUTME: TTL-bounded seen-set for suppressing repeated routing commands
// ABOUTME: Retried escalate/assign/resolve requests are absorbed instead of re-run

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Cache remembers recently processed command ids so a retried routing
// command (an escalation trigger sent twice, a double-clicked assign) is
// absorbed instead of executed again. Entries expire after a TTL and the
// cache is size-bounded, evicting the oldest id first.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // oldest id at the front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

type entry struct {
	seenAt  time.Time
	element *list.Element
}

// New creates a command cache. A background goroutine sweeps expired ids.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Seen atomically records the command id and reports whether it was already
// present and unexpired. The first caller for an id gets false and should
// process the command; every retry within the TTL gets true.
func (c *Cache) Seen(commandID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if e, ok := c.entries[commandID]; ok && now.Sub(e.seenAt) < c.ttl {
		return true
	}
	c.record(commandID, now)
	return false
}

// record inserts or refreshes an id. Caller holds mu.
func (c *Cache) record(commandID string, now time.Time) {
	if e, ok := c.entries[commandID]; ok {
		e.seenAt = now
		c.order.MoveToBack(e.element)
		return
	}
	if len(c.entries) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			c.order.Remove(front)
			delete(c.entries, front.Value.(string))
		}
	}
	c.entries[commandID] = &entry{
		seenAt:  now,
		element: c.order.PushBack(commandID),
	}
}

// Len reports the number of tracked ids, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.dropExpired()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) dropExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for e := c.order.Front(); e != nil; {
		next := e.Next()
		id := e.Value.(string)
		if now.Sub(c.entries[id].seenAt) > c.ttl {
			c.order.Remove(e)
			delete(c.entries, id)
		}
		e = next
	}
}

// Close stops the background sweeper. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
