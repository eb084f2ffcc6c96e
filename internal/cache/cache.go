package cache

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"ChatLens/internal/session"
)

// CachedResponse represents a cached model reply
type CachedResponse struct {
	Response  string
	Timestamp time.Time
}

// Cache is an in-memory reply cache keyed on the full conversation
// history, so an identical conversation prefix replays the same reply
// without a backend round trip.
type Cache struct {
	entries sync.Map
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{}
}

// Key generates a cache key from messages
func Key(messages []session.Message) string {
	h := sha256.New()
	for _, msg := range messages {
		h.Write([]byte(msg.Role))
		h.Write([]byte(msg.Content))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Get returns the cached reply for the given history, if any.
func (c *Cache) Get(messages []session.Message) (string, bool) {
	if val, ok := c.entries.Load(Key(messages)); ok {
		return val.(CachedResponse).Response, true
	}
	return "", false
}

// Put stores a reply for the given history.
func (c *Cache) Put(messages []session.Message, response string) {
	c.entries.Store(Key(messages), CachedResponse{
		Response:  response,
		Timestamp: time.Now(),
	})
}
