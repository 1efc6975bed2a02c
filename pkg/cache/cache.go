package cache

import (
	"fmt"
	"slices"
	"sync"

	json "github.com/goccy/go-json"
)

const logPrefix = "cache:cache"

// LocalStore is the synchronous view of the cache handed to optimistic-update functions.
type LocalStore interface {
	GetQuery(callKey string, params any) (json.RawMessage, bool)
	SetQuery(callKey string, params any, value any) error
}

// Cache maps cache keys to the last known result. Entries never expire.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]json.RawMessage
	subs    map[string]map[uint64]func(json.RawMessage)
	nextSub uint64
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]json.RawMessage),
		subs:    make(map[string]map[uint64]func(json.RawMessage)),
	}
}

// Get returns the entry for key.
func (c *Cache) Get(key string) (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Set stores value under key and notifies every subscriber of that key before returning.
// Callbacks run outside the lock and may read or write the cache.
func (c *Cache) Set(key string, value json.RawMessage) {
	c.mu.Lock()
	c.entries[key] = value
	subs := make([]func(json.RawMessage), 0, len(c.subs[key]))
	ids := make([]uint64, 0, len(c.subs[key]))
	for id := range c.subs[key] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		subs = append(subs, c.subs[key][id])
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(value)
	}
}

// Subscribe registers fn for updates to key. The returned function unsubscribes and is safe to
// call more than once.
func (c *Cache) Subscribe(key string, fn func(json.RawMessage)) (unsubscribe func()) {
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	if c.subs[key] == nil {
		c.subs[key] = make(map[uint64]func(json.RawMessage))
	}
	c.subs[key][id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs[key], id)
			if len(c.subs[key]) == 0 {
				delete(c.subs, key)
			}
		})
	}
}

// GetQuery reads the entry for a call.
func (c *Cache) GetQuery(callKey string, params any) (json.RawMessage, bool) {
	key, err := Key(callKey, params)
	if err != nil {
		return nil, false
	}
	return c.Get(key)
}

// SetQuery writes value as the entry for a call.
func (c *Cache) SetQuery(callKey string, params any, value any) error {
	key, err := Key(callKey, params)
	if err != nil {
		return err
	}
	raw, ok := value.(json.RawMessage)
	if !ok {
		raw, err = json.Marshal(value)
		if err != nil {
			return fmt.Errorf("%s - failed to encode value for %s: %w", logPrefix, callKey, err)
		}
	}
	c.Set(key, raw)
	return nil
}
