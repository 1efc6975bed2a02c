package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	json "github.com/goccy/go-json"
)

const watchLogPrefix = "client:watch"

// Update is delivered to a QuerySubscription's callback: either fresh data from the cache or the
// error of the latest fetch.
type Update struct {
	Data json.RawMessage
	Err  error
}

// QuerySubscription keeps one query live: it fetches on creation, on every Requery for its key
// and whenever the connection comes back.
type QuerySubscription struct {
	client   *Client
	key      string
	params   any
	cacheKey string
	onUpdate func(Update)

	mu     sync.Mutex
	closed bool
	unsub  func()
}

// Watch subscribes to a query. onUpdate is called with the cached value if one exists, then on
// every cache write for this call and on fetch errors. Callbacks run on the connection's read
// goroutine and must not block on other calls.
func (c *Client) Watch(key string, params any, onUpdate func(Update)) (*QuerySubscription, error) {
	_, cacheKey, err := encodeParams(key, params)
	if err != nil {
		return nil, err
	}

	w := &QuerySubscription{
		client:   c,
		key:      key,
		params:   params,
		cacheKey: cacheKey,
		onUpdate: onUpdate,
	}
	w.unsub = c.cache.Subscribe(cacheKey, func(data json.RawMessage) {
		w.emit(Update{Data: data})
	})

	c.mu.Lock()
	c.watches[w] = struct{}{}
	c.mu.Unlock()

	if data, ok := c.cache.Get(cacheKey); ok {
		w.emit(Update{Data: data})
	}
	if c.conn.Status() == StatusConnected {
		w.refetch()
	}
	return w, nil
}

// Key returns the watched query key.
func (w *QuerySubscription) Key() string { return w.key }

// Refetch re-issues the query.
func (w *QuerySubscription) Refetch() { w.refetch() }

// Close stops the subscription and drops its in-flight requests; their late responses are ignored.
func (w *QuerySubscription) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	w.unsub()
	w.client.mu.Lock()
	delete(w.client.watches, w)
	w.client.mu.Unlock()
	w.client.dropPending(w, ErrClosed)
}

func (w *QuerySubscription) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *QuerySubscription) emit(u Update) {
	if w.isClosed() || w.onUpdate == nil {
		return
	}
	w.onUpdate(u)
}

func (w *QuerySubscription) refetch() {
	if w.isClosed() {
		return
	}
	slog.Debug(fmt.Sprintf("%s - fetching %s", watchLogPrefix, w.key))
	call := w.client.queryAsync(context.Background(), w.key, w.params, w)
	go func() {
		<-call.Done()
		_, err := call.Wait(context.Background())
		if err == nil || errors.Is(err, ErrConnectionLost) || errors.Is(err, ErrNotConnected) || errors.Is(err, ErrClosed) {
			return
		}
		w.emit(Update{Err: err})
	}()
}
