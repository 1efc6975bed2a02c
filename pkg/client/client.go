package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/morezero/livequery/pkg/cache"
	"github.com/morezero/livequery/pkg/protocol"
)

const logPrefix = "client:client"

// OptimisticUpdate runs synchronously before a mutation is sent. It may return an undo function,
// which is invoked if the mutation is rejected or cannot be sent.
type OptimisticUpdate func(store cache.LocalStore, args any) (undo func())

// MutateOption configures a mutation call.
type MutateOption func(*mutateConfig)

type mutateConfig struct {
	optimistic OptimisticUpdate
}

// WithOptimisticUpdate attaches an optimistic cache write to a mutation.
func WithOptimisticUpdate(fn OptimisticUpdate) MutateOption {
	return func(c *mutateConfig) { c.optimistic = fn }
}

type pendingRequest struct {
	kind     protocol.Type
	key      string
	cacheKey string
	call     *Call
	// owner is the subscription that issued the request, if any.
	owner *QuerySubscription
}

// Client correlates requests with responses over a Connection and keeps the query cache current.
type Client struct {
	conn  *Connection
	cache *cache.Cache

	mu         sync.Mutex
	pending    map[string]*pendingRequest
	watches    map[*QuerySubscription]struct{}
	lastStatus Status

	unsubMessages func()
	unsubStatus   func()
}

// New creates a Client on conn. If c is nil a fresh cache is created.
func New(conn *Connection, c *cache.Cache) *Client {
	if c == nil {
		c = cache.New()
	}
	cl := &Client{
		conn:    conn,
		cache:   c,
		pending: make(map[string]*pendingRequest),
		watches: make(map[*QuerySubscription]struct{}),
	}
	cl.unsubMessages = conn.SubscribeToMessages(cl.handleMessage)
	cl.unsubStatus = conn.SubscribeToStatus(cl.handleStatus)
	return cl
}

// Dial creates a Connection from opts, starts it and returns a Client on it.
func Dial(opts Options) *Client {
	conn := NewConnection(opts)
	cl := New(conn, nil)
	conn.Connect()
	return cl
}

// Connection returns the underlying connection.
func (c *Client) Connection() *Connection { return c.conn }

// Cache returns the query cache.
func (c *Client) Cache() *cache.Cache { return c.cache }

// Close detaches from the connection and closes it. Pending calls fail with ErrClosed.
func (c *Client) Close() error {
	c.unsubMessages()
	c.unsubStatus()
	c.failPending(ErrClosed)
	return c.conn.Close()
}

// QueryAsync sends a query. A successful result is also written to the cache.
func (c *Client) QueryAsync(ctx context.Context, key string, params any) *Call {
	return c.queryAsync(ctx, key, params, nil)
}

func (c *Client) queryAsync(ctx context.Context, key string, params any, owner *QuerySubscription) *Call {
	call := newCall()
	raw, cacheKey, err := encodeParams(key, params)
	if err != nil {
		call.resolve(nil, err)
		return call
	}
	id := uuid.NewString()
	c.send(ctx, protocol.NewQuery(id, key, raw), &pendingRequest{
		kind: protocol.TypeQuery, key: key, cacheKey: cacheKey, call: call, owner: owner,
	})
	return call
}

// Query sends a query and waits for its result.
func (c *Client) Query(ctx context.Context, key string, params any) (json.RawMessage, error) {
	return c.QueryAsync(ctx, key, params).Wait(ctx)
}

// MutateAsync sends a mutation. An attached optimistic update has already been applied to the
// cache when MutateAsync returns.
func (c *Client) MutateAsync(ctx context.Context, key string, args any, opts ...MutateOption) *Call {
	var cfg mutateConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	call := newCall()
	raw, _, err := encodeParams(key, args)
	if err != nil {
		call.resolve(nil, err)
		return call
	}

	if cfg.optimistic != nil {
		if undo := cfg.optimistic(c.cache, args); undo != nil {
			call.onFail = func() {
				slog.Debug(fmt.Sprintf("%s - rolling back optimistic update for %s", logPrefix, key))
				undo()
			}
		}
	}

	c.send(ctx, protocol.NewMutation(uuid.NewString(), key, raw), &pendingRequest{
		kind: protocol.TypeMutation, key: key, call: call,
	})
	return call
}

// Mutate sends a mutation and waits for its result.
func (c *Client) Mutate(ctx context.Context, key string, args any, opts ...MutateOption) (json.RawMessage, error) {
	return c.MutateAsync(ctx, key, args, opts...).Wait(ctx)
}

func (c *Client) send(ctx context.Context, msg *protocol.Message, req *pendingRequest) {
	c.mu.Lock()
	c.pending[msg.ID] = req
	c.mu.Unlock()

	if err := c.conn.SendMessage(ctx, msg); err != nil {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		req.call.resolve(nil, err)
	}
}

func (c *Client) handleMessage(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeRequery:
		c.handleRequery(msg.QueryKey)
		return
	case protocol.TypeDataUpdate, protocol.TypeError:
	default:
		slog.Warn(fmt.Sprintf("%s - unexpected %s from server", logPrefix, msg.Type))
		return
	}

	if msg.ID == "" {
		if msg.Type == protocol.TypeError {
			slog.Warn(fmt.Sprintf("%s - server error: %s", logPrefix, msg.Message))
			return
		}
		c.applyUncorrelated(msg)
		return
	}

	c.mu.Lock()
	req, ok := c.pending[msg.ID]
	delete(c.pending, msg.ID)
	c.mu.Unlock()
	if !ok {
		slog.Debug(fmt.Sprintf("%s - no pending request for id=%s", logPrefix, msg.ID))
		return
	}

	if msg.Type == protocol.TypeError {
		req.call.resolve(nil, &CallError{Code: msg.Code, Message: msg.Message, Fields: msg.Fields})
		return
	}
	if req.kind == protocol.TypeQuery {
		c.cache.Set(req.cacheKey, msg.Data)
	}
	req.call.resolve(msg.Data, nil)
}

// applyUncorrelated writes a broadcast-style data update into every cache entry for its key that
// is watched or has a pending query.
func (c *Client) applyUncorrelated(msg *protocol.Message) {
	if msg.QueryKey == "" {
		return
	}
	c.mu.Lock()
	targets := make(map[string]struct{})
	for _, req := range c.pending {
		if req.kind == protocol.TypeQuery && req.key == msg.QueryKey {
			targets[req.cacheKey] = struct{}{}
		}
	}
	for w := range c.watches {
		if w.key == msg.QueryKey {
			targets[w.cacheKey] = struct{}{}
		}
	}
	c.mu.Unlock()

	for key := range targets {
		c.cache.Set(key, msg.Data)
	}
}

func (c *Client) handleRequery(queryKey string) {
	for _, w := range c.watchesFor(queryKey) {
		w.refetch()
	}
}

func (c *Client) handleStatus(s Status) {
	c.mu.Lock()
	prev := c.lastStatus
	c.lastStatus = s
	c.mu.Unlock()

	if s == StatusDisconnected || s == StatusFailed {
		c.failPending(ErrConnectionLost)
		return
	}
	if s == StatusConnected && prev != StatusConnected {
		for _, w := range c.watchesFor("") {
			w.refetch()
		}
	}
}

// dropPending forgets the requests issued by owner and fails them with err.
func (c *Client) dropPending(owner *QuerySubscription, err error) {
	c.mu.Lock()
	var dropped []*pendingRequest
	for id, req := range c.pending {
		if req.owner == owner {
			dropped = append(dropped, req)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	for _, req := range dropped {
		req.call.resolve(nil, err)
	}
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingRequest)
	c.mu.Unlock()

	for _, req := range pending {
		req.call.resolve(nil, err)
	}
}

// watchesFor returns the active subscriptions for queryKey, or all of them if queryKey is empty.
func (c *Client) watchesFor(queryKey string) []*QuerySubscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*QuerySubscription, 0, len(c.watches))
	for w := range c.watches {
		if queryKey == "" || w.key == queryKey {
			out = append(out, w)
		}
	}
	return out
}

func encodeParams(key string, params any) (json.RawMessage, string, error) {
	raw, err := cache.Canonical(params)
	if err != nil {
		return nil, "", err
	}
	cacheKey, err := cache.Key(key, raw)
	if err != nil {
		return nil, "", err
	}
	if string(raw) == "null" {
		raw = nil
	}
	return raw, cacheKey, nil
}
