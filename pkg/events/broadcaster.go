package events

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/morezero/livequery/pkg/protocol"
	"github.com/morezero/livequery/pkg/registry"
)

const logPrefix = "events:broadcaster"

// Sender is one open client connection as seen by the broadcaster.
type Sender interface {
	ID() string
	Send(ctx context.Context, data []byte) error
}

// KeyResolver maps a handler reference back to its key.
type KeyResolver interface {
	ResolveKeyByReference(def *registry.Definition) (string, bool)
}

// Broadcaster tracks the connections held by this process and multicasts REQUERY messages to
// all of them. It implements registry.Scheduler. Delivery is best effort: there is no queue,
// retry or durability, and connections that are closed at broadcast time miss the signal.
type Broadcaster struct {
	resolver   KeyResolver
	publisher  EventPublisher
	maxWorkers int

	mu      sync.RWMutex
	senders map[string]Sender
}

// NewBroadcasterParams holds parameters for NewBroadcaster.
type NewBroadcasterParams struct {
	Resolver  KeyResolver
	Publisher EventPublisher
	// MaxWorkers bounds concurrent sends per broadcast. Zero means GOMAXPROCS.
	MaxWorkers int
}

// NewBroadcaster creates a Broadcaster.
func NewBroadcaster(params NewBroadcasterParams) *Broadcaster {
	pub := params.Publisher
	if pub == nil {
		pub = &NoOpPublisher{}
	}
	workers := params.MaxWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Broadcaster{
		resolver:   params.Resolver,
		publisher:  pub,
		maxWorkers: workers,
		senders:    make(map[string]Sender),
	}
}

// Add starts tracking a connection.
func (b *Broadcaster) Add(s Sender) {
	b.mu.Lock()
	b.senders[s.ID()] = s
	n := len(b.senders)
	b.mu.Unlock()
	slog.Debug(fmt.Sprintf("%s - connection %s added (%d open)", logPrefix, s.ID(), n))
}

// Remove stops tracking a connection.
func (b *Broadcaster) Remove(id string) {
	b.mu.Lock()
	delete(b.senders, id)
	n := len(b.senders)
	b.mu.Unlock()
	slog.Debug(fmt.Sprintf("%s - connection %s removed (%d open)", logPrefix, id, n))
}

// Count returns the number of tracked connections.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.senders)
}

// Invalidate broadcasts a REQUERY for the given query reference to every open connection.
// Failures are logged and never returned: invalidation must not affect the mutation's result.
func (b *Broadcaster) Invalidate(ctx context.Context, query *registry.Definition) {
	if b.resolver == nil {
		slog.Error(fmt.Sprintf("%s - no key resolver configured, dropping invalidation", logPrefix))
		return
	}
	key, ok := b.resolver.ResolveKeyByReference(query)
	if !ok {
		slog.Error(fmt.Sprintf("%s - invalidate called with an unregistered handler reference", logPrefix))
		return
	}
	if query.Kind() != registry.KindQuery {
		slog.Error(fmt.Sprintf("%s - invalidate called with %s %s, only queries can be invalidated", logPrefix, query.Kind(), key))
		return
	}
	b.Broadcast(ctx, key)
}

// Broadcast sends a REQUERY for key to every open connection and returns the number of
// connections that received it.
func (b *Broadcaster) Broadcast(ctx context.Context, key string) int {
	data, err := protocol.Encode(protocol.NewRequery(key))
	if err != nil {
		slog.Error(fmt.Sprintf("%s - %v", logPrefix, err))
		return 0
	}

	b.mu.RLock()
	targets := make([]Sender, 0, len(b.senders))
	for _, s := range b.senders {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	var failed atomic.Int64
	if len(targets) > 0 {
		p := pool.New().WithMaxGoroutines(min(b.maxWorkers, len(targets)))
		for _, s := range targets {
			p.Go(func() {
				defer func() {
					if r := recover(); r != nil {
						failed.Add(1)
						slog.Error(fmt.Sprintf("%s - send to %s panicked: %v", logPrefix, s.ID(), r))
					}
				}()
				if err := s.Send(ctx, data); err != nil {
					failed.Add(1)
					slog.Warn(fmt.Sprintf("%s - requery %s to %s failed: %v", logPrefix, key, s.ID(), err))
				}
			})
		}
		p.Wait()
	}

	delivered := len(targets) - int(failed.Load())
	slog.Debug(fmt.Sprintf("%s - requery %s delivered to %d/%d connections", logPrefix, key, delivered, len(targets)))

	event := &InvalidatedEvent{
		QueryKey:   key,
		Recipients: delivered,
		Failed:     int(failed.Load()),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	if err := b.publisher.PublishInvalidated(ctx, event); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish invalidation event for %s: %v", logPrefix, key, err))
	}
	return delivered
}
