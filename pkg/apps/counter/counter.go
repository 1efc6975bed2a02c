// Package counter exposes a single shared counter as livequery handlers.
package counter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/livequery/pkg/db"
	"github.com/morezero/livequery/pkg/registry"
)

const logPrefix = "apps:counter"

// Prefix namespaces every key exported by this module.
const Prefix = "counter:"

// Store is the data-store surface the counter handlers need.
type Store interface {
	GetCounter(ctx context.Context, name string) (int64, error)
	AddToCounter(ctx context.Context, name string, delta int64) (int64, error)
}

// Value is the result shape shared by every counter handler.
type Value struct {
	Value int64 `json:"value"`
}

// AddArgs are the arguments of addToCounter.
type AddArgs struct {
	Amount int64 `json:"amount" default:"1" validate:"gte=1"`
}

var (
	// GetCounter returns the current counter value.
	GetCounter = registry.QueryNoArgs(func(ctx context.Context, hc *registry.Context) (Value, error) {
		store, err := storeFrom(hc)
		if err != nil {
			return Value{}, err
		}
		v, err := store.GetCounter(ctx, db.DefaultCounter)
		if err != nil {
			return Value{}, err
		}
		return Value{Value: v}, nil
	})

	// IncrementCounter adds one and invalidates GetCounter.
	IncrementCounter = registry.MutationNoArgs(func(ctx context.Context, hc *registry.Context) (Value, error) {
		return add(ctx, hc, 1)
	})

	// AddToCounter adds args.Amount and invalidates GetCounter.
	AddToCounter = registry.Mutation(func(ctx context.Context, hc *registry.Context, args AddArgs) (Value, error) {
		return add(ctx, hc, args.Amount)
	})
)

// Module returns the counter handlers under the "counter:" prefix.
func Module() registry.Module {
	return registry.Module{
		Prefix: Prefix,
		Exports: map[string]*registry.Definition{
			"getCounter":       GetCounter,
			"incrementCounter": IncrementCounter,
			"addToCounter":     AddToCounter,
		},
	}
}

func add(ctx context.Context, hc *registry.Context, delta int64) (Value, error) {
	store, err := storeFrom(hc)
	if err != nil {
		return Value{}, err
	}
	v, err := store.AddToCounter(ctx, db.DefaultCounter, delta)
	if err != nil {
		return Value{}, err
	}
	slog.Debug(fmt.Sprintf("%s - counter now %d (conn=%s)", logPrefix, v, hc.ConnectionID))
	hc.Invalidate(ctx, GetCounter)
	return Value{Value: v}, nil
}

func storeFrom(hc *registry.Context) (Store, error) {
	if hc == nil {
		return nil, fmt.Errorf("%s - no handler context", logPrefix)
	}
	store, ok := hc.Store.(Store)
	if !ok {
		return nil, fmt.Errorf("%s - data store %T does not support counters", logPrefix, hc.Store)
	}
	return store, nil
}
