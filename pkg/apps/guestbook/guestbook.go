// Package guestbook exposes a signed message list as livequery handlers.
package guestbook

import (
	"context"
	"fmt"

	"github.com/morezero/livequery/pkg/db"
	"github.com/morezero/livequery/pkg/registry"
)

const logPrefix = "apps:guestbook"

// Prefix namespaces every key exported by this module.
const Prefix = "guestbook:"

// Store is the data-store surface the guestbook handlers need.
type Store interface {
	ListGuestbookEntries(ctx context.Context, limit int) ([]db.GuestbookEntry, error)
	AddGuestbookEntry(ctx context.Context, name, message string) (*db.GuestbookEntry, error)
}

// ListArgs are the arguments of listEntries.
type ListArgs struct {
	Limit int `json:"limit" default:"20" validate:"min=1,max=100"`
}

// SignArgs are the arguments of sign.
type SignArgs struct {
	Name    string `json:"name" validate:"required,max=64"`
	Message string `json:"message" default:"hello" validate:"max=280"`
}

// Entries is the listEntries result.
type Entries struct {
	Entries []db.GuestbookEntry `json:"entries"`
}

var (
	// ListEntries returns the newest entries first.
	ListEntries = registry.Query(func(ctx context.Context, hc *registry.Context, args ListArgs) (Entries, error) {
		store, err := storeFrom(hc)
		if err != nil {
			return Entries{}, err
		}
		entries, err := store.ListGuestbookEntries(ctx, args.Limit)
		if err != nil {
			return Entries{}, err
		}
		return Entries{Entries: entries}, nil
	})

	// Sign appends an entry and invalidates ListEntries.
	Sign = registry.Mutation(func(ctx context.Context, hc *registry.Context, args SignArgs) (*db.GuestbookEntry, error) {
		store, err := storeFrom(hc)
		if err != nil {
			return nil, err
		}
		entry, err := store.AddGuestbookEntry(ctx, args.Name, args.Message)
		if err != nil {
			return nil, err
		}
		hc.Invalidate(ctx, ListEntries)
		return entry, nil
	})
)

// Module returns the guestbook handlers under the "guestbook:" prefix.
func Module() registry.Module {
	return registry.Module{
		Prefix: Prefix,
		Exports: map[string]*registry.Definition{
			"listEntries": ListEntries,
			"sign":        Sign,
		},
	}
}

func storeFrom(hc *registry.Context) (Store, error) {
	if hc == nil {
		return nil, fmt.Errorf("%s - no handler context", logPrefix)
	}
	store, ok := hc.Store.(Store)
	if !ok {
		return nil, fmt.Errorf("%s - data store %T does not support the guestbook", logPrefix, hc.Store)
	}
	return store, nil
}
