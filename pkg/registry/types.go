// Package registry indexes the query and mutation handlers served over livequery connections.
package registry

import (
	"context"
	"errors"
)

// Kind identifies whether a handler reads (query) or writes (mutation).
type Kind string

const (
	KindQuery    Kind = "query"
	KindMutation Kind = "mutation"
)

// Valid reports whether k is a known handler kind.
func (k Kind) Valid() bool {
	return k == KindQuery || k == KindMutation
}

// Scheduler lets mutation handlers signal that a query's results may be stale.
// The query is passed by reference, never by key.
type Scheduler interface {
	Invalidate(ctx context.Context, query *Definition)
}

// Context is handed to every handler execution.
type Context struct {
	// Store is the data-store handle. Handlers assert it to the interface they need.
	Store any
	// Scheduler triggers invalidation broadcasts.
	Scheduler Scheduler
	// ConnectionID identifies the connection the call arrived on.
	ConnectionID string
}

// Invalidate is a convenience for hc.Scheduler.Invalidate that tolerates a nil scheduler.
func (hc *Context) Invalidate(ctx context.Context, query *Definition) {
	if hc == nil || hc.Scheduler == nil {
		return
	}
	hc.Scheduler.Invalidate(ctx, query)
}

var (
	// ErrDuplicateKey is returned when two exports resolve to the same fully-qualified key.
	ErrDuplicateKey = errors.New("duplicate handler key")
	// ErrDuplicateDefinition is returned when one definition is exported under two keys.
	ErrDuplicateDefinition = errors.New("handler definition registered twice")
	// ErrInvalidDefinition is returned for nil definitions, unknown kinds or missing execute functions.
	ErrInvalidDefinition = errors.New("invalid handler definition")
	// ErrSealed is returned when registering after the registry has been sealed.
	ErrSealed = errors.New("registry is sealed")
)
