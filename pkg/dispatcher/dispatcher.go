// Package dispatcher runs inbound livequery frames through parse, resolve, validate and execute,
// and produces exactly one response per request.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/morezero/livequery/pkg/protocol"
	"github.com/morezero/livequery/pkg/registry"
	"github.com/morezero/livequery/pkg/validation"
)

const logPrefix = "dispatcher:dispatch"

// Dispatcher routes inbound messages to registered handlers.
type Dispatcher struct {
	registry  *registry.Registry
	store     any
	scheduler registry.Scheduler
}

// NewDispatcherParams holds the dependencies for NewDispatcher.
type NewDispatcherParams struct {
	Registry *registry.Registry
	// Store is handed to every handler through registry.Context.
	Store any
	// Scheduler is handed to every handler for invalidation. May be nil.
	Scheduler registry.Scheduler
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(params NewDispatcherParams) *Dispatcher {
	return &Dispatcher{
		registry:  params.Registry,
		store:     params.Store,
		scheduler: params.Scheduler,
	}
}

// Dispatch handles one raw frame received on connection connID and returns the message to send
// back to that connection. It never returns nil.
func (d *Dispatcher) Dispatch(ctx context.Context, connID string, raw []byte) *protocol.Message {
	return d.dispatch(ctx, connID, raw, d.scheduler)
}

// Serve handles one raw frame like Dispatch, hands the response to send, and only then runs the
// invalidations the handler requested, so the caller sees its own result before any REQUERY.
func (d *Dispatcher) Serve(ctx context.Context, connID string, raw []byte, send func(*protocol.Message) error) error {
	batch := &invalidationBatch{}
	resp := d.dispatch(ctx, connID, raw, batch)
	err := send(resp)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - conn=%s failed to send response id=%s: %v", logPrefix, connID, resp.ID, err))
	}
	if d.scheduler != nil {
		for _, ref := range batch.refs {
			d.scheduler.Invalidate(ctx, ref)
		}
	}
	return err
}

func (d *Dispatcher) dispatch(ctx context.Context, connID string, raw []byte, sched registry.Scheduler) *protocol.Message {
	msg, err := protocol.Decode(raw)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - conn=%s protocol error: %v", logPrefix, connID, err))
		id := ""
		if msg != nil {
			id = msg.ID
		}
		return protocol.NewError(id, CodeProtocolError, fmt.Sprintf("Invalid message: %v", err))
	}
	if !msg.IsRequest() {
		slog.Warn(fmt.Sprintf("%s - conn=%s unexpected %s from client", logPrefix, connID, msg.Type))
		return protocol.NewError(msg.ID, CodeProtocolError,
			fmt.Sprintf("Invalid message: %s is not a request", msg.Type))
	}
	return d.DispatchMessage(ctx, connID, msg, sched)
}

// DispatchMessage handles an already-decoded Query or Mutation. Handlers invalidate through sched.
func (d *Dispatcher) DispatchMessage(ctx context.Context, connID string, msg *protocol.Message, sched registry.Scheduler) *protocol.Message {
	want := kindOf(msg.Type)
	key := msg.Key()
	slog.Debug(fmt.Sprintf("%s - conn=%s %s key=%s id=%s", logPrefix, connID, want, key, msg.ID))

	def, ok := d.registry.ResolveByKey(key)
	if !ok {
		slog.Warn(fmt.Sprintf("%s - conn=%s unknown %s key=%s", logPrefix, connID, want, key))
		return protocol.NewError(msg.ID, CodeUnknownKey, fmt.Sprintf("Unknown %s: %s", want, key))
	}
	if def.Kind() != want {
		slog.Warn(fmt.Sprintf("%s - conn=%s key=%s is a %s, called as %s", logPrefix, connID, key, def.Kind(), want))
		return protocol.NewError(msg.ID, CodeKindMismatch,
			fmt.Sprintf("%s is a %s, not a %s", key, def.Kind(), want))
	}

	args, err := validation.Validate(def, msg.Payload())
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - conn=%s %s key=%s validation failed: %v", logPrefix, connID, want, key, err))
		return validationResponse(msg.ID, err)
	}

	hc := &registry.Context{Store: d.store, Scheduler: sched, ConnectionID: connID}
	result, err := execute(ctx, def, hc, args)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - conn=%s %s key=%s failed: %v", logPrefix, connID, want, key, err))
		var vErr *validation.Error
		if errors.As(err, &vErr) {
			return validationResponse(msg.ID, vErr)
		}
		return protocol.NewError(msg.ID, CodeExecutionError,
			fmt.Sprintf("Error executing %s %s: %v", want, key, err))
	}

	data, err := json.Marshal(result)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - conn=%s %s key=%s result not serializable: %v", logPrefix, connID, want, key, err))
		return protocol.NewError(msg.ID, CodeExecutionError,
			fmt.Sprintf("Error executing %s %s: result is not serializable", want, key))
	}

	queryKey := ""
	if want == registry.KindQuery {
		queryKey = key
	}
	return protocol.NewDataUpdate(msg.ID, queryKey, data)
}

// execute runs the handler, converting a panic into an error.
func execute(ctx context.Context, def *registry.Definition, hc *registry.Context, args any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return def.Execute(ctx, hc, args)
}

func validationResponse(id string, err error) *protocol.Message {
	var vErr *validation.Error
	if !errors.As(err, &vErr) {
		return protocol.NewError(id, CodeValidationFailed, err.Error())
	}
	resp := protocol.NewError(id, CodeValidationFailed, vErr.Message)
	resp.Fields = vErr.Fields
	return resp
}

func kindOf(t protocol.Type) registry.Kind {
	if t == protocol.TypeMutation {
		return registry.KindMutation
	}
	return registry.KindQuery
}

// invalidationBatch defers invalidations until after the response is sent. Repeats collapse.
type invalidationBatch struct {
	mu   sync.Mutex
	refs []*registry.Definition
}

func (b *invalidationBatch) Invalidate(_ context.Context, query *registry.Definition) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.refs {
		if r == query {
			return
		}
	}
	b.refs = append(b.refs, query)
}
