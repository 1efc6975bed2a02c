package registry

import (
	"context"
	"fmt"
	"reflect"
)

// ExecuteFunc is the untyped handler entry point. args is nil for handlers without an argument
// schema, otherwise a pointer to a validated value of the declared argument type.
type ExecuteFunc func(ctx context.Context, hc *Context, args any) (any, error)

// Definition is a single query or mutation. Its pointer identity is the handler's reference:
// mutations pass it to Scheduler.Invalidate and the registry maps it back to its key.
type Definition struct {
	kind     Kind
	argsType reflect.Type
	execute  ExecuteFunc
}

// NewDefinition builds a definition from an untyped execute function. argsType is the declared
// argument schema, or nil when the handler accepts no arguments.
func NewDefinition(kind Kind, argsType reflect.Type, execute ExecuteFunc) *Definition {
	return &Definition{kind: kind, argsType: argsType, execute: execute}
}

// Kind returns the handler kind.
func (d *Definition) Kind() Kind { return d.kind }

// ArgsType returns the declared argument type, or nil if the handler takes no arguments.
func (d *Definition) ArgsType() reflect.Type { return d.argsType }

// HasArgs reports whether the handler declares an argument schema.
func (d *Definition) HasArgs() bool { return d.argsType != nil }

// NewArgs allocates a zero value of the argument type and returns a pointer to it.
func (d *Definition) NewArgs() any {
	if d.argsType == nil {
		return nil
	}
	return reflect.New(d.argsType).Interface()
}

// Execute runs the handler.
func (d *Definition) Execute(ctx context.Context, hc *Context, args any) (any, error) {
	return d.execute(ctx, hc, args)
}

func (d *Definition) check() error {
	if d == nil {
		return fmt.Errorf("%w: nil definition", ErrInvalidDefinition)
	}
	if !d.kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidDefinition, d.kind)
	}
	if d.execute == nil {
		return fmt.Errorf("%w: missing execute function", ErrInvalidDefinition)
	}
	return nil
}

// Query declares a query whose arguments are decoded and validated into A.
func Query[A, R any](fn func(ctx context.Context, hc *Context, args A) (R, error)) *Definition {
	return typed(KindQuery, fn)
}

// QueryNoArgs declares a query that accepts no arguments.
func QueryNoArgs[R any](fn func(ctx context.Context, hc *Context) (R, error)) *Definition {
	return untyped(KindQuery, fn)
}

// Mutation declares a mutation whose arguments are decoded and validated into A.
func Mutation[A, R any](fn func(ctx context.Context, hc *Context, args A) (R, error)) *Definition {
	return typed(KindMutation, fn)
}

// MutationNoArgs declares a mutation that accepts no arguments.
func MutationNoArgs[R any](fn func(ctx context.Context, hc *Context) (R, error)) *Definition {
	return untyped(KindMutation, fn)
}

func typed[A, R any](kind Kind, fn func(context.Context, *Context, A) (R, error)) *Definition {
	argsType := reflect.TypeFor[A]()
	return NewDefinition(kind, argsType, func(ctx context.Context, hc *Context, args any) (any, error) {
		var a A
		switch v := args.(type) {
		case *A:
			if v != nil {
				a = *v
			}
		case A:
			a = v
		case nil:
		default:
			return nil, fmt.Errorf("registry:definition - argument type %T, want %s", args, argsType)
		}
		return fn(ctx, hc, a)
	})
}

func untyped[R any](kind Kind, fn func(context.Context, *Context) (R, error)) *Definition {
	return NewDefinition(kind, nil, func(ctx context.Context, hc *Context, _ any) (any, error) {
		return fn(ctx, hc)
	})
}
