package registry

import (
	"context"
	"errors"
	"testing"
)

const registryTestPrefix = "registry:registry_test"

type nameArgs struct {
	Name string `json:"name" validate:"required"`
}

func newTestModule() (Module, *Definition, *Definition) {
	get := QueryNoArgs(func(context.Context, *Context) (int, error) { return 1, nil })
	inc := MutationNoArgs(func(context.Context, *Context) (int, error) { return 2, nil })
	return Module{
		Prefix: "counter:",
		Exports: map[string]*Definition{
			"getCounter":       get,
			"incrementCounter": inc,
		},
	}, get, inc
}

func TestRegister_ComputesPrefixedKeys(t *testing.T) {
	r := NewRegistry()
	m, get, inc := newTestModule()
	if err := r.Register(m); err != nil {
		t.Fatalf("%s - unexpected error: %v", registryTestPrefix, err)
	}

	if def, ok := r.ResolveByKey("counter:getCounter"); !ok || def != get {
		t.Errorf("%s - expected counter:getCounter to resolve to the query", registryTestPrefix)
	}
	if def, ok := r.ResolveByKey("counter:incrementCounter"); !ok || def != inc {
		t.Errorf("%s - expected counter:incrementCounter to resolve to the mutation", registryTestPrefix)
	}
	if _, ok := r.ResolveByKey("getCounter"); ok {
		t.Errorf("%s - unprefixed key should not resolve", registryTestPrefix)
	}

	keys := r.Keys()
	want := []string{"counter:getCounter", "counter:incrementCounter"}
	if len(keys) != len(want) {
		t.Fatalf("%s - Keys() = %v, want %v", registryTestPrefix, keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("%s - Keys()[%d] = %q, want %q", registryTestPrefix, i, keys[i], want[i])
		}
	}
}

func TestRegister_RoundTrip(t *testing.T) {
	r := NewRegistry()
	m, _, _ := newTestModule()
	r.MustRegister(m)

	for _, key := range r.Keys() {
		def, ok := r.ResolveByKey(key)
		if !ok {
			t.Fatalf("%s - %q did not resolve", registryTestPrefix, key)
		}
		got, ok := r.ResolveKeyByReference(def)
		if !ok || got != key {
			t.Errorf("%s - round trip of %q returned %q (ok=%v)", registryTestPrefix, key, got, ok)
		}
	}
}

func TestRegister_DuplicateKeyFailsWithoutPartialInsert(t *testing.T) {
	r := NewRegistry()
	m, _, _ := newTestModule()
	r.MustRegister(m)

	clash := Module{
		Prefix: "counter:",
		Exports: map[string]*Definition{
			"aNewQuery":  QueryNoArgs(func(context.Context, *Context) (int, error) { return 0, nil }),
			"getCounter": QueryNoArgs(func(context.Context, *Context) (int, error) { return 0, nil }),
		},
	}
	err := r.Register(clash)
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("%s - expected ErrDuplicateKey, got %v", registryTestPrefix, err)
	}
	if _, ok := r.ResolveByKey("counter:aNewQuery"); ok {
		t.Errorf("%s - failed registration must not insert any export", registryTestPrefix)
	}
	if r.Len() != 2 {
		t.Errorf("%s - Len() = %d, want 2", registryTestPrefix, r.Len())
	}
}

func TestRegister_PrefixCollisionAcrossModules(t *testing.T) {
	r := NewRegistry()
	def := QueryNoArgs(func(context.Context, *Context) (string, error) { return "", nil })
	other := QueryNoArgs(func(context.Context, *Context) (string, error) { return "", nil })

	r.MustRegister(Module{Prefix: "a:", Exports: map[string]*Definition{"b:c": def}})
	err := r.Register(Module{Prefix: "a:b:", Exports: map[string]*Definition{"c": other}})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("%s - expected ErrDuplicateKey for a:b:c, got %v", registryTestPrefix, err)
	}
}

func TestRegister_SameDefinitionTwice(t *testing.T) {
	r := NewRegistry()
	def := QueryNoArgs(func(context.Context, *Context) (string, error) { return "", nil })

	err := r.Register(Module{Prefix: "x:", Exports: map[string]*Definition{"one": def, "two": def}})
	if !errors.Is(err, ErrDuplicateDefinition) {
		t.Fatalf("%s - expected ErrDuplicateDefinition, got %v", registryTestPrefix, err)
	}

	r.MustRegister(Module{Prefix: "x:", Exports: map[string]*Definition{"one": def}})
	err = r.Register(Module{Prefix: "y:", Exports: map[string]*Definition{"one": def}})
	if !errors.Is(err, ErrDuplicateDefinition) {
		t.Errorf("%s - expected ErrDuplicateDefinition across modules, got %v", registryTestPrefix, err)
	}
}

func TestRegister_InvalidDefinitions(t *testing.T) {
	tests := []struct {
		name string
		def  *Definition
	}{
		{"nil", nil},
		{"unknown kind", NewDefinition("subscription", nil, func(context.Context, *Context, any) (any, error) { return nil, nil })},
		{"missing execute", NewDefinition(KindQuery, nil, nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			err := r.Register(Module{Prefix: "p:", Exports: map[string]*Definition{"x": tt.def}})
			if !errors.Is(err, ErrInvalidDefinition) {
				t.Errorf("%s - expected ErrInvalidDefinition, got %v", registryTestPrefix, err)
			}
		})
	}
}

func TestRegister_Sealed(t *testing.T) {
	r := NewRegistry()
	r.Seal()
	m, _, _ := newTestModule()
	if err := r.Register(m); !errors.Is(err, ErrSealed) {
		t.Errorf("%s - expected ErrSealed, got %v", registryTestPrefix, err)
	}
}

func TestResolveKeyByReference_Unknown(t *testing.T) {
	r := NewRegistry()
	stray := QueryNoArgs(func(context.Context, *Context) (int, error) { return 0, nil })
	if _, ok := r.ResolveKeyByReference(stray); ok {
		t.Errorf("%s - unregistered definition should not resolve", registryTestPrefix)
	}
	if _, ok := r.ResolveKeyByReference(nil); ok {
		t.Errorf("%s - nil definition should not resolve", registryTestPrefix)
	}
}

func TestTypedDefinition_ReceivesArgs(t *testing.T) {
	var got string
	def := Mutation(func(_ context.Context, _ *Context, args nameArgs) (string, error) {
		got = args.Name
		return "hi " + args.Name, nil
	})

	if def.Kind() != KindMutation || !def.HasArgs() {
		t.Fatalf("%s - unexpected definition shape", registryTestPrefix)
	}
	ptr, ok := def.NewArgs().(*nameArgs)
	if !ok {
		t.Fatalf("%s - NewArgs() returned %T, want *nameArgs", registryTestPrefix, def.NewArgs())
	}
	ptr.Name = "ada"

	out, err := def.Execute(context.Background(), &Context{}, ptr)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", registryTestPrefix, err)
	}
	if got != "ada" || out != "hi ada" {
		t.Errorf("%s - got %q / %v", registryTestPrefix, got, out)
	}

	if _, err := def.Execute(context.Background(), &Context{}, 42); err == nil {
		t.Errorf("%s - expected error for wrong argument type", registryTestPrefix)
	}
}

type recordingScheduler struct {
	calls []*Definition
}

func (s *recordingScheduler) Invalidate(_ context.Context, q *Definition) {
	s.calls = append(s.calls, q)
}

func TestContext_Invalidate(t *testing.T) {
	q := QueryNoArgs(func(context.Context, *Context) (int, error) { return 0, nil })

	var nilCtx *Context
	nilCtx.Invalidate(context.Background(), q)
	(&Context{}).Invalidate(context.Background(), q)

	s := &recordingScheduler{}
	hc := &Context{Scheduler: s}
	hc.Invalidate(context.Background(), q)
	if len(s.calls) != 1 || s.calls[0] != q {
		t.Errorf("%s - expected one invalidation of q, got %v", registryTestPrefix, s.calls)
	}
}
