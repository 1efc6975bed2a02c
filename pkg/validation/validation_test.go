package validation

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/morezero/livequery/pkg/registry"
)

const validationTestPrefix = "validation:validation_test"

type signArgs struct {
	Name    string `json:"name" validate:"required,max=8"`
	Message string `json:"message" default:"hello" validate:"max=20"`
}

type pageArgs struct {
	Limit int    `json:"limit" default:"20" validate:"gte=1,lte=100"`
	Order string `json:"order" default:"desc" validate:"oneof=asc desc"`
}

type nestedArgs struct {
	Author struct {
		Name string `json:"name" validate:"required"`
	} `json:"author"`
}

func mutationOf[A any]() *registry.Definition {
	return registry.Mutation(func(context.Context, *registry.Context, A) (any, error) { return nil, nil })
}

func TestValidate_NoSchema(t *testing.T) {
	def := registry.MutationNoArgs(func(context.Context, *registry.Context) (int, error) { return 0, nil })

	for _, raw := range []string{"", "null", "{}", "  {} "} {
		args, err := Validate(def, json.RawMessage(raw))
		if err != nil {
			t.Errorf("%s - payload %q: unexpected error %v", validationTestPrefix, raw, err)
		}
		if args != nil {
			t.Errorf("%s - payload %q: expected nil args, got %v", validationTestPrefix, raw, args)
		}
	}

	for _, raw := range []string{`{"x":1}`, `[1]`, `"str"`, `5`} {
		_, err := Validate(def, json.RawMessage(raw))
		var vErr *Error
		if !errors.As(err, &vErr) {
			t.Fatalf("%s - payload %s: expected *Error, got %v", validationTestPrefix, raw, err)
		}
		if !strings.Contains(vErr.Message, "accepts no arguments") {
			t.Errorf("%s - message = %q", validationTestPrefix, vErr.Message)
		}
	}
}

func TestValidate_MissingRequiredField(t *testing.T) {
	_, err := Validate(mutationOf[signArgs](), json.RawMessage(`{}`))

	var vErr *Error
	if !errors.As(err, &vErr) {
		t.Fatalf("%s - expected *Error, got %v", validationTestPrefix, err)
	}
	if got := vErr.Fields["name"]; got != "This field is required" {
		t.Errorf("%s - Fields[name] = %q, want required diagnostic; fields=%v", validationTestPrefix, got, vErr.Fields)
	}
	if !strings.Contains(vErr.Error(), "name: This field is required") {
		t.Errorf("%s - Error() = %q should mention the field", validationTestPrefix, vErr.Error())
	}
}

func TestValidate_AppliesDefaults(t *testing.T) {
	args, err := Validate(mutationOf[signArgs](), json.RawMessage(`{"name":"ada"}`))
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", validationTestPrefix, err)
	}
	got, ok := args.(*signArgs)
	if !ok {
		t.Fatalf("%s - args type %T, want *signArgs", validationTestPrefix, args)
	}
	if got.Name != "ada" || got.Message != "hello" {
		t.Errorf("%s - got %+v, want name=ada message=hello", validationTestPrefix, got)
	}

	args, err = Validate(mutationOf[pageArgs](), nil)
	if err != nil {
		t.Fatalf("%s - absent payload should be defaulted, got %v", validationTestPrefix, err)
	}
	page := args.(*pageArgs)
	if page.Limit != 20 || page.Order != "desc" {
		t.Errorf("%s - defaults not applied: %+v", validationTestPrefix, page)
	}
}

func TestValidate_RuleViolations(t *testing.T) {
	tests := []struct {
		name  string
		def   *registry.Definition
		raw   string
		field string
		want  string
	}{
		{"max length", mutationOf[signArgs](), `{"name":"abcdefghijk"}`, "name", "Must be at most 8 characters"},
		{"upper bound", mutationOf[pageArgs](), `{"limit":500}`, "limit", "Must be less than or equal to 100"},
		{"oneof", mutationOf[pageArgs](), `{"order":"sideways"}`, "order", "Must be one of: asc, desc"},
		{"nested path", mutationOf[nestedArgs](), `{"author":{}}`, "author.name", "This field is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.def, json.RawMessage(tt.raw))
			var vErr *Error
			if !errors.As(err, &vErr) {
				t.Fatalf("%s - expected *Error, got %v", validationTestPrefix, err)
			}
			if got := vErr.Fields[tt.field]; got != tt.want {
				t.Errorf("%s - Fields[%s] = %q, want %q (fields=%v)", validationTestPrefix, tt.field, got, tt.want, vErr.Fields)
			}
		})
	}
}

func TestValidate_WrongJSONShape(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"string for int", `{"limit":"many"}`},
		{"array for object", `[1,2]`},
		{"broken json", `{"limit":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(mutationOf[pageArgs](), json.RawMessage(tt.raw))
			var vErr *Error
			if !errors.As(err, &vErr) {
				t.Fatalf("%s - expected *Error, got %v", validationTestPrefix, err)
			}
			if vErr.Message == "" {
				t.Errorf("%s - expected a message", validationTestPrefix)
			}
		})
	}
}

func TestValidate_NonStructSchema(t *testing.T) {
	def := mutationOf[[]string]()
	args, err := Validate(def, json.RawMessage(`["a","b"]`))
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", validationTestPrefix, err)
	}
	got := *(args.(*[]string))
	if len(got) != 2 || got[1] != "b" {
		t.Errorf("%s - got %v", validationTestPrefix, got)
	}
}

func TestValidate_PointerSchema(t *testing.T) {
	def := mutationOf[*signArgs]()

	for _, raw := range []string{`{}`, `null`, ``} {
		_, err := Validate(def, json.RawMessage(raw))
		var vErr *Error
		if !errors.As(err, &vErr) {
			t.Fatalf("%s - payload %q: expected *Error, got %v", validationTestPrefix, raw, err)
		}
		if _, ok := vErr.Fields["name"]; !ok {
			t.Errorf("%s - payload %q: fields = %v, want name", validationTestPrefix, raw, vErr.Fields)
		}
	}

	args, err := Validate(def, json.RawMessage(`{"name":"ann"}`))
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", validationTestPrefix, err)
	}
	got := *(args.(**signArgs))
	if got == nil || got.Name != "ann" || got.Message != "hello" {
		t.Errorf("%s - got %+v, want name ann and default message", validationTestPrefix, got)
	}
}

func TestValidate_PointerSchemaReachesHandlerNonNil(t *testing.T) {
	var received *signArgs
	def := registry.Mutation(func(_ context.Context, _ *registry.Context, a *signArgs) (any, error) {
		received = a
		return nil, nil
	})

	args, err := Validate(def, json.RawMessage(`{"name":"bo"}`))
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", validationTestPrefix, err)
	}
	if _, err := def.Execute(context.Background(), &registry.Context{}, args); err != nil {
		t.Fatalf("%s - execute: %v", validationTestPrefix, err)
	}
	if received == nil || received.Name != "bo" {
		t.Errorf("%s - handler received %+v", validationTestPrefix, received)
	}
}

func TestError_FormatsSortedFields(t *testing.T) {
	err := NewError("bad", map[string]string{"b": "two", "a": "one"})
	if got := err.Error(); got != "bad (a: one; b: two)" {
		t.Errorf("%s - Error() = %q", validationTestPrefix, got)
	}
	if got := NewError("plain", nil).Error(); got != "plain" {
		t.Errorf("%s - Error() = %q", validationTestPrefix, got)
	}
}

func TestWirePath(t *testing.T) {
	typ := reflect.TypeFor[nestedArgs]()
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"Author", "author"},
		{"author.Name", "author.name"},
		{"unknown", "unknown"},
	}
	for _, tt := range tests {
		if got := wirePath(typ, tt.in); got != tt.want {
			t.Errorf("%s - wirePath(%q) = %q, want %q", validationTestPrefix, tt.in, got, tt.want)
		}
	}
}
