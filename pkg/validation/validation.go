// Package validation gates handler arguments: decode, fill defaults, then check struct tags.
package validation

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"

	"github.com/morezero/livequery/pkg/registry"
)

// CodeValidationFailed is the wire error code for argument validation failures.
const CodeValidationFailed = "VALIDATION_FAILED"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)
	return v
}

// jsonFieldName reports fields by their wire name so diagnostics match what the client sent.
func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name != "" {
		return name
	}
	return fld.Name
}

// Error is a validation failure with per-field diagnostics keyed by dotted path.
type Error struct {
	Message string
	Fields  map[string]string
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	paths := make([]string, 0, len(e.Fields))
	for p := range e.Fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	parts := make([]string, 0, len(paths))
	for _, p := range paths {
		parts = append(parts, p+": "+e.Fields[p])
	}
	return e.Message + " (" + strings.Join(parts, "; ") + ")"
}

// NewError builds a validation error. Handlers may return it to report domain-level argument
// problems with the same shape as schema failures.
func NewError(message string, fields map[string]string) *Error {
	return &Error{Message: message, Fields: fields}
}

// Validate checks raw against def's argument schema and returns the value the handler receives:
// nil for handlers without a schema, otherwise a pointer to the decoded, defaulted and validated
// argument value.
func Validate(def *registry.Definition, raw json.RawMessage) (any, error) {
	if !def.HasArgs() {
		if !isEmpty(raw) {
			return nil, NewError("this call accepts no arguments", nil)
		}
		return nil, nil
	}

	args := def.NewArgs()
	if !isAbsent(raw) {
		if err := json.Unmarshal(raw, args); err != nil {
			return nil, decodeError(err, def.ArgsType())
		}
	}

	if target := structTarget(args); target != nil {
		if err := defaults.Set(target); err != nil {
			return nil, fmt.Errorf("validation:validate - failed to apply defaults: %w", err)
		}
		if err := validate.Struct(target); err != nil {
			return nil, structError(err)
		}
	}
	return args, nil
}

// structTarget follows pointer schemas (*T, **T) down to the struct, allocating nil levels so an
// absent payload is validated like {}. It returns nil for non-struct schemas.
func structTarget(args any) any {
	v := reflect.ValueOf(args)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return nil
	}
	for v.Elem().Kind() == reflect.Pointer {
		if v.Elem().IsNil() {
			v.Elem().Set(reflect.New(v.Elem().Type().Elem()))
		}
		v = v.Elem()
	}
	if v.Elem().Kind() != reflect.Struct {
		return nil
	}
	return v.Interface()
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// isEmpty treats an absent payload and an empty object as "no arguments".
func isEmpty(raw json.RawMessage) bool {
	if isAbsent(raw) {
		return true
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return false
	}
	return len(obj) == 0
}

func decodeError(err error, t reflect.Type) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		path := wirePath(t, typeErr.Field)
		if path == "" {
			return NewError("arguments have the wrong shape", map[string]string{
				"$": fmt.Sprintf("Must be %s", describeKind(typeErr.Type)),
			})
		}
		return NewError("Validation failed. See fields for details.", map[string]string{
			path: fmt.Sprintf("Must be %s", describeKind(typeErr.Type)),
		})
	}
	return NewError(fmt.Sprintf("arguments are not valid JSON: %v", err), nil)
}

// wirePath rewrites a decoder field path into json names, whichever spelling the decoder used.
func wirePath(t reflect.Type, path string) string {
	if path == "" {
		return ""
	}
	segments := strings.Split(path, ".")
	for i, seg := range segments {
		for t != nil && (t.Kind() == reflect.Pointer || t.Kind() == reflect.Slice) {
			t = t.Elem()
		}
		if t == nil || t.Kind() != reflect.Struct {
			break
		}
		var next reflect.Type
		for j := 0; j < t.NumField(); j++ {
			fld := t.Field(j)
			name := jsonFieldName(fld)
			if name == seg || strings.EqualFold(fld.Name, seg) || strings.EqualFold(name, seg) {
				segments[i] = name
				next = fld.Type
				break
			}
		}
		t = next
	}
	return strings.Join(segments, ".")
}

func structError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return NewError(fmt.Sprintf("Unknown validation error: %s", err.Error()), nil)
	}
	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fieldPath(fe)] = describe(fe)
	}
	return NewError("Validation failed. See fields for details.", fields)
}

// fieldPath strips the root struct name from the validator namespace: "signArgs.author.name" -> "author.name".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	param := fe.Param()
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Invalid email format"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("Must be at least %s characters", param)
		}
		return fmt.Sprintf("Must be at least %s", param)
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("Must be at most %s characters", param)
		}
		return fmt.Sprintf("Must be at most %s", param)
	case "gte":
		return fmt.Sprintf("Must be greater than or equal to %s", param)
	case "lte":
		return fmt.Sprintf("Must be less than or equal to %s", param)
	case "gt":
		return fmt.Sprintf("Must be greater than %s", param)
	case "lt":
		return fmt.Sprintf("Must be less than %s", param)
	case "len":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("Must be exactly %s characters", param)
		}
		return fmt.Sprintf("Must have exactly %s items", param)
	case "oneof":
		return fmt.Sprintf("Must be one of: %s", strings.ReplaceAll(param, " ", ", "))
	case "uuid", "uuid4":
		return "Must be a valid UUID"
	case "url":
		return "Must be a valid URL"
	}
	return fmt.Sprintf("Failed validation: %s", fe.Tag())
}

func describeKind(t reflect.Type) string {
	if t == nil {
		return "a different type"
	}
	switch t.Kind() {
	case reflect.String:
		return "a string"
	case reflect.Bool:
		return "a boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "an integer"
	case reflect.Float32, reflect.Float64:
		return "a number"
	case reflect.Slice, reflect.Array:
		return "an array"
	case reflect.Map, reflect.Struct:
		return "an object"
	}
	return "a " + t.String()
}
