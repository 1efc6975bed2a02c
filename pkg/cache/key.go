// Package cache holds the client-side result cache keyed by call signature and the synchronous
// read/write surface used by optimistic updates.
package cache

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

const keyLogPrefix = "cache:key"

// Key derives the cache key for a call. Structurally equal params produce the same key regardless
// of map ordering, whitespace, or whether they arrive as a Go value or as raw JSON.
func Key(callKey string, params any) (string, error) {
	canonical, err := Canonical(params)
	if err != nil {
		return "", err
	}
	return callKey + "|" + string(canonical), nil
}

// Canonical returns params as compact JSON with object keys sorted. Absent params (nil, empty raw
// JSON, or JSON null) are "null".
func Canonical(params any) (json.RawMessage, error) {
	raw, err := toRaw(params)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return json.RawMessage("null"), nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("%s - failed to decode params: %w", keyLogPrefix, err)
	}
	// Maps marshal with sorted keys.
	out, err := json.Marshal(normalizeNumbers(generic))
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode params: %w", keyLogPrefix, err)
	}
	return out, nil
}

// normalizeNumbers rewrites numbers so equal values share one spelling: 1.0, 1e0 and 1 all become 1.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
		return t
	case json.Number:
		return json.Number(canonicalNumber(string(t)))
	}
	return v
}

// 2^53: integers below this survive a float64 round trip exactly.
const maxExactFloatInt = 1 << 53

func canonicalNumber(s string) string {
	if !strings.ContainsAny(s, ".eE") {
		if s == "-0" {
			return "0"
		}
		return s
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	if f == math.Trunc(f) && math.Abs(f) < maxExactFloatInt {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func toRaw(params any) (json.RawMessage, error) {
	switch v := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return bytes.TrimSpace(v), nil
	case []byte:
		return bytes.TrimSpace(v), nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode params: %w", keyLogPrefix, err)
	}
	return raw, nil
}
