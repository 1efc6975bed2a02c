package cache

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func TestKey_StructurallyEqualParams(t *testing.T) {
	type listArgs struct {
		Limit int    `json:"limit"`
		Order string `json:"order"`
	}

	equal := []any{
		map[string]any{"limit": 10, "order": "desc"},
		map[string]any{"order": "desc", "limit": 10},
		json.RawMessage(`{ "order": "desc",  "limit": 10 }`),
		listArgs{Limit: 10, Order: "desc"},
		&listArgs{Limit: 10, Order: "desc"},
	}

	want, err := Key("guestbook:listEntries", equal[0])
	require.NoError(t, err)
	for _, p := range equal[1:] {
		got, err := Key("guestbook:listEntries", p)
		require.NoError(t, err)
		require.Equal(t, want, got, "params %#v", p)
	}
}

func TestKey_DifferentParamsDiffer(t *testing.T) {
	a, err := Key("guestbook:listEntries", map[string]any{"limit": 10})
	require.NoError(t, err)
	b, err := Key("guestbook:listEntries", map[string]any{"limit": 11})
	require.NoError(t, err)
	c, err := Key("guestbook:other", map[string]any{"limit": 10})
	require.NoError(t, err)
	d, err := Key("guestbook:listEntries", map[string]any{"limit": 10, "extra": true})
	require.NoError(t, err)

	require.NotEqual(t, a, b)
	require.NotEqual(t, a, c)
	require.NotEqual(t, a, d)
}

func TestKey_AbsentParams(t *testing.T) {
	base, err := Key("counter:getCounter", nil)
	require.NoError(t, err)
	for _, p := range []any{json.RawMessage(nil), json.RawMessage("null"), json.RawMessage("  ")} {
		got, err := Key("counter:getCounter", p)
		require.NoError(t, err)
		require.Equal(t, base, got)
	}
}

func TestKey_LargeIntegersKeepPrecision(t *testing.T) {
	a, err := Key("k", json.RawMessage(`{"id":9007199254740993}`))
	require.NoError(t, err)
	b, err := Key("k", json.RawMessage(`{"id":9007199254740992}`))
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestKey_NumberSpellingsShareKey(t *testing.T) {
	want, err := Key("k", map[string]any{"n": 1, "f": 1.5})
	require.NoError(t, err)
	for _, raw := range []string{
		`{"n":1.0,"f":1.5}`,
		`{"n":1e0,"f":1.50}`,
		`{"n":10E-1,"f":15e-1}`,
	} {
		got, err := Key("k", []byte(raw))
		require.NoError(t, err)
		require.Equal(t, want, got, "params %s", raw)
	}

	negZero, err := Key("k", json.RawMessage(`{"n":-0.0}`))
	require.NoError(t, err)
	zero, err := Key("k", json.RawMessage(`{"n":0}`))
	require.NoError(t, err)
	require.Equal(t, zero, negZero)

	differ, err := Key("k", json.RawMessage(`{"n":1.1}`))
	require.NoError(t, err)
	require.NotEqual(t, want, differ)
}

func TestKey_InvalidRawJSON(t *testing.T) {
	_, err := Key("k", json.RawMessage(`{"broken":`))
	require.Error(t, err)
}

func TestCache_SetNotifiesSubscribersSynchronously(t *testing.T) {
	c := New()
	var first, second []string
	unsubFirst := c.Subscribe("a", func(v json.RawMessage) { first = append(first, string(v)) })
	c.Subscribe("a", func(v json.RawMessage) { second = append(second, string(v)) })
	c.Subscribe("b", func(json.RawMessage) { t.Error("cache:cache_test - subscriber of b notified for a") })

	c.Set("a", json.RawMessage(`1`))
	require.Equal(t, []string{"1"}, first)
	require.Equal(t, []string{"1"}, second)

	unsubFirst()
	unsubFirst()
	c.Set("a", json.RawMessage(`2`))
	require.Equal(t, []string{"1"}, first)
	require.Equal(t, []string{"1", "2"}, second)

	v, ok := c.Get("a")
	require.True(t, ok)
	require.JSONEq(t, `2`, string(v))

	_, ok = c.Get("missing")
	require.False(t, ok)
}

func TestCache_CallbackMayWriteCache(t *testing.T) {
	c := New()
	c.Subscribe("a", func(v json.RawMessage) { c.Set("b", v) })
	c.Set("a", json.RawMessage(`"x"`))

	v, ok := c.Get("b")
	require.True(t, ok)
	require.Equal(t, `"x"`, string(v))
}

func TestCache_LocalStore(t *testing.T) {
	c := New()
	var store LocalStore = c

	_, ok := store.GetQuery("counter:getCounter", nil)
	require.False(t, ok)

	require.NoError(t, store.SetQuery("counter:getCounter", nil, map[string]int{"value": 3}))
	v, ok := store.GetQuery("counter:getCounter", json.RawMessage("null"))
	require.True(t, ok)
	require.JSONEq(t, `{"value":3}`, string(v))

	require.NoError(t, store.SetQuery("counter:getCounter", nil, json.RawMessage(`{"value":4}`)))
	v, _ = store.GetQuery("counter:getCounter", nil)
	require.JSONEq(t, `{"value":4}`, string(v))
}
