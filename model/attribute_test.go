package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/datagraph/errors"
)

func TestNewAttribute(t *testing.T) {
	t.Run("empty name", func(t *testing.T) {
		_, err := NewAttribute("")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrAttributeName))
	})

	t.Run("persisted by default", func(t *testing.T) {
		a, err := NewAttribute("title", OfKind(KindString))
		require.NoError(t, err)
		assert.Equal(t, "title", a.Name())
		assert.Equal(t, KindString, a.Kind())
		assert.True(t, a.Persisted())
		assert.False(t, a.IsEmbedded())
	})

	t.Run("transient", func(t *testing.T) {
		a := MustAttribute("cursor", Transient())
		assert.False(t, a.Persisted())
	})

	t.Run("embedded primitive rejected", func(t *testing.T) {
		_, err := NewAttribute("title", OfKind(KindString), Embedded())
		assert.Error(t, err)
	})

	t.Run("composite needs target", func(t *testing.T) {
		_, err := NewAttribute("owner", OfKind(KindModel))
		assert.Error(t, err)

		a, err := NewAttribute("owner", ModelNamed("person"), Embedded())
		require.NoError(t, err)
		assert.True(t, a.IsComposite())
		assert.True(t, a.IsEmbedded())
	})
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{KindMixed, KindString, KindInteger, KindNumber, KindBoolean, KindDate, KindObject, KindArray, KindModel, KindCollection} {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := ParseKind("decimal")
	assert.Error(t, err)
}

func TestBuiltinConversions(t *testing.T) {
	tests := []struct {
		name  string
		kind  Kind
		input any
		want  any
	}{
		{"string from int", KindString, 42, "42"},
		{"string from bytes", KindString, []byte("hi"), "hi"},
		{"integer from string", KindInteger, " 17 ", int64(17)},
		{"integer from float", KindInteger, 3.9, int64(3)},
		{"integer from float string", KindInteger, "2.5", int64(2)},
		{"number from int", KindNumber, 7, float64(7)},
		{"number from string", KindNumber, "1.25", 1.25},
		{"boolean from string", KindBoolean, "true", true},
		{"boolean from number", KindBoolean, 0, false},
		{"date from date only", KindDate, "2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"date from millis", KindDate, int64(0), time.UnixMilli(0).UTC()},
		{"object from typed map", KindObject, map[string]int{"a": 1}, map[string]any{"a": 1}},
		{"array from typed slice", KindArray, []string{"a", "b"}, []any{"a", "b"}},
		{"mixed passthrough", KindMixed, struct{ X int }{1}, struct{ X int }{1}},
		{"nil passthrough", KindInteger, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := MustAttribute("v", OfKind(tt.kind))
			got, err := a.builtin(nil, tt.input, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuiltinConversionErrors(t *testing.T) {
	tests := []struct {
		name  string
		kind  Kind
		input any
	}{
		{"integer from word", KindInteger, "seven"},
		{"boolean from word", KindBoolean, "maybe"},
		{"date from garbage", KindDate, "yesterday"},
		{"object from slice", KindObject, []any{1}},
		{"array from map", KindArray, map[string]any{}},
		{"string from struct", KindString, struct{}{}},
		{"integer above int64", KindInteger, 1e30},
		{"integer below int64", KindInteger, -1e30},
		{"integer from float32 overflow", KindInteger, float32(1e20)},
		{"integer string above int64", KindInteger, "9999999999999999999999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := MustAttribute("v", OfKind(tt.kind))
			_, err := a.builtin(nil, tt.input, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrConversion))
			assert.Contains(t, err.Error(), `attribute "v"`)
		})
	}
}

func TestResolvePipelineOrder(t *testing.T) {
	var calls []string
	a := MustAttribute("v",
		OfKind(KindString),
		BeforeSet(func(m *Model, value, previous any) (any, error) {
			calls = append(calls, "before")
			return value.(string) + "-b", nil
		}),
		Override(func(m *Model, value, previous any, base SetFunc) (any, error) {
			calls = append(calls, "set")
			return base(m, value, previous)
		}),
		AfterSet(func(m *Model, value any) (any, error) {
			calls = append(calls, "after")
			return value.(string) + "-a", nil
		}),
	)

	got, err := a.resolve(nil, true, "x", nil)
	require.NoError(t, err)
	assert.Equal(t, "x-b-a", got)
	assert.Equal(t, []string{"before", "set", "after"}, calls)
}

func TestResolveDefaults(t *testing.T) {
	t.Run("literal map is copied", func(t *testing.T) {
		a := MustAttribute("meta", OfKind(KindObject), Default(map[string]any{"tags": []any{"a"}}))
		first, err := a.resolve(nil, false, nil, nil)
		require.NoError(t, err)
		second, err := a.resolve(nil, false, nil, nil)
		require.NoError(t, err)

		first.(map[string]any)["tags"].([]any)[0] = "changed"
		assert.Equal(t, "a", second.(map[string]any)["tags"].([]any)[0])
	})

	t.Run("nested functions are invoked", func(t *testing.T) {
		n := 0
		a := MustAttribute("meta", Default(func() any {
			return map[string]any{
				"count": func() any { n++; return n },
				"list":  []any{func() any { return "x" }},
			}
		}))
		got, err := a.resolve(nil, false, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"count": 1, "list": []any{"x"}}, got)
	})

	t.Run("factory error propagates", func(t *testing.T) {
		boom := errors.New("boom")
		a := MustAttribute("v", Default(func() (any, error) { return nil, boom }))
		_, err := a.resolve(nil, false, nil, nil)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("provided value skips default", func(t *testing.T) {
		a := MustAttribute("v", Default("fallback"))
		got, err := a.resolve(nil, true, "given", nil)
		require.NoError(t, err)
		assert.Equal(t, "given", got)
	})
}

func TestResolveNoChangeSkipsAfterSet(t *testing.T) {
	afterCalled := false
	a := MustAttribute("total",
		Override(func(*Model, any, any, SetFunc) (any, error) { return NoChange, nil }),
		AfterSet(func(m *Model, value any) (any, error) {
			afterCalled = true
			return value, nil
		}),
	)
	got, err := a.resolve(nil, true, 1, nil)
	require.NoError(t, err)
	assert.True(t, isNoChange(got))
	assert.False(t, afterCalled)
}

func TestValuesEqual(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	mixed := MustAttribute("v")
	assert.True(t, mixed.valuesEqual(map[string]any{"a": []any{1}}, map[string]any{"a": []any{1}}))
	assert.False(t, mixed.valuesEqual(map[string]any{"a": 1}, map[string]any{"a": 2}))
	assert.True(t, mixed.valuesEqual(nil, nil))
	assert.False(t, mixed.valuesEqual(nil, 0))
	assert.True(t, mixed.valuesEqual(ts, ts.In(time.FixedZone("x", 3600))))

	custom := MustAttribute("v", Equality(func(a, b any) bool { return true }))
	assert.True(t, custom.valuesEqual(1, 2))
}
