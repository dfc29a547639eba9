package model

import (
	"reflect"

	"github.com/google/go-cmp/cmp"
)

// resolveDefault evaluates a default: factories are called, and every
// function found inside a resulting map or slice is replaced by its result.
// Literal maps and slices are copied so instances never share them.
func resolveDefault(v any) (any, error) {
	switch f := v.(type) {
	case func() any:
		return resolveDefault(f())
	case func() (any, error):
		out, err := f()
		if err != nil {
			return nil, err
		}
		return resolveDefault(out)
	case map[string]any:
		out := make(map[string]any, len(f))
		for k, item := range f {
			r, err := resolveDefault(item)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(f))
		for i, item := range f {
			r, err := resolveDefault(item)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	}
	return v, nil
}

var equalOptions = []cmp.Option{
	cmp.Comparer(func(a, b *Model) bool { return a == b }),
	cmp.Comparer(func(a, b *Collection) bool { return a == b }),
	cmp.Exporter(func(reflect.Type) bool { return true }),
}

// deepEqual is structural equality honoring Equal methods (time.Time).
// Models and collections nested in plain values compare by identity.
func deepEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return cmp.Equal(a, b, equalOptions...)
}

func sameComponent(a, b any) bool {
	ca, okA := asComponent(a)
	cb, okB := asComponent(b)
	if !okA || !okB {
		return okA == okB
	}
	return ca == cb
}
