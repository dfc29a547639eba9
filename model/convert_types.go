package model

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/teranos/datagraph/errors"
	"github.com/teranos/datagraph/logger"
)

// dateLayouts are tried in order when a date attribute receives a string.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	time.DateOnly,
}

// builtin is the non-overridden set stage for the attribute's kind.
// nil always passes through unchanged.
func (a *Attribute) builtin(m *Model, value, previous any) (any, error) {
	if value == nil {
		return nil, nil
	}

	var (
		out any
		err error
	)
	switch a.kind {
	case KindString:
		out, err = toString(value)
	case KindInteger:
		out, err = toInteger(value)
	case KindNumber:
		out, err = toNumber(value)
	case KindBoolean:
		out, err = toBoolean(value)
	case KindDate:
		out, err = toDate(value)
	case KindObject:
		out, err = toObject(value)
	case KindArray:
		out, err = toArray(value)
	case KindModel:
		return a.toModel(m, value, previous)
	case KindCollection:
		return a.toCollection(m, value, previous)
	default:
		return value, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "attribute %q", a.name)
	}
	return out, nil
}

func conversionError(value any, kind Kind) error {
	return errors.Mark(errors.Newf("cannot convert %T to %s", value, kind), errors.ErrConversion)
}

func toString(v any) (any, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case fmt.Stringer:
		return s.String(), nil
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return fmt.Sprint(s), nil
	case []byte:
		return string(s), nil
	}
	return nil, conversionError(v, KindString)
}

func toInteger(v any) (any, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return nil, conversionError(v, KindInteger)
		}
		return int64(n), nil
	case float32:
		return floatToInteger(v, float64(n))
	case float64:
		return floatToInteger(v, n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		return toInteger(string(n))
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return floatToInteger(v, f)
		}
	}
	return nil, conversionError(v, KindInteger)
}

// floatToInteger truncates f, rejecting values int64 cannot hold.
func floatToInteger(v any, f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < math.MinInt64 || f >= math.MaxInt64 {
		return nil, conversionError(v, KindInteger)
	}
	return int64(f), nil
}

func toNumber(v any) (any, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return reflect.ValueOf(n).Convert(reflect.TypeOf(float64(0))).Float(), nil
	case json.Number:
		return n.Float64()
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return f, nil
		}
	}
	return nil, conversionError(v, KindNumber)
}

func toBoolean(v any) (any, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		if parsed, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
			return parsed, nil
		}
		return nil, conversionError(v, KindBoolean)
	}
	if n, err := toNumber(v); err == nil {
		return n.(float64) != 0, nil
	}
	return nil, conversionError(v, KindBoolean)
}

func toDate(v any) (any, error) {
	switch d := v.(type) {
	case time.Time:
		return d, nil
	case *time.Time:
		if d == nil {
			return nil, nil
		}
		return *d, nil
	case string:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, strings.TrimSpace(d)); err == nil {
				return t, nil
			}
		}
		return nil, conversionError(v, KindDate)
	}
	// numbers are unix milliseconds
	if n, err := toInteger(v); err == nil {
		return time.UnixMilli(n.(int64)).UTC(), nil
	}
	return nil, conversionError(v, KindDate)
}

func toObject(v any) (any, error) {
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out, nil
	}
	return nil, conversionError(v, KindObject)
}

func toArray(v any) (any, error) {
	if s, ok := v.([]any); ok {
		return s, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, nil
	}
	return nil, conversionError(v, KindArray)
}

// toModel accepts a model of the target type or plain data. Plain data for
// the same entity as the current child is merged into that child, so
// references to it stay live; other plain data builds a model through New.
func (a *Attribute) toModel(m *Model, value, previous any) (any, error) {
	t, err := a.targetType(m)
	if err != nil {
		return nil, err
	}
	if child, ok := value.(*Model); ok {
		if child == nil {
			return nil, nil
		}
		if !child.typ.IsA(t) {
			return nil, a.mismatch(child.typ, t)
		}
		return child, nil
	}
	data, ok := value.(map[string]any)
	if !ok {
		return nil, conversionError(value, KindModel)
	}
	if current, ok := previous.(*Model); ok && current != nil && current.typ.IsA(t) {
		same, err := current.sameEntity(data)
		if err != nil {
			return nil, err
		}
		if same {
			logger.Debugw("Merging data into embedded model",
				logger.FieldModelType, current.typ.name,
				logger.FieldAttribute, a.name,
				logger.FieldClientID, current.clientID,
			)
			if err := current.SetValues(data); err != nil {
				return nil, err
			}
			return current, nil
		}
	}
	child, err := t.New(data)
	if err != nil {
		return nil, err
	}
	return child, nil
}

// toCollection accepts a collection of the target type or a list of items.
// A list given while the attribute already holds a collection is synced into
// it in place.
func (a *Attribute) toCollection(m *Model, value, previous any) (any, error) {
	t, err := a.targetType(m)
	if err != nil {
		return nil, err
	}
	if c, ok := value.(*Collection); ok {
		if c == nil {
			return nil, nil
		}
		if !c.typ.IsA(t) {
			return nil, a.mismatch(c.typ, t)
		}
		return c, nil
	}
	items, err := toArray(value)
	if err != nil {
		return nil, conversionError(value, KindCollection)
	}
	if current, ok := previous.(*Collection); ok && current != nil && current.typ.IsA(t) {
		if err := current.sync(items.([]any)); err != nil {
			return nil, err
		}
		return current, nil
	}
	c := NewCollection(t)
	if err := c.Add(items.([]any)...); err != nil {
		return nil, err
	}
	c.settle()
	return c, nil
}

func (a *Attribute) mismatch(got, want *Type) error {
	logger.Debugw("Rejected model of wrong type",
		logger.FieldAttribute, a.name,
		logger.FieldModelType, got.name,
	)
	return errors.Mark(
		errors.Newf("attribute %q: cannot convert %s to %s", a.name, got.name, want.name),
		errors.ErrConversion,
	)
}
