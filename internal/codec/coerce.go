// Package codec converts change-event row images into typed domain records.
package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cdc-sink/internal/models"
)

// FieldCoercionError reports a field whose raw value cannot be converted to its target type
type FieldCoercionError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *FieldCoercionError) Error() string {
	return fmt.Sprintf("cannot coerce field %q (value %#v): %s", e.Field, e.Value, e.Reason)
}

func coercionError(field string, value interface{}, format string, args ...interface{}) error {
	return &FieldCoercionError{Field: field, Value: value, Reason: fmt.Sprintf(format, args...)}
}

// lookup returns the raw value and whether it is present and non-null
func lookup(f models.Fields, field string) (interface{}, bool) {
	v, ok := f[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func toInt64(field string, v interface{}) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		// Accept integral values rendered with a fraction, e.g. 3.0
		f, err := n.Float64()
		if err != nil {
			return 0, coercionError(field, v, "not an integer")
		}
		return floatToInt64(field, v, f)
	case float64:
		return floatToInt64(field, v, n)
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, coercionError(field, v, "not an integer")
		}
		return i, nil
	default:
		return 0, coercionError(field, v, "unsupported type %T", v)
	}
}

// floatToInt64 accepts only integral values inside the int64 range. The upper
// bound is exclusive because float64(math.MaxInt64) rounds up to 2^63.
func floatToInt64(field string, v interface{}, f float64) (int64, error) {
	if f != math.Trunc(f) {
		return 0, coercionError(field, v, "not an integer")
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, coercionError(field, v, "out of int64 range")
	}
	return int64(f), nil
}

// requiredKey decodes the primary key, which may never be absent
func requiredKey(f models.Fields, field string) (int64, error) {
	v, ok := lookup(f, field)
	if !ok {
		return 0, coercionError(field, nil, "primary key is required")
	}
	return toInt64(field, v)
}

func optionalInt64(f models.Fields, field string) (*int64, error) {
	v, ok := lookup(f, field)
	if !ok {
		return nil, nil
	}
	i, err := toInt64(field, v)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func optionalString(f models.Fields, field string) (*string, error) {
	v, ok := lookup(f, field)
	if !ok {
		return nil, nil
	}
	switch s := v.(type) {
	case string:
		return &s, nil
	case json.Number:
		str := s.String()
		return &str, nil
	default:
		return nil, coercionError(field, v, "not a string")
	}
}

// optionalBool accepts the source's 0/1 integer encoding as well as JSON booleans
func optionalBool(f models.Fields, field string) (*bool, error) {
	v, ok := lookup(f, field)
	if !ok {
		return nil, nil
	}

	var b bool
	switch x := v.(type) {
	case bool:
		b = x
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "true":
			b = true
		case "0", "false":
			b = false
		default:
			return nil, coercionError(field, v, "not a boolean")
		}
	default:
		i, err := toInt64(field, v)
		if err != nil {
			return nil, err
		}
		switch i {
		case 0:
			b = false
		case 1:
			b = true
		default:
			return nil, coercionError(field, v, "boolean integer must be 0 or 1")
		}
	}
	return &b, nil
}

// optionalEpochMillis converts an epoch-millisecond integer to a UTC instant.
// RFC 3339 strings are accepted as well for ZonedTimestamp columns.
func optionalEpochMillis(f models.Fields, field string) (*time.Time, error) {
	v, ok := lookup(f, field)
	if !ok {
		return nil, nil
	}

	if s, isString := v.(string); isString {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			ts = ts.UTC()
			return &ts, nil
		}
	}

	ms, err := toInt64(field, v)
	if err != nil {
		return nil, coercionError(field, v, "not an epoch-millisecond timestamp")
	}
	ts := time.UnixMilli(ms).UTC()
	return &ts, nil
}

// optionalMoney decodes a monetary value rounded to the column scale
func optionalMoney(f models.Fields, field string) (decimal.NullDecimal, error) {
	v, ok := lookup(f, field)
	if !ok {
		return decimal.NullDecimal{}, nil
	}

	var (
		d   decimal.Decimal
		err error
	)
	switch x := v.(type) {
	case json.Number:
		d, err = decimal.NewFromString(x.String())
	case string:
		d, err = decimal.NewFromString(strings.TrimSpace(x))
	case float64:
		d = decimal.NewFromFloat(x)
	case int64:
		d = decimal.NewFromInt(x)
	default:
		return decimal.NullDecimal{}, coercionError(field, v, "unsupported type %T", v)
	}
	if err != nil {
		return decimal.NullDecimal{}, coercionError(field, v, "not a decimal")
	}

	return decimal.NullDecimal{Decimal: d.Round(models.MoneyScale), Valid: true}, nil
}
