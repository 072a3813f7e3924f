package config

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Settings is a loosely typed key/value bag, as decoded from YAML or JSON.
// Values are read through GetValue, which never fails.
type Settings map[string]any

// Value is the set of types GetValue can coerce to. time.Duration is
// covered by ~int64 and handled specially.
type Value interface {
	~int | ~int64 | ~float64 | ~bool | ~string
}

// GetValue returns the value stored under key converted to T.
// Missing keys, nil values and values that cannot be safely coerced
// yield def. Floats are truncated when an integer is requested.
// Numbers requested as time.Duration are interpreted as seconds.
func GetValue[T Value](s Settings, key string, def T) T {
	if s == nil {
		return def
	}
	raw, ok := s[key]
	if !ok || raw == nil {
		return def
	}
	v, ok := Coerce(raw, def)
	if !ok {
		return def
	}
	return v
}

// Coerce converts raw into the type of def. The boolean reports whether the
// conversion succeeded.
func Coerce[T Value](raw any, def T) (T, bool) {
	var out any
	var ok bool

	switch any(def).(type) {
	case time.Duration:
		var d time.Duration
		d, ok = toDuration(raw)
		out = d
	case int:
		var n int64
		n, ok = toInt64(raw)
		if ok && (n > math.MaxInt || n < math.MinInt) {
			ok = false
		}
		out = int(n)
	case int64:
		out, ok = toInt64(raw)
	case float64:
		out, ok = toFloat64(raw)
	case bool:
		out, ok = toBool(raw)
	case string:
		out, ok = toString(raw)
	default:
		return coerceNamed(raw, def)
	}
	if !ok {
		return def, false
	}
	v, ok := out.(T)
	if !ok {
		return def, false
	}
	return v, true
}

// coerceNamed handles named types such as `type Severity string`.
func coerceNamed[T Value](raw any, def T) (T, bool) {
	if v, ok := raw.(T); ok {
		return v, true
	}
	var out T
	rv := reflect.ValueOf(&out).Elem()
	switch rv.Kind() {
	case reflect.String:
		s, ok := toString(raw)
		if !ok {
			return def, false
		}
		rv.SetString(s)
	case reflect.Int, reflect.Int64:
		n, ok := toInt64(raw)
		if !ok || rv.OverflowInt(n) {
			return def, false
		}
		rv.SetInt(n)
	case reflect.Float64:
		f, ok := toFloat64(raw)
		if !ok {
			return def, false
		}
		rv.SetFloat(f)
	case reflect.Bool:
		b, ok := toBool(raw)
		if !ok {
			return def, false
		}
		rv.SetBool(b)
	default:
		return def, false
	}
	return out, true
}

func toInt64(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		if uint64(v) > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case float32:
		return floatToInt64(float64(v))
	case float64:
		return floatToInt64(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return floatToInt64(f)
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return floatToInt64(f)
	default:
		return 0, false
	}
}

func floatToInt64(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

func toFloat64(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, !math.IsNaN(v)
	case float32:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil && !math.IsNaN(f)
	}
	if n, ok := toInt64(raw); ok {
		return float64(n), true
	}
	return 0, false
}

func toBool(raw any) (bool, bool) {
	switch v := raw.(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return b, err == nil
	}
	if n, ok := toInt64(raw); ok {
		return n != 0, true
	}
	return false, false
}

func toString(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, true
	case fmt.Stringer:
		return v.String(), true
	case bool, int, int64, float64, json.Number:
		return fmt.Sprint(v), true
	default:
		return "", false
	}
}

func toDuration(raw any) (time.Duration, bool) {
	switch v := raw.(type) {
	case time.Duration:
		return v, true
	case string:
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d, true
		}
	}
	f, ok := toFloat64(raw)
	if !ok || f > float64(math.MaxInt64)/float64(time.Second) || f < float64(math.MinInt64)/float64(time.Second) {
		return 0, false
	}
	return time.Duration(f * float64(time.Second)), true
}
