package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Values is a read-only typed view over a map[string]any. Accessors return
// the default when a key is missing or its value has the wrong type.
// Keys containing dots are looked up through nested maps.
type Values struct {
	data map[string]any
}

// NewValues wraps data. A nil map is treated as empty.
func NewValues(data map[string]any) Values {
	if data == nil {
		data = map[string]any{}
	}
	return Values{data: data}
}

func (v Values) lookup(key string) (any, bool) {
	if val, ok := v.data[key]; ok {
		return val, true
	}
	var current any = v.data
	for _, part := range strings.Split(key, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// String returns the string at key.
func (v Values) String(key, def string) string {
	if s, ok := v.Any(key, nil).(string); ok {
		return s
	}
	return def
}

// Bool returns the bool at key.
func (v Values) Bool(key string, def bool) bool {
	if b, ok := v.Any(key, nil).(bool); ok {
		return b
	}
	return def
}

// Int returns the integer at key. Floats are accepted only without a
// fractional part.
func (v Values) Int(key string, def int) int {
	switch val := v.Any(key, nil).(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		if val == float64(int(val)) {
			return int(val)
		}
	}
	return def
}

// Float returns the number at key as float64.
func (v Values) Float(key string, def float64) float64 {
	switch val := v.Any(key, nil).(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	}
	return def
}

// Duration returns the duration at key. Strings are parsed with
// time.ParseDuration; bare numbers are seconds.
func (v Values) Duration(key string, def time.Duration) time.Duration {
	switch val := v.Any(key, nil).(type) {
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	case time.Duration:
		return val
	case int:
		return time.Duration(val) * time.Second
	case int64:
		return time.Duration(val) * time.Second
	case float64:
		return time.Duration(val * float64(time.Second))
	}
	return def
}

// StringSlice returns the list of strings at key. A list with any
// non-string element returns def.
func (v Values) StringSlice(key string, def []string) []string {
	switch val := v.Any(key, nil).(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return def
			}
			out = append(out, s)
		}
		return out
	}
	return def
}

// Sub returns the nested map at key as Values, or empty Values.
func (v Values) Sub(key string) Values {
	if m, ok := v.Any(key, nil).(map[string]any); ok {
		return NewValues(m)
	}
	return NewValues(nil)
}

// Any returns the raw value at key.
func (v Values) Any(key string, def any) any {
	if val, ok := v.lookup(key); ok {
		return val
	}
	return def
}

// Has reports whether key is present.
func (v Values) Has(key string) bool {
	_, ok := v.lookup(key)
	return ok
}

// Raw returns the underlying map. Do not modify it.
func (v Values) Raw() map[string]any {
	return v.data
}

// ValuesFromFile loads Values from a .yaml, .yml or .json file.
func ValuesFromFile(path string) (Values, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Values{}, fmt.Errorf("read values file: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return ValuesFromYAML(data)
	case ".json":
		return ValuesFromJSON(data)
	default:
		return Values{}, fmt.Errorf("unsupported values file extension: %s", ext)
	}
}

// ValuesFromYAML parses a YAML mapping.
func ValuesFromYAML(data []byte) (Values, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Values{}, fmt.Errorf("parse yaml: %w", err)
	}
	return NewValues(m), nil
}

// ValuesFromJSON parses a JSON object.
func ValuesFromJSON(data []byte) (Values, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Values{}, fmt.Errorf("parse json: %w", err)
	}
	return NewValues(m), nil
}
