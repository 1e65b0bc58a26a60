package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/randalmurphal/ruleflow/pkg/ruleflow/notation"
)

// placeholderPattern matches ${name}; name may be a notation path.
var placeholderPattern = regexp.MustCompile(`\$\{([^{}\s]+)\}`)

// Reshaper builds payloads from mappings. It is safe for concurrent use.
type Reshaper struct {
	missingAction MissingAction
}

// New creates a Reshaper.
func New(opts ...Option) *Reshaper {
	r := &Reshaper{missingAction: MissingKeep}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reshape returns a copy of mapping with paths and placeholders resolved
// through res. A nil mapping produces an empty map.
func (r *Reshaper) Reshape(mapping map[string]any, res notation.Resolver) (map[string]any, error) {
	out := make(map[string]any, len(mapping))
	for k, v := range mapping {
		resolved, err := r.value(v, res)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}

// Expand replaces ${name} placeholders in s.
func (r *Reshaper) Expand(s string, res notation.Resolver) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	result := placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if res != nil {
			if val, ok := res.Lookup(name); ok {
				return stringify(val)
			}
		}
		switch r.missingAction {
		case MissingEmpty:
			return ""
		case MissingError:
			missing = append(missing, name)
			return match
		default:
			return match
		}
	})

	if len(missing) > 0 {
		return result, &UndefinedVariableError{Names: missing}
	}
	return result, nil
}

func (r *Reshaper) value(v any, res notation.Resolver) (any, error) {
	switch val := v.(type) {
	case string:
		if notation.IsPath(val) {
			if res == nil {
				return nil, nil
			}
			found, ok := res.Lookup(val)
			if !ok {
				return nil, nil
			}
			return found, nil
		}
		return r.Expand(val, res)
	case map[string]any:
		return r.Reshape(val, res)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := r.value(item, res)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// stringify renders a placeholder value. Collections are rendered as JSON.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// UndefinedVariableError is returned under MissingError when placeholders
// do not resolve.
type UndefinedVariableError struct {
	Names []string
}

// Error implements the error interface.
func (e *UndefinedVariableError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("undefined variable: %s", e.Names[0])
	}
	return fmt.Sprintf("undefined variables: %s", strings.Join(e.Names, ", "))
}
