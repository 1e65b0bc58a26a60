// Package notation provides path-based read access over the data a
// destination or condition can see: profile, session, payload, event, flow
// and memory.
//
// A path names a source and a dotted location inside it:
//
//	profile@traits.email
//	event@properties.items.0.sku
//	session@context.browser.name
//
// Sources are normalized through JSON on construction, so struct values are
// addressed by their JSON field names.
package notation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Source names recognized by NewAccessor.
const (
	SourceProfile = "profile"
	SourceSession = "session"
	SourcePayload = "payload"
	SourceEvent   = "event"
	SourceFlow    = "flow"
	SourceMemory  = "memory"
)

// Separator splits a source name from the dotted location.
const Separator = "@"

// Resolver looks up a name and reports whether it was found.
// Accessor and condition.Vars both implement it.
type Resolver interface {
	Lookup(name string) (any, bool)
}

// Sources holds the raw values an Accessor reads from.
// Nil fields are treated as empty.
type Sources struct {
	Profile any
	Session any
	Payload any
	Event   any
	Flow    any
	Memory  any
}

// Accessor resolves paths against a fixed set of sources.
// It is safe for concurrent reads after construction.
type Accessor struct {
	sources map[string]any
}

// NewAccessor normalizes every source and returns an Accessor over them.
// It fails only when a source cannot be marshaled to JSON.
func NewAccessor(src Sources) (*Accessor, error) {
	raw := map[string]any{
		SourceProfile: src.Profile,
		SourceSession: src.Session,
		SourcePayload: src.Payload,
		SourceEvent:   src.Event,
		SourceFlow:    src.Flow,
		SourceMemory:  src.Memory,
	}
	a := &Accessor{sources: make(map[string]any, len(raw))}
	for name, v := range raw {
		norm, err := normalize(v)
		if err != nil {
			return nil, fmt.Errorf("normalize %s: %w", name, err)
		}
		a.sources[name] = norm
	}
	return a, nil
}

// IsPath reports whether s is written in source@location notation with a
// known source and contains no whitespace or placeholder braces.
func IsPath(s string) bool {
	if strings.ContainsAny(s, " \t\n${}") {
		return false
	}
	source, _, ok := strings.Cut(s, Separator)
	if !ok {
		return false
	}
	switch source {
	case SourceProfile, SourceSession, SourcePayload, SourceEvent, SourceFlow, SourceMemory:
		return true
	}
	return false
}

// Get resolves a path. A path with an empty location ("profile@") returns
// the whole source.
func (a *Accessor) Get(path string) (any, error) {
	source, location, ok := strings.Cut(path, Separator)
	if !ok {
		return nil, &PathError{Path: path, Reason: "missing " + Separator}
	}
	root, known := a.sources[source]
	if !known {
		return nil, &PathError{Path: path, Reason: "unknown source " + strconv.Quote(source)}
	}
	if location == "" {
		return root, nil
	}

	current := root
	for _, segment := range strings.Split(location, ".") {
		next, found := step(current, segment)
		if !found {
			return nil, &PathError{Path: path, Reason: "no value at " + strconv.Quote(segment)}
		}
		current = next
	}
	return current, nil
}

// Lookup implements Resolver. Names that are not paths, and paths that do
// not resolve, report false.
func (a *Accessor) Lookup(name string) (any, bool) {
	if !IsPath(name) {
		return nil, false
	}
	v, err := a.Get(name)
	if err != nil {
		return nil, false
	}
	return v, true
}

func step(current any, segment string) (any, bool) {
	switch node := current.(type) {
	case map[string]any:
		v, ok := node[segment]
		return v, ok
	case []any:
		i, err := strconv.Atoi(segment)
		if err != nil || i < 0 || i >= len(node) {
			return nil, false
		}
		return node[i], true
	default:
		return nil, false
	}
}

// normalize converts v into the generic JSON shape (maps, slices, float64,
// string, bool, nil). Values already in that shape are still copied so the
// Accessor never aliases caller data.
func normalize(v any) (any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return map[string]any{}, nil
	}
	return out, nil
}

// PathError reports a path that could not be resolved.
type PathError struct {
	Path   string
	Reason string
}

// Error implements the error interface.
func (e *PathError) Error() string {
	return fmt.Sprintf("path %q: %s", e.Path, e.Reason)
}
