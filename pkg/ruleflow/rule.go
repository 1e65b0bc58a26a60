package ruleflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

// FlowRef points a rule at the flow it triggers.
type FlowRef struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Rule routes events of one type to a flow.
type Rule struct {
	ID        string  `json:"id,omitempty" yaml:"id,omitempty"`
	Name      string  `json:"name" yaml:"name" validate:"required"`
	EventType string  `json:"event_type,omitempty" yaml:"event_type,omitempty"`
	Enabled   bool    `json:"enabled" yaml:"enabled"`
	Flow      FlowRef `json:"flow" yaml:"flow"`

	// Source is informational; source filtering uses the tracker payload.
	Source Entity `json:"source,omitempty" yaml:"source,omitempty"`

	// Consents lists the consents a profile must have granted.
	Consents []Entity `json:"consents,omitempty" yaml:"consents,omitempty" validate:"dive"`

	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// ConsentsSatisfied reports whether every required consent id is granted.
func (r *Rule) ConsentsSatisfied(granted map[string]struct{}) bool {
	for _, c := range r.Consents {
		if _, ok := granted[c.ID]; !ok {
			return false
		}
	}
	return true
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func ruleValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// DecodeRule decodes and validates a raw rule. Rules are enabled unless the
// raw rule says otherwise, and an enabled rule must name a flow.
func DecodeRule(raw RawRule) (*Rule, error) {
	if raw == nil {
		return nil, ErrDanglingRule
	}

	name, id := rawString(raw, "name"), rawString(raw, "id")
	if name == "" {
		name = "Unknown"
	}
	fail := func(field string, err error) (*Rule, error) {
		return nil, &ValidationError{RuleName: name, RuleID: id, Field: field, Err: err}
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return fail("", err)
	}
	rule := Rule{Enabled: true}
	if err := json.Unmarshal(data, &rule); err != nil {
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) {
			return fail(te.Field, err)
		}
		return fail("", err)
	}

	if err := ruleValidator().Struct(&rule); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fail(fe.Namespace(), fmt.Errorf("field %s failed %q", fe.Namespace(), fe.Tag()))
		}
		return fail("", err)
	}
	if rule.Enabled && rule.Flow.ID == "" {
		return fail("Rule.Flow.ID", errors.New("enabled rule has no flow id"))
	}
	return &rule, nil
}

func rawString(raw RawRule, key string) string {
	v, ok := raw[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
