package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/ruleflow/pkg/ruleflow"
	"github.com/randalmurphal/ruleflow/pkg/ruleflow/destination"
)

// Scenario is a self-contained dispatch input: the catalog, the
// destinations and the events with their matched rules.
type Scenario struct {
	Profile      *ruleflow.Profile         `yaml:"profile"`
	Session      *ruleflow.Session         `yaml:"session"`
	Tracker      ruleflow.TrackerPayload   `yaml:"tracker"`
	Flows        []ruleflow.Flow           `yaml:"flows"`
	Resources    []destination.Resource    `yaml:"resources"`
	Destinations []destination.Destination `yaml:"destinations"`
	Events       []ScenarioEvent           `yaml:"events"`
}

// ScenarioEvent is an event and its rules. A null rule stands for a rule
// that was deleted.
type ScenarioEvent struct {
	Event ruleflow.Event   `yaml:"event"`
	Rules []map[string]any `yaml:"rules"`
}

// LoadScenario reads a YAML scenario. Unknown keys are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Scenario
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &s, nil
}

// EventRules converts the scenario events to orchestrator input.
func (s *Scenario) EventRules() []ruleflow.EventRules {
	out := make([]ruleflow.EventRules, 0, len(s.Events))
	for _, ev := range s.Events {
		rules := make([]ruleflow.RawRule, len(ev.Rules))
		for i, r := range ev.Rules {
			if r != nil {
				rules[i] = ruleflow.RawRule(r)
			}
		}
		out = append(out, ruleflow.EventRules{Event: ev.Event, Rules: rules})
	}
	return out
}

// Problem is one validation finding. Warnings describe input the
// orchestrator tolerates, such as a rule that was deleted.
type Problem struct {
	Where   string `json:"where"`
	Message string `json:"message"`
	Warning bool   `json:"warning,omitempty"`
}

// Check decodes every rule and validates the destinations and resources
// against the scenario's catalog.
func (s *Scenario) Check() []Problem {
	var problems []Problem
	add := func(where, format string, args ...any) {
		problems = append(problems, Problem{Where: where, Message: fmt.Sprintf(format, args...)})
	}

	flows := make(map[string]bool, len(s.Flows))
	for i, f := range s.Flows {
		where := fmt.Sprintf("flows[%d]", i)
		if f.ID == "" {
			add(where, "id is required")
			continue
		}
		if flows[f.ID] {
			add(where, "duplicate flow id %q", f.ID)
		}
		flows[f.ID] = true
	}

	resources := make(map[string]bool, len(s.Resources))
	for i := range s.Resources {
		r := &s.Resources[i]
		where := fmt.Sprintf("resources[%d]", i)
		if err := r.Validate(); err != nil {
			add(where, "%v", err)
			continue
		}
		resources[r.ID] = true
	}

	for i := range s.Destinations {
		d := &s.Destinations[i]
		where := fmt.Sprintf("destinations[%d]", i)
		if err := d.Validate(); err != nil {
			add(where, "%v", err)
			continue
		}
		if !resources[d.Resource.ID] {
			add(where, "resource %q is not defined", d.Resource.ID)
		}
	}

	for i, ev := range s.Events {
		for j, raw := range ev.Rules {
			where := fmt.Sprintf("events[%d].rules[%d]", i, j)
			if raw == nil {
				problems = append(problems, Problem{Where: where, Message: ruleflow.ErrDanglingRule.Error(), Warning: true})
				continue
			}
			rule, err := ruleflow.DecodeRule(raw)
			if err != nil {
				add(where, "%v", err)
				continue
			}
			if rule.Enabled && !flows[rule.Flow.ID] {
				add(where, "flow %q is not defined", rule.Flow.ID)
			}
		}
	}
	return problems
}

// postInvokeEvents returns the result's events ordered by id.
func postInvokeEvents(res *ruleflow.Result) []ruleflow.Event {
	ids := make([]string, 0, len(res.PostInvokeEvents))
	for id := range res.PostInvokeEvents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]ruleflow.Event, 0, len(ids))
	for _, id := range ids {
		out = append(out, res.PostInvokeEvents[id])
	}
	return out
}
