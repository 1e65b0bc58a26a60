package destination

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/randalmurphal/ruleflow/pkg/ruleflow"
)

// ResourceRef points a destination at its resource.
type ResourceRef struct {
	ID   string `json:"id" yaml:"id" validate:"required"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Destination describes where and how data is delivered.
type Destination struct {
	ID          string      `json:"id" yaml:"id" validate:"required"`
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled     bool        `json:"enabled" yaml:"enabled"`
	Resource    ResourceRef `json:"resource" yaml:"resource"`

	// Adapter is the registry path of the adapter, "namespace.Name".
	Adapter string `json:"adapter" yaml:"adapter" validate:"required"`

	// Mapping shapes the outbound payload. See template.Reshaper.
	Mapping map[string]any `json:"mapping,omitempty" yaml:"mapping,omitempty"`

	// Condition gates delivery for profile-scoped adapters.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Resource holds the connection settings shared by destinations.
type Resource struct {
	ID      string         `json:"id" yaml:"id" validate:"required"`
	Name    string         `json:"name" yaml:"name"`
	Type    string         `json:"type,omitempty" yaml:"type,omitempty"`
	Enabled bool           `json:"enabled" yaml:"enabled"`
	Config  map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Delivery is what an adapter sends.
type Delivery struct {
	Payload      map[string]any
	ProfileDelta map[string]any
	Profile      *ruleflow.Profile
	Session      *ruleflow.Session
	Events       []ruleflow.Event
}

// Scope is the read context conditions and mappings are evaluated against.
type Scope struct {
	Profile *ruleflow.Profile
	Session *ruleflow.Session
	Payload any
	Event   *ruleflow.Event
	Flow    *ruleflow.Flow
	Memory  map[string]any
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks required fields and the adapter path.
func (d *Destination) Validate() error {
	if err := structValidator().Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("destination %q: field %s failed %q", d.ID, verrs[0].Namespace(), verrs[0].Tag())
		}
		return err
	}
	if _, _, err := ParseAdapterPath(d.Adapter); err != nil {
		return fmt.Errorf("destination %q: %w", d.ID, err)
	}
	return nil
}

// Validate checks required fields.
func (r *Resource) Validate() error {
	if err := structValidator().Struct(r); err != nil {
		return fmt.Errorf("resource %q: %w", r.ID, err)
	}
	return nil
}
