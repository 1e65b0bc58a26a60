package template

// MissingAction specifies how an unresolved ${placeholder} is handled.
// Whole-string paths are not affected: a missing path value is always nil.
type MissingAction int

const (
	// MissingKeep leaves the placeholder in the output. This is the default.
	MissingKeep MissingAction = iota

	// MissingEmpty replaces the placeholder with an empty string.
	MissingEmpty

	// MissingError fails the reshape with an UndefinedVariableError.
	MissingError
)

// Option configures a Reshaper.
type Option func(*Reshaper)

// WithMissingAction sets how unresolved placeholders are handled.
func WithMissingAction(action MissingAction) Option {
	return func(r *Reshaper) {
		r.missingAction = action
	}
}
