/*
Package template reshapes a destination mapping into the payload an adapter
receives.

A mapping is a tree of maps, slices and scalars. Reshape walks it and returns
a new tree with the same keys:

  - a string that is exactly a path (profile@traits.email) becomes the value
    found there, keeping its type; a path with no value becomes nil
  - other strings have ${path} placeholders expanded in place
  - every other value is copied unchanged

Example:

	r := template.New()
	payload, err := r.Reshape(map[string]any{
	    "email":   "profile@traits.email",
	    "items":   "event@properties.items",
	    "subject": "Order ${event@properties.order_id} confirmed",
	    "static":  42,
	}, accessor)

Placeholders resolve through any notation.Resolver, so plain names work with
a map-backed resolver too:

	out, _ := r.Expand("Hello ${name}", condition.Vars{"name": "World"})

Missing placeholders are kept by default; see WithMissingAction.
*/
package template
