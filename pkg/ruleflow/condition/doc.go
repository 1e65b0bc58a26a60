/*
Package condition evaluates the boolean guard attached to a destination.

# Syntax

	<expr> := <expr> 'or' <expr>
	        | <expr> 'and' <expr>
	        | 'not' <expr>
	        | '!' <expr>
	        | 'exists' <operand>
	        | <operand> <op> <operand>
	        | <operand>

	<op> := '==' | '!=' | '<' | '>' | '<=' | '>=' | 'contains'

'and' binds tighter than 'or'. Parentheses are not supported.

# Operands

An operand is a quoted string, a number, true/false, null, or a name. Names
are looked up through a Resolver; a notation.Accessor resolves paths such as
profile@traits.email, and Vars resolves plain keys. A name that does not
resolve is treated as a string literal, except under 'exists' where it makes
the expression false.

	profile@traits.country == 'PL' and profile@stats.visits > 3
	exists profile@traits.email
	not event@properties.test

Equality compares the formatted values, so 42 == 42.0 holds. Ordering
operators compare numerically.

A comparison with an empty operand ("a == ") is malformed and returns an
error wrapping ErrMalformed.
*/
package condition
