// Package rules defines the declarative policy unit evaluated by Arbiter.
//
// A Rule is pre-structured data: a list of conditions combined with "all" or
// "any" logic, a list of actions to apply when the rule matches, a priority
// (0-1000), a risk weight (0-100), and optional dependencies on other rules.
// Rules are loaded from YAML or JSON documents (see package source) or
// registered at runtime through the engine API; they are never parsed from
// free text.
//
// # Validation
//
// Validate reports configuration errors (unknown operators, out-of-range
// priority, uncompilable patterns, ...) as a *ValidationError that wraps
// ErrInvalidRule. Lint reports authoring warnings that do not prevent
// registration, such as unconditional rules or deprecated rules.
//
//	if err := rules.Validate(rule); err != nil {
//	    var verr *rules.ValidationError
//	    if errors.As(err, &verr) {
//	        for _, fe := range verr.Errors {
//	            log.Println(fe.Field, fe.Message)
//	        }
//	    }
//	}
//
// Lifecycle metadata (Deprecated, ReplacedBy, MinVersion) is surfaced as
// warnings only and never changes whether a rule matches.
package rules
