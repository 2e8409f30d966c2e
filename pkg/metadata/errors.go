package metadata

import "fmt"

// DerivationError reports a derived parameter that could not be
// computed from its raw inputs. Derivations fail closed: a missing or
// zero denominator yields this error, never a default value.
type DerivationError struct {
	Param  string
	Reason string
}

func (e *DerivationError) Error() string {
	return fmt.Sprintf("deriving %s: %s", e.Param, e.Reason)
}

func derivationErr(param, format string, args ...any) error {
	return &DerivationError{Param: param, Reason: fmt.Sprintf(format, args...)}
}
