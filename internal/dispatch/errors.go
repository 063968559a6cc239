package dispatch

import "fmt"

// ValidationError reports a recognised command whose arguments could
// not be used. It never reaches the user; the pipeline moves on to the
// next stage instead.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
