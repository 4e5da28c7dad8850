package assign

import "fmt"

// ValidationError marks malformed caller input. Nothing has been
// mutated when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CommitError marks a store failure after a rider had already been
// selected. The engine has attempted compensation by the time the
// caller sees it.
type CommitError struct {
	Stage string
	Err   error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("assignment commit failed at %s: %v", e.Stage, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }
