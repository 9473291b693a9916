package maxutils

import "fmt"

// ScanError reports a failed or unparseable dependency introspection of a
// binary. It aborts a fix before any mutation.
type ScanError struct {
	Path string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scanning %s: %v", e.Path, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// CollisionError reports two distinct local dependencies resolving to the
// same destination basename. Proceeding would silently overwrite one with
// the other, so the fix is aborted instead.
type CollisionError struct {
	Name   string
	First  string
	Second string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("dependency name collision: %q resolves from both %s and %s",
		e.Name, e.First, e.Second)
}

// MaterializeError reports a failed copy of a dependency into the bundle.
type MaterializeError struct {
	Source string
	Dest   string
	Err    error
}

func (e *MaterializeError) Error() string {
	return fmt.Sprintf("copying %s to %s: %v", e.Source, e.Dest, e.Err)
}

func (e *MaterializeError) Unwrap() error { return e.Err }

// RewriteError reports a failed install-name edit. The bundle may be left
// with some references rewritten and others not; the only recovery is a
// fresh run against an unmodified copy.
type RewriteError struct {
	Target string
	Old    string
	New    string
	Err    error
}

func (e *RewriteError) Error() string {
	if e.Old == "" {
		return fmt.Sprintf("setting install name of %s to %q: %v", e.Target, e.New, e.Err)
	}
	return fmt.Sprintf("rewriting %q to %q in %s: %v", e.Old, e.New, e.Target, e.Err)
}

func (e *RewriteError) Unwrap() error { return e.Err }

// SignError reports a failed re-sign of a touched binary.
type SignError struct {
	Path string
	Err  error
}

func (e *SignError) Error() string {
	return fmt.Sprintf("re-signing %s: %v", e.Path, e.Err)
}

func (e *SignError) Unwrap() error { return e.Err }
