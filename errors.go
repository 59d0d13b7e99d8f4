package dynamake

import "fmt"

// PatternError reports a malformed capture-pattern, with the offset of the
// offending character within the original pattern string.
type PatternError struct {
	Pattern string
	Offset  int
	Reason  string
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("invalid capture pattern:\n%s\n%s^ %s", e.Pattern, spaces(e.Offset), e.Reason)
}

func spaces(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}

// NonOptionalGlobError is returned by GlobCapture when a non-optional
// pattern's derived glob matches no files.
type NonOptionalGlobError struct {
	Glob    string
	Capture string
}

func (e *NonOptionalGlobError) Error() string {
	return fmt.Sprintf("non-optional glob %q (from capture %q) did not match", e.Glob, e.Capture)
}

// ResolutionError reports that two rules of equal priority both match a
// required path, so resolution cannot pick a winner.
type ResolutionError struct {
	Path  string
	Rule1 string
	Rule2 string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("the output %q may be created by both the rule %q and the rule %q at the same priority", e.Path, e.Rule1, e.Rule2)
}

// CycleError reports a reentrant invocation cycle.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	s := "invocation cycle detected: "
	for i, n := range e.Chain {
		if i > 0 {
			s += " -> "
		}
		s += n
	}
	return s
}

// restartSignal is returned internally by action() to request that the
// Invocation's handler be re-entered from the top with must-run forced.
// It is never surfaced to callers of BuildSession.Build.
type restartSignal struct{}

func (restartSignal) Error() string { return "restart: must run previously skipped action(s)" }
