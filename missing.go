package dynamake

// MissingInputsPolicy controls how RequireGlob treats a capture-pattern
// that matches no existing file, the Go port of dynamake.make.MissingInputs.
type MissingInputsPolicy int

const (
	// MissingInputsForbidden treats any missing input as an error. Default.
	MissingInputsForbidden MissingInputsPolicy = iota
	// MissingInputsAssumeUpToDate allows missing inputs to pass through
	// silently, for intermediate files that may have been cleaned up.
	MissingInputsAssumeUpToDate
	// MissingInputsOptional allows missing inputs unconditionally, for
	// genuinely optional action inputs.
	MissingInputsOptional
)

// MissingOutputsPolicy controls how collectFinalOutputs treats a
// non-phony declared output pattern that matches no file after the action
// runs, the Go port of dynamake.make.MissingOutputs.
type MissingOutputsPolicy int

const (
	// MissingOutputsForbidden treats any missing output as an error. Default.
	MissingOutputsForbidden MissingOutputsPolicy = iota
	// MissingOutputsPartial allows some output patterns to match nothing as
	// long as the action produced at least one output file overall.
	MissingOutputsPartial
	// MissingOutputsOptional allows the action to produce no outputs at all.
	MissingOutputsOptional
)
