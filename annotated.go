package dynamake

// AnnotatedPath carries per-path flags through require/action without
// changing the string's identity as a map key. Plain strings behave as
// all-false AnnotatedPaths; use the With* helpers to attach flags.
type AnnotatedPath struct {
	Path string

	// Optional marks that absence of this path is not an error.
	Optional bool
	// Phony marks that this name is not a disk file: always dirty when
	// required, and synthesizes a timestamp on produce.
	Phony bool
	// ExistsOnly marks that only existence matters, not modification time.
	ExistsOnly bool
	// Precious marks that the engine must never delete this path.
	Precious bool
	// Emphasized marks that log lines should render this path in bold.
	Emphasized bool
}

func newAnnotatedPath(path string) AnnotatedPath {
	return AnnotatedPath{Path: path}
}

func (p AnnotatedPath) String() string { return p.Path }

// WithOptional returns a copy of p marked optional.
func (p AnnotatedPath) WithOptional() AnnotatedPath { p.Optional = true; return p }

// WithPhony returns a copy of p marked phony.
func (p AnnotatedPath) WithPhony() AnnotatedPath { p.Phony = true; return p }

// WithExistsOnly returns a copy of p marked exists-only.
func (p AnnotatedPath) WithExistsOnly() AnnotatedPath { p.ExistsOnly = true; return p }

// WithPrecious returns a copy of p marked precious.
func (p AnnotatedPath) WithPrecious() AnnotatedPath { p.Precious = true; return p }

// WithEmphasized returns a copy of p marked emphasized.
func (p AnnotatedPath) WithEmphasized() AnnotatedPath { p.Emphasized = true; return p }

// CopyAnnotations copies the flags of src onto a new AnnotatedPath wrapping
// the literal string value, preserving flags across format/expand
// operations.
func CopyAnnotations(src AnnotatedPath, value string) AnnotatedPath {
	dst := src
	dst.Path = value
	return dst
}
