package kernel

// Kind classifies a kernel error so that callers can decide how to react to a
// failure without having to compare against every error value a subsystem
// may return.
type Kind uint8

const (
	// Internal flags an invariant violation. Errors of this kind indicate
	// a bug and are the only ones that should abort.
	Internal Kind = iota

	// InvalidArgument is reported for absent references, zero or
	// misaligned sizes, out of range indices and disallowed flag
	// combinations.
	InvalidArgument

	// NotFound is reported when an address lies beyond the bounds of the
	// object it targets.
	NotFound

	// NoMemory is reported when an allocator runs out of pages.
	NoMemory

	// BadState is reported when an operation targets an object in the
	// wrong state (e.g. freeing a page that is not allocated).
	BadState
)

// String implements fmt.Stringer for Kind.
func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid argument"
	case NotFound:
		return "not found"
	case NoMemory:
		return "no memory"
	case BadState:
		return "bad state"
	default:
		return "internal"
	}
}

// Error describes a kernel error. All kernel errors must be defined as global
// variables that are pointers to the Error structure so that callers can
// compare them by identity.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string

	// The error classification.
	Kind Kind
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// IsKind returns true if err is a non-nil kernel error of the given kind.
func IsKind(err *Error, kind Kind) bool {
	return err != nil && err.Kind == kind
}
