package drvinject

import (
	"errors"
	"fmt"
)

// ErrDisabled is returned when Config.Enabled is false.
var ErrDisabled = errors.New("drvinject: driver injection disabled")

// ErrInvalidConfig is returned for a Config that cannot be bootstrapped.
var ErrInvalidConfig = errors.New("drvinject: invalid config")

// Kind classifies a bootstrap failure.
type Kind int

const (
	// PlatformUnsupported means the linker has no usable namespaces on this
	// OS version. It is a feature-gate result rather than a fault.
	PlatformUnsupported Kind = iota + 1
	// SymbolResolutionFailure means an expected linker or driver entry point
	// was not found.
	SymbolResolutionFailure
	// ElfPatchFailure means a library could not be SONAME-patched.
	ElfPatchFailure
	// LibraryLoadFailure means the linker refused a load.
	LibraryLoadFailure
	// StateMisuseFailure means the shim was configured out of order.
	StateMisuseFailure
)

func (k Kind) String() string {
	switch k {
	case PlatformUnsupported:
		return "platform unsupported"
	case SymbolResolutionFailure:
		return "symbol resolution failure"
	case ElfPatchFailure:
		return "ELF patch failure"
	case LibraryLoadFailure:
		return "library load failure"
	case StateMisuseFailure:
		return "state misuse"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is returned by Bootstrap. Stage is the last stage that completed.
type Error struct {
	Stage Stage
	Kind  Kind
	Path  string
	Err   error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("drvinject: %s after %s (%s): %v", e.Kind, e.Stage, e.Path, e.Err)
	}
	return fmt.Sprintf("drvinject: %s after %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of a Bootstrap error, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
