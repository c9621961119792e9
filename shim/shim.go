// Package shim redirects selected library-load requests to handles that
// were loaded ahead of time.
//
// The rule table is written once while the driver is bootstrapped and read
// on every intercepted call afterwards. Reads are lock-free: each write
// publishes a new immutable snapshot.
package shim

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

// State is the lifecycle position of the rule table.
type State int

const (
	Uninitialized State = iota
	ProcAddrsSet
	HandlesRegistered
	Active
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case ProcAddrsSet:
		return "proc-addrs-set"
	case HandlesRegistered:
		return "handles-registered"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EntryPoints are the real linker implementations the shim delegates to.
// caller is the return address of the intercepted call; the linker uses it
// to pick the namespace a load happens in.
type EntryPoints struct {
	Dlopen    func(name string, flags int, caller uintptr) uintptr
	Dlsym     func(handle uintptr, symbol string, caller uintptr) uintptr
	DlopenExt func(name string, flags int, info, caller uintptr) uintptr
}

func (ep EntryPoints) complete() bool {
	return ep.Dlopen != nil && ep.Dlsym != nil && ep.DlopenExt != nil
}

// Options select which requests are redirected. Matches are substrings of
// the requested library name.
type Options struct {
	LoaderMatch string
	DriverMatch string
}

// DefaultOptions redirect the Vulkan loader and the Adreno HAL driver.
func DefaultOptions() Options {
	return Options{
		LoaderMatch: "libvulkan.so",
		DriverMatch: "vulkan.adreno",
	}
}

// Rule maps requested names containing Match to Handle.
type Rule struct {
	Match  string
	Handle uintptr
}

func (r Rule) matches(name string) bool {
	return r.Handle != 0 && name != "" && strings.Contains(name, r.Match)
}

// ErrMisuse is wrapped by every MisuseError.
var ErrMisuse = errors.New("shim: entry point used out of order")

// MisuseError is the panic value raised when the shim is driven out of
// order. Continuing would silently corrupt driver selection for every
// caller in the process.
type MisuseError struct {
	Op    string
	State State
}

func (e *MisuseError) Error() string {
	return fmt.Sprintf("shim: %s called in state %s", e.Op, e.State)
}

func (e *MisuseError) Unwrap() error {
	return ErrMisuse
}

type table struct {
	state  State
	opts   Options
	real   EntryPoints
	loader Rule
	driver Rule
}

var current atomic.Pointer[table]

// Init installs an empty table. It is the only way to reset the shim.
func Init(opts Options) error {
	if opts.LoaderMatch == "" || opts.DriverMatch == "" {
		return errors.New("shim: empty match would redirect every request")
	}
	current.Store(&table{state: Uninitialized, opts: opts})
	return nil
}

// CurrentState reports the lifecycle position, Uninitialized before Init.
func CurrentState() State {
	if t := current.Load(); t != nil {
		return t.state
	}
	return Uninitialized
}

// Rules returns the registered loader and driver rules.
func Rules() (loader, driver Rule) {
	if t := current.Load(); t != nil {
		return t.loader, t.driver
	}
	return Rule{}, Rule{}
}

// SetRealEntryPoints records the real implementations. It must be the first
// call after Init and may only happen once.
func SetRealEntryPoints(ep EntryPoints) {
	t := current.Load()
	if t == nil || t.state != Uninitialized {
		misuse("SetRealEntryPoints", t)
	}
	if !ep.complete() {
		panic(fmt.Errorf("%w: SetRealEntryPoints with missing implementation", ErrMisuse))
	}
	next := *t
	next.real = ep
	next.state = ProcAddrsSet
	current.Store(&next)
}

// Armed reports whether real entry points are installed. Once armed the
// table never returns to Uninitialized, except through Init.
func Armed() bool {
	t := current.Load()
	return t != nil && t.state != Uninitialized
}

// Disarm drops both rules and keeps the real entry points, so every request
// passes through unchanged. Handles can be registered again afterwards.
func Disarm() {
	t := current.Load()
	if t == nil || t.state == Uninitialized {
		return
	}
	current.Store(&table{state: ProcAddrsSet, opts: t.opts, real: t.real})
}

// RegisterLoaderHandle redirects load-by-name requests matching the loader
// rule to handle.
func RegisterLoaderHandle(handle uintptr) {
	register("RegisterLoaderHandle", handle, func(t *table) *Rule { return &t.loader }, func(o Options) string { return o.LoaderMatch })
}

// RegisterDriverHandle redirects extended-load requests matching the driver
// rule to handle.
func RegisterDriverHandle(handle uintptr) {
	register("RegisterDriverHandle", handle, func(t *table) *Rule { return &t.driver }, func(o Options) string { return o.DriverMatch })
}

func register(op string, handle uintptr, slot func(*table) *Rule, match func(Options) string) {
	t := current.Load()
	if t == nil || (t.state != ProcAddrsSet && t.state != HandlesRegistered) {
		misuse(op, t)
	}
	if handle == 0 || slot(t).Handle != 0 {
		misuse(op, t)
	}
	next := *t
	*slot(&next) = Rule{Match: match(t.opts), Handle: handle}
	next.state = HandlesRegistered
	if next.loader.Handle != 0 && next.driver.Handle != 0 {
		next.state = Active
	}
	current.Store(&next)
}

// Dlopen is the load-by-name override.
func Dlopen(name string, flags int, caller uintptr) uintptr {
	t := loaded("Dlopen")
	if t.loader.matches(name) {
		return t.loader.Handle
	}
	return t.real.Dlopen(name, flags, caller)
}

// DlopenExt is the extended-load override used by vendor HAL code to open
// the platform driver.
func DlopenExt(name string, flags int, info, caller uintptr) uintptr {
	t := loaded("DlopenExt")
	if t.driver.matches(name) {
		return t.driver.Handle
	}
	return t.real.DlopenExt(name, flags, info, caller)
}

// Dlsym always resolves through the real implementation.
func Dlsym(handle uintptr, symbol string, caller uintptr) uintptr {
	return loaded("Dlsym").real.Dlsym(handle, symbol, caller)
}

func loaded(op string) *table {
	t := current.Load()
	if t == nil || t.state == Uninitialized {
		misuse(op, t)
	}
	return t
}

func misuse(op string, t *table) {
	state := Uninitialized
	if t != nil {
		state = t.state
	}
	panic(&MisuseError{Op: op, State: state})
}
