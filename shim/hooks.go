package shim

import (
	"errors"

	"github.com/sliverarmory/drvinject/internal/cstr"
)

// InstallSymbol is exported by the interposer library. It takes the three
// hook addresses returned by NativeHooks, in Hooks field order.
const InstallSymbol = "drvinject_interpose_install"

// ErrNoCallbacks is returned where Go functions cannot be exposed as C
// function pointers.
var ErrNoCallbacks = errors.New("shim: native callbacks unsupported on this platform")

// Hooks are C-callable addresses of the dispatch functions. The interposer
// library calls them with the original caller's return address appended.
type Hooks struct {
	Dlopen    uintptr
	Dlsym     uintptr
	DlopenExt uintptr
}

// The hook bodies take raw C arguments. flags is a C int.

func dlopenHook(name, flags, caller uintptr) uintptr {
	return Dlopen(cstr.FromPtr(name), int(int32(flags)), caller)
}

func dlsymHook(handle, symbol, caller uintptr) uintptr {
	return Dlsym(handle, cstr.FromPtr(symbol), caller)
}

func dlopenExtHook(name, flags, info, caller uintptr) uintptr {
	return DlopenExt(cstr.FromPtr(name), int(int32(flags)), info, caller)
}
