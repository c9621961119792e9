//go:build (darwin || linux) && (amd64 || arm64)

package shim

import (
	"sync"

	"github.com/ebitengine/purego"
)

var nativeHooks = sync.OnceValue(func() Hooks {
	return Hooks{
		Dlopen:    purego.NewCallback(dlopenHook),
		Dlsym:     purego.NewCallback(dlsymHook),
		DlopenExt: purego.NewCallback(dlopenExtHook),
	}
})

// NativeHooks returns the dispatch functions as C function pointers. They
// are created once; purego callbacks are never freed.
func NativeHooks() (Hooks, error) {
	return nativeHooks(), nil
}
