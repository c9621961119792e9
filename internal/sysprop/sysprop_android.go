//go:build android

package sysprop

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/ebitengine/purego"

	"github.com/sliverarmory/drvinject/internal/cstr"
)

var (
	propGetOnce sync.Once
	propGet     uintptr
	propGetErr  error
)

// Get reads a system property through libc's __system_property_get.
func Get(name string) (string, error) {
	propGetOnce.Do(func() {
		libc, err := purego.Dlopen("libc.so", purego.RTLD_NOW)
		if err != nil {
			propGetErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
			return
		}
		propGet, propGetErr = purego.Dlsym(libc, "__system_property_get")
	})
	if propGetErr != nil {
		return "", propGetErr
	}

	cName, err := cstr.Bytes(name)
	if err != nil {
		return "", err
	}
	value := make([]byte, propValueMax)
	n, _, _ := purego.SyscallN(propGet, cstr.Ptr(cName), cstr.Ptr(value))
	runtime.KeepAlive(cName)
	runtime.KeepAlive(value)
	if int(n) <= 0 || int(n) > len(value) {
		return "", fmt.Errorf("%w: %s not set", ErrUnavailable, name)
	}
	return string(value[:n]), nil
}
