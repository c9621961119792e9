// Package cstr marshals NUL-terminated strings for raw calls into the
// dynamic linker.
package cstr

import (
	"errors"
	"strings"
	"unsafe"
)

// ErrEmbeddedNUL is returned for Go strings that cannot be represented as C
// strings.
var ErrEmbeddedNUL = errors.New("string contains NUL")

// maxLen bounds reads of foreign strings such as dlerror() messages.
const maxLen = 1 << 20

// Bytes returns s as a NUL-terminated byte slice.
func Bytes(s string) ([]byte, error) {
	if strings.ContainsRune(s, '\x00') {
		return nil, ErrEmbeddedNUL
	}
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b, nil
}

// Ptr returns the address of the first byte of b, or 0 for an empty slice.
// Callers keep b alive with runtime.KeepAlive across the call that uses it.
func Ptr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

// FromPtr copies the NUL-terminated string at ptr.
func FromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	buf := make([]byte, 0, 64)
	for i := 0; i < maxLen; i++ {
		ch := *(*byte)(unsafe.Pointer(ptr + uintptr(i)))
		if ch == 0 {
			return string(buf)
		}
		buf = append(buf, ch)
	}
	return string(buf)
}

// Join builds a colon separated search path list, skipping empty entries.
func Join(paths []string) string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ":")
}
