//go:build !linux

package resolver

import "errors"

// ResolveInternalEntry is only implemented for linux and android.
func ResolveInternalEntry(trampoline uintptr) (uintptr, error) {
	_ = trampoline
	return 0, errors.New("resolver: live resolution is only supported on linux and android")
}
