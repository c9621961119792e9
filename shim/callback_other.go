//go:build !((darwin || linux) && (amd64 || arm64))

package shim

// NativeHooks is unavailable without purego callback support.
func NativeHooks() (Hooks, error) {
	return Hooks{}, ErrNoCallbacks
}
