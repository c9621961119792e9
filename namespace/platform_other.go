//go:build !android

package namespace

// NewPlatformBackend returns the ordinary-loading backend; apiLevel only
// matters on android.
func NewPlatformBackend(apiLevel int) Backend {
	_ = apiLevel
	return NewOrdinaryBackend()
}
