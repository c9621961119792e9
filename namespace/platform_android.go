//go:build android

package namespace

// NewPlatformBackend returns the bionic backend gated on apiLevel.
func NewPlatformBackend(apiLevel int) Backend {
	return NewBionicBackend(apiLevel)
}
