//go:build !android && (darwin || freebsd || linux || netbsd)

package namespace

import (
	"github.com/ebitengine/purego"
)

// Ordinary is the backend for platforms without linker namespaces: every
// load is a plain dlopen.
type Ordinary struct{}

// NewOrdinaryBackend returns a backend that only supports ordinary loading.
func NewOrdinaryBackend() *Ordinary {
	return &Ordinary{}
}

// Capability implements Backend.
func (Ordinary) Capability() error {
	return ErrPlatformUnsupported
}

// CreateNamespace implements Backend.
func (Ordinary) CreateNamespace(Spec) (Namespace, error) {
	return 0, ErrPlatformUnsupported
}

// LinkAllLibraries implements Backend.
func (Ordinary) LinkAllLibraries(Namespace, Namespace) error {
	return ErrPlatformUnsupported
}

// Open implements Backend.
func (Ordinary) Open(path string, flags int, info *ExtInfo) (Handle, error) {
	if info != nil {
		return 0, ErrPlatformUnsupported
	}
	h, err := purego.Dlopen(path, flags)
	if err != nil {
		return 0, err
	}
	return Handle(h), nil
}

// Symbol implements Backend.
func (Ordinary) Symbol(h Handle, name string) (uintptr, error) {
	return purego.Dlsym(uintptr(h), name)
}
