//go:build !android && !darwin && !freebsd && !linux && !netbsd

package namespace

import "errors"

var errNoDlopen = errors.New("namespace: dynamic loading is not supported on this platform")

// Ordinary is a placeholder backend for platforms without dlopen.
type Ordinary struct{}

// NewOrdinaryBackend returns a backend on which every operation fails.
func NewOrdinaryBackend() *Ordinary {
	return &Ordinary{}
}

func (Ordinary) Capability() error { return ErrPlatformUnsupported }

func (Ordinary) CreateNamespace(Spec) (Namespace, error) { return 0, ErrPlatformUnsupported }

func (Ordinary) LinkAllLibraries(Namespace, Namespace) error { return ErrPlatformUnsupported }

func (Ordinary) Open(string, int, *ExtInfo) (Handle, error) { return 0, errNoDlopen }

func (Ordinary) Symbol(Handle, string) (uintptr, error) { return 0, errNoDlopen }
