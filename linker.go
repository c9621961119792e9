package drvinject

import (
	"github.com/sliverarmory/drvinject/namespace"
	"github.com/sliverarmory/drvinject/shim"
)

// realLinker is implemented by backends that can call the linker's own
// load and lookup routines and plain C functions.
type realLinker interface {
	RealDlopen(name string, flags int, caller uintptr) uintptr
	RealDlsym(handle uintptr, symbol string, caller uintptr) uintptr
	RealDlopenExt(name string, flags int, info, caller uintptr) uintptr
	Call(fn uintptr, args ...uintptr) (uintptr, error)
}

type platformLinker struct {
	namespace.Backend
}

func newPlatformLinker(apiLevel int) Linker {
	return platformLinker{Backend: namespace.NewPlatformBackend(apiLevel)}
}

func (p platformLinker) real() (realLinker, error) {
	if err := p.Capability(); err != nil {
		return nil, err
	}
	r, ok := p.Backend.(realLinker)
	if !ok {
		return nil, namespace.ErrPlatformUnsupported
	}
	return r, nil
}

func (p platformLinker) EntryPoints() (shim.EntryPoints, error) {
	r, err := p.real()
	if err != nil {
		return shim.EntryPoints{}, err
	}
	return shim.EntryPoints{
		Dlopen:    r.RealDlopen,
		Dlsym:     r.RealDlsym,
		DlopenExt: r.RealDlopenExt,
	}, nil
}

func (p platformLinker) Call(fn uintptr, args ...uintptr) (uintptr, error) {
	r, err := p.real()
	if err != nil {
		return 0, err
	}
	return r.Call(fn, args...)
}
