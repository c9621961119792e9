//go:build android

package namespace

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/sliverarmory/drvinject/internal/cstr"
	"github.com/sliverarmory/drvinject/resolver"
)

// Bionic drives the Android linker through its non-exported __loader_*
// entry points, located by following libdl's public trampolines.
type Bionic struct {
	err error

	libdl     uintptr
	dlerror   uintptr
	dlopenT   uintptr
	dlsymT    uintptr
	dlopenExt uintptr

	loaderDlopen    uintptr
	loaderDlsym     uintptr
	loaderDlopenExt uintptr

	createNamespace uintptr
	linkAllLibs     uintptr
}

// NewBionicBackend resolves the linker internals. Below
// resolver.MinNamespaceAPILevel nothing is resolved and the backend only
// supports ordinary loading. A resolution failure is recorded rather than
// returned so the caller's Manager can disable itself.
func NewBionicBackend(apiLevel int) *Bionic {
	b := &Bionic{}
	libdl, err := purego.Dlopen("libdl.so", purego.RTLD_NOW)
	if err != nil {
		b.err = fmt.Errorf("dlopen(libdl.so): %w", err)
		return b
	}
	b.libdl = libdl

	for _, sym := range []struct {
		name string
		dst  *uintptr
	}{
		{"dlerror", &b.dlerror},
		{"dlopen", &b.dlopenT},
		{"dlsym", &b.dlsymT},
		{"android_dlopen_ext", &b.dlopenExt},
	} {
		addr, err := purego.Dlsym(libdl, sym.name)
		if err != nil {
			b.err = fmt.Errorf("dlsym(%s): %w", sym.name, err)
			return b
		}
		*sym.dst = addr
	}

	if apiLevel < resolver.MinNamespaceAPILevel {
		b.err = fmt.Errorf("%w: api level %d < %d", ErrPlatformUnsupported, apiLevel, resolver.MinNamespaceAPILevel)
		return b
	}
	b.err = b.resolve()
	return b
}

func (b *Bionic) resolve() error {
	var err error
	if b.loaderDlopen, err = resolver.ResolveInternalEntry(b.dlopenT); err != nil {
		return fmt.Errorf("resolve __loader_dlopen: %w", err)
	}
	if b.loaderDlsym, err = resolver.ResolveInternalEntry(b.dlsymT); err != nil {
		return fmt.Errorf("resolve __loader_dlsym: %w", err)
	}
	if b.loaderDlopenExt, err = resolver.ResolveInternalEntry(b.dlopenExt); err != nil {
		return fmt.Errorf("resolve __loader_android_dlopen_ext: %w", err)
	}

	// libdl_android.so is only visible from the default namespace, which is
	// where libdl itself lives; pass a libdl address as the caller.
	libdlAndroid := b.loaderOpen("libdl_android.so", purego.RTLD_NOW)
	if libdlAndroid == 0 {
		return fmt.Errorf("load libdl_android.so: %w", b.lastError("unknown dlopen error"))
	}
	if b.createNamespace = b.loaderSym(libdlAndroid, "android_create_namespace"); b.createNamespace == 0 {
		return fmt.Errorf("dlsym(android_create_namespace): %w", b.lastError("symbol not found"))
	}
	if b.linkAllLibs = b.loaderSym(libdlAndroid, "android_link_namespaces_all_libs"); b.linkAllLibs == 0 {
		return fmt.Errorf("dlsym(android_link_namespaces_all_libs): %w", b.lastError("symbol not found"))
	}
	return nil
}

// Capability implements Backend.
func (b *Bionic) Capability() error {
	return b.err
}

// CreateNamespace implements Backend.
func (b *Bionic) CreateNamespace(spec Spec) (Namespace, error) {
	if b.createNamespace == 0 {
		return 0, ErrPlatformUnsupported
	}
	name, err := cstr.Bytes(spec.Name)
	if err != nil {
		return 0, err
	}
	search, err := optionalPathList(spec.SearchPaths)
	if err != nil {
		return 0, err
	}
	defaults, err := optionalPathList(spec.DefaultPaths)
	if err != nil {
		return 0, err
	}
	permitted, err := optionalPathList(spec.PermittedPaths)
	if err != nil {
		return 0, err
	}

	ns, _, _ := purego.SyscallN(b.createNamespace,
		cstr.Ptr(name),
		cstr.Ptr(search),
		cstr.Ptr(defaults),
		uintptr(spec.Mode),
		cstr.Ptr(permitted),
		uintptr(spec.Parent),
	)
	runtime.KeepAlive(name)
	runtime.KeepAlive(search)
	runtime.KeepAlive(defaults)
	runtime.KeepAlive(permitted)
	if ns == 0 {
		return 0, b.lastError("android_create_namespace failed")
	}
	return Namespace(ns), nil
}

// LinkAllLibraries implements Backend.
func (b *Bionic) LinkAllLibraries(from, to Namespace) error {
	if b.linkAllLibs == 0 {
		return ErrPlatformUnsupported
	}
	ok, _, _ := purego.SyscallN(b.linkAllLibs, uintptr(from), uintptr(to))
	if ok&0xff == 0 {
		return b.lastError("android_link_namespaces_all_libs failed")
	}
	return nil
}

// Open implements Backend.
func (b *Bionic) Open(path string, flags int, info *ExtInfo) (Handle, error) {
	if info == nil {
		h, err := purego.Dlopen(path, flags)
		if err != nil {
			return 0, err
		}
		return Handle(h), nil
	}
	cPath, err := cstr.Bytes(path)
	if err != nil {
		return 0, err
	}
	// clear stale dlerror
	_, _, _ = purego.SyscallN(b.dlerror)
	h, _, _ := purego.SyscallN(b.dlopenExt, cstr.Ptr(cPath), uintptr(flags), uintptr(unsafe.Pointer(info)))
	runtime.KeepAlive(cPath)
	runtime.KeepAlive(info)
	if h == 0 {
		return 0, b.lastError("unknown android_dlopen_ext error")
	}
	return Handle(h), nil
}

// Symbol implements Backend.
func (b *Bionic) Symbol(h Handle, name string) (uintptr, error) {
	return purego.Dlsym(uintptr(h), name)
}

// RealDlopen calls __loader_dlopen on behalf of caller, or of libdl when
// caller is zero. An empty name is passed as NULL.
func (b *Bionic) RealDlopen(name string, flags int, caller uintptr) uintptr {
	cName, ptr := nullableName(name)
	r, _, _ := purego.SyscallN(b.loaderDlopen, ptr, uintptr(flags), b.callerOr(caller, b.dlopenT))
	runtime.KeepAlive(cName)
	return r
}

// RealDlsym calls __loader_dlsym on behalf of caller, or of libdl.
func (b *Bionic) RealDlsym(handle uintptr, symbol string, caller uintptr) uintptr {
	cSym, err := cstr.Bytes(symbol)
	if err != nil {
		return 0
	}
	r, _, _ := purego.SyscallN(b.loaderDlsym, handle, cstr.Ptr(cSym), b.callerOr(caller, b.dlsymT))
	runtime.KeepAlive(cSym)
	return r
}

// RealDlopenExt calls __loader_android_dlopen_ext on behalf of caller, or
// of libdl.
func (b *Bionic) RealDlopenExt(name string, flags int, info, caller uintptr) uintptr {
	cName, ptr := nullableName(name)
	r, _, _ := purego.SyscallN(b.loaderDlopenExt, ptr, uintptr(flags), info, b.callerOr(caller, b.dlopenExt))
	runtime.KeepAlive(cName)
	return r
}

// Call invokes a C function with integer arguments.
func (b *Bionic) Call(fn uintptr, args ...uintptr) (uintptr, error) {
	if fn == 0 {
		return 0, ErrNilHandle
	}
	r, _, _ := purego.SyscallN(fn, args...)
	return r, nil
}

func (b *Bionic) callerOr(caller, trampoline uintptr) uintptr {
	if caller != 0 {
		return caller
	}
	return trampoline
}

func (b *Bionic) loaderOpen(name string, flags int) uintptr {
	return b.RealDlopen(name, flags, 0)
}

func (b *Bionic) loaderSym(handle uintptr, symbol string) uintptr {
	return b.RealDlsym(handle, symbol, 0)
}

func (b *Bionic) lastError(fallback string) error {
	if b.dlerror != 0 {
		msg, _, _ := purego.SyscallN(b.dlerror)
		if s := cstr.FromPtr(msg); s != "" {
			return errors.New(s)
		}
	}
	return errors.New(fallback)
}

func nullableName(name string) ([]byte, uintptr) {
	if name == "" {
		return nil, 0
	}
	b, err := cstr.Bytes(name)
	if err != nil {
		return nil, 0
	}
	return b, cstr.Ptr(b)
}

func optionalPathList(paths []string) ([]byte, error) {
	joined := cstr.Join(paths)
	if joined == "" {
		return nil, nil
	}
	return cstr.Bytes(joined)
}
