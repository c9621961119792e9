// Package namespace creates and links isolated dynamic linker namespaces
// and loads libraries into them.
//
// Every operation degrades to ordinary loading when the platform has no
// namespace support, so callers never need to check OS versions. A single
// capability flag per Manager records whether namespaces are usable; once
// cleared it stays cleared.
package namespace

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/apex/log"
)

// Namespace is an opaque linker namespace. Zero means "no namespace".
type Namespace uintptr

// Handle is an opaque handle returned by a library load.
type Handle uintptr

// LinkMode mirrors ANDROID_NAMESPACE_TYPE_*.
type LinkMode uint64

const (
	Isolated LinkMode = 1
	Shared   LinkMode = 2
)

func (m LinkMode) String() string {
	switch m {
	case Isolated:
		return "isolated"
	case Shared:
		return "shared"
	case Isolated | Shared:
		return "isolated|shared"
	default:
		return fmt.Sprintf("mode(%d)", uint64(m))
	}
}

// Spec describes a namespace to create.
type Spec struct {
	Name           string
	SearchPaths    []string
	DefaultPaths   []string
	Mode           LinkMode
	PermittedPaths []string
	Parent         Namespace
}

var (
	ErrPlatformUnsupported = errors.New("namespace: linker namespaces unsupported on this platform")
	ErrNilHandle           = errors.New("namespace: load returned a nil handle")
)

// Backend talks to the platform linker.
type Backend interface {
	// Capability returns nil when namespace operations are available.
	Capability() error
	CreateNamespace(spec Spec) (Namespace, error)
	LinkAllLibraries(from, to Namespace) error
	// Open loads path. A nil info is an ordinary load.
	Open(path string, flags int, info *ExtInfo) (Handle, error)
	Symbol(h Handle, name string) (uintptr, error)
}

// peerName names the lazily created copy of the default namespace. The
// default namespace itself cannot be referenced, but a shared namespace
// without a parent inherits all of it.
const peerName = "default_copy"

// Manager applies the capability gate on top of a Backend.
type Manager struct {
	backend   Backend
	log       log.Interface
	supported atomic.Bool

	disableOnce sync.Once
	reason      error

	peerMu sync.Mutex
	peer   Namespace
}

// NewManager wraps backend. A backend that failed to resolve the linker
// internals yields a Manager with namespaces disabled; that is logged here,
// once.
func NewManager(backend Backend, logger log.Interface) *Manager {
	if logger == nil {
		logger = log.Log
	}
	m := &Manager{backend: backend, log: logger}
	if err := backend.Capability(); err != nil {
		m.Disable(err)
	} else {
		m.supported.Store(true)
	}
	return m
}

// Supported reports the capability flag.
func (m *Manager) Supported() bool {
	return m.supported.Load()
}

// Err returns why namespaces are disabled, or nil.
func (m *Manager) Err() error {
	if m.Supported() {
		return nil
	}
	return m.reason
}

// Disable clears the capability flag for good.
func (m *Manager) Disable(reason error) {
	m.disableOnce.Do(func() {
		m.supported.Store(false)
		m.reason = reason
		if reason == nil || errors.Is(reason, ErrPlatformUnsupported) {
			m.log.WithError(reason).Debug("linker namespaces unavailable, using ordinary loading")
			return
		}
		m.log.WithError(reason).Warn("linker internals unresolved, namespace features disabled")
	})
}

// CreateNamespace creates a namespace. It returns zero without error when
// namespaces are unsupported.
func (m *Manager) CreateNamespace(spec Spec) (Namespace, error) {
	if !m.Supported() {
		return 0, nil
	}
	ns, err := m.backend.CreateNamespace(spec)
	if err != nil {
		return 0, fmt.Errorf("create namespace %q: %w", spec.Name, err)
	}
	if ns == 0 {
		return 0, fmt.Errorf("create namespace %q: linker returned nil", spec.Name)
	}
	m.log.WithFields(log.Fields{
		"name": spec.Name,
		"mode": spec.Mode,
	}).Debug("namespace created")
	return ns, nil
}

// LinkAllLibraries makes every library of peer visible inside ns.
func (m *Manager) LinkAllLibraries(ns, peer Namespace) error {
	if !m.Supported() || ns == 0 {
		return nil
	}
	if err := m.backend.LinkAllLibraries(ns, peer); err != nil {
		return fmt.Errorf("link namespace %#x to %#x: %w", uintptr(ns), uintptr(peer), err)
	}
	return nil
}

// LinkToDefault links ns to a copy of the default namespace, creating the
// copy on first use. The copy is kept for the life of the Manager.
func (m *Manager) LinkToDefault(ns Namespace) error {
	if !m.Supported() || ns == 0 {
		return nil
	}
	peer, err := m.defaultPeer()
	if err != nil {
		return err
	}
	return m.LinkAllLibraries(ns, peer)
}

func (m *Manager) defaultPeer() (Namespace, error) {
	m.peerMu.Lock()
	defer m.peerMu.Unlock()

	if m.peer != 0 {
		return m.peer, nil
	}
	peer, err := m.CreateNamespace(Spec{Name: peerName, Mode: Shared})
	if err != nil {
		return 0, err
	}
	m.peer = peer
	return peer, nil
}

// LoadInNamespace loads path into ns, or loads it normally when ns is zero
// or namespaces are unsupported.
func (m *Manager) LoadInNamespace(path string, flags int, ns Namespace) (Handle, error) {
	var info *ExtInfo
	if m.Supported() && ns != 0 {
		info = &ExtInfo{Flags: DlextUseNamespace, Namespace: ns}
	}
	return m.open(path, flags, info)
}

// LoadFileInNamespace loads the shared object behind f into ns. Without
// namespace support the descriptor is opened through /proc/self/fd.
func (m *Manager) LoadFileInNamespace(f *os.File, flags int, ns Namespace) (Handle, error) {
	if f == nil {
		return 0, errors.New("namespace: nil file")
	}
	if !m.Supported() || ns == 0 {
		return m.open(fmt.Sprintf("/proc/self/fd/%d", f.Fd()), flags, nil)
	}
	info := &ExtInfo{
		Flags:     DlextUseNamespace | DlextUseLibraryFD,
		LibraryFD: int32(f.Fd()),
		Namespace: ns,
	}
	return m.open(f.Name(), flags, info)
}

func (m *Manager) open(path string, flags int, info *ExtInfo) (Handle, error) {
	h, err := m.backend.Open(path, flags, info)
	if err != nil {
		return 0, fmt.Errorf("load %s: %w", path, err)
	}
	if h == 0 {
		return 0, fmt.Errorf("load %s: %w", path, ErrNilHandle)
	}
	return h, nil
}

// Symbol resolves name in h.
func (m *Manager) Symbol(h Handle, name string) (uintptr, error) {
	addr, err := m.backend.Symbol(h, name)
	if err != nil {
		return 0, fmt.Errorf("dlsym(%s): %w", name, err)
	}
	if addr == 0 {
		return 0, fmt.Errorf("dlsym(%s): symbol address is nil", name)
	}
	return addr, nil
}
