package drvinject

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/apex/log"

	"github.com/sliverarmory/drvinject/internal/sysprop"
	"github.com/sliverarmory/drvinject/namespace"
	"github.com/sliverarmory/drvinject/shim"
	"github.com/sliverarmory/drvinject/soname"
)

// NamespaceName names the isolated namespace holding the loader copy and
// the replacement driver.
const NamespaceName = "drvinject"

// dlopen flags, LP64 bionic values.
const (
	rtldNow    = 2
	rtldLocal  = 0
	rtldGlobal = 0x100
)

// Stage is a Bootstrap milestone. Stages only advance.
type Stage int

const (
	StageStart Stage = iota
	StageNamespaceReady
	StageLoaderPatched
	StageDriverLoaded
	StageShimWired
	StageProcAddrExposed
)

func (s Stage) String() string {
	switch s {
	case StageStart:
		return "start"
	case StageNamespaceReady:
		return "namespace ready"
	case StageLoaderPatched:
		return "loader patched"
	case StageDriverLoaded:
		return "driver loaded"
	case StageShimWired:
		return "shim wired"
	case StageProcAddrExposed:
		return "proc addr exposed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Bootstrap runs the injection sequence once per process. Later calls
// return the active Driver. Any failure leaves the process on the system
// driver and is returned as *Error.
func Bootstrap(cfg Config) (*Driver, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	process.mu.Lock()
	defer process.mu.Unlock()

	if d := process.driver.Load(); d != nil {
		return d, nil
	}

	cfg = cfg.withDefaults()
	b := &bootstrap{
		cfg: cfg,
		log: cfg.Logger.WithFields(log.Fields{
			"driver": cfg.DriverName,
			"loader": cfg.SystemLoaderPath,
		}),
	}
	start := time.Now()
	d, err := b.run()
	if err != nil {
		entry := b.log.WithError(err).WithFields(log.Fields{
			"stage": b.stage.String(),
			"kind":  KindOf(err).String(),
		})
		if b.knownDisabled {
			entry.Debug("driver injection unavailable, keeping system driver")
		} else {
			entry.Warn("driver injection failed, keeping system driver")
		}
		return nil, err
	}
	process.driver.Store(d)
	b.log.WithFields(log.Fields{
		"token":   d.LoaderToken,
		"elapsed": time.Since(start).String(),
	}).Info("driver injection active")
	return d, nil
}

func (c Config) validate() error {
	if c.LibraryDir == "" {
		return fmt.Errorf("%w: LibraryDir is empty", ErrInvalidConfig)
	}
	if !filepath.IsAbs(c.LibraryDir) {
		return fmt.Errorf("%w: LibraryDir %q is not absolute", ErrInvalidConfig, c.LibraryDir)
	}
	if c.CacheDir != "" && !filepath.IsAbs(c.CacheDir) {
		return fmt.Errorf("%w: CacheDir %q is not absolute", ErrInvalidConfig, c.CacheDir)
	}
	return nil
}

type bootstrap struct {
	cfg   Config
	log   log.Interface
	stage Stage
	// knownDisabled is set when the failure is the manager's disabled
	// capability, which the manager has already logged.
	knownDisabled bool
}

func (b *bootstrap) fail(kind Kind, path string, err error) error {
	return &Error{Stage: b.stage, Kind: kind, Path: path, Err: err}
}

func (b *bootstrap) advance(s Stage) {
	b.stage = s
	b.log.WithField("stage", s.String()).Debug("bootstrap stage reached")
}

func (b *bootstrap) linker() (Linker, error) {
	if b.cfg.Linker != nil {
		return b.cfg.Linker, nil
	}
	level := b.cfg.APILevel
	if level == 0 {
		detected, err := sysprop.APILevel()
		if err != nil {
			b.log.WithError(err).Debug("api level unavailable")
		}
		level = detected
	}
	return newPlatformLinker(level), nil
}

func (b *bootstrap) manager(l Linker) *namespace.Manager {
	if process.manager == nil {
		process.manager = namespace.NewManager(l, b.cfg.Logger)
	}
	return process.manager
}

func (b *bootstrap) namespaceSpec() namespace.Spec {
	search := []string{b.cfg.LibraryDir}
	if b.cfg.CacheDir != "" {
		search = append(search, b.cfg.CacheDir)
	}
	return namespace.Spec{
		Name:         NamespaceName,
		SearchPaths:  search,
		DefaultPaths: []string{b.cfg.SystemLibDir},
		Mode:         namespace.Isolated,
		PermittedPaths: []string{
			b.cfg.SystemLibDir,
			b.cfg.VendorLibDir,
			b.cfg.LibraryDir,
			b.cfg.CacheDir,
		},
	}
}

func (b *bootstrap) run() (d *Driver, err error) {
	b.stage = StageStart

	l, err := b.linker()
	if err != nil {
		return nil, b.fail(PlatformUnsupported, "", err)
	}
	m := b.manager(l)
	if !m.Supported() {
		b.knownDisabled = true
		reason := m.Err()
		if reason == nil || errors.Is(reason, namespace.ErrPlatformUnsupported) {
			return nil, b.fail(PlatformUnsupported, "", namespace.ErrPlatformUnsupported)
		}
		return nil, b.fail(SymbolResolutionFailure, "", reason)
	}

	if process.namespace == 0 {
		ns, err := m.CreateNamespace(b.namespaceSpec())
		if err != nil {
			return nil, b.fail(LibraryLoadFailure, "", err)
		}
		if err := m.LinkToDefault(ns); err != nil {
			return nil, b.fail(LibraryLoadFailure, "", err)
		}
		process.namespace = ns
	}
	ns := process.namespace
	b.advance(StageNamespaceReady)

	// Real entry points are captured once per process. Interposed calls may
	// already be in flight on a retry, so the table is never reset here.
	if !shim.Armed() {
		ep, err := l.EntryPoints()
		if err != nil {
			return nil, b.fail(SymbolResolutionFailure, "", err)
		}
		if err := shim.Init(b.cfg.Shim); err != nil {
			return nil, b.fail(StateMisuseFailure, "", err)
		}
		if err := setEntryPoints(ep); err != nil {
			return nil, b.fail(StateMisuseFailure, "", err)
		}
	}
	// Until the proc addr is exposed every failure must leave intercepted
	// calls passing straight through.
	defer func() {
		if err != nil {
			shim.Disarm()
		}
	}()

	if err := b.installInterposer(l, m, ns); err != nil {
		return nil, err
	}

	if err := soname.PruneCache(b.cfg.CacheDir); err != nil {
		b.log.WithError(err).Debug("cache prune incomplete")
	}
	loaderPath := b.cfg.SystemLoaderPath
	patched, err := soname.Materialize(loaderPath, b.cfg.CacheDir, soname.Tokens())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, b.fail(LibraryLoadFailure, loaderPath, err)
		}
		return nil, b.fail(ElfPatchFailure, loaderPath, err)
	}
	defer patched.Close()

	loaderHandle, err := m.LoadFileInNamespace(patched.File, rtldNow|rtldLocal, ns)
	if err != nil {
		return nil, b.fail(LibraryLoadFailure, loaderPath, err)
	}
	b.log.WithFields(log.Fields{
		"token":    patched.Token,
		"original": patched.Original,
	}).Debug("loader copy loaded")
	b.advance(StageLoaderPatched)

	driverPath := filepath.Join(b.cfg.LibraryDir, b.cfg.DriverName)
	if _, err := os.Stat(driverPath); err != nil {
		return nil, b.fail(LibraryLoadFailure, driverPath, err)
	}
	driverHandle, err := m.LoadInNamespace(driverPath, rtldNow|rtldLocal, ns)
	if err != nil {
		return nil, b.fail(LibraryLoadFailure, driverPath, err)
	}
	b.advance(StageDriverLoaded)

	if err := registerHandles(loaderHandle, driverHandle); err != nil {
		return nil, b.fail(StateMisuseFailure, "", err)
	}
	b.advance(StageShimWired)

	procAddr, err := m.Symbol(loaderHandle, b.cfg.ProcAddrSymbol)
	if err != nil {
		return nil, b.fail(SymbolResolutionFailure, loaderPath, err)
	}
	b.advance(StageProcAddrExposed)

	return &Driver{
		Namespace:    ns,
		LoaderHandle: loaderHandle,
		DriverHandle: driverHandle,
		ProcAddr:     procAddr,
		DriverPath:   driverPath,
		LoaderToken:  patched.Token,
		LoaderSoname: patched.Original,
		LoaderCopy:   patched.Path,
		ProcAddrName: b.cfg.ProcAddrSymbol,
	}, nil
}

// installInterposer loads the interposer into ns with global visibility, so
// libraries loaded there later bind their dlopen family imports to it, and
// points it at the shim's native hooks.
func (b *bootstrap) installInterposer(l Linker, m *namespace.Manager, ns namespace.Namespace) error {
	hooks, err := shim.NativeHooks()
	if err != nil {
		return b.fail(PlatformUnsupported, "", err)
	}
	path := filepath.Join(b.cfg.LibraryDir, b.cfg.InterposerName)
	if _, err := os.Stat(path); err != nil {
		return b.fail(LibraryLoadFailure, path, err)
	}
	h, err := m.LoadInNamespace(path, rtldNow|rtldGlobal, ns)
	if err != nil {
		return b.fail(LibraryLoadFailure, path, err)
	}
	install, err := m.Symbol(h, shim.InstallSymbol)
	if err != nil {
		return b.fail(SymbolResolutionFailure, path, err)
	}
	if _, err := l.Call(install, hooks.Dlopen, hooks.Dlsym, hooks.DlopenExt); err != nil {
		return b.fail(SymbolResolutionFailure, path, err)
	}
	b.log.WithField("path", path).Debug("interposer installed")
	return nil
}

// setEntryPoints and registerHandles turn shim misuse panics into errors;
// Bootstrap must never take the process down.
func setEntryPoints(ep shim.EntryPoints) (err error) {
	defer recoverMisuse(&err)
	shim.SetRealEntryPoints(ep)
	return nil
}

func registerHandles(loader, driver namespace.Handle) (err error) {
	defer recoverMisuse(&err)
	shim.RegisterDriverHandle(uintptr(driver))
	shim.RegisterLoaderHandle(uintptr(loader))
	return nil
}

func recoverMisuse(err *error) {
	r := recover()
	if r == nil {
		return
	}
	if e, ok := r.(error); ok && errors.Is(e, shim.ErrMisuse) {
		*err = e
		return
	}
	panic(r)
}
