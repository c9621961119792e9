// Package drvinject substitutes an application-supplied GPU driver for the
// one the OS would load, by driving the dynamic linker's namespace
// internals from user space.
//
// Bootstrap loads a SONAME-patched copy of the system graphics loader and
// the replacement driver into an isolated linker namespace, then wires the
// interception shim so that the loader's attempt to open the platform
// driver yields the replacement instead. The resulting process-address
// lookup function is what graphics layers consume.
package drvinject

import (
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/apex/log"

	"github.com/sliverarmory/drvinject/namespace"
	"github.com/sliverarmory/drvinject/shim"
	"github.com/sliverarmory/drvinject/soname"
)

// Linker is the platform surface Bootstrap drives. Tests substitute it.
type Linker interface {
	namespace.Backend
	// EntryPoints returns the real linker implementations for the shim.
	EntryPoints() (shim.EntryPoints, error)
	// Call invokes a C function in a loaded library.
	Call(fn uintptr, args ...uintptr) (uintptr, error)
}

// Config controls Bootstrap.
type Config struct {
	Enabled bool
	// LibraryDir holds the replacement driver, usually the app's native
	// library directory.
	LibraryDir string
	// DriverName is the replacement driver's file name inside LibraryDir.
	DriverName string
	// InterposerName is the interposer library's file name inside
	// LibraryDir. It is built from interposer/drvinject_interpose.c.
	InterposerName string
	// CacheDir receives patched copies. Empty selects anonymous
	// memory-backed files.
	CacheDir string

	SystemLoaderPath string
	SystemLibDir     string
	VendorLibDir     string
	ProcAddrSymbol   string
	Shim             shim.Options

	// APILevel overrides the detected OS version when non-zero.
	APILevel int
	Logger   log.Interface
	Linker   Linker
}

func libDirName() string {
	if strconv.IntSize == 32 {
		return "lib"
	}
	return "lib64"
}

// DefaultConfig returns the configuration for a Vulkan driver on a stock
// Android system image.
func DefaultConfig() Config {
	lib := libDirName()
	return Config{
		Enabled:          true,
		DriverName:       "libvulkan_freedreno.so",
		InterposerName:   "libdrvinject_interpose.so",
		SystemLoaderPath: filepath.Join("/system", lib, "libvulkan.so"),
		SystemLibDir:     filepath.Join("/system", lib),
		VendorLibDir:     filepath.Join("/vendor", lib),
		ProcAddrSymbol:   "vkGetInstanceProcAddr",
		Shim:             shim.DefaultOptions(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.DriverName == "" {
		c.DriverName = def.DriverName
	}
	if c.InterposerName == "" {
		c.InterposerName = def.InterposerName
	}
	if c.SystemLoaderPath == "" {
		c.SystemLoaderPath = def.SystemLoaderPath
	}
	if c.SystemLibDir == "" {
		c.SystemLibDir = def.SystemLibDir
	}
	if c.VendorLibDir == "" {
		c.VendorLibDir = def.VendorLibDir
	}
	if c.ProcAddrSymbol == "" {
		c.ProcAddrSymbol = def.ProcAddrSymbol
	}
	if c.Shim.LoaderMatch == "" {
		c.Shim.LoaderMatch = def.Shim.LoaderMatch
	}
	if c.Shim.DriverMatch == "" {
		c.Shim.DriverMatch = def.Shim.DriverMatch
	}
	if c.Logger == nil {
		c.Logger = log.Log
	}
	return c
}

// Driver is the result of a successful Bootstrap.
type Driver struct {
	Namespace    namespace.Namespace
	LoaderHandle namespace.Handle
	DriverHandle namespace.Handle
	// ProcAddr is the loader's process-address lookup function.
	ProcAddr uintptr

	DriverPath   string
	LoaderToken  string
	LoaderSoname string
	// LoaderCopy is the cached copy's path; empty for anonymous copies.
	LoaderCopy   string
	ProcAddrName string
}

// process holds the write-once state shared by every Bootstrap call.
var process struct {
	mu        sync.Mutex
	manager   *namespace.Manager
	namespace namespace.Namespace
	driver    atomic.Pointer[Driver]
}

// Active reports whether driver injection is live in this process.
func Active() bool {
	return process.driver.Load() != nil
}

// Current returns the active driver, or nil.
func Current() *Driver {
	return process.driver.Load()
}

// Reset discards all process state, including the shim table and the token
// counter. It exists for tests; a loaded driver cannot be unloaded.
func Reset() {
	process.mu.Lock()
	defer process.mu.Unlock()

	process.manager = nil
	process.namespace = 0
	process.driver.Store(nil)
	_ = shim.Init(shim.DefaultOptions())
	soname.ResetTokens()
}
