//go:build cgo && linux && !android && (amd64 || arm64)

package main

import (
	"runtime"
	"testing"

	"github.com/ebitengine/purego"

	"github.com/sliverarmory/drvinject"
)

func TestLoadCSharedLibraryFallsBack(t *testing.T) {
	requireCommand(t, "go")
	requireCommand(t, "zig")

	path, err := buildCSharedLib(t.TempDir(), "linux", runtime.GOARCH)
	if err != nil {
		t.Fatal(err)
	}
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		t.Fatalf("Dlopen(%s): %v", path, err)
	}
	// A Go c-shared module cannot be unloaded while its runtime is live.

	var (
		bootstrap func(libraryDir, cacheDir, driverName *byte) int32
		isActive  func() int32
		procAddr  func() uintptr
	)
	purego.RegisterLibFunc(&bootstrap, handle, "drvinject_bootstrap")
	purego.RegisterLibFunc(&isActive, handle, "drvinject_is_active")
	purego.RegisterLibFunc(&procAddr, handle, "drvinject_get_proc_addr")

	if got := bootstrap(nil, nil, nil); got != -2 {
		t.Fatalf("drvinject_bootstrap(NULL) = %d, want -2", got)
	}
	dir := append([]byte(t.TempDir()), 0)
	if got := bootstrap(&dir[0], nil, nil); got != int32(drvinject.PlatformUnsupported) {
		t.Fatalf("drvinject_bootstrap = %d, want %d", got, drvinject.PlatformUnsupported)
	}
	if isActive() != 0 || procAddr() != 0 {
		t.Fatal("library reports an active driver without namespace support")
	}
}
