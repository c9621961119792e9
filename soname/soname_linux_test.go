//go:build linux && (amd64 || arm64)

package soname

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/ebitengine/purego"
)

func TestPatchedCopiesLoadIndependently_Linux(t *testing.T) {
	if _, err := exec.LookPath("zig"); err != nil {
		t.Skip("zig not found in PATH")
	}

	tmp := t.TempDir()
	soPath := filepath.Join(tmp, fmt.Sprintf("libstubdriver-%s.so", runtime.GOARCH))
	buildStubDriver(t, soPath, "libstubdriver.so")

	const copies = 3
	var tokens Counter
	handles := make(map[uintptr]string, copies)
	identities := make(map[uintptr]bool, copies)
	for i := 0; i < copies; i++ {
		p, err := Materialize(soPath, "", &tokens)
		if err != nil {
			t.Fatalf("Materialize: %v", err)
		}
		t.Cleanup(func() { _ = p.Close() })

		handle, err := purego.Dlopen(p.LoadPath(), purego.RTLD_NOW|purego.RTLD_LOCAL)
		if err != nil {
			t.Fatalf("Dlopen(%s): %v", p.LoadPath(), err)
		}
		if prev, dup := handles[handle]; dup {
			t.Fatalf("copy %s aliased to %s", p.Token, prev)
		}
		handles[handle] = p.Token

		sym, err := purego.Dlsym(handle, "stub_identity")
		if err != nil {
			t.Fatalf("Dlsym(stub_identity): %v", err)
		}
		id, _, _ := purego.SyscallN(sym)
		if identities[id] {
			t.Fatalf("copy %s shares data with an earlier copy", p.Token)
		}
		identities[id] = true
	}
}

func buildStubDriver(t *testing.T, output, soname string) {
	t.Helper()

	var zigTarget string
	switch runtime.GOARCH {
	case "amd64":
		zigTarget = "x86_64-linux-gnu"
	case "arm64":
		zigTarget = "aarch64-linux-gnu"
	default:
		t.Fatalf("unsupported GOARCH for linux test: %s", runtime.GOARCH)
	}

	source := filepath.Join("..", "testdata", "c", "stub_driver.c")
	cmd := exec.Command("zig", "cc",
		"-target", zigTarget,
		"-shared", "-fPIC",
		"-O2", "-g0",
		"-Wl,-soname,"+soname,
		"-o", output,
		source,
	)
	cmd.Env = append(
		os.Environ(),
		"ZIG_GLOBAL_CACHE_DIR="+filepath.Join(os.TempDir(), "drvinject-zig-global-cache"),
		"ZIG_LOCAL_CACHE_DIR="+filepath.Join(os.TempDir(), "drvinject-zig-local-cache"),
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build stub shared object: %v\n%s", err, out)
	}
}
