//go:build !android

package drvinject

import (
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
)

func TestBootstrapFallsBackWithoutNamespaces(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	handler := memory.New()
	cfg := DefaultConfig()
	cfg.APILevel = 34
	cfg.LibraryDir = t.TempDir()
	cfg.Logger = &log.Logger{Handler: handler, Level: log.DebugLevel}

	d, err := Bootstrap(cfg)
	if d != nil || KindOf(err) != PlatformUnsupported {
		t.Fatalf("Bootstrap = %v, %v; want PlatformUnsupported", d, err)
	}
	if Active() {
		t.Fatal("Active without namespace support")
	}
	if _, err := newPlatformLinker(34).EntryPoints(); err == nil {
		t.Fatal("EntryPoints succeeded on a platform without namespaces")
	}
}
