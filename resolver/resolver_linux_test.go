//go:build linux && (amd64 || arm64)

package resolver

import (
	"os"
	"runtime"
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"
)

// TestResolveInternalEntryExecuteOnly maps a stand-in trampoline as
// execute-only and checks that resolution restores read access and follows
// the branch. The code is never executed.
func TestResolveInternalEntryExecuteOnly(t *testing.T) {
	var code []byte
	var branchAt uint64
	switch runtime.GOARCH {
	case "arm64":
		code = arm64Words(arm64STP, arm64MOVL, arm64Branch(0x800, true), arm64RET)
		branchAt = 8
	case "amd64":
		code = []byte{0x55, 0x48, 0x89, 0xe5, 0xe8, 0x00, 0x08, 0x00, 0x00, 0xc3}
		branchAt = 4 + 5
	}

	mem, err := unix.Mmap(-1, 0, unix.Getpagesize(), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		t.Fatalf("mmap: %v", err)
	}
	t.Cleanup(func() { _ = unix.Munmap(mem) })
	copy(mem, code)
	if err := unix.Mprotect(mem, unix.PROT_EXEC); err != nil {
		t.Skipf("mprotect(PROT_EXEC) not permitted: %v", err)
	}

	base := uintptr(unsafe.Pointer(&mem[0]))
	got, err := ResolveInternalEntry(base)
	if err != nil {
		t.Fatalf("ResolveInternalEntry(%#x): %v", base, err)
	}
	if want := base + uintptr(branchAt) + 0x800; got != want {
		t.Fatalf("ResolveInternalEntry: got=%#x want=%#x", got, want)
	}

	raw, err := os.ReadFile("/proc/self/maps")
	if err != nil {
		t.Fatalf("read maps: %v", err)
	}
	_, needsRead, _, err := scanWindow(parseMaps(string(raw)), base, 16)
	if err != nil {
		t.Fatalf("scanWindow after resolve: %v", err)
	}
	if needsRead {
		t.Fatalf("trampoline page is still execute-only after resolve")
	}
}

func TestResolveInternalEntryNil(t *testing.T) {
	if _, err := ResolveInternalEntry(0); err != ErrNilTrampoline {
		t.Fatalf("ResolveInternalEntry(0): got=%v want=%v", err, ErrNilTrampoline)
	}
}
