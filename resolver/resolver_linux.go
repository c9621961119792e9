//go:build linux

package resolver

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ResolveInternalEntry follows the relative branch inside the trampoline at
// the given address and returns the branch target. Execute-only code pages
// are made readable first.
func ResolveInternalEntry(trampoline uintptr) (uintptr, error) {
	if trampoline == 0 {
		return 0, ErrNilTrampoline
	}
	arch, err := HostArch()
	if err != nil {
		return 0, err
	}

	raw, err := os.ReadFile("/proc/self/maps")
	if err != nil {
		return 0, fmt.Errorf("read /proc/self/maps: %w", err)
	}
	window, needsRead, m, err := scanWindow(parseMaps(string(raw)), trampoline, MaxScanBytes)
	if err != nil {
		return 0, err
	}
	if needsRead {
		if err := makeReadable(trampoline, window); err != nil {
			return 0, fmt.Errorf("resolver: add read permission to %s: %w", m.path, err)
		}
	}

	code := unsafe.Slice((*byte)(unsafe.Pointer(trampoline)), window)
	target, err := FindBranchTarget(arch, code, uint64(trampoline))
	if err != nil {
		return 0, fmt.Errorf("decode trampoline %#x in %s: %w", trampoline, m.path, err)
	}
	return uintptr(target), nil
}

func makeReadable(addr uintptr, n int) error {
	pageSize := uintptr(unix.Getpagesize())
	start := addr &^ (pageSize - 1)
	end := (addr + uintptr(n) + pageSize - 1) &^ (pageSize - 1)
	pages := unsafe.Slice((*byte)(unsafe.Pointer(start)), end-start)
	return unix.Mprotect(pages, unix.PROT_READ|unix.PROT_EXEC)
}
