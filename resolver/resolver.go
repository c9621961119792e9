// Package resolver locates non-exported dynamic linker entry points by
// decoding the public trampolines that tail-call into them.
//
// The decoding half is pure: DecodeBranch and FindBranchTarget operate on
// byte slices and can be exercised against captured instruction sequences.
// ResolveInternalEntry is the thin adapter that reads live executable memory.
package resolver

import (
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"
)

// MaxScanBytes bounds how far past a trampoline the scanner looks for the
// branch into the linker. Bionic's libdl trampolines reach their branch
// within the first handful of instructions.
const MaxScanBytes = 256

// MinNamespaceAPILevel is the first Android API level whose linker exposes
// the namespace internals this module drives.
const MinNamespaceAPILevel = 28

var (
	ErrBranchNotFound  = errors.New("resolver: no relative branch within scan window")
	ErrUnsupportedArch = errors.New("resolver: unsupported architecture")
	ErrUnmapped        = errors.New("resolver: trampoline address is not mapped")
	ErrNilTrampoline   = errors.New("resolver: nil trampoline address")
)

// Arch selects the instruction decoder.
type Arch int

const (
	ArchUnknown Arch = iota
	ArchARM64
	ArchAMD64
)

func (a Arch) String() string {
	switch a {
	case ArchARM64:
		return "arm64"
	case ArchAMD64:
		return "amd64"
	default:
		return "unknown"
	}
}

// minStep is the resync distance after an undecodable instruction.
func (a Arch) minStep() int {
	if a == ArchARM64 {
		return 4
	}
	return 1
}

// HostArch reports the decoder for the running process.
func HostArch() (Arch, error) {
	switch runtime.GOARCH {
	case "arm64":
		return ArchARM64, nil
	case "amd64":
		return ArchAMD64, nil
	default:
		return ArchUnknown, fmt.Errorf("%w: %s", ErrUnsupportedArch, runtime.GOARCH)
	}
}

// Branch is a decoded PC-relative branch.
type Branch struct {
	// Offset is relative to the address Base returns for the instruction.
	Offset int64
	// Len is the encoded instruction length in bytes.
	Len int
	// Link is set for branch-with-link (BL, CALL).
	Link bool
	arch Arch
}

// Target returns the absolute destination of a branch located at pc.
func (b Branch) Target(pc uint64) uint64 {
	base := pc
	if b.arch == ArchAMD64 {
		// x86 displacements are relative to the next instruction.
		base += uint64(b.Len)
	}
	return base + uint64(b.Offset)
}

// DecodeBranch decodes the single instruction at the start of code. size is
// the instruction length, or 0 when the bytes do not decode. ok reports
// whether the instruction is an unconditional fixed-width relative branch.
func DecodeBranch(arch Arch, code []byte) (br Branch, size int, ok bool) {
	switch arch {
	case ArchARM64:
		if len(code) < 4 {
			return Branch{}, 0, false
		}
		inst, err := arm64asm.Decode(code[:4])
		if err != nil {
			return Branch{}, 0, false
		}
		if inst.Op != arm64asm.B && inst.Op != arm64asm.BL {
			return Branch{}, 4, false
		}
		// B.cond decodes as B with a condition in Args[0].
		rel, isRel := inst.Args[0].(arm64asm.PCRel)
		if !isRel {
			return Branch{}, 4, false
		}
		return Branch{Offset: int64(rel), Len: 4, Link: inst.Op == arm64asm.BL, arch: arch}, 4, true
	case ArchAMD64:
		inst, err := x86asm.Decode(code, 64)
		if err != nil {
			return Branch{}, 0, false
		}
		if inst.Op != x86asm.CALL && inst.Op != x86asm.JMP {
			return Branch{}, inst.Len, false
		}
		rel, isRel := inst.Args[0].(x86asm.Rel)
		if !isRel || inst.Len != 5 {
			return Branch{}, inst.Len, false
		}
		return Branch{Offset: int64(rel), Len: inst.Len, Link: inst.Op == x86asm.CALL, arch: arch}, inst.Len, true
	default:
		return Branch{}, 0, false
	}
}

// FindBranchTarget scans code, which starts at address pc, for the first
// relative branch and returns its absolute target. The scan never looks
// past MaxScanBytes.
func FindBranchTarget(arch Arch, code []byte, pc uint64) (uint64, error) {
	if arch != ArchARM64 && arch != ArchAMD64 {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedArch, arch)
	}
	if len(code) > MaxScanBytes {
		code = code[:MaxScanBytes]
	}
	for off := 0; off < len(code); {
		br, size, ok := DecodeBranch(arch, code[off:])
		if ok {
			return br.Target(pc + uint64(off)), nil
		}
		if size <= 0 {
			size = arch.minStep()
		}
		off += size
	}
	return 0, ErrBranchNotFound
}
