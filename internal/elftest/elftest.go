// Package elftest synthesizes minimal shared-object images for tests. The
// images carry program headers and a dynamic table but no code and no
// section headers, which is enough for anything that only inspects the
// dynamic section.
package elftest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// Options describes the image to build.
type Options struct {
	Class elf.Class
	// Soname is omitted from the dynamic table when empty.
	Soname string
	// Needed adds DT_NEEDED entries ahead of the SONAME in the string table.
	Needed []string
	// LoadBias is the virtual address of the single PT_LOAD segment.
	LoadBias uint64
	// SkipDynamic drops the PT_DYNAMIC program header.
	SkipDynamic bool
}

type dynEntry struct {
	tag elf.DynTag
	val uint64
}

// Build returns the image bytes. Class defaults to ELFCLASS64.
func Build(opts Options) []byte {
	if opts.Class == elf.ELFCLASS32 {
		return build32(opts)
	}
	return build64(opts)
}

func stringTable(opts Options) (strtab []byte, needed []uint64, soname uint64) {
	var buf bytes.Buffer
	buf.WriteByte(0)
	for _, name := range opts.Needed {
		needed = append(needed, uint64(buf.Len()))
		buf.WriteString(name)
		buf.WriteByte(0)
	}
	if opts.Soname != "" {
		soname = uint64(buf.Len())
		buf.WriteString(opts.Soname)
		buf.WriteByte(0)
	}
	// trailing string after the SONAME so overruns are detectable
	buf.WriteString("vkGetInstanceProcAddr")
	buf.WriteByte(0)
	for buf.Len()%8 != 0 {
		buf.WriteByte(0)
	}
	return buf.Bytes(), needed, soname
}

func dynamicEntries(opts Options, strtabAddr uint64, strtabSize uint64, needed []uint64, soname uint64) []dynEntry {
	entries := make([]dynEntry, 0, len(needed)+4)
	for _, off := range needed {
		entries = append(entries, dynEntry{elf.DT_NEEDED, off})
	}
	entries = append(entries,
		dynEntry{elf.DT_STRTAB, strtabAddr},
		dynEntry{elf.DT_STRSZ, strtabSize},
	)
	if opts.Soname != "" {
		entries = append(entries, dynEntry{elf.DT_SONAME, soname})
	}
	return append(entries, dynEntry{elf.DT_NULL, 0})
}

func ident(class elf.Class) [elf.EI_NIDENT]byte {
	var id [elf.EI_NIDENT]byte
	copy(id[:], elf.ELFMAG)
	id[elf.EI_CLASS] = byte(class)
	id[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	id[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	return id
}

func build64(opts Options) []byte {
	const (
		ehdrSize = 64
		phdrSize = 56
		dynSize  = 16
	)
	phnum := 2
	if opts.SkipDynamic {
		phnum = 1
	}
	strtab, needed, soname := stringTable(opts)
	strtabOff := uint64(ehdrSize + phdrSize*phnum)
	strtabOff = (strtabOff + 7) &^ 7
	dynOff := strtabOff + uint64(len(strtab))
	entries := dynamicEntries(opts, opts.LoadBias+strtabOff, uint64(len(strtab)), needed, soname)
	total := dynOff + uint64(len(entries)*dynSize)

	var buf bytes.Buffer
	le := binary.LittleEndian
	_ = binary.Write(&buf, le, elf.Header64{
		Ident:     ident(elf.ELFCLASS64),
		Type:      uint16(elf.ET_DYN),
		Machine:   uint16(elf.EM_AARCH64),
		Version:   uint32(elf.EV_CURRENT),
		Phoff:     ehdrSize,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     uint16(phnum),
		Shentsize: 64,
	})
	_ = binary.Write(&buf, le, elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_W),
		Vaddr:  opts.LoadBias,
		Paddr:  opts.LoadBias,
		Filesz: total,
		Memsz:  total,
		Align:  0x1000,
	})
	if !opts.SkipDynamic {
		_ = binary.Write(&buf, le, elf.Prog64{
			Type:   uint32(elf.PT_DYNAMIC),
			Flags:  uint32(elf.PF_R | elf.PF_W),
			Off:    dynOff,
			Vaddr:  opts.LoadBias + dynOff,
			Paddr:  opts.LoadBias + dynOff,
			Filesz: uint64(len(entries) * dynSize),
			Memsz:  uint64(len(entries) * dynSize),
			Align:  8,
		})
	}
	for uint64(buf.Len()) < strtabOff {
		buf.WriteByte(0)
	}
	buf.Write(strtab)
	for _, e := range entries {
		_ = binary.Write(&buf, le, elf.Dyn64{Tag: int64(e.tag), Val: e.val})
	}
	return buf.Bytes()
}

func build32(opts Options) []byte {
	const (
		ehdrSize = 52
		phdrSize = 32
		dynSize  = 8
	)
	phnum := 2
	if opts.SkipDynamic {
		phnum = 1
	}
	strtab, needed, soname := stringTable(opts)
	strtabOff := uint64(ehdrSize + phdrSize*phnum)
	strtabOff = (strtabOff + 7) &^ 7
	dynOff := strtabOff + uint64(len(strtab))
	entries := dynamicEntries(opts, opts.LoadBias+strtabOff, uint64(len(strtab)), needed, soname)
	total := dynOff + uint64(len(entries)*dynSize)

	var buf bytes.Buffer
	le := binary.LittleEndian
	_ = binary.Write(&buf, le, elf.Header32{
		Ident:     ident(elf.ELFCLASS32),
		Type:      uint16(elf.ET_DYN),
		Machine:   uint16(elf.EM_ARM),
		Version:   uint32(elf.EV_CURRENT),
		Phoff:     ehdrSize,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     uint16(phnum),
		Shentsize: 40,
	})
	_ = binary.Write(&buf, le, elf.Prog32{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_W),
		Vaddr:  uint32(opts.LoadBias),
		Paddr:  uint32(opts.LoadBias),
		Filesz: uint32(total),
		Memsz:  uint32(total),
		Align:  0x1000,
	})
	if !opts.SkipDynamic {
		_ = binary.Write(&buf, le, elf.Prog32{
			Type:   uint32(elf.PT_DYNAMIC),
			Flags:  uint32(elf.PF_R | elf.PF_W),
			Off:    uint32(dynOff),
			Vaddr:  uint32(opts.LoadBias + dynOff),
			Paddr:  uint32(opts.LoadBias + dynOff),
			Filesz: uint32(len(entries) * dynSize),
			Memsz:  uint32(len(entries) * dynSize),
			Align:  4,
		})
	}
	for uint64(buf.Len()) < strtabOff {
		buf.WriteByte(0)
	}
	buf.Write(strtab)
	for _, e := range entries {
		_ = binary.Write(&buf, le, elf.Dyn32{Tag: int32(e.tag), Val: uint32(e.val)})
	}
	return buf.Bytes()
}
