// Package soname rewrites the DT_SONAME of a shared object so that the
// dynamic linker treats a second copy of an already loaded library as a
// distinct object instead of returning the existing mapping.
package soname

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformedELF = errors.New("soname: malformed ELF image")
	ErrNoDynamic    = errors.New("soname: image has no dynamic section")
	ErrNoSoname     = errors.New("soname: dynamic section has no DT_SONAME entry")
	ErrTokenTooLong = errors.New("soname: replacement token longer than original SONAME")
	ErrInvalidToken = errors.New("soname: invalid replacement token")
)

// location is the file offset and length (without terminator) of the
// SONAME string inside an image.
type location struct {
	off    int
	length int
}

// ReadSoname returns the SONAME recorded in image.
func ReadSoname(image []byte) (string, error) {
	loc, err := locate(image)
	if err != nil {
		return "", err
	}
	return string(image[loc.off : loc.off+loc.length]), nil
}

// Patch returns a copy of image whose SONAME is replaced by token. The token
// is NUL padded to the original length so no other byte of the image moves.
// image itself is never modified.
func Patch(image []byte, token string) ([]byte, error) {
	if token == "" || strings.ContainsRune(token, '\x00') {
		return nil, fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	loc, err := locate(image)
	if err != nil {
		return nil, err
	}
	if len(token) > loc.length {
		return nil, fmt.Errorf("%w: %q (%d) > %q (%d)", ErrTokenTooLong, token, len(token), image[loc.off:loc.off+loc.length], loc.length)
	}

	out := bytes.Clone(image)
	field := out[loc.off : loc.off+loc.length]
	n := copy(field, token)
	clear(field[n:])
	return out, nil
}

func locate(image []byte) (location, error) {
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return location{}, fmt.Errorf("%w: %v", ErrMalformedELF, err)
	}
	defer f.Close()

	var dynamic *elf.Prog
	for _, prog := range f.Progs {
		if prog.Type == elf.PT_DYNAMIC {
			dynamic = prog
			break
		}
	}
	if dynamic == nil {
		return location{}, ErrNoDynamic
	}
	if dynamic.Off+dynamic.Filesz > uint64(len(image)) || dynamic.Off+dynamic.Filesz < dynamic.Off {
		return location{}, fmt.Errorf("%w: PT_DYNAMIC [%#x,+%#x) outside image", ErrMalformedELF, dynamic.Off, dynamic.Filesz)
	}

	tags, err := parseDynamic(f.Class, f.ByteOrder, image[dynamic.Off:dynamic.Off+dynamic.Filesz])
	if err != nil {
		return location{}, err
	}
	sonameOff, ok := tags[elf.DT_SONAME]
	if !ok {
		return location{}, ErrNoSoname
	}
	strtabAddr, ok := tags[elf.DT_STRTAB]
	if !ok {
		return location{}, fmt.Errorf("%w: missing DT_STRTAB", ErrMalformedELF)
	}
	strtabOff, ok := vaddrToOffset(f.Progs, strtabAddr)
	if !ok {
		return location{}, fmt.Errorf("%w: DT_STRTAB %#x not backed by a PT_LOAD segment", ErrMalformedELF, strtabAddr)
	}

	end := uint64(len(image))
	if strsz, ok := tags[elf.DT_STRSZ]; ok && strtabOff+strsz <= end {
		end = strtabOff + strsz
	}
	start := strtabOff + sonameOff
	if start >= end {
		return location{}, fmt.Errorf("%w: DT_SONAME offset %#x outside string table", ErrMalformedELF, sonameOff)
	}
	length := bytes.IndexByte(image[start:end], 0)
	if length < 0 {
		return location{}, fmt.Errorf("%w: unterminated SONAME", ErrMalformedELF)
	}
	if length == 0 {
		return location{}, fmt.Errorf("%w: empty SONAME", ErrNoSoname)
	}
	return location{off: int(start), length: length}, nil
}

// parseDynamic returns the first value of each dynamic tag up to DT_NULL.
func parseDynamic(class elf.Class, order binary.ByteOrder, raw []byte) (map[elf.DynTag]uint64, error) {
	tags := make(map[elf.DynTag]uint64)
	r := bytes.NewReader(raw)
	for {
		var (
			tag elf.DynTag
			val uint64
		)
		switch class {
		case elf.ELFCLASS32:
			var dyn elf.Dyn32
			if err := binary.Read(r, order, &dyn); err != nil {
				return tags, nil
			}
			tag, val = elf.DynTag(dyn.Tag), uint64(dyn.Val)
		case elf.ELFCLASS64:
			var dyn elf.Dyn64
			if err := binary.Read(r, order, &dyn); err != nil {
				return tags, nil
			}
			tag, val = elf.DynTag(dyn.Tag), dyn.Val
		default:
			return nil, fmt.Errorf("%w: unsupported class %s", ErrMalformedELF, class)
		}
		if tag == elf.DT_NULL {
			return tags, nil
		}
		if _, seen := tags[tag]; !seen {
			tags[tag] = val
		}
	}
}

func vaddrToOffset(progs []*elf.Prog, vaddr uint64) (uint64, bool) {
	for _, prog := range progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if vaddr >= prog.Vaddr && vaddr < prog.Vaddr+prog.Filesz {
			return vaddr - prog.Vaddr + prog.Off, true
		}
	}
	return 0, false
}
