package soname

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Patched is a SONAME-rewritten copy of a shared object, ready to be handed
// to the linker by descriptor or by path.
type Patched struct {
	File     *os.File
	Token    string
	Original string
	Source   string
	// Path is the cache file backing File, empty for anonymous copies.
	Path string
}

// FD returns the descriptor of the patched copy.
func (p *Patched) FD() int {
	return int(p.File.Fd())
}

// LoadPath returns a path the linker can open the copy through.
func (p *Patched) LoadPath() string {
	if p.Path != "" {
		return p.Path
	}
	return fmt.Sprintf("/proc/self/fd/%d", p.FD())
}

// Close releases the descriptor. A copy already mapped by the linker stays
// loaded.
func (p *Patched) Close() error {
	if p.File == nil {
		return nil
	}
	err := p.File.Close()
	p.File = nil
	return err
}

// PatchSoname copies sourcePath into dest with its SONAME replaced by token
// and rewinds dest to offset 0. dest is left untouched when the source
// cannot be patched.
func PatchSoname(sourcePath string, dest *os.File, token string) error {
	image, err := os.ReadFile(sourcePath)
	if err != nil {
		return fmt.Errorf("soname: read %s: %w", sourcePath, err)
	}
	patched, err := Patch(image, token)
	if err != nil {
		return fmt.Errorf("patch %s: %w", sourcePath, err)
	}
	return writeImage(dest, patched)
}

// Materialize produces a patched copy of sourcePath using the next token
// from tokens. The copy lives in an anonymous memory-backed file when
// cacheDir is empty and in cacheDir otherwise.
func Materialize(sourcePath, cacheDir string, tokens *Counter) (*Patched, error) {
	if tokens == nil {
		tokens = Tokens()
	}
	image, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("soname: read %s: %w", sourcePath, err)
	}
	original, err := ReadSoname(image)
	if err != nil {
		return nil, fmt.Errorf("patch %s: %w", sourcePath, err)
	}
	token, err := tokens.Next()
	if err != nil {
		return nil, err
	}
	patched, err := Patch(image, token)
	if err != nil {
		return nil, fmt.Errorf("patch %s: %w", sourcePath, err)
	}

	out := &Patched{
		Token:    token,
		Original: original,
		Source:   sourcePath,
	}
	base := filepath.Base(sourcePath)
	if cacheDir == "" {
		out.File, err = createAnonymousFile(token + "-" + base)
		if err != nil {
			return nil, fmt.Errorf("create anonymous shared object fd: %w", err)
		}
	} else {
		if err := os.MkdirAll(cacheDir, 0o700); err != nil {
			return nil, fmt.Errorf("soname: create cache dir: %w", err)
		}
		out.Path = filepath.Join(cacheDir, token+"-"+base)
		out.File, err = os.OpenFile(out.Path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o700)
		if err != nil {
			return nil, fmt.Errorf("soname: create cache file: %w", err)
		}
	}

	if err := writeImage(out.File, patched); err != nil {
		_ = out.Close()
		if out.Path != "" {
			_ = os.Remove(out.Path)
		}
		return nil, err
	}
	return out, nil
}

var cacheEntry = regexp.MustCompile(`^[0-9]{4}-.+\.so(\..*)?$`)

// PruneCache removes patched copies left in cacheDir by earlier runs. The
// cache holds nothing that cannot be regenerated.
func PruneCache(cacheDir string) error {
	if cacheDir == "" {
		return nil
	}
	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("soname: read cache dir: %w", err)
	}
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !cacheEntry.MatchString(entry.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(cacheDir, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func writeImage(dest *os.File, data []byte) error {
	if dest == nil {
		return errors.New("soname: nil destination")
	}
	written := 0
	for written < len(data) {
		n, err := dest.Write(data[written:])
		if err != nil {
			return fmt.Errorf("write patched shared object: %w", err)
		}
		if n <= 0 {
			return fmt.Errorf("write patched shared object: short write (%d/%d)", written, len(data))
		}
		written += n
	}
	if _, err := dest.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind patched shared object: %w", err)
	}
	return nil
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' {
			return '_'
		}
		return r
	}, name)
}
