//go:build !linux

package soname

import (
	"fmt"
	"os"
)

func createAnonymousFile(name string) (*os.File, error) {
	f, err := os.CreateTemp("", "drvinject-*-"+sanitizeName(name))
	if err != nil {
		return nil, err
	}
	if err := os.Remove(f.Name()); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("unlink temp shared object %s: %w", f.Name(), err)
	}
	return f, nil
}
