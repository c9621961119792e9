//go:build linux

package soname

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func createAnonymousFile(name string) (*os.File, error) {
	name = sanitizeName(name)
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err == nil {
		return os.NewFile(uintptr(fd), "memfd:"+name), nil
	}

	// Prefer O_TMPFILE on tmpfs so there is never a directory entry.
	fd, tmpErr := unix.Open("/dev/shm", unix.O_RDWR|unix.O_CLOEXEC|unix.O_TMPFILE, 0o600)
	if tmpErr == nil {
		return os.NewFile(uintptr(fd), "/dev/shm/"+name), nil
	}

	// Fallback: create under /dev/shm then unlink immediately. The open fd
	// remains usable via /proc/self/fd/<n> while avoiding persistent files.
	f, createErr := os.CreateTemp("/dev/shm", "drvinject-*-"+name)
	if createErr != nil {
		return nil, errors.Join(err, tmpErr, createErr)
	}
	if rmErr := os.Remove(f.Name()); rmErr != nil {
		_ = f.Close()
		return nil, fmt.Errorf("unlink temp shared object %s: %w", f.Name(), rmErr)
	}
	return f, nil
}
