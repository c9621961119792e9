//go:build cgo

package main

import (
	"testing"

	"github.com/sliverarmory/drvinject"
)

func TestStatus(t *testing.T) {
	if got := status(&drvinject.Driver{}, nil); got != 0 {
		t.Fatalf("status(success) = %d", got)
	}
	if got := status(nil, drvinject.ErrDisabled); got != -1 {
		t.Fatalf("status(disabled) = %d", got)
	}
	if got := status(drvinject.Bootstrap(drvinject.DefaultConfig())); got != -2 {
		t.Fatalf("status(empty library dir) = %d, want -2", got)
	}
	err := &drvinject.Error{Kind: drvinject.ElfPatchFailure}
	if got := status(nil, err); got != int(drvinject.ElfPatchFailure) {
		t.Fatalf("status(%v) = %d", err, got)
	}
}

func TestInactiveExports(t *testing.T) {
	drvinject.Reset()
	if drvinject_is_active() != 0 || drvinject_get_proc_addr() != 0 || drvinject_driver_handle() != 0 || drvinject_loader_handle() != 0 {
		t.Fatal("exports report an active driver before bootstrap")
	}
}
