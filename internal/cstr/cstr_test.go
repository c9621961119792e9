package cstr

import (
	"errors"
	"runtime"
	"testing"
)

func TestBytesRoundTrip(t *testing.T) {
	b, err := Bytes("libvulkan.so")
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if b[len(b)-1] != 0 {
		t.Fatalf("missing terminator: %q", b)
	}
	got := FromPtr(Ptr(b))
	runtime.KeepAlive(b)
	if got != "libvulkan.so" {
		t.Fatalf("FromPtr: got=%q want=%q", got, "libvulkan.so")
	}
}

func TestBytesRejectsNUL(t *testing.T) {
	if _, err := Bytes("lib\x00vulkan.so"); !errors.Is(err, ErrEmbeddedNUL) {
		t.Fatalf("Bytes: got=%v want=%v", err, ErrEmbeddedNUL)
	}
}

func TestFromPtrZero(t *testing.T) {
	if got := FromPtr(0); got != "" {
		t.Fatalf("FromPtr(0): got=%q", got)
	}
	if got := Ptr(nil); got != 0 {
		t.Fatalf("Ptr(nil): got=%#x", got)
	}
}

func TestJoin(t *testing.T) {
	got := Join([]string{"/system/lib64", " ", "", "/vendor/lib64"})
	if got != "/system/lib64:/vendor/lib64" {
		t.Fatalf("Join: got=%q", got)
	}
}
