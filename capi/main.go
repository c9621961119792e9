//go:build cgo

// Command capi builds drvinject as a C shared library:
//
//	go build -buildmode=c-shared -o libdrvinject.so ./capi
//
// Graphics layers call drvinject_bootstrap once and then take
// drvinject_get_proc_addr as their instance proc-address function.
package main

/*
#include <stdint.h>
*/
import "C"

import (
	"errors"

	"github.com/apex/log"

	"github.com/sliverarmory/drvinject"
)

func goString(s *C.char) string {
	if s == nil {
		return ""
	}
	return C.GoString(s)
}

// drvinject_bootstrap returns 0 on success, -1 when disabled, -2 for a
// missing or relative library directory and the failure kind otherwise.
//
//export drvinject_bootstrap
func drvinject_bootstrap(libraryDir, cacheDir, driverName *C.char) C.int {
	cfg := drvinject.DefaultConfig()
	cfg.LibraryDir = goString(libraryDir)
	cfg.CacheDir = goString(cacheDir)
	if name := goString(driverName); name != "" {
		cfg.DriverName = name
	}
	return C.int(status(drvinject.Bootstrap(cfg)))
}

func status(_ *drvinject.Driver, err error) int {
	if err == nil {
		return 0
	}
	if kind := drvinject.KindOf(err); kind != 0 {
		return int(kind)
	}
	if errors.Is(err, drvinject.ErrInvalidConfig) {
		log.WithError(err).Warn("bootstrap rejected")
		return -2
	}
	log.WithError(err).Debug("bootstrap skipped")
	return -1
}

//export drvinject_get_proc_addr
func drvinject_get_proc_addr() C.uintptr_t {
	if d := drvinject.Current(); d != nil {
		return C.uintptr_t(d.ProcAddr)
	}
	return 0
}

//export drvinject_driver_handle
func drvinject_driver_handle() C.uintptr_t {
	if d := drvinject.Current(); d != nil {
		return C.uintptr_t(d.DriverHandle)
	}
	return 0
}

//export drvinject_loader_handle
func drvinject_loader_handle() C.uintptr_t {
	if d := drvinject.Current(); d != nil {
		return C.uintptr_t(d.LoaderHandle)
	}
	return 0
}

//export drvinject_is_active
func drvinject_is_active() C.int {
	if drvinject.Active() {
		return 1
	}
	return 0
}

func main() {}
