package shim

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

type fakeLinker struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeLinker) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeLinker) entryPoints() EntryPoints {
	return EntryPoints{
		Dlopen: func(name string, flags int, caller uintptr) uintptr {
			f.record(fmt.Sprintf("dlopen(%s,%d)", name, flags))
			return 0x1000 + uintptr(len(name))
		},
		Dlsym: func(handle uintptr, symbol string, caller uintptr) uintptr {
			f.record(fmt.Sprintf("dlsym(%#x,%s)", handle, symbol))
			return handle + 0x10
		},
		DlopenExt: func(name string, flags int, info, caller uintptr) uintptr {
			f.record(fmt.Sprintf("dlopen_ext(%s,%d,%#x)", name, flags, info))
			return 0x2000 + uintptr(len(name))
		},
	}
}

func setup(t *testing.T) *fakeLinker {
	t.Helper()
	if err := Init(DefaultOptions()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { current.Store(nil) })
	f := &fakeLinker{}
	SetRealEntryPoints(f.entryPoints())
	return f
}

func expectMisuse(t *testing.T, op string, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Fatalf("%s: expected panic", op)
		}
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrMisuse) {
			t.Fatalf("%s: unexpected panic value %v", op, r)
		}
	}()
	fn()
}

func TestOverridesPanicBeforeEntryPoints(t *testing.T) {
	current.Store(nil)
	expectMisuse(t, "Dlopen", func() { Dlopen("libvulkan.so", 0, 0) })
	expectMisuse(t, "Dlsym", func() { Dlsym(1, "vkGetInstanceProcAddr", 0) })
	expectMisuse(t, "DlopenExt", func() { DlopenExt("vulkan.adreno.so", 0, 0, 0) })

	if err := Init(DefaultOptions()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { current.Store(nil) })
	expectMisuse(t, "Dlopen after Init", func() { Dlopen("libvulkan.so", 0, 0) })
	expectMisuse(t, "RegisterLoaderHandle", func() { RegisterLoaderHandle(0x42) })
}

func TestLoaderRule(t *testing.T) {
	f := setup(t)
	const loader = uintptr(0xdead0000)
	RegisterLoaderHandle(loader)
	if got := CurrentState(); got != HandlesRegistered {
		t.Fatalf("state: got=%s want=%s", got, HandlesRegistered)
	}

	if got := Dlopen("/system/lib64/libvulkan.so", 2, 0); got != loader {
		t.Fatalf("Dlopen(matching): got=%#x want=%#x", got, loader)
	}
	if len(f.calls) != 0 {
		t.Fatalf("matching request reached the real dlopen: %v", f.calls)
	}

	want := f.entryPoints().Dlopen("libEGL.so", 2, 0)
	f.calls = nil
	if got := Dlopen("libEGL.so", 2, 0); got != want {
		t.Fatalf("Dlopen(non-matching): got=%#x want=%#x", got, want)
	}
	if len(f.calls) != 1 || f.calls[0] != "dlopen(libEGL.so,2)" {
		t.Fatalf("Dlopen(non-matching) calls: %v", f.calls)
	}
}

func TestDriverRule(t *testing.T) {
	f := setup(t)
	const driver, loader = uintptr(0xd0000), uintptr(0xe0000)
	RegisterDriverHandle(driver)
	RegisterLoaderHandle(loader)
	if got := CurrentState(); got != Active {
		t.Fatalf("state: got=%s want=%s", got, Active)
	}

	if got := DlopenExt("/vendor/lib64/hw/vulkan.adreno.so", 2, 0x77, 0); got != driver {
		t.Fatalf("DlopenExt(matching): got=%#x want=%#x", got, driver)
	}
	// The driver rule applies to the extended loader only.
	if got := Dlopen("/vendor/lib64/hw/vulkan.adreno.so", 2, 0); got == driver {
		t.Fatalf("Dlopen returned the driver handle")
	}
	if got := DlopenExt("/vendor/lib64/hw/vulkan.mali.so", 2, 0, 0); got == driver {
		t.Fatalf("DlopenExt redirected an unrelated driver")
	}
	if got := DlopenExt("", 2, 0, 0); got == driver {
		t.Fatalf("DlopenExt redirected a NULL name")
	}
	if got, want := Dlsym(driver, "vkGetInstanceProcAddr", 0), driver+0x10; got != want {
		t.Fatalf("Dlsym: got=%#x want=%#x", got, want)
	}
	if len(f.calls) != 4 {
		t.Fatalf("real calls: %v", f.calls)
	}
}

func TestRegisterTwicePanics(t *testing.T) {
	setup(t)
	RegisterDriverHandle(0x1)
	expectMisuse(t, "RegisterDriverHandle twice", func() { RegisterDriverHandle(0x2) })
	expectMisuse(t, "RegisterLoaderHandle zero", func() { RegisterLoaderHandle(0) })
	expectMisuse(t, "SetRealEntryPoints twice", func() { SetRealEntryPoints((&fakeLinker{}).entryPoints()) })
}

func TestInitRejectsEmptyMatch(t *testing.T) {
	if err := Init(Options{LoaderMatch: "libvulkan.so"}); err == nil {
		t.Fatalf("Init accepted an empty driver match")
	}
}

func TestConcurrentDispatch(t *testing.T) {
	setup(t)
	const driver = uintptr(0xabc000)
	RegisterDriverHandle(driver)
	RegisterLoaderHandle(0xdef000)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				if got := DlopenExt("vulkan.adreno.so", 2, 0, 0); got != driver {
					errs <- fmt.Errorf("DlopenExt: got=%#x", got)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestDisarmPassesThrough(t *testing.T) {
	f := setup(t)
	const driver, loader = uintptr(0xd0000), uintptr(0xe0000)
	RegisterDriverHandle(driver)
	RegisterLoaderHandle(loader)

	Disarm()
	if got := CurrentState(); got != ProcAddrsSet || !Armed() {
		t.Fatalf("after Disarm: state=%s armed=%v", got, Armed())
	}
	if got := Dlopen("libvulkan.so", 2, 0); got == loader {
		t.Fatalf("Dlopen still redirected after Disarm")
	}
	if got := DlopenExt("vulkan.adreno.so", 2, 0, 0); got == driver {
		t.Fatalf("DlopenExt still redirected after Disarm")
	}
	if len(f.calls) != 2 {
		t.Fatalf("real calls after Disarm: %v", f.calls)
	}

	// Rules can be registered again.
	RegisterDriverHandle(driver + 1)
	RegisterLoaderHandle(loader + 1)
	if got := Dlopen("libvulkan.so", 2, 0); got != loader+1 {
		t.Fatalf("Dlopen after re-register: got=%#x", got)
	}
}

func TestDisarmBeforeEntryPointsIsNoOp(t *testing.T) {
	if err := Init(DefaultOptions()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { current.Store(nil) })
	Disarm()
	if Armed() || CurrentState() != Uninitialized {
		t.Fatalf("Disarm armed the table: state=%s", CurrentState())
	}
}
