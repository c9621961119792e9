package namespace

// android_dlextinfo flags.
const (
	DlextUseLibraryFD uint64 = 0x10
	DlextUseNamespace uint64 = 0x200
)

// ExtInfo mirrors android_dlextinfo from <android/dlext.h>.
type ExtInfo struct {
	Flags           uint64
	ReservedAddr    uintptr
	ReservedSize    uintptr
	RelroFD         int32
	LibraryFD       int32
	LibraryFDOffset int64
	Namespace       Namespace
}
