package memory

import "unsafe"

// Raw accesses the current process's memory directly by address.
//
// Raw performs no validation: the caller promises that every address it
// passes to Track refers to live memory of at least the declared length, for
// as long as the epoch is open. Go-allocated buffers must stay reachable
// (runtime.KeepAlive) until the epoch ends.
type Raw struct{}

// Read implements Memory.
//
//nolint:govet // Addresses come from instrumented code, as with RaceWrite.
func (Raw) Read(start uintptr, dst []byte) {
	if len(dst) == 0 {
		return
	}
	copy(dst, unsafe.Slice((*byte)(unsafe.Pointer(start)), len(dst)))
}

// Write implements Memory.
//
//nolint:govet // Addresses come from instrumented code, as with RaceWrite.
func (Raw) Write(start uintptr, src []byte) {
	if len(src) == 0 {
		return
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(start)), len(src)), src)
}

// AddrOf returns the address of the value p points to.
func AddrOf[T any](p *T) uintptr {
	return uintptr(unsafe.Pointer(p))
}

// SizeOf returns the size in bytes of one T.
func SizeOf[T any]() uintptr {
	var zero T
	return unsafe.Sizeof(zero)
}

// SliceBounds returns the address and byte length of the elements of s.
// An empty slice yields (0, 0).
func SliceBounds[T any](s []T) (addr uintptr, n uintptr) {
	if len(s) == 0 {
		return 0, 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(s))), uintptr(len(s)) * SizeOf[T]()
}
