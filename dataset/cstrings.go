package dataset

// #include <stdlib.h>
import "C"

import "unsafe"

// Variable-length HDF5 strings travel as one C char* per element. These
// helpers convert between those buffers and Go strings.

// goStrings copies the strings behind ptrs and frees them. The library
// allocates variable-length read buffers with malloc.
func goStrings(ptrs []uintptr) []string {
	out := make([]string, len(ptrs))
	for i, p := range ptrs {
		if p == 0 {
			continue
		}
		cs := (*C.char)(unsafe.Pointer(p))
		out[i] = C.GoString(cs)
		C.free(unsafe.Pointer(cs))
	}
	return out
}

// cStrings allocates C copies of values. Release them with freeCStrings.
func cStrings(values []string) []uintptr {
	ptrs := make([]uintptr, len(values))
	for i, v := range values {
		ptrs[i] = uintptr(unsafe.Pointer(C.CString(v)))
	}
	return ptrs
}

func freeCStrings(ptrs []uintptr) {
	for _, p := range ptrs {
		C.free(unsafe.Pointer(p))
	}
}
