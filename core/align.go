package core

import (
	"math"
	"unsafe"
)

const (
	// CacheLineSize is a common cache line size, typically 64 bytes.
	// Arena regions start on this boundary.
	CacheLineSize = 64

	// FloatSize is the byte width of one tensor element.
	FloatSize = int(unsafe.Sizeof(float64(0)))

	// FloatAlign is the natural alignment of one tensor element.
	FloatAlign = uintptr(unsafe.Alignof(float64(0)))

	// maxFloats is the largest element count whose byte size fits in an int.
	maxFloats = math.MaxInt / FloatSize
)

// IsPowerOfTwo reports whether n is a non-zero power of two.
func IsPowerOfTwo(n uintptr) bool {
	return n != 0 && n&(n-1) == 0
}

// AlignUp rounds n up to the next multiple of align. align must be a power of two.
func AlignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

// AlignedSize rounds size up to the nearest cache line multiple.
func AlignedSize(size uintptr) uintptr {
	return AlignUp(size, CacheLineSize)
}

// AlignedBytes allocates a zeroed byte slice whose backing array starts on a
// CacheLineSize boundary.
func AlignedBytes(size int) []byte {
	if size == 0 {
		return nil
	}
	// Over-allocate so the aligned window always fits.
	buf := make([]byte, size+CacheLineSize-1)

	ptr := uintptr(unsafe.Pointer(&buf[0]))
	offset := uintptr(0)
	if mod := ptr % CacheLineSize; mod != 0 {
		offset = CacheLineSize - mod
	}

	return buf[offset : offset+uintptr(size) : offset+uintptr(size)]
}

// asFloats reinterprets b as a float64 slice. len(b) must be a multiple of
// FloatSize and b must be FloatAlign aligned.
func asFloats(b []byte) []float64 {
	if len(b) == 0 {
		return []float64{}
	}
	return unsafe.Slice((*float64)(unsafe.Pointer(&b[0])), len(b)/FloatSize)
}
