package core

import "unsafe"

// DefaultAlignment is used when Alloc is called with a zero alignment.
const DefaultAlignment = FloatAlign

// Arena is a bump allocator over one exclusively owned, contiguous, zeroed byte
// region. Allocation only ever advances the cursor; Reset rewinds it to the base
// in O(1). Individual allocations are never freed.
//
// Reset neither zeroes memory nor tracks outstanding slices: any slice handed
// out before a Reset aliases whatever is allocated after it. Callers must not
// touch memory from a previous epoch (a per-iteration Graph and its tensors are
// dropped before the arena that backs them is reset).
//
// An Arena is not safe for concurrent use.
type Arena struct {
	buffer []byte
	base   uintptr // address of buffer[0]
	cursor uintptr // offset of the next free byte
	peak   uintptr // high-water mark of cursor across resets
}

// NewArena reserves a zero-initialized region of size bytes. A zero or
// unrepresentable size is fatal.
func NewArena(size uintptr) *Arena {
	if size == 0 {
		Fatalf(ErrInvalidArgument, "arena: cannot reserve a zero-size region")
	}
	if uint64(size) > uint64(^uint(0)>>1) {
		Fatalf(ErrArenaExhausted, "arena: region of %d bytes cannot be reserved", size)
	}

	buf := AlignedBytes(int(size))
	if buf == nil {
		Fatalf(ErrArenaExhausted, "arena: failed to reserve %d bytes", size)
	}

	return &Arena{
		buffer: buf,
		base:   uintptr(unsafe.Pointer(&buf[0])),
	}
}

// Alloc returns size bytes whose first byte is aligned to align, advancing the
// cursor past them. align must be a power of two; zero selects
// DefaultAlignment. Running past the end of the region is fatal.
func (a *Arena) Alloc(size, align uintptr) []byte {
	if align == 0 {
		align = DefaultAlignment
	}
	if !IsPowerOfTwo(align) {
		Fatalf(ErrInvalidArgument, "arena: alignment %d is not a power of two", align)
	}

	start := AlignUp(a.base+a.cursor, align) - a.base
	end := start + size
	if end < start || end > uintptr(len(a.buffer)) {
		Fatalf(ErrArenaExhausted, "arena: requested %d bytes at offset %d, capacity %d", size, start, len(a.buffer))
	}

	a.cursor = end
	if a.cursor > a.peak {
		a.peak = a.cursor
	}
	return a.buffer[start:end:end]
}

// AllocFloats returns n float64 slots from the arena.
func (a *Arena) AllocFloats(n int) []float64 {
	if n < 0 {
		Fatalf(ErrInvalidArgument, "arena: negative element count %d", n)
	}
	if n > maxFloats {
		Fatalf(ErrArenaExhausted, "arena: %d floats overflow the byte count", n)
	}
	return asFloats(a.Alloc(uintptr(n*FloatSize), FloatAlign))
}

// Reset rewinds the cursor to the start of the region. It does not zero memory.
func (a *Arena) Reset() {
	a.cursor = 0
}

// Offset returns the position of b's first byte relative to the region base.
// b must have been issued by this arena.
func (a *Arena) Offset(b []byte) uintptr {
	if len(b) == 0 {
		Fatalf(ErrInvalidArgument, "arena: cannot locate an empty slice")
	}
	p := uintptr(unsafe.Pointer(&b[0]))
	if p < a.base || p >= a.base+uintptr(len(a.buffer)) {
		Fatalf(ErrInvalidArgument, "arena: slice at %#x does not belong to this arena", p)
	}
	return p - a.base
}

// Used returns the number of bytes between the base and the cursor.
func (a *Arena) Used() uintptr {
	return a.cursor
}

// Cap returns the total size of the region.
func (a *Arena) Cap() uintptr {
	return uintptr(len(a.buffer))
}

// Remaining returns the bytes left before the region is exhausted, ignoring
// alignment padding of the next request.
func (a *Arena) Remaining() uintptr {
	return a.Cap() - a.cursor
}

// Peak returns the largest cursor position observed since the arena was created.
func (a *Arena) Peak() uintptr {
	return a.peak
}
