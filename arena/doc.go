// Package arena tracks free and used byte ranges inside a fixed-capacity
// binary image.
//
// An executable image starts fully used (NewUsed); known-unused ranges are
// donated with Release. Allocations are first-fit and rounded up to the
// arena's alignment. The arena never moves bytes: relocating existing data
// is the patch applier's concern, since only it knows which references
// must follow.
//
//	a := arena.New(100)
//	off, _ := a.Allocate(10) // 0, 12 bytes reserved
//	_ = a.Free(off, 10)
//	off, _ = a.Allocate(20)  // 0 again
//
// At every point FreeBytes()+UsedBytes() == Capacity().
package arena
