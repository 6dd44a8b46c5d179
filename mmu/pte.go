package mmu

import (
	"github.com/sarchlab/nocsim/memory"
)

// Flags are the status bits of a local page-table entry.
type Flags uint32

// The flags of a local page-table entry.
const (
	FlagValid    Flags = 0x1
	FlagFixed    Flags = 0x2
	FlagAccessed Flags = 0x4
	FlagReadOnly Flags = 0x8
)

// Has checks if all the bits of f2 are set.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// Layout of a local page-table entry. Each entry takes 28 bytes of the local
// memory.
const (
	PTEVirtualOffset  = 0
	PTEPhysicalOffset = 8
	PTEFrameOffset    = 16
	PTEFlagsOffset    = 24
	PTESize           = 28
)

// Reserved frames at the bottom and the top of the local memory.
const (
	KernelPages = 2
	StackPages  = 2
)

// A FrameTable gives a read-only view of the local page table.
type FrameTable interface {
	NumFrames() int
	FrameFlags(frame int) Flags
}

// pageTable is the local page table. It lives in the local memory, right
// after the kernel pages, with one entry per frame.
type pageTable struct {
	storage   *memory.Storage
	base      uint64
	numFrames int
}

func (t *pageTable) entryAddr(frame int) uint64 {
	return t.base + uint64(frame)*PTESize
}

// NumFrames returns the number of local frames.
func (t *pageTable) NumFrames() int {
	return t.numFrames
}

// FrameFlags returns the flags of the entry of the frame.
func (t *pageTable) FrameFlags(frame int) Flags {
	return Flags(t.storage.ReadUint32(t.entryAddr(frame) + PTEFlagsOffset))
}

func (t *pageTable) setFlags(frame int, flags Flags) {
	t.storage.WriteUint32(t.entryAddr(frame)+PTEFlagsOffset, uint32(flags))
}

func (t *pageTable) virtualPage(frame int) uint64 {
	return t.storage.ReadUint64(t.entryAddr(frame) + PTEVirtualOffset)
}

func (t *pageTable) physicalPage(frame int) uint64 {
	return t.storage.ReadUint64(t.entryAddr(frame) + PTEPhysicalOffset)
}

func (t *pageTable) setEntry(frame int, vPage, pPage uint64, flags Flags) {
	addr := t.entryAddr(frame)
	t.storage.WriteUint64(addr+PTEVirtualOffset, vPage)
	t.storage.WriteUint64(addr+PTEPhysicalOffset, pPage)
	t.storage.WriteUint64(addr+PTEFrameOffset, uint64(frame))
	t.storage.WriteUint32(addr+PTEFlagsOffset, uint32(flags))
}
