// Package pagetable defines the global 4-level page table that lives in the
// backing memory and provides a builder that sets it up before a run.
package pagetable

// RootOffset is where the super-directory starts, relative to the base of
// the first memory block.
const RootOffset = 0x800

// EntrySize is the size of one table entry: an 8-byte little-endian pointer
// or page address followed by one flag byte.
const EntrySize = 9

// The flags of a global table entry.
const (
	FlagValid    uint8 = 0x1
	FlagFixed    uint8 = 0x2
	FlagReadOnly uint8 = 0x8
)

// NumLevels is the depth of the global table.
const NumLevels = 4

// AddressBits is the number of virtual address bits the table translates.
const AddressBits = 48

// AddressMask keeps the translated bits of a virtual address. Addresses that
// differ only above it name the same page.
const AddressMask = 1<<AddressBits - 1

const (
	superDirShift = 37
	superDirBits  = 11
	dirShift      = 28
	dirBits       = 9
	superTabShift = 19
	superTabBits  = 9
)

// MinPageShift and MaxPageShift bound the page sizes the table supports. The
// last level covers bits [pageShift, 19) of the address.
const (
	MinPageShift = 4
	MaxPageShift = superTabShift - 1
)

// Indices returns the index into each level, from the super-directory down to
// the table.
func Indices(vAddr uint64, pageShift uint) [NumLevels]uint64 {
	a := vAddr & AddressMask

	return [NumLevels]uint64{
		(a >> superDirShift) & (1<<superDirBits - 1),
		(a >> dirShift) & (1<<dirBits - 1),
		(a >> superTabShift) & (1<<superTabBits - 1),
		(a & (1<<superTabShift - 1)) >> pageShift,
	}
}

// LevelEntries returns the number of entries of a table at the given level.
func LevelEntries(level int, pageShift uint) uint64 {
	switch level {
	case 0:
		return 1 << superDirBits
	case 1:
		return 1 << dirBits
	case 2:
		return 1 << superTabBits
	default:
		return 1 << (superTabShift - pageShift)
	}
}

// EntryAddr returns the address of entry index of the table at tableBase.
func EntryAddr(tableBase, index uint64) uint64 {
	return tableBase + index*EntrySize
}
