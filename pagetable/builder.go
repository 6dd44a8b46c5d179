package pagetable

import (
	"log"

	"github.com/sarchlab/nocsim/memory"
)

// A Builder writes the global page table into the backing memory. Tables are
// only allocated for the parts of the address space that are mapped. Tables
// grow upwards from the root, while pages handed out by AllocPage grow
// downwards from the top of each data memory.
type Builder struct {
	tables    *memory.Storage
	pageShift uint
	root      uint64
	nextTable uint64

	data     []*memory.Storage
	dataTop  []uint64
	nextData int
}

// NewBuilder creates a builder that puts the tables in the given memory.
// The memory also serves pages to AllocPage.
func NewBuilder(tables *memory.Storage, pageShift uint) *Builder {
	if pageShift < MinPageShift || pageShift > MaxPageShift {
		log.Panicf("page shift %d is not supported", pageShift)
	}

	b := &Builder{
		tables:    tables,
		pageShift: pageShift,
		root:      tables.Base() + RootOffset,
	}

	rootSize := LevelEntries(0, pageShift) * EntrySize
	if !tables.ContainsRange(b.root, rootSize) {
		log.Panic("memory too small for the page table root")
	}

	b.nextTable = b.root + rootSize
	b.AddDataMemory(tables)

	return b
}

// AddDataMemory adds a memory block AllocPage may take pages from.
func (b *Builder) AddDataMemory(m *memory.Storage) {
	pageSize := uint64(1) << b.pageShift

	b.data = append(b.data, m)
	b.dataTop = append(b.dataTop, (m.Base()+m.Capacity())&^(pageSize-1))
}

// Root returns the address of the super-directory.
func (b *Builder) Root() uint64 {
	return b.root
}

// TableEnd returns the address right after the last allocated table.
func (b *Builder) TableEnd() uint64 {
	return b.nextTable
}

// PageShift returns the log2 of the page size.
func (b *Builder) PageShift() uint {
	return b.pageShift
}

// AllocPage reserves one page of backing memory. Pages are taken from the
// data memories in turn.
func (b *Builder) AllocPage() uint64 {
	pageSize := uint64(1) << b.pageShift

	for range b.data {
		i := b.nextData
		b.nextData = (b.nextData + 1) % len(b.data)

		m := b.data[i]
		low := m.Base()
		if m == b.tables {
			low = b.nextTable
		}

		if b.dataTop[i] < low+pageSize {
			continue
		}

		b.dataTop[i] -= pageSize

		return b.dataTop[i]
	}

	log.Panic("backing memory exhausted")

	return 0
}

// Map points the virtual page of vAddr to the physical page of pAddr.
func (b *Builder) Map(vAddr, pAddr uint64, flags uint8) {
	if flags&FlagValid == 0 {
		log.Panicf("mapping 0x%x without the valid flag", vAddr)
	}

	pageMask := ^(uint64(1)<<b.pageShift - 1)
	idx := Indices(vAddr, b.pageShift)

	table := b.root
	for level := 0; level < NumLevels-1; level++ {
		entry := EntryAddr(table, idx[level])

		next := b.tables.ReadUint64(entry)
		if next == 0 {
			next = b.allocTable(level + 1)
			b.tables.WriteUint64(entry, next)
			b.tables.WriteUint8(entry+8, FlagValid)
		}

		table = next
	}

	entry := EntryAddr(table, idx[NumLevels-1])
	b.tables.WriteUint64(entry, pAddr&pageMask)
	b.tables.WriteUint8(entry+8, flags)
}

// MapNew allocates a fresh page and maps the virtual page of vAddr to it.
func (b *Builder) MapNew(vAddr uint64, flags uint8) uint64 {
	pAddr := b.AllocPage()
	b.Map(vAddr, pAddr, flags)

	return pAddr
}

// MapRange maps numPages consecutive virtual pages starting at vAddr to
// freshly allocated pages and returns their addresses.
func (b *Builder) MapRange(vAddr uint64, numPages int, flags uint8) []uint64 {
	pageSize := uint64(1) << b.pageShift
	pages := make([]uint64, 0, numPages)

	for i := 0; i < numPages; i++ {
		pages = append(pages, b.MapNew(vAddr+uint64(i)*pageSize, flags))
	}

	return pages
}

// Lookup walks the table without simulating any delay.
func (b *Builder) Lookup(vAddr uint64) (pAddr uint64, flags uint8, found bool) {
	idx := Indices(vAddr, b.pageShift)

	table := b.root
	for level := 0; level < NumLevels-1; level++ {
		table = b.tables.ReadUint64(EntryAddr(table, idx[level]))
		if table == 0 {
			return 0, 0, false
		}
	}

	entry := EntryAddr(table, idx[NumLevels-1])
	flags = b.tables.ReadUint8(entry + 8)

	if flags&FlagValid == 0 {
		return 0, 0, false
	}

	return b.tables.ReadUint64(entry), flags, true
}

func (b *Builder) allocTable(level int) uint64 {
	size := LevelEntries(level, b.pageShift) * EntrySize
	addr := (b.nextTable + 7) &^ 7

	if b.dataTop[0] < addr+size {
		log.Panic("backing memory too small for the page table")
	}

	b.nextTable = addr + size

	return addr
}
