package mmu

import (
	"encoding/binary"
	"log"

	"github.com/sarchlab/nocsim/pagetable"
)

// globalEntry is the leaf of the global page table.
type globalEntry struct {
	page  uint64
	flags uint8
}

// walk translates the virtual address through the global page table. Every
// level is fetched from the backing memory through the fabric and counts as
// one small fault.
func (c *Comp) walk(vAddr uint64) globalEntry {
	idx := pagetable.Indices(vAddr, c.pageShift)

	table := c.globalRoot
	for level := 0; level < pagetable.NumLevels; level++ {
		ptr, flags := c.readGlobalEntry(
			pagetable.EntryAddr(table, idx[level]))

		if level == pagetable.NumLevels-1 {
			if flags&pagetable.FlagValid == 0 {
				log.Panicf("tile %d: page 0x%x is not mapped",
					c.tileID, vAddr&c.pageMask)
			}

			return globalEntry{page: ptr, flags: flags}
		}

		if ptr == 0 {
			log.Panicf("tile %d: bad level %d table entry for 0x%x",
				c.tileID, level, vAddr)
		}

		table = ptr
	}

	panic("unreachable")
}

func (c *Comp) readGlobalEntry(addr uint64) (uint64, uint8) {
	c.smallFaults.Add(1)
	c.observer.OnSmallFault(c.tileID)

	data := c.remote.Read(c, addr, 0, pagetable.EntrySize)

	return binary.LittleEndian.Uint64(data), data[8]
}
