package noc_test

import (
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/nocsim/memory"
	"github.com/sarchlab/nocsim/noc"
	"github.com/sarchlab/nocsim/pagetable"
	"github.com/sarchlab/nocsim/tile"
	"github.com/sarchlab/nocsim/workload"
)

type tickCounter struct {
	rounds atomic.Uint64
	last   atomic.Uint64
	hard   atomic.Uint64
	small  atomic.Uint64
}

func (c *tickCounter) OnTickAdvanced(cycle, _ uint64) {
	c.rounds.Add(1)
	c.last.Store(cycle)
}

func (c *tickCounter) OnHardFault(int) {
	c.hard.Add(1)
}

func (c *tickCounter) OnSmallFault(int) {
	c.small.Add(1)
}

var _ = Describe("Builder", func() {
	It("should reject a tile count that is not a power of two", func() {
		Expect(func() {
			noc.MakeBuilder().WithRows(3).WithColumns(1).Build("NoC")
		}).To(Panic())
	})

	It("should order the tiles row by row", func() {
		g := noc.MakeBuilder().WithRows(2).WithColumns(4).Build("NoC")

		Expect(g.NumTiles()).To(Equal(8))
		Expect(g.TileAt(1, 2).ID()).To(Equal(6))
		Expect(g.TileAt(1, 2).Row()).To(Equal(1))
		Expect(g.TileAt(1, 2).Column()).To(Equal(2))
		Expect(g.Tile(6)).To(BeIdenticalTo(g.TileAt(1, 2)))
		Expect(func() { g.Tile(8) }).To(Panic())
	})

	It("should build one fabric per memory block", func() {
		g := noc.MakeBuilder().
			WithMemoryBlocks(2, 512*1024).
			Build("NoC")

		Expect(g.Memories()).To(HaveLen(2))
		Expect(g.Memories()[1].Base()).To(Equal(uint64(512 * 1024)))
		Expect(g.Fabrics()).To(HaveLen(2))
		Expect(g.Fabrics()[1].Memory()).To(BeIdenticalTo(g.Memories()[1]))
		Expect(g.Tile(0).Port().Fabrics()).To(HaveLen(2))
	})

	It("should map the page table pages fixed to themselves", func() {
		g := noc.MakeBuilder().WithHeapPages(2).Build("NoC")
		pt := g.PageTable()

		for addr := uint64(0); addr < pt.TableEnd(); addr += 1 << 10 {
			pAddr, flags, found := pt.Lookup(addr)

			Expect(found).To(BeTrue())
			Expect(pAddr).To(Equal(addr))
			Expect(flags).To(Equal(pagetable.FlagValid | pagetable.FlagFixed))
		}

		_, flags, found := pt.Lookup(noc.HeapBase + 1<<10)
		Expect(found).To(BeTrue())
		Expect(flags).To(Equal(pagetable.FlagValid))
	})

	It("should run the memory initializers", func() {
		g := noc.MakeBuilder().
			WithMemoryInit(func(blocks []*memory.Storage) {
				blocks[0].WriteUint64(0x100, 0xFF00)
			}).
			Build("NoC")

		Expect(g.Memories()[0].ReadUint64(0x100)).To(Equal(uint64(0xFF00)))
	})
})

var _ = Describe("Grid", func() {
	It("should advance all the tiles in lockstep", func() {
		observer := &tickCounter{}
		g := noc.MakeBuilder().WithObserver(observer).Build("NoC")

		g.Run(workload.Idle{Ticks: 100})

		Expect(g.Now()).To(Equal(uint64(100)))
		Expect(observer.rounds.Load()).To(Equal(uint64(100)))
		Expect(observer.last.Load()).To(Equal(uint64(100)))
		for _, t := range g.Tiles() {
			Expect(t.MMU().Ticks()).To(Equal(uint64(100)))
		}
	})

	It("should not stall when tiles finish one by one", func() {
		g := noc.MakeBuilder().Build("NoC")

		drivers := make([]noc.Driver, g.NumTiles())
		for i := range drivers {
			drivers[i] = workload.Idle{Ticks: 10 * i}
		}

		g.Run(drivers...)

		Expect(g.Now()).To(Equal(uint64(70)))
		Expect(g.Barrier().NumTasks()).To(Equal(0))
	})

	It("should panic on a wrong number of drivers", func() {
		g := noc.MakeBuilder().Build("NoC")

		Expect(func() {
			g.Run(workload.Idle{}, workload.Idle{})
		}).To(Panic())
	})

	It("should share a value written by one tile with the others", func() {
		const x = noc.HeapBase + 0x40

		observer := &tickCounter{}
		g := noc.MakeBuilder().
			WithRows(2).
			WithColumns(4).
			WithMemoryBlocks(1, 1<<20).
			WithPageShift(10).
			WithHeapPages(4).
			WithObserver(observer).
			Build("NoC")

		flushed := make(chan struct{})
		scripts := make([]*workload.Script, g.NumTiles())
		drivers := make([]noc.Driver, g.NumTiles())

		scripts[0] = workload.NewScript(
			workload.Write(x, 0xABCD),
			workload.Tick(50),
			workload.Expect(x, 0xABCD),
			workload.Flush(x),
			workload.Signal(flushed),
		)
		for i := 1; i < g.NumTiles(); i++ {
			scripts[i] = workload.NewScript(
				workload.Tick(50),
				workload.TickUntil(flushed),
				workload.Expect(x, 0xABCD),
			)
		}

		for i, s := range scripts {
			drivers[i] = s
		}

		g.Run(drivers...)

		for _, s := range scripts {
			Expect(s.Err()).NotTo(HaveOccurred())
		}

		pAddr, _, _ := g.PageTable().Lookup(x)
		Expect(g.Memories()[0].ReadUint64(pAddr + 0x40)).
			To(Equal(uint64(0xABCD)))

		for _, t := range g.Tiles() {
			Expect(t.MMU().HardFaults()).To(Equal(uint64(1)))
		}

		Expect(observer.hard.Load()).To(Equal(uint64(8)))
		Expect(observer.small.Load()).To(Equal(uint64(8 * pagetable.NumLevels)))
	})

	It("should keep every tile's data across evictions", func() {
		g := noc.MakeBuilder().
			WithMemoryBlocks(2, 512*1024).
			WithServiceDelay(1).
			WithTransitDelay(0).
			WithHeapPages(8 * 16).
			Build("NoC")

		stride := &workload.Stride{
			Base:   noc.HeapBase,
			Stride: 1 << 10,
			Count:  16,
			Rounds: 1,
		}

		g.Run(stride)

		Expect(stride.Mismatches()).To(Equal(uint64(0)))
		Expect(stride.Accesses()).To(Equal(uint64(8 * 32)))
		Expect(g.Fabrics()[0].Serviced()).To(BeNumerically(">", 0))
		Expect(g.Fabrics()[1].Serviced()).To(BeNumerically(">", 0))
		Expect(g.Fabrics()[0].MaxInService()).To(BeNumerically("<=", 4))

		var hardFaults uint64
		for _, t := range g.Tiles() {
			hardFaults += t.MMU().HardFaults()
		}
		Expect(hardFaults).To(BeNumerically(">", 8*16))
	})

	It("should run a driver function on every tile", func() {
		g := noc.MakeBuilder().WithRows(1).WithColumns(2).Build("NoC")

		var sum atomic.Int64
		g.Run(noc.DriverFunc(func(t *tile.Tile) {
			sum.Add(int64(t.ID() + 1))
			t.Tick()
		}))

		Expect(sum.Load()).To(Equal(int64(3)))
		Expect(g.Now()).To(Equal(uint64(1)))
	})
})
