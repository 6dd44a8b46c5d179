package noc

import (
	"fmt"
	"log"

	"github.com/sarchlab/nocsim/barrier"
	"github.com/sarchlab/nocsim/fabric"
	"github.com/sarchlab/nocsim/memory"
	"github.com/sarchlab/nocsim/mmu"
	"github.com/sarchlab/nocsim/pagetable"
	"github.com/sarchlab/nocsim/sim"
	"github.com/sarchlab/nocsim/tile"
)

// HeapBase is the first virtual address of the pages mapped by WithHeapPages.
const HeapBase = 0x100000

// A Builder can build grids.
type Builder struct {
	rows            int
	columns         int
	pageShift       uint
	numBlocks       int
	blockSize       uint64
	localSize       uint64
	admissionLimit  int
	serviceDelay    int
	transitDelay    int
	clockTicks      uint64
	clockWipe       int
	heapPages       int
	observer        sim.Observer
	blockReport     bool
	policyFactory   func() mmu.VictimPolicy
	memoryInitFuncs []func(blocks []*memory.Storage)
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		rows:           2,
		columns:        4,
		pageShift:      10,
		numBlocks:      1,
		blockSize:      1 << 20,
		localSize:      16 * 1024,
		admissionLimit: 4,
		serviceDelay:   50,
		transitDelay:   8,
		clockTicks:     40000,
		clockWipe:      8,
	}
}

// NumTiles returns the number of tiles the builder creates.
func (b Builder) NumTiles() int {
	return b.rows * b.columns
}

// WithRows sets the number of rows.
func (b Builder) WithRows(n int) Builder {
	b.rows = n
	return b
}

// WithColumns sets the number of columns.
func (b Builder) WithColumns(n int) Builder {
	b.columns = n
	return b
}

// WithPageShift sets the log2 of the page size of every tile.
func (b Builder) WithPageShift(shift uint) Builder {
	b.pageShift = shift
	return b
}

// WithMemoryBlocks sets the number and the size of the backing memory
// blocks. Block i starts at i*size.
func (b Builder) WithMemoryBlocks(n int, size uint64) Builder {
	b.numBlocks = n
	b.blockSize = size

	return b
}

// WithLocalMemorySize sets the size of the local memory of every tile.
func (b Builder) WithLocalMemorySize(size uint64) Builder {
	b.localSize = size
	return b
}

// WithAdmissionLimit sets how many packets a memory controller services at
// the same time.
func (b Builder) WithAdmissionLimit(n int) Builder {
	b.admissionLimit = n
	return b
}

// WithServiceDelay sets the read service time of the memory controllers.
func (b Builder) WithServiceDelay(ticks int) Builder {
	b.serviceDelay = ticks
	return b
}

// WithTransitDelay sets the transit time between a fabric root and its
// memory.
func (b Builder) WithTransitDelay(ticks int) Builder {
	b.transitDelay = ticks
	return b
}

// WithClockTicks sets how many ticks pass between two CLOCK sweeps.
func (b Builder) WithClockTicks(ticks uint64) Builder {
	b.clockTicks = ticks
	return b
}

// WithClockWipe sets how many frames a CLOCK sweep clears at most.
func (b Builder) WithClockWipe(n int) Builder {
	b.clockWipe = n
	return b
}

// WithHeapPages maps n movable pages starting at HeapBase.
func (b Builder) WithHeapPages(n int) Builder {
	b.heapPages = n
	return b
}

// WithObserver sets the observer of ticks and faults.
func (b Builder) WithObserver(o sim.Observer) Builder {
	b.observer = o
	return b
}

// WithBlockReport makes the barrier print the contended retries of each
// round.
func (b Builder) WithBlockReport() Builder {
	b.blockReport = true
	return b
}

// WithVictimPolicyFactory sets how the victim policy of each tile is
// created.
func (b Builder) WithVictimPolicyFactory(f func() mmu.VictimPolicy) Builder {
	b.policyFactory = f
	return b
}

// WithMemoryInit registers a function that fills the backing memory before
// the page table is set up.
func (b Builder) WithMemoryInit(f func(blocks []*memory.Storage)) Builder {
	b.memoryInitFuncs = append(b.memoryInitFuncs, f)
	return b
}

func (b Builder) parametersMustBeValid() {
	n := b.rows * b.columns
	if b.rows <= 0 || b.columns <= 0 || n&(n-1) != 0 {
		log.Panicf("a %dx%d grid does not have a power-of-two tile count",
			b.rows, b.columns)
	}

	if b.numBlocks <= 0 {
		log.Panic("at least one memory block is required")
	}

	if b.blockSize < pagetable.RootOffset {
		log.Panic("memory blocks are too small")
	}
}

// Build creates the grid. The global page table is written into the first
// memory block. The pages that hold the tables are mapped fixed to
// themselves.
func (b Builder) Build(name string) *Grid {
	b.parametersMustBeValid()

	g := &Grid{
		name:    name,
		rows:    b.rows,
		columns: b.columns,
	}

	barrierBuilder := barrier.MakeBuilder().WithObserver(b.observer)
	if b.blockReport {
		barrierBuilder = barrierBuilder.WithBlockReport()
	}

	g.barrier = barrierBuilder.Build()

	b.buildMemories(g)
	b.buildFabrics(g)
	b.buildPageTable(g)
	b.buildTiles(g)

	return g
}

func (b Builder) buildMemories(g *Grid) {
	for i := 0; i < b.numBlocks; i++ {
		g.memories = append(g.memories,
			memory.NewStorage(uint64(i)*b.blockSize, b.blockSize))
	}

	for _, f := range b.memoryInitFuncs {
		f(g.memories)
	}
}

func (b Builder) buildFabrics(g *Grid) {
	for i, m := range g.memories {
		g.fabrics = append(g.fabrics, fabric.MakeBuilder().
			WithNumTiles(b.rows*b.columns).
			WithMemory(m).
			WithAdmissionLimit(b.admissionLimit).
			WithServiceDelay(b.serviceDelay).
			WithTransitDelay(b.transitDelay).
			Build(fmt.Sprintf("%s.Fabric[%d]", g.name, i)))
	}
}

func (b Builder) buildPageTable(g *Grid) {
	pt := pagetable.NewBuilder(g.memories[0], b.pageShift)
	for _, m := range g.memories[1:] {
		pt.AddDataMemory(m)
	}

	if b.heapPages > 0 {
		pt.MapRange(HeapBase, b.heapPages, pagetable.FlagValid)
	}

	g.pageTable = pt

	pageSize := uint64(1) << b.pageShift
	for addr := g.memories[0].Base(); addr < pt.TableEnd(); addr += pageSize {
		pt.Map(addr, addr, pagetable.FlagValid|pagetable.FlagFixed)
	}
}

func (b Builder) buildTiles(g *Grid) {
	for row := 0; row < b.rows; row++ {
		for column := 0; column < b.columns; column++ {
			id := row*b.columns + column

			var policy mmu.VictimPolicy
			if b.policyFactory != nil {
				policy = b.policyFactory()
			}

			t := tile.MakeBuilder().
				WithID(id).
				WithCoordinates(row, column).
				WithLocalMemorySize(b.localSize).
				WithPageShift(b.pageShift).
				WithGlobalRoot(g.pageTable.Root()).
				WithClockTicks(b.clockTicks).
				WithClockWipe(b.clockWipe).
				WithClock(g.barrier).
				WithFabrics(g.fabrics...).
				WithObserver(b.observer).
				WithVictimPolicy(policy).
				Build(fmt.Sprintf("%s.Tile[%d]", g.name, id))

			g.tiles = append(g.tiles, t)
		}
	}
}
