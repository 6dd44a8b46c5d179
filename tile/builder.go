package tile

import (
	"fmt"
	"log"

	"github.com/sarchlab/nocsim/fabric"
	"github.com/sarchlab/nocsim/memory"
	"github.com/sarchlab/nocsim/mmu"
	"github.com/sarchlab/nocsim/pagetable"
	"github.com/sarchlab/nocsim/sim"
)

// A Builder can build tiles.
type Builder struct {
	id         int
	row        int
	column     int
	localSize  uint64
	pageShift  uint
	globalRoot uint64
	clockTicks uint64
	clockWipe  int
	clock      mmu.Clock
	fabrics    []*fabric.Comp
	observer   sim.Observer
	policy     mmu.VictimPolicy
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		localSize:  16 * 1024,
		pageShift:  10,
		globalRoot: pagetable.RootOffset,
		clockTicks: 40000,
		clockWipe:  8,
	}
}

// WithID sets the order of the tile in the grid.
func (b Builder) WithID(id int) Builder {
	b.id = id
	return b
}

// WithCoordinates sets the position of the tile in the grid.
func (b Builder) WithCoordinates(row, column int) Builder {
	b.row = row
	b.column = column

	return b
}

// WithLocalMemorySize sets the size of the local memory in bytes.
func (b Builder) WithLocalMemorySize(size uint64) Builder {
	b.localSize = size
	return b
}

// WithPageShift sets the log2 of the page size.
func (b Builder) WithPageShift(shift uint) Builder {
	b.pageShift = shift
	return b
}

// WithGlobalRoot sets the address of the global super-directory.
func (b Builder) WithGlobalRoot(addr uint64) Builder {
	b.globalRoot = addr
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

// WithClock sets the tick barrier.
func (b Builder) WithClock(c mmu.Clock) Builder {
	b.clock = c
	return b
}

// WithFabrics connects the tile to the fabrics.
func (b Builder) WithFabrics(fabrics ...*fabric.Comp) Builder {
	b.fabrics = fabrics
	return b
}

// WithObserver sets the observer of faults.
func (b Builder) WithObserver(o sim.Observer) Builder {
	b.observer = o
	return b
}

// WithVictimPolicy sets the victim selection policy.
func (b Builder) WithVictimPolicy(p mmu.VictimPolicy) Builder {
	b.policy = p
	return b
}

// Build creates the tile and bootstraps its local page table.
func (b Builder) Build(name string) *Tile {
	if len(b.fabrics) == 0 {
		log.Panicf("tile %s is not connected to any fabric", name)
	}

	t := &Tile{
		name:   name,
		id:     b.id,
		row:    b.row,
		column: b.column,
		local:  memory.NewStorage(mmu.LocalBase, b.localSize),
	}

	t.port = fabric.NewPort(b.id, b.fabrics...)
	t.mmu = mmu.MakeBuilder().
		WithTileID(b.id).
		WithPageShift(b.pageShift).
		WithGlobalRoot(b.globalRoot).
		WithClockTicks(b.clockTicks).
		WithClockWipe(b.clockWipe).
		WithLocalMemory(t.local).
		WithClock(b.clock).
		WithRemote(t.port).
		WithObserver(b.observer).
		WithVictimPolicy(b.policy).
		Build(fmt.Sprintf("%s.MMU", name))

	return t
}
