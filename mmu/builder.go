package mmu

import (
	"log"

	"github.com/sarchlab/nocsim/memory"
	"github.com/sarchlab/nocsim/pagetable"
	"github.com/sarchlab/nocsim/sim"
)

// A Builder can build address translation components.
type Builder struct {
	tileID     int
	pageShift  uint
	globalRoot uint64
	clockTicks uint64
	clockWipe  int
	local      *memory.Storage
	clock      Clock
	remote     Remote
	observer   sim.Observer
	policy     VictimPolicy
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		pageShift:  12,
		globalRoot: pagetable.RootOffset,
		clockTicks: 40000,
		clockWipe:  8,
	}
}

// WithTileID sets the ID of the tile that owns the component.
func (b Builder) WithTileID(id int) Builder {
	b.tileID = id
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

// WithClockTicks sets how many ticks pass between two CLOCK sweeps. Zero
// disables the periodic sweep.
func (b Builder) WithClockTicks(ticks uint64) Builder {
	b.clockTicks = ticks
	return b
}

// WithClockWipe sets how many frames a CLOCK sweep clears at most.
func (b Builder) WithClockWipe(n int) Builder {
	b.clockWipe = n
	return b
}

// WithLocalMemory sets the local memory of the tile.
func (b Builder) WithLocalMemory(m *memory.Storage) Builder {
	b.local = m
	return b
}

// WithClock sets the tick barrier.
func (b Builder) WithClock(c Clock) Builder {
	b.clock = c
	return b
}

// WithRemote sets the fabric port that reaches the backing memory.
func (b Builder) WithRemote(r Remote) Builder {
	b.remote = r
	return b
}

// WithObserver sets the observer of faults.
func (b Builder) WithObserver(o sim.Observer) Builder {
	b.observer = o
	return b
}

// WithVictimPolicy sets the victim selection policy. A ClockPolicy is used
// if not set.
func (b Builder) WithVictimPolicy(p VictimPolicy) Builder {
	b.policy = p
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.local == nil {
		log.Panic("local memory is not set")
	}

	if b.clock == nil {
		log.Panic("clock is not set")
	}

	if b.remote == nil {
		log.Panic("remote is not set")
	}

	if b.pageShift < pagetable.MinPageShift ||
		b.pageShift > pagetable.MaxPageShift {
		log.Panicf("page shift %d is not supported", b.pageShift)
	}

	if b.local.Base() != LocalBase {
		log.Panicf("local memory must start at 0x%x", LocalBase)
	}

	pageSize := uint64(1) << b.pageShift
	if b.local.Capacity()%pageSize != 0 {
		log.Panic("local memory is not a whole number of pages")
	}

	if StackPages*pageSize < NumRegisters*8 {
		log.Panic("stack cannot hold the register file")
	}

	if b.clockWipe <= 0 {
		log.Panic("clock wipe must be positive")
	}
}

// Build creates the component and writes the initial local page table. The
// kernel pages, the pages of the local page table and the stack pages are
// fixed and mapped to themselves. All the other frames start invalid.
func (b Builder) Build(name string) *Comp {
	b.parametersMustBeValid()

	pageSize := uint64(1) << b.pageShift
	numFrames := int(b.local.Capacity() >> b.pageShift)

	c := &Comp{
		name:       name,
		tileID:     b.tileID,
		clock:      b.clock,
		remote:     b.remote,
		local:      b.local,
		observer:   b.observer,
		policy:     b.policy,
		pageShift:  b.pageShift,
		pageSize:   pageSize,
		pageMask:   ^(pageSize - 1),
		globalRoot: b.globalRoot,
		mode:       ModeVirtual,
		clockTicks: b.clockTicks,
		clockWipe:  b.clockWipe,
	}

	if c.observer == nil {
		c.observer = sim.NopObserver{}
	}

	if c.policy == nil {
		c.policy = NewClockPolicy()
	}

	c.table = &pageTable{
		storage:   b.local,
		base:      LocalBase + KernelPages*pageSize,
		numFrames: numFrames,
	}
	c.tlb = newTLB(numFrames, c.frameBase)

	c.stackTop = LocalBase + b.local.Capacity()
	c.stackLimit = c.stackTop - StackPages*pageSize
	c.stackPointer = c.stackTop

	b.bootstrapPageTable(c)

	return c
}

func (b Builder) bootstrapPageTable(c *Comp) {
	n := c.table.numFrames
	tablePages := (uint64(n)*PTESize + c.pageSize - 1) >> c.pageShift
	lowFixed := KernelPages + int(tablePages)

	if lowFixed+StackPages >= n {
		log.Panicf("local memory of %d frames leaves no movable frame", n)
	}

	c.local.WriteUint64(LocalBase, tablePages)

	for frame := 0; frame < n; frame++ {
		fixed := frame < lowFixed || frame >= n-StackPages

		var flags Flags
		if fixed {
			flags = FlagValid | FlagFixed | FlagAccessed
		}

		c.table.setEntry(frame, c.frameBase(frame), c.frameBase(frame), flags)

		if fixed {
			c.tlb.install(frame, c.frameBase(frame))
		}
	}
}
