// Package tracing provides observers and hooks that collect statistics from
// a running grid.
package tracing

import (
	"sync/atomic"
)

// Counters accumulates the observer notifications with atomic counters. It
// can be read while the simulation is running.
type Counters struct {
	cycle       atomic.Uint64
	rounds      atomic.Uint64
	blocks      atomic.Uint64
	hardFaults  []atomic.Uint64
	smallFaults []atomic.Uint64
}

// CounterSnapshot is a copy of the counters.
type CounterSnapshot struct {
	Cycle       uint64
	Rounds      uint64
	Blocks      uint64
	HardFaults  []uint64
	SmallFaults []uint64
}

// NewCounters creates counters for numTiles tiles.
func NewCounters(numTiles int) *Counters {
	return &Counters{
		hardFaults:  make([]atomic.Uint64, numTiles),
		smallFaults: make([]atomic.Uint64, numTiles),
	}
}

// OnTickAdvanced records a completed round.
func (c *Counters) OnTickAdvanced(cycle, blocks uint64) {
	c.cycle.Store(cycle)
	c.rounds.Add(1)
	c.blocks.Add(blocks)
}

// OnHardFault records a hard fault.
func (c *Counters) OnHardFault(tileID int) {
	c.hardFaults[tileID].Add(1)
}

// OnSmallFault records a global page-table lookup.
func (c *Counters) OnSmallFault(tileID int) {
	c.smallFaults[tileID].Add(1)
}

// Cycle returns the last cycle reported.
func (c *Counters) Cycle() uint64 {
	return c.cycle.Load()
}

// TotalBlocks returns the contended retries of all the rounds.
func (c *Counters) TotalBlocks() uint64 {
	return c.blocks.Load()
}

// Snapshot copies the counters.
func (c *Counters) Snapshot() CounterSnapshot {
	s := CounterSnapshot{
		Cycle:       c.cycle.Load(),
		Rounds:      c.rounds.Load(),
		Blocks:      c.blocks.Load(),
		HardFaults:  make([]uint64, len(c.hardFaults)),
		SmallFaults: make([]uint64, len(c.smallFaults)),
	}

	for i := range c.hardFaults {
		s.HardFaults[i] = c.hardFaults[i].Load()
		s.SmallFaults[i] = c.smallFaults[i].Load()
	}

	return s
}

// TotalHardFaults sums the hard faults of all the tiles.
func (s CounterSnapshot) TotalHardFaults() uint64 {
	var total uint64
	for _, n := range s.HardFaults {
		total += n
	}

	return total
}

// TotalSmallFaults sums the small faults of all the tiles.
func (s CounterSnapshot) TotalSmallFaults() uint64 {
	var total uint64
	for _, n := range s.SmallFaults {
		total += n
	}

	return total
}
