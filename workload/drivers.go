package workload

import (
	"sync/atomic"

	"github.com/sarchlab/nocsim/tile"
)

// Idle only ticks.
type Idle struct {
	Ticks int
}

// Run ticks the tile.
func (d Idle) Run(t *tile.Tile) {
	for i := 0; i < d.Ticks; i++ {
		t.Tick()
	}
}

// Stride makes every tile write a pattern into its own slice of the virtual
// address space and read it back. A single Stride can drive all the tiles.
type Stride struct {
	Base   uint64
	Stride uint64
	Count  int
	Rounds int

	accesses   atomic.Uint64
	mismatches atomic.Uint64
}

// SpanPerTile returns the number of bytes of virtual memory each tile uses.
func (d *Stride) SpanPerTile() uint64 {
	return d.Stride * uint64(d.Count)
}

// Accesses returns the number of reads and writes performed so far.
func (d *Stride) Accesses() uint64 {
	return d.accesses.Load()
}

// Mismatches returns the number of reads that did not return the value
// written before.
func (d *Stride) Mismatches() uint64 {
	return d.mismatches.Load()
}

// Run writes and checks the pattern of the tile.
func (d *Stride) Run(t *tile.Tile) {
	m := t.MMU()
	base := d.Base + uint64(t.ID())*d.SpanPerTile()

	for r := 0; r < d.Rounds; r++ {
		for i := 0; i < d.Count; i++ {
			m.WriteUint64(base+uint64(i)*d.Stride, pattern(t.ID(), r, i))
			t.Tick()
		}

		for i := 0; i < d.Count; i++ {
			if m.ReadUint64(base+uint64(i)*d.Stride) != pattern(t.ID(), r, i) {
				d.mismatches.Add(1)
			}

			t.Tick()
		}

		d.accesses.Add(2 * uint64(d.Count))
	}
}

func pattern(tileID, round, i int) uint64 {
	return uint64(tileID)<<40 | uint64(round)<<20 | uint64(i)
}
