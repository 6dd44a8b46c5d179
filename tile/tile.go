// Package tile composes the local memory, the address translation engine and
// the fabric port of one simulated core.
package tile

import (
	"github.com/sarchlab/nocsim/fabric"
	"github.com/sarchlab/nocsim/memory"
	"github.com/sarchlab/nocsim/mmu"
)

// A Tile is one core of the grid.
type Tile struct {
	name   string
	id     int
	row    int
	column int

	local *memory.Storage
	mmu   *mmu.Comp
	port  *fabric.Port
}

// Name returns the name of the tile.
func (t *Tile) Name() string {
	return t.name
}

// ID returns the order of the tile in the grid.
func (t *Tile) ID() int {
	return t.id
}

// Row returns the row of the tile.
func (t *Tile) Row() int {
	return t.row
}

// Column returns the column of the tile.
func (t *Tile) Column() int {
	return t.column
}

// Local returns the local memory.
func (t *Tile) Local() *memory.Storage {
	return t.local
}

// MMU returns the address translation engine.
func (t *Tile) MMU() *mmu.Comp {
	return t.mmu
}

// Port returns the fabric port.
func (t *Tile) Port() *fabric.Port {
	return t.port
}

// Tick waits for one simulated cycle.
func (t *Tile) Tick() {
	t.mmu.Tick()
}
