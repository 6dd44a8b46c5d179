// Package noc assembles the tiles, the fabrics, the backing memory and the
// tick barrier into a grid, and runs one goroutine per tile.
package noc

import (
	"log"
	"sync"

	"github.com/sarchlab/nocsim/barrier"
	"github.com/sarchlab/nocsim/fabric"
	"github.com/sarchlab/nocsim/memory"
	"github.com/sarchlab/nocsim/pagetable"
	"github.com/sarchlab/nocsim/tile"
)

// A Driver runs the workload of one tile. Each call to Run happens on the
// goroutine of the tile.
type Driver interface {
	Run(t *tile.Tile)
}

// DriverFunc turns a function into a Driver.
type DriverFunc func(t *tile.Tile)

// Run calls the function.
func (f DriverFunc) Run(t *tile.Tile) {
	f(t)
}

// A Grid is a rows by columns array of tiles that share the backing memory
// blocks.
type Grid struct {
	name    string
	rows    int
	columns int

	tiles     []*tile.Tile
	memories  []*memory.Storage
	fabrics   []*fabric.Comp
	barrier   *barrier.Barrier
	pageTable *pagetable.Builder
}

// Name returns the name of the grid.
func (g *Grid) Name() string {
	return g.name
}

// Rows returns the number of rows.
func (g *Grid) Rows() int {
	return g.rows
}

// Columns returns the number of columns.
func (g *Grid) Columns() int {
	return g.columns
}

// NumTiles returns the number of tiles.
func (g *Grid) NumTiles() int {
	return len(g.tiles)
}

// Tiles returns all the tiles in order.
func (g *Grid) Tiles() []*tile.Tile {
	return g.tiles
}

// Tile returns the tile with the given order.
func (g *Grid) Tile(id int) *tile.Tile {
	if id < 0 || id >= len(g.tiles) {
		log.Panicf("tile %d does not exist", id)
	}

	return g.tiles[id]
}

// TileAt returns the tile at the given position.
func (g *Grid) TileAt(row, column int) *tile.Tile {
	if row < 0 || row >= g.rows || column < 0 || column >= g.columns {
		log.Panicf("no tile at (%d, %d)", row, column)
	}

	return g.tiles[row*g.columns+column]
}

// Memories returns the backing memory blocks.
func (g *Grid) Memories() []*memory.Storage {
	return g.memories
}

// Fabrics returns the fabrics, one per memory block.
func (g *Grid) Fabrics() []*fabric.Comp {
	return g.fabrics
}

// Barrier returns the tick barrier.
func (g *Grid) Barrier() *barrier.Barrier {
	return g.barrier
}

// PageTable returns the builder of the global page table. It may only be
// used before Run.
func (g *Grid) PageTable() *pagetable.Builder {
	return g.pageTable
}

// Now returns the current tick.
func (g *Grid) Now() uint64 {
	return g.barrier.Now()
}

// Run starts one goroutine per tile and returns when all the drivers have
// returned. A single driver runs on every tile. Otherwise, there must be one
// driver per tile.
func (g *Grid) Run(drivers ...Driver) {
	if len(drivers) != 1 && len(drivers) != len(g.tiles) {
		log.Panicf("%d drivers for %d tiles", len(drivers), len(g.tiles))
	}

	for range g.tiles {
		g.barrier.RegisterTask()
	}

	var wg sync.WaitGroup
	for i, t := range g.tiles {
		d := drivers[0]
		if len(drivers) > 1 {
			d = drivers[i]
		}

		wg.Add(1)

		go g.runTile(&wg, t, d)
	}

	g.barrier.Begin()
	wg.Wait()
}

func (g *Grid) runTile(wg *sync.WaitGroup, t *tile.Tile, d Driver) {
	defer wg.Done()
	defer g.barrier.TaskFinished()

	g.barrier.WaitForBegin()
	d.Run(t)
}
