package fabric

import (
	"log"

	"github.com/sarchlab/nocsim/memory"
)

// A Builder can build fabrics.
type Builder struct {
	numTiles       int
	admissionLimit int
	serviceDelay   int
	transitDelay   int
	memory         *memory.Storage
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		numTiles:       2,
		admissionLimit: 4,
		serviceDelay:   50,
		transitDelay:   8,
	}
}

// WithNumTiles sets the number of tiles connected to the fabric. It must be a
// power of two.
func (b Builder) WithNumTiles(n int) Builder {
	b.numTiles = n
	return b
}

// WithAdmissionLimit sets the number of packets the memory controller can
// service at the same time.
func (b Builder) WithAdmissionLimit(n int) Builder {
	b.admissionLimit = n
	return b
}

// WithServiceDelay sets the number of ticks the memory controller takes to
// service a read. Writes take twice as long.
func (b Builder) WithServiceDelay(ticks int) Builder {
	b.serviceDelay = ticks
	return b
}

// WithTransitDelay sets the number of ticks for a packet to cross from the
// root to the memory.
func (b Builder) WithTransitDelay(ticks int) Builder {
	b.transitDelay = ticks
	return b
}

// WithMemory attaches the backing memory to the root.
func (b Builder) WithMemory(m *memory.Storage) Builder {
	b.memory = m
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.numTiles <= 0 || b.numTiles&(b.numTiles-1) != 0 {
		log.Panicf("number of tiles must be a power of two, got %d",
			b.numTiles)
	}

	if b.admissionLimit <= 0 {
		log.Panic("admission limit must be positive")
	}

	if b.serviceDelay < 0 || b.transitDelay < 0 {
		log.Panic("delays must not be negative")
	}
}

// Build creates the fabric. Every leaf serves two tiles, one on each side.
// Leaves are joined pairwise, level by level, until a single root remains.
func (b Builder) Build(name string) *Comp {
	b.parametersMustBeValid()

	numLeaves := max(1, b.numTiles/2)

	c := &Comp{
		name:   name,
		nodes:  make([]node, 2*numLeaves-1),
		leafOf: make([]int, b.numTiles),
		memory: b.memory,
	}
	c.ctrl.admissionLimit = b.admissionLimit
	c.ctrl.serviceDelay = b.serviceDelay
	c.ctrl.transitDelay = b.transitDelay

	b.buildLeaves(c, numLeaves)
	c.root = b.joinLevels(c, numLeaves)

	return c
}

func (b Builder) buildLeaves(c *Comp, numLeaves int) {
	for i := 0; i < numLeaves; i++ {
		nd := &c.nodes[i]
		nd.index = i
		nd.parent = -1
		nd.children = [2]int{-1, -1}
		nd.ranges[left] = tileRange{low: 2 * i, high: 2 * i}
		nd.ranges[right] = tileRange{low: 2*i + 1, high: 2*i + 1}

		if 2*i+1 >= b.numTiles {
			nd.ranges[right] = tileRange{low: 1, high: 0}
		}

		c.leafOf[2*i] = i
		if 2*i+1 < b.numTiles {
			c.leafOf[2*i+1] = i
		}
	}
}

// joinLevels builds the upper levels and returns the index of the root.
func (b Builder) joinLevels(c *Comp, numLeaves int) int {
	levelStart, levelSize := 0, numLeaves
	next := numLeaves

	for levelSize > 1 {
		for j := 0; j < levelSize; j += 2 {
			lo, hi := levelStart+j, levelStart+j+1

			nd := &c.nodes[next]
			nd.index = next
			nd.parent = -1
			nd.children = [2]int{lo, hi}
			nd.ranges[left] = c.nodes[lo].span()
			nd.ranges[right] = c.nodes[hi].span()

			c.nodes[lo].parent = next
			c.nodes[lo].sideInParent = left
			c.nodes[hi].parent = next
			c.nodes[hi].sideInParent = right

			next++
		}

		levelStart += levelSize
		levelSize /= 2
	}

	return len(c.nodes) - 1
}
