package fabric

import (
	"log"
	"sync"
)

type side int

const (
	left side = iota
	right
)

func (s side) other() side {
	return 1 - s
}

func (s side) String() string {
	if s == left {
		return "left"
	}

	return "right"
}

// tileRange is an inclusive range of tile IDs. The range is empty if low is
// larger than high.
type tileRange struct {
	low, high int
}

func (r tileRange) empty() bool {
	return r.low > r.high
}

func (r tileRange) contains(tileID int) bool {
	return tileID >= r.low && tileID <= r.high
}

type slot struct {
	occupied bool
	packet   *Packet
}

// A node is one arbiter of the tree. The two input slots, the output claim
// and the gate bit are guarded by the node lock and are only touched inside a
// single method call.
type node struct {
	lock sync.Mutex

	index        int
	ranges       [2]tileRange
	slots        [2]slot
	outputBusy   bool
	gate         side
	parent       int
	sideInParent side
	children     [2]int
}

func (n *node) sideOf(tileID int) side {
	switch {
	case n.ranges[left].contains(tileID):
		return left
	case n.ranges[right].contains(tileID):
		return right
	}

	log.Panicf("tile %d is not routed through node %d", tileID, n.index)

	return left
}

func (n *node) span() tileRange {
	r := n.ranges[left]
	if !n.ranges[right].empty() {
		r.high = n.ranges[right].high
	}

	return r
}
