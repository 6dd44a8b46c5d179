package tracing

import (
	"sync"

	"github.com/sarchlab/nocsim/fabric"
	"github.com/sarchlab/nocsim/sim"
)

// SlotTracer follows the packets through the fabric slots. It counts how
// often each slot is used, detects a slot that receives a second packet
// before the first has left, and tracks how many packets are in service at
// the root.
type SlotTracer struct {
	lock sync.Mutex

	occupied   map[fabric.SlotInfo]string
	occupies   map[fabric.SlotInfo]uint64
	violations uint64

	inService     int
	peakInService int
}

// NewSlotTracer creates a SlotTracer.
func NewSlotTracer() *SlotTracer {
	return &SlotTracer{
		occupied: make(map[fabric.SlotInfo]string),
		occupies: make(map[fabric.SlotInfo]uint64),
	}
}

// Func handles the hooks of the fabric.
func (t *SlotTracer) Func(ctx sim.HookCtx) {
	t.lock.Lock()
	defer t.lock.Unlock()

	switch ctx.Pos {
	case fabric.HookPosSlotOccupy:
		t.occupy(ctx)
	case fabric.HookPosSlotRelease:
		t.release(ctx)
	case fabric.HookPosServiceStart:
		t.inService++
		t.peakInService = max(t.peakInService, t.inService)
	case fabric.HookPosServiceEnd:
		t.inService--
	}
}

func (t *SlotTracer) occupy(ctx sim.HookCtx) {
	info := ctx.Detail.(fabric.SlotInfo)
	pkt := ctx.Item.(*fabric.Packet)

	if _, busy := t.occupied[info]; busy {
		t.violations++
	}

	t.occupied[info] = pkt.ID
	t.occupies[info]++
}

func (t *SlotTracer) release(ctx sim.HookCtx) {
	info := ctx.Detail.(fabric.SlotInfo)
	pkt := ctx.Item.(*fabric.Packet)

	if id, busy := t.occupied[info]; !busy || id != pkt.ID {
		t.violations++
	}

	delete(t.occupied, info)
}

// Violations returns the number of times a slot was used by two packets.
func (t *SlotTracer) Violations() uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.violations
}

// Occupies returns how many packets each slot has held.
func (t *SlotTracer) Occupies() map[fabric.SlotInfo]uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	m := make(map[fabric.SlotInfo]uint64, len(t.occupies))
	for k, v := range t.occupies {
		m[k] = v
	}

	return m
}

// PeakInService returns the largest number of packets in service at once.
func (t *SlotTracer) PeakInService() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.peakInService
}
