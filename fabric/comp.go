// Package fabric implements the arbitrated interconnect tree that routes
// memory requests from the tiles to a shared backing memory.
package fabric

import (
	"fmt"
	"os"
	"sync"

	"github.com/sarchlab/nocsim/memory"
	"github.com/sarchlab/nocsim/sim"
)

// HookPosSlotOccupy marks when a packet enters a node slot. The hook runs
// while the node lock is held and must not call back into the fabric.
var HookPosSlotOccupy = &sim.HookPos{Name: "Slot Occupy"}

// HookPosSlotRelease marks when a packet leaves a node slot. The hook runs
// while the node lock is held and must not call back into the fabric.
var HookPosSlotRelease = &sim.HookPos{Name: "Slot Release"}

// HookPosServiceStart marks when the root admits a packet.
var HookPosServiceStart = &sim.HookPos{Name: "Service Start"}

// HookPosServiceEnd marks when the root completes a packet.
var HookPosServiceEnd = &sim.HookPos{Name: "Service End"}

// SlotInfo identifies a node slot. It is the Detail of the slot hooks.
type SlotInfo struct {
	Fabric string
	Node   int
	Left   bool
}

// SlotState is a snapshot of a node slot.
type SlotState struct {
	SlotInfo
	Occupied bool
	PacketID string
}

// controller models the shared memory controller attached to the root.
type controller struct {
	lock sync.Mutex

	admissionLimit int
	serviceDelay   int
	transitDelay   int

	inService    int
	maxInService int
	serviced     uint64
}

// Comp is a tree of arbiter nodes connecting the tiles to one backing memory.
// All the nodes live in a single arena and refer to each other by index.
type Comp struct {
	sim.HookableBase

	name   string
	nodes  []node
	root   int
	leafOf []int
	memory *memory.Storage
	ctrl   controller
}

// Name returns the name of the fabric.
func (c *Comp) Name() string {
	return c.name
}

// Memory returns the backing memory attached to the root.
func (c *Comp) Memory() *memory.Storage {
	return c.memory
}

// NumNodes returns the number of arbiter nodes in the tree.
func (c *Comp) NumNodes() int {
	return len(c.nodes)
}

// Depth returns the number of nodes a packet passes on its way to the root.
func (c *Comp) Depth() int {
	depth := 1
	for n := c.nodes[c.leafOf[0]].parent; n >= 0; n = c.nodes[n].parent {
		depth++
	}

	return depth
}

// AcceptPacketUp checks if the packet can be serviced by this fabric. A false
// return value is a configuration error, not a retryable condition.
func (c *Comp) AcceptPacketUp(pkt *Packet) bool {
	if c.memory == nil {
		fmt.Fprintf(os.Stderr, "%s has no backing memory attached\n", c.name)
		return false
	}

	return c.memory.ContainsRange(pkt.RemoteAddress, pkt.Size)
}

// RoutePacket moves the packet from the origin's leaf up to the root, has it
// serviced by the memory controller and returns when the payload is
// available. Every wait is a call to requester.WaitGlobalTick.
func (c *Comp) RoutePacket(pkt *Packet, requester Requester) {
	n := c.leafOf[pkt.Origin]
	s := c.nodes[n].sideOf(pkt.Origin)

	c.occupySlot(n, s, pkt, requester)

	for {
		c.claimOutput(n, s, requester)

		parent := c.nodes[n].parent
		if parent < 0 {
			c.admit(requester)
			c.releaseSlot(n, s)
			c.service(pkt, requester)

			return
		}

		ps := c.nodes[n].sideInParent
		c.occupySlot(parent, ps, pkt, requester)
		c.releaseSlot(n, s)

		n, s = parent, ps
	}
}

// occupySlot waits until the slot is free and puts the packet in it. Each
// attempt takes one tick.
func (c *Comp) occupySlot(n int, s side, pkt *Packet, requester Requester) {
	nd := &c.nodes[n]

	for {
		requester.WaitGlobalTick()

		nd.lock.Lock()
		if !nd.slots[s].occupied {
			nd.slots[s] = slot{occupied: true, packet: pkt}
			c.invokeSlotHook(HookPosSlotOccupy, nd, s, pkt)
			nd.lock.Unlock()

			return
		}
		nd.lock.Unlock()

		requester.IncrementBlocks()
	}
}

// claimOutput waits until the packet in slot s may leave the node. When both
// slots are occupied, the gate decides. The gate always points to the side
// that was not serviced last, so two contended sides strictly alternate.
func (c *Comp) claimOutput(n int, s side, requester Requester) {
	for !c.tryClaimOutput(n, s) {
		requester.IncrementBlocks()
		requester.WaitGlobalTick()
	}
}

func (c *Comp) tryClaimOutput(n int, s side) bool {
	nd := &c.nodes[n]

	nd.lock.Lock()
	defer nd.lock.Unlock()

	contended := nd.slots[s.other()].occupied
	if nd.outputBusy || (contended && nd.gate != s) {
		return false
	}

	nd.outputBusy = true
	nd.gate = s.other()

	return true
}

func (c *Comp) releaseSlot(n int, s side) {
	nd := &c.nodes[n]

	nd.lock.Lock()
	pkt := nd.slots[s].packet
	c.invokeSlotHook(HookPosSlotRelease, nd, s, pkt)
	nd.slots[s] = slot{}
	nd.outputBusy = false
	nd.lock.Unlock()
}

func (c *Comp) invokeSlotHook(pos *sim.HookPos, nd *node, s side, pkt *Packet) {
	if c.NumHooks() == 0 {
		return
	}

	c.InvokeHook(sim.HookCtx{
		Domain: c,
		Pos:    pos,
		Item:   pkt,
		Detail: SlotInfo{Fabric: c.name, Node: nd.index, Left: s == left},
	})
}

// admit waits until the memory controller has capacity for one more packet.
func (c *Comp) admit(requester Requester) {
	for {
		c.ctrl.lock.Lock()
		if c.ctrl.inService < c.ctrl.admissionLimit {
			c.ctrl.inService++
			c.ctrl.maxInService = max(c.ctrl.maxInService, c.ctrl.inService)
			c.ctrl.lock.Unlock()

			return
		}
		c.ctrl.lock.Unlock()

		requester.IncrementBlocks()
		requester.WaitGlobalTick()
	}
}

func (c *Comp) service(pkt *Packet, requester Requester) {
	c.invokeServiceHook(HookPosServiceStart, pkt)

	delay := c.ctrl.transitDelay + c.ctrl.serviceDelay
	if pkt.Write {
		delay += c.ctrl.serviceDelay
	}

	for i := 0; i < delay; i++ {
		requester.WaitGlobalTick()
	}

	if pkt.Write {
		c.memory.MustWrite(pkt.RemoteAddress, pkt.Payload[:pkt.Size])
	} else {
		pkt.Payload = c.memory.MustRead(pkt.RemoteAddress, pkt.Size)
	}

	c.ctrl.lock.Lock()
	c.ctrl.inService--
	c.ctrl.serviced++
	c.ctrl.lock.Unlock()

	c.invokeServiceHook(HookPosServiceEnd, pkt)
}

func (c *Comp) invokeServiceHook(pos *sim.HookPos, pkt *Packet) {
	if c.NumHooks() == 0 {
		return
	}

	c.InvokeHook(sim.HookCtx{
		Domain: c,
		Pos:    pos,
		Item:   pkt,
	})
}

// InService returns the number of packets currently being serviced by the
// memory controller.
func (c *Comp) InService() int {
	c.ctrl.lock.Lock()
	defer c.ctrl.lock.Unlock()

	return c.ctrl.inService
}

// MaxInService returns the largest number of packets that have been in
// service at the same time.
func (c *Comp) MaxInService() int {
	c.ctrl.lock.Lock()
	defer c.ctrl.lock.Unlock()

	return c.ctrl.maxInService
}

// Serviced returns the number of packets completed by the memory controller.
func (c *Comp) Serviced() uint64 {
	c.ctrl.lock.Lock()
	defer c.ctrl.lock.Unlock()

	return c.ctrl.serviced
}

// Slots returns a snapshot of all the node slots.
func (c *Comp) Slots() []SlotState {
	states := make([]SlotState, 0, 2*len(c.nodes))

	for i := range c.nodes {
		nd := &c.nodes[i]

		nd.lock.Lock()
		for _, s := range []side{left, right} {
			if nd.ranges[s].empty() {
				continue
			}

			state := SlotState{
				SlotInfo: SlotInfo{Fabric: c.name, Node: i, Left: s == left},
				Occupied: nd.slots[s].occupied,
			}
			if nd.slots[s].packet != nil {
				state.PacketID = nd.slots[s].packet.ID
			}

			states = append(states, state)
		}
		nd.lock.Unlock()
	}

	return states
}
