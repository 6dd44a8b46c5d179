package fabric

import "github.com/sarchlab/nocsim/sim"

// A Packet carries one remote-memory operation from a tile to the backing
// memory. The packet travels up the tree, is serviced at the root and then
// returns to the caller as a plain function return.
type Packet struct {
	ID            string
	Origin        int
	RemoteAddress uint64
	LocalAddress  uint64
	Size          uint64
	Write         bool
	Payload       []byte
}

// NewReadPacket creates a packet that reads size bytes from the remote
// address.
func NewReadPacket(origin int, remote, local, size uint64) *Packet {
	return &Packet{
		ID:            sim.GetIDGenerator().Generate(),
		Origin:        origin,
		RemoteAddress: remote,
		LocalAddress:  local,
		Size:          size,
	}
}

// NewWritePacket creates a packet that writes the payload to the remote
// address.
func NewWritePacket(origin int, remote, local uint64, payload []byte) *Packet {
	return &Packet{
		ID:            sim.GetIDGenerator().Generate(),
		Origin:        origin,
		RemoteAddress: remote,
		LocalAddress:  local,
		Size:          uint64(len(payload)),
		Write:         true,
		Payload:       payload,
	}
}

// A Requester is the tile on whose behalf a packet is routed. Routing runs on
// the requester's goroutine and waits by calling into the tick barrier
// through it.
type Requester interface {
	// WaitGlobalTick suspends the requester for one simulated cycle.
	WaitGlobalTick()

	// IncrementBlocks records one contended retry.
	IncrementBlocks()
}
