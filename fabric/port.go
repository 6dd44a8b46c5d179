package fabric

import "log"

// A Port is the handle a tile uses to reach the backing memories. It holds
// one leaf attachment per fabric tree.
type Port struct {
	tileID int
	trees  []*Comp
}

// NewPort creates a port for the tile, connected to the given fabrics.
func NewPort(tileID int, trees ...*Comp) *Port {
	for _, t := range trees {
		if tileID < 0 || tileID >= len(t.leafOf) {
			log.Panicf("tile %d is not connected to fabric %s",
				tileID, t.Name())
		}
	}

	return &Port{
		tileID: tileID,
		trees:  trees,
	}
}

// TileID returns the ID of the tile that owns the port.
func (p *Port) TileID() int {
	return p.tileID
}

// Fabrics returns the fabrics the port is connected to.
func (p *Port) Fabrics() []*Comp {
	return p.trees
}

// Read fetches size bytes from the remote address.
func (p *Port) Read(requester Requester, remote, local, size uint64) []byte {
	pkt := NewReadPacket(p.tileID, remote, local, size)

	return p.Request(pkt, requester)
}

// Write stores the data at the remote address.
func (p *Port) Write(requester Requester, remote, local uint64, data []byte) {
	pkt := NewWritePacket(p.tileID, remote, local, data)
	p.Request(pkt, requester)
}

// Request routes the packet through the fabric whose memory holds the remote
// address and returns the payload once the packet has been serviced. A packet
// that no fabric accepts is a fatal configuration error.
func (p *Port) Request(pkt *Packet, requester Requester) []byte {
	for _, t := range p.trees {
		if t.memory == nil || !t.memory.Contains(pkt.RemoteAddress) {
			continue
		}

		if !t.AcceptPacketUp(pkt) {
			break
		}

		t.RoutePacket(pkt, requester)

		return pkt.Payload
	}

	log.Panicf("no fabric accepts packet %s from tile %d to 0x%x+%d",
		pkt.ID, pkt.Origin, pkt.RemoteAddress, pkt.Size)

	return nil
}
