package mmu

import "log"

// A VictimPolicy decides which local frame to reuse when a page has to be
// brought in. It must never return a fixed frame.
type VictimPolicy interface {
	ChooseVictim(table FrameTable) (frame int)
}

// ClockPolicy prefers invalid frames, then frames that the CLOCK sweep has
// found not accessed. When every movable frame was recently accessed, it
// picks one with a rotating counter, which keeps runs reproducible.
type ClockPolicy struct {
	next int
}

// NewClockPolicy creates a ClockPolicy.
func NewClockPolicy() *ClockPolicy {
	return &ClockPolicy{}
}

// ChooseVictim selects a frame to evict.
func (p *ClockPolicy) ChooseVictim(table FrameTable) int {
	n := table.NumFrames()
	candidate := -1

	for i := 0; i < n; i++ {
		flags := table.FrameFlags(i)

		if flags.Has(FlagFixed) {
			continue
		}

		if !flags.Has(FlagValid) {
			return i
		}

		if candidate < 0 && !flags.Has(FlagAccessed) {
			candidate = i
		}
	}

	if candidate >= 0 {
		return candidate
	}

	return p.rotate(table)
}

func (p *ClockPolicy) rotate(table FrameTable) int {
	n := table.NumFrames()

	for i := 0; i < n; i++ {
		frame := p.next
		p.next = (p.next + 1) % n

		if !table.FrameFlags(frame).Has(FlagFixed) {
			return frame
		}
	}

	log.Panic("all the local frames are fixed")

	return -1
}
