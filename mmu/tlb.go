package mmu

// A TLBEntry maps one virtual page to one local frame.
type TLBEntry struct {
	Tag       uint64
	FrameBase uint64
	Valid     bool
}

// tlb has exactly one entry per local frame. Entry i always points to frame
// i, only the tag and the valid bit change.
type tlb struct {
	entries []TLBEntry
}

func newTLB(numFrames int, frameBase func(frame int) uint64) *tlb {
	t := &tlb{entries: make([]TLBEntry, numFrames)}
	for i := range t.entries {
		t.entries[i] = TLBEntry{
			Tag:       frameBase(i),
			FrameBase: frameBase(i),
		}
	}

	return t
}

func (t *tlb) lookup(page uint64) (frame int, found bool) {
	for i, e := range t.entries {
		if e.Valid && e.Tag == page {
			return i, true
		}
	}

	return 0, false
}

func (t *tlb) install(frame int, page uint64) {
	t.entries[frame].Tag = page
	t.entries[frame].Valid = true
}

func (t *tlb) invalidate(frame int) {
	t.entries[frame].Valid = false
}

func (t *tlb) invalidatePage(page uint64) {
	if frame, found := t.lookup(page); found {
		t.invalidate(frame)
	}
}
