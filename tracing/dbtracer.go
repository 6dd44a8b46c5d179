package tracing

import (
	"sync/atomic"

	"github.com/sarchlab/nocsim/datarecording"
	"github.com/tebeka/atexit"
)

const (
	roundTable = "nocsim_rounds"
	faultTable = "nocsim_faults"
)

type roundEntry struct {
	Cycle  uint64
	Blocks uint64
}

type faultEntry struct {
	Cycle  uint64
	TileID int
	Kind   string
}

// DBTracer stores the rounds and the faults into a data recorder. Rounds
// without contention are only stored every sampleEvery cycles.
type DBTracer struct {
	backend     datarecording.DataRecorder
	sampleEvery uint64
	cycle       atomic.Uint64
}

// NewDBTracer creates a new DBTracer.
func NewDBTracer(
	dataRecorder datarecording.DataRecorder,
	sampleEvery uint64,
) *DBTracer {
	dataRecorder.CreateTable(roundTable, roundEntry{})
	dataRecorder.CreateTable(faultTable, faultEntry{})

	t := &DBTracer{
		backend:     dataRecorder,
		sampleEvery: sampleEvery,
	}

	atexit.Register(func() {
		t.Terminate()
	})

	return t
}

// OnTickAdvanced records the round.
func (t *DBTracer) OnTickAdvanced(cycle, blocks uint64) {
	t.cycle.Store(cycle)

	sampled := t.sampleEvery > 0 && cycle%t.sampleEvery == 0
	if blocks == 0 && !sampled {
		return
	}

	t.backend.InsertData(roundTable, roundEntry{Cycle: cycle, Blocks: blocks})
}

// OnHardFault records a hard fault.
func (t *DBTracer) OnHardFault(tileID int) {
	t.backend.InsertData(faultTable, faultEntry{
		Cycle:  t.cycle.Load(),
		TileID: tileID,
		Kind:   "hard",
	})
}

// OnSmallFault records a global page-table lookup.
func (t *DBTracer) OnSmallFault(tileID int) {
	t.backend.InsertData(faultTable, faultEntry{
		Cycle:  t.cycle.Load(),
		TileID: tileID,
		Kind:   "small",
	})
}

// Terminate flushes the recorder.
func (t *DBTracer) Terminate() {
	t.backend.Flush()
}
