// Package workload provides drivers that exercise the tiles of a grid.
package workload

import (
	"errors"
	"fmt"
	"log"

	"github.com/sarchlab/nocsim/tile"
)

// OpKind is the type of a script operation.
type OpKind int

// The operations a Script can run.
const (
	OpRead OpKind = iota
	OpWrite
	OpReadByte
	OpWriteByte
	OpExpect
	OpFlush
	OpDrop
	OpTick
	OpEnterInterrupt
	OpLeaveInterrupt
	OpSignal
	OpTickUntil
)

// An Op is one step of a Script.
type Op struct {
	Kind   OpKind
	Addr   uint64
	Value  uint64
	Count  int
	Signal chan struct{}
}

// Read reads 8 bytes and records the value.
func Read(addr uint64) Op {
	return Op{Kind: OpRead, Addr: addr}
}

// Write writes 8 bytes.
func Write(addr, value uint64) Op {
	return Op{Kind: OpWrite, Addr: addr, Value: value}
}

// ReadByte reads one byte and records the value.
func ReadByte(addr uint64) Op {
	return Op{Kind: OpReadByte, Addr: addr}
}

// WriteByte writes one byte.
func WriteByte(addr uint64, value uint8) Op {
	return Op{Kind: OpWriteByte, Addr: addr, Value: uint64(value)}
}

// Expect reads 8 bytes, records the value and reports a mismatch.
func Expect(addr, value uint64) Op {
	return Op{Kind: OpExpect, Addr: addr, Value: value}
}

// Flush writes the page that holds the address back to the backing memory.
func Flush(addr uint64) Op {
	return Op{Kind: OpFlush, Addr: addr}
}

// Drop discards the page held by the frame.
func Drop(frame int) Op {
	return Op{Kind: OpDrop, Count: frame}
}

// Tick waits for n cycles.
func Tick(n int) Op {
	return Op{Kind: OpTick, Count: n}
}

// EnterInterrupt enters the interrupt context.
func EnterInterrupt() Op {
	return Op{Kind: OpEnterInterrupt}
}

// LeaveInterrupt leaves the interrupt context.
func LeaveInterrupt() Op {
	return Op{Kind: OpLeaveInterrupt}
}

// Signal closes the channel, releasing the tiles that wait on it.
func Signal(ch chan struct{}) Op {
	return Op{Kind: OpSignal, Signal: ch}
}

// TickUntil keeps ticking until the channel is closed.
func TickUntil(ch chan struct{}) Op {
	return Op{Kind: OpTickUntil, Signal: ch}
}

// A Script runs a fixed list of operations on one tile. A Script must not be
// shared between tiles.
type Script struct {
	Ops []Op

	reads []uint64
	errs  []error
}

// NewScript creates a script.
func NewScript(ops ...Op) *Script {
	return &Script{Ops: ops}
}

// Reads returns the values of all the read and expect operations, in order.
func (s *Script) Reads() []uint64 {
	return s.reads
}

// Err returns the mismatches found by the expect operations.
func (s *Script) Err() error {
	return errors.Join(s.errs...)
}

// Run executes the operations.
func (s *Script) Run(t *tile.Tile) {
	m := t.MMU()

	for _, op := range s.Ops {
		switch op.Kind {
		case OpRead:
			s.reads = append(s.reads, m.ReadUint64(op.Addr))
		case OpWrite:
			m.WriteUint64(op.Addr, op.Value)
		case OpReadByte:
			s.reads = append(s.reads, uint64(m.ReadUint8(op.Addr)))
		case OpWriteByte:
			m.WriteUint8(op.Addr, uint8(op.Value))
		case OpExpect:
			s.expect(t, op)
		case OpFlush:
			m.FlushAddress(op.Addr)
		case OpDrop:
			m.DropPage(op.Count)
		case OpTick:
			for i := 0; i < op.Count; i++ {
				t.Tick()
			}
		case OpEnterInterrupt:
			m.EnterInterruptContext()
		case OpLeaveInterrupt:
			m.LeaveInterruptContext()
		case OpSignal:
			close(op.Signal)
		case OpTickUntil:
			tickUntil(t, op.Signal)
		default:
			log.Panicf("unknown op kind %d", op.Kind)
		}
	}
}

func (s *Script) expect(t *tile.Tile, op Op) {
	v := t.MMU().ReadUint64(op.Addr)
	s.reads = append(s.reads, v)

	if v != op.Value {
		s.errs = append(s.errs, fmt.Errorf(
			"tile %d: read 0x%x from 0x%x, expected 0x%x",
			t.ID(), v, op.Addr, op.Value))
	}
}

func tickUntil(t *tile.Tile, ch chan struct{}) {
	for {
		select {
		case <-ch:
			return
		default:
			t.Tick()
		}
	}
}
