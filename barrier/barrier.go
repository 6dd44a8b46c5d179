// Package barrier provides the tick barrier that gives every tile a
// consistent notion of simulated time.
package barrier

import (
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/nocsim/sim"
)

// A Barrier is a rendezvous point that all the active tiles call once per
// simulated cycle. The tick counter only advances when every active
// participant has arrived.
//
// All the round state is protected by a single lock. The observer is never
// called while the lock is held. Round reports are delivered in cycle order,
// one at a time, even when the round is completed by a finishing task.
type Barrier struct {
	lock sync.Mutex
	cond *sync.Cond

	notifyLock sync.Mutex
	notifyCond *sync.Cond
	notified   uint64

	began   bool
	tasks   int
	arrived int
	tick    uint64

	blocks atomic.Uint64

	observer    sim.Observer
	reportBlock bool
}

// Builder can build barriers.
type Builder struct {
	startTick   uint64
	observer    sim.Observer
	reportBlock bool
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{}
}

// WithStartTick sets the initial value of the tick counter.
func (b Builder) WithStartTick(tick uint64) Builder {
	b.startTick = tick
	return b
}

// WithObserver sets the observer that is notified at the end of each round.
func (b Builder) WithObserver(o sim.Observer) Builder {
	b.observer = o
	return b
}

// WithBlockReport makes the barrier print the number of contended retries to
// stderr at the end of each round that had any.
func (b Builder) WithBlockReport() Builder {
	b.reportBlock = true
	return b
}

// Build creates the barrier.
func (b Builder) Build() *Barrier {
	barrier := &Barrier{
		tick:        b.startTick,
		notified:    b.startTick,
		observer:    b.observer,
		reportBlock: b.reportBlock,
	}
	barrier.cond = sync.NewCond(&barrier.lock)
	barrier.notifyCond = sync.NewCond(&barrier.notifyLock)

	if barrier.observer == nil {
		barrier.observer = sim.NopObserver{}
	}

	return barrier
}

// RegisterTask increments the number of expected participants. It must only
// be called during setup, never while a round is in progress.
func (b *Barrier) RegisterTask() {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.arrived > 0 {
		log.Panic("cannot register a task while a round is in progress")
	}

	b.tasks++
}

// NumTasks returns the number of active participants.
func (b *Barrier) NumTasks() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.tasks
}

// Now returns the current tick.
func (b *Barrier) Now() uint64 {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.tick
}

// ArriveAndWait signals the arrival of the caller for the current round and
// suspends the caller until the round completes. The last arriver completes
// the round itself.
func (b *Barrier) ArriveAndWait() {
	b.lock.Lock()

	if b.tasks == 0 {
		b.lock.Unlock()
		log.Panic("arriving at a barrier without registered tasks")
	}

	b.arrived++
	if b.arrived >= b.tasks {
		cycle, blocks := b.completeRoundLocked()
		b.lock.Unlock()
		b.notify(cycle, blocks)

		return
	}

	round := b.tick
	for b.tick == round {
		b.cond.Wait()
	}

	b.lock.Unlock()
}

// TaskFinished removes the caller from the set of participants. If all the
// remaining participants have already arrived, the round completes
// immediately.
func (b *Barrier) TaskFinished() {
	b.lock.Lock()

	if b.tasks == 0 {
		b.lock.Unlock()
		log.Panic("finishing a task on a barrier without registered tasks")
	}

	b.tasks--
	if b.arrived == 0 || b.arrived < b.tasks {
		b.lock.Unlock()
		return
	}

	cycle, blocks := b.completeRoundLocked()
	b.lock.Unlock()
	b.notify(cycle, blocks)
}

// IncrementBlocks records one contended retry in the current round.
func (b *Barrier) IncrementBlocks() {
	b.blocks.Add(1)
}

// WaitForBegin blocks the caller until Begin is called.
func (b *Barrier) WaitForBegin() {
	b.lock.Lock()
	defer b.lock.Unlock()

	for !b.began {
		b.cond.Wait()
	}
}

// Begin releases all the tiles waiting in WaitForBegin. Calling it more than
// once has no further effect.
func (b *Barrier) Begin() {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.began = true
	b.cond.Broadcast()
}

func (b *Barrier) completeRoundLocked() (cycle, blocks uint64) {
	blocks = b.blocks.Swap(0)
	b.arrived = 0
	b.tick++
	b.cond.Broadcast()

	return b.tick, blocks
}

func (b *Barrier) notify(cycle, blocks uint64) {
	b.notifyLock.Lock()
	for b.notified != cycle-1 {
		b.notifyCond.Wait()
	}
	b.notifyLock.Unlock()

	defer func() {
		b.notifyLock.Lock()
		b.notified = cycle
		b.notifyCond.Broadcast()
		b.notifyLock.Unlock()
	}()

	if b.reportBlock && blocks > 0 {
		fmt.Fprintf(os.Stderr, "On tick %d total blocks %d\n", cycle, blocks)
	}

	b.observer.OnTickAdvanced(cycle, blocks)
}
