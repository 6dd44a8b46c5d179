// Package mmu implements the per-tile address translation engine. It owns
// the TLB and the local page table of a tile, brings pages in from the
// backing memory on hard faults and periodically runs a CLOCK sweep.
package mmu

import (
	"encoding/binary"
	"log"
	"sync/atomic"

	"github.com/sarchlab/nocsim/fabric"
	"github.com/sarchlab/nocsim/memory"
	"github.com/sarchlab/nocsim/pagetable"
	"github.com/sarchlab/nocsim/sim"
)

// TransferGranule is the number of bytes moved by one fabric packet when a
// page is brought in or written back.
const TransferGranule = 16

// LocalBase is the address of the first byte of the local memory of every
// tile.
const LocalBase uint64 = 0xA000000000000000

// Mode decides if addresses are translated.
type Mode int

// The processor modes.
const (
	ModeReal Mode = iota
	ModeVirtual
)

func (m Mode) String() string {
	if m == ModeReal {
		return "REAL"
	}

	return "VIRTUAL"
}

// A Clock is the tick barrier as seen by one tile.
type Clock interface {
	ArriveAndWait()
	IncrementBlocks()
}

// A Remote moves bytes between the tile and the backing memory.
type Remote interface {
	Read(requester fabric.Requester, remote, local, size uint64) []byte
	Write(requester fabric.Requester, remote, local uint64, data []byte)
}

// Stats are the counters of a tile.
type Stats struct {
	TileID      int
	HardFaults  uint64
	SmallFaults uint64
	Blocks      uint64
	Ticks       uint64
}

// Comp is the address translation engine of one tile. Only the goroutine of
// the tile may call its methods, except for the counter getters.
type Comp struct {
	name   string
	tileID int

	clock    Clock
	remote   Remote
	local    *memory.Storage
	observer sim.Observer
	policy   VictimPolicy

	pageShift  uint
	pageSize   uint64
	pageMask   uint64
	globalRoot uint64

	registers   RegisterFile
	mode        Mode
	inInterrupt bool
	tlb         *tlb
	table       *pageTable

	stackPointer uint64
	stackLimit   uint64
	stackTop     uint64

	clockTicks  uint64
	clockWipe   int
	clockCursor int
	clockDue    bool

	hardFaults  atomic.Uint64
	smallFaults atomic.Uint64
	blocks      atomic.Uint64
	ticks       atomic.Uint64
}

// Name returns the name of the component.
func (c *Comp) Name() string {
	return c.name
}

// TileID returns the ID of the tile that owns the component.
func (c *Comp) TileID() int {
	return c.tileID
}

// Mode returns the current processor mode.
func (c *Comp) Mode() Mode {
	return c.mode
}

// InInterruptContext checks if the tile is handling an interrupt.
func (c *Comp) InInterruptContext() bool {
	return c.inInterrupt
}

// PageSize returns the size of a page in bytes.
func (c *Comp) PageSize() uint64 {
	return c.pageSize
}

// NumFrames returns the number of local frames.
func (c *Comp) NumFrames() int {
	return c.table.numFrames
}

// FrameTable returns a read-only view of the local page table.
func (c *Comp) FrameTable() FrameTable {
	return c.table
}

// TLBEntries returns a copy of the TLB.
func (c *Comp) TLBEntries() []TLBEntry {
	entries := make([]TLBEntry, len(c.tlb.entries))
	copy(entries, c.tlb.entries)

	return entries
}

// StackPointer returns the current stack pointer.
func (c *Comp) StackPointer() uint64 {
	return c.stackPointer
}

// Register returns the value of register i.
func (c *Comp) Register(i int) uint64 {
	return c.registers.Get(i)
}

// SetRegister updates register i.
func (c *Comp) SetRegister(i int, value uint64) {
	c.registers.Set(i, value)
}

// HardFaults returns the number of hard faults handled so far.
func (c *Comp) HardFaults() uint64 {
	return c.hardFaults.Load()
}

// SmallFaults returns the number of global page-table lookups so far.
func (c *Comp) SmallFaults() uint64 {
	return c.smallFaults.Load()
}

// Blocks returns the number of contended retries of the tile.
func (c *Comp) Blocks() uint64 {
	return c.blocks.Load()
}

// Ticks returns the number of ticks the tile has waited for.
func (c *Comp) Ticks() uint64 {
	return c.ticks.Load()
}

// Stats returns a snapshot of the counters.
func (c *Comp) Stats() Stats {
	return Stats{
		TileID:      c.tileID,
		HardFaults:  c.HardFaults(),
		SmallFaults: c.SmallFaults(),
		Blocks:      c.Blocks(),
		Ticks:       c.Ticks(),
	}
}

// Tick waits for one simulated cycle. A CLOCK sweep that has become due runs
// here, unless the tile is in interrupt context.
func (c *Comp) Tick() {
	c.waitATick()
	c.maybeSweep()
}

// WaitGlobalTick waits for one simulated cycle on behalf of the fabric. It
// never starts a CLOCK sweep.
func (c *Comp) WaitGlobalTick() {
	c.waitATick()
}

// IncrementBlocks records one contended retry.
func (c *Comp) IncrementBlocks() {
	c.blocks.Add(1)
	c.clock.IncrementBlocks()
}

func (c *Comp) waitATick() {
	c.clock.ArriveAndWait()

	ticks := c.ticks.Add(1)
	if c.clockTicks > 0 && ticks%c.clockTicks == 0 {
		c.clockDue = true
	}
}

// EnterInterruptContext switches to REAL mode and saves all the registers on
// the local stack. Entering twice is fatal.
func (c *Comp) EnterInterruptContext() {
	if c.inInterrupt {
		log.Panicf("tile %d: interrupt context re-entered", c.tileID)
	}

	c.inInterrupt = true
	c.mode = ModeReal

	for _, r := range c.registers {
		c.waitATick()
		c.push()
		c.waitATick()
		c.local.WriteUint64(c.stackPointer, r)
	}
}

// LeaveInterruptContext restores the registers and switches back to VIRTUAL
// mode. A CLOCK sweep deferred by the interrupt context runs afterwards.
func (c *Comp) LeaveInterruptContext() {
	c.leaveInterrupt()
	c.maybeSweep()
}

func (c *Comp) leaveInterrupt() {
	if !c.inInterrupt {
		log.Panicf("tile %d: not in interrupt context", c.tileID)
	}

	for i := NumRegisters - 1; i >= 0; i-- {
		c.waitATick()
		c.registers[i] = c.local.ReadUint64(c.stackPointer)
		c.waitATick()
		c.pop()
	}

	c.registers[0] = 0
	c.mode = ModeVirtual
	c.inInterrupt = false
}

func (c *Comp) push() {
	if c.stackPointer < c.stackLimit+8 {
		log.Panicf("tile %d: stack overflow", c.tileID)
	}

	c.stackPointer -= 8
}

func (c *Comp) pop() {
	if c.stackPointer+8 > c.stackTop {
		log.Panicf("tile %d: stack underflow", c.tileID)
	}

	c.stackPointer += 8
}

func (c *Comp) frameBase(frame int) uint64 {
	return c.local.Base() + uint64(frame)<<c.pageShift
}

func (c *Comp) frameOf(localAddr uint64) int {
	return int((localAddr - c.local.Base()) >> c.pageShift)
}

// TranslateForRead returns the address that holds the byte at addr. In
// VIRTUAL mode the page is brought in if needed.
func (c *Comp) TranslateForRead(addr uint64) uint64 {
	return c.translate(addr)
}

// TranslateForWrite returns the address that holds the byte at addr. Pages
// mapped read-only are not protected.
func (c *Comp) TranslateForWrite(addr uint64) uint64 {
	return c.translate(addr)
}

func (c *Comp) translate(addr uint64) uint64 {
	if c.mode == ModeReal {
		return addr
	}

	addr &= pagetable.AddressMask
	page := addr & c.pageMask
	offset := addr &^ c.pageMask

	if frame, found := c.tlb.lookup(page); found {
		return c.frameBase(frame) + offset
	}

	if frame, found := c.scanPageTable(page); found {
		c.tlb.install(frame, page)
		return c.frameBase(frame) + offset
	}

	return c.handleHardFault(addr)
}

// scanPageTable looks for a valid entry of the page, one entry per tick, and
// marks it accessed.
func (c *Comp) scanPageTable(page uint64) (int, bool) {
	for frame := 0; frame < c.table.numFrames; frame++ {
		c.waitATick()

		flags := c.table.FrameFlags(frame)
		if !flags.Has(FlagValid) || c.table.virtualPage(frame) != page {
			continue
		}

		c.waitATick()
		c.table.setFlags(frame, flags|FlagAccessed)

		return frame, true
	}

	return 0, false
}

func (c *Comp) handleHardFault(addr uint64) uint64 {
	c.hardFaults.Add(1)
	c.observer.OnHardFault(c.tileID)

	c.EnterInterruptContext()

	c.waitATick()
	victim := c.policy.ChooseVictim(c.table)
	flags := c.table.FrameFlags(victim)

	if flags.Has(FlagFixed) {
		log.Panicf("tile %d: victim policy chose fixed frame %d",
			c.tileID, victim)
	}

	if flags.Has(FlagValid) {
		c.writeBack(victim)
		c.tlb.invalidate(victim)
	}

	page := addr & c.pageMask
	entry := c.walk(addr)
	c.fetchPage(victim, entry.page)

	newFlags := FlagValid | FlagAccessed
	if entry.flags&pagetable.FlagReadOnly != 0 {
		newFlags |= FlagReadOnly
	}

	c.waitATick()
	c.table.setEntry(victim, page, entry.page, newFlags)
	c.tlb.install(victim, page)

	c.leaveInterrupt()

	return c.frameBase(victim) + addr&^c.pageMask
}

func (c *Comp) fetchPage(frame int, pAddr uint64) {
	base := c.frameBase(frame)

	for off := uint64(0); off < c.pageSize; off += TransferGranule {
		data := c.remote.Read(c, pAddr+off, base+off, TransferGranule)
		c.local.MustWrite(base+off, data)
	}
}

// writeBack copies a resident movable frame to its page in backing memory.
// Read-only frames are never written back.
func (c *Comp) writeBack(frame int) {
	flags := c.table.FrameFlags(frame)
	if !flags.Has(FlagValid) || flags.Has(FlagFixed) ||
		flags.Has(FlagReadOnly) {
		return
	}

	base := c.frameBase(frame)
	pAddr := c.table.physicalPage(frame)

	for off := uint64(0); off < c.pageSize; off += TransferGranule {
		data := c.local.MustRead(base+off, TransferGranule)
		c.remote.Write(c, pAddr+off, base+off, data)
	}
}

// WriteBackFrame copies the frame to the backing memory if it holds a
// writable page. The frame stays resident.
func (c *Comp) WriteBackFrame(frame int) {
	c.mustBeValidFrame(frame)
	c.writeBack(frame)
}

// FlushAddress writes the page that holds the virtual address back to the
// backing memory, if the page is resident. The write back runs in interrupt
// context.
func (c *Comp) FlushAddress(addr uint64) {
	page := addr & c.pageMask

	frame, found := c.tlb.lookup(page)
	if !found {
		frame, found = c.scanPageTable(page)
	}

	if !found {
		return
	}

	nested := c.inInterrupt
	if !nested {
		c.EnterInterruptContext()
	}

	c.writeBack(frame)

	if !nested {
		c.LeaveInterruptContext()
	}
}

// DropPage removes the page held by the frame from the TLB and the local
// page table. The content is not written back.
func (c *Comp) DropPage(frame int) {
	c.mustBeValidFrame(frame)

	flags := c.table.FrameFlags(frame)
	if flags.Has(FlagFixed) {
		log.Panicf("tile %d: cannot drop fixed frame %d", c.tileID, frame)
	}

	c.waitATick()
	if flags.Has(FlagValid) {
		c.tlb.invalidatePage(c.table.virtualPage(frame))
	}

	c.waitATick()
	c.table.setFlags(frame, 0)
}

func (c *Comp) mustBeValidFrame(frame int) {
	if frame < 0 || frame >= c.table.numFrames {
		log.Panicf("tile %d: bad frame number %d", c.tileID, frame)
	}
}

func (c *Comp) maybeSweep() {
	if !c.clockDue || c.inInterrupt {
		return
	}

	c.clockDue = false
	c.Sweep()
}

// Sweep runs one pass of the CLOCK algorithm. Starting at the cursor, it
// clears the accessed bit of valid movable frames and drops their TLB entry,
// until clockWipe frames have been cleared or all the frames have been
// visited. The cursor moves past the visited frames.
func (c *Comp) Sweep() {
	c.EnterInterruptContext()

	n := c.table.numFrames
	visited, wiped := 0, 0

	for visited < n && wiped < c.clockWipe {
		frame := (c.clockCursor + visited) % n
		visited++

		c.waitATick()
		flags := c.table.FrameFlags(frame)
		if !flags.Has(FlagValid) || flags.Has(FlagFixed) {
			continue
		}

		c.waitATick()
		c.table.setFlags(frame, flags&^FlagAccessed)
		c.tlb.invalidate(frame)
		wiped++
	}

	c.clockCursor = (c.clockCursor + visited) % n

	c.leaveInterrupt()
}

// ReadUint64 reads 8 bytes at the address.
func (c *Comp) ReadUint64(addr uint64) uint64 {
	return binary.LittleEndian.Uint64(c.read(addr, 8))
}

// WriteUint64 writes 8 bytes at the address.
func (c *Comp) WriteUint64(addr uint64, value uint64) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)
	c.write(addr, buf)
}

// ReadUint8 reads one byte at the address.
func (c *Comp) ReadUint8(addr uint64) uint8 {
	return c.read(addr, 1)[0]
}

// WriteUint8 writes one byte at the address.
func (c *Comp) WriteUint8(addr uint64, value uint8) {
	c.write(addr, []byte{value})
}

func (c *Comp) read(addr, size uint64) []byte {
	c.mustNotCrossPage(addr, size)

	a := c.TranslateForRead(addr)
	if c.local.ContainsRange(a, size) {
		return c.local.MustRead(a, size)
	}

	return c.remote.Read(c, a, 0, size)
}

func (c *Comp) write(addr uint64, data []byte) {
	c.mustNotCrossPage(addr, uint64(len(data)))

	a := c.TranslateForWrite(addr)
	if c.local.ContainsRange(a, uint64(len(data))) {
		c.local.MustWrite(a, data)
		return
	}

	c.remote.Write(c, a, 0, data)
}

func (c *Comp) mustNotCrossPage(addr, size uint64) {
	if c.mode == ModeVirtual && (addr&c.pageMask) != ((addr+size-1)&c.pageMask) {
		log.Panicf("tile %d: access to 0x%x+%d crosses a page",
			c.tileID, addr, size)
	}
}
