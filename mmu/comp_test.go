package mmu

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/nocsim/barrier"
	"github.com/sarchlab/nocsim/fabric"
	"github.com/sarchlab/nocsim/memory"
	"github.com/sarchlab/nocsim/pagetable"
)

const (
	testPageShift = 10
	testPageSize  = 1 << testPageShift
	localSize     = 16 * 1024
	numFrames     = localSize / testPageSize
	firstMovable  = 3
	firstStack    = numFrames - StackPages
)

var _ = Describe("Comp", func() {
	var (
		mockCtrl *gomock.Controller
		observer *MockObserver
		global   *memory.Storage
		local    *memory.Storage
		fab      *fabric.Comp
		clock    *barrier.Barrier
		pt       *pagetable.Builder
		builder  Builder
		c        *Comp
	)

	allowFaults := func() {
		observer.EXPECT().OnHardFault(0).AnyTimes()
		observer.EXPECT().OnSmallFault(0).AnyTimes()
	}

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		observer = NewMockObserver(mockCtrl)

		global = memory.NewStorage(0, 1<<20)
		local = memory.NewStorage(LocalBase, localSize)
		fab = fabric.MakeBuilder().
			WithNumTiles(1).
			WithMemory(global).
			WithServiceDelay(1).
			WithTransitDelay(0).
			Build("Fabric")
		clock = barrier.MakeBuilder().Build()
		clock.RegisterTask()
		pt = pagetable.NewBuilder(global, testPageShift)

		builder = MakeBuilder().
			WithTileID(0).
			WithPageShift(testPageShift).
			WithLocalMemory(local).
			WithClock(clock).
			WithRemote(fabric.NewPort(0, fab)).
			WithObserver(observer).
			WithClockTicks(0)
		c = builder.Build("MMU")
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	Context("after build", func() {
		It("should fix the kernel, page table and stack frames", func() {
			for frame := 0; frame < numFrames; frame++ {
				flags := c.FrameTable().FrameFlags(frame)
				fixed := frame < firstMovable || frame >= firstStack

				Expect(flags.Has(FlagFixed)).To(Equal(fixed))
				Expect(flags.Has(FlagValid)).To(Equal(fixed))
				Expect(c.TLBEntries()[frame].Valid).To(Equal(fixed))
			}
		})

		It("should record the size of the page table", func() {
			Expect(local.ReadUint64(LocalBase)).To(Equal(uint64(1)))
		})

		It("should start in virtual mode with an empty stack", func() {
			Expect(c.Mode()).To(Equal(ModeVirtual))
			Expect(c.StackPointer()).To(Equal(LocalBase + localSize))
		})

		It("should map the fixed frames to themselves", func() {
			addr := LocalBase + 2*testPageSize + 8

			Expect(c.TranslateForRead(addr)).To(Equal(addr))
			Expect(c.Ticks()).To(Equal(uint64(0)))
		})

		It("should reject a local memory without movable frames", func() {
			small := memory.NewStorage(LocalBase, 5*testPageSize)

			Expect(func() {
				builder.WithLocalMemory(small).Build("MMU")
			}).To(Panic())
		})
	})

	Context("when handling a hard fault", func() {
		var page uint64

		BeforeEach(func() {
			page = pt.MapNew(0x10000, pagetable.FlagValid)
			global.WriteUint64(page+8, 77)
		})

		It("should bring the page in and notify the observer", func() {
			observer.EXPECT().OnHardFault(0).Times(1)
			observer.EXPECT().OnSmallFault(0).Times(pagetable.NumLevels)

			Expect(c.ReadUint64(0x10008)).To(Equal(uint64(77)))
			Expect(c.ReadUint64(0x10008)).To(Equal(uint64(77)))

			Expect(c.HardFaults()).To(Equal(uint64(1)))
			Expect(c.SmallFaults()).To(Equal(uint64(pagetable.NumLevels)))
			Expect(c.Mode()).To(Equal(ModeVirtual))
			Expect(c.InInterruptContext()).To(BeFalse())
			Expect(c.StackPointer()).To(Equal(LocalBase + localSize))
		})

		It("should treat the bits above the table as part of the same page", func() {
			observer.EXPECT().OnHardFault(0).Times(1)
			observer.EXPECT().OnSmallFault(0).Times(pagetable.NumLevels)

			alias := uint64(0x10008) | 1<<pagetable.AddressBits

			Expect(c.ReadUint64(alias)).To(Equal(uint64(77)))
			c.WriteUint64(0x10008, 78)
			Expect(c.ReadUint64(alias)).To(Equal(uint64(78)))
			Expect(c.TranslateForRead(alias)).
				To(Equal(c.TranslateForRead(0x10008)))
		})

		It("should place the page in the first invalid frame", func() {
			allowFaults()

			addr := c.TranslateForRead(0x10008)

			Expect(addr).To(Equal(LocalBase + firstMovable*testPageSize + 8))
			Expect(c.table.virtualPage(firstMovable)).To(Equal(uint64(0x10000)))
			Expect(c.table.physicalPage(firstMovable)).To(Equal(page))
			Expect(c.FrameTable().FrameFlags(firstMovable)).
				To(Equal(FlagValid | FlagAccessed))
		})

		It("should keep the registers across the fault", func() {
			allowFaults()
			c.SetRegister(7, 0xdead)

			c.ReadUint64(0x10000)

			Expect(c.Register(7)).To(Equal(uint64(0xdead)))
		})

		It("should reinstall the TLB from the page table", func() {
			allowFaults()
			c.ReadUint64(0x10000)
			c.tlb.invalidate(firstMovable)

			Expect(c.ReadUint64(0x10008)).To(Equal(uint64(77)))
			Expect(c.HardFaults()).To(Equal(uint64(1)))
			Expect(c.TLBEntries()[firstMovable].Valid).To(BeTrue())
		})

		It("should panic on an unmapped page", func() {
			allowFaults()

			Expect(func() { c.ReadUint64(0x20000) }).To(Panic())
		})

		It("should panic on a zero pointer in an upper level", func() {
			allowFaults()

			Expect(func() { c.ReadUint64(1 << 37) }).To(Panic())
		})
	})

	Context("when evicting pages", func() {
		const numPages = 30

		vAddr := func(i int) uint64 {
			return 0x100000 + uint64(i)*testPageSize
		}

		BeforeEach(func() {
			allowFaults()

			for i := 0; i < numPages; i++ {
				pt.MapNew(vAddr(i), pagetable.FlagValid)
			}
		})

		It("should write back and fetch again", func() {
			for i := 0; i < numPages; i++ {
				c.WriteUint64(vAddr(i)+16, uint64(i*i))
			}

			for i := 0; i < numPages; i++ {
				Expect(c.ReadUint64(vAddr(i) + 16)).To(Equal(uint64(i * i)))
			}

			Expect(c.HardFaults()).To(BeNumerically(">=", 2*numPages-11))
		})

		It("should never evict a fixed frame", func() {
			for i := 0; i < numPages; i++ {
				c.ReadUint8(vAddr(i))
			}

			for frame := 0; frame < numFrames; frame++ {
				if frame >= firstMovable && frame < firstStack {
					continue
				}

				base := LocalBase + uint64(frame)*testPageSize
				Expect(c.FrameTable().FrameFlags(frame).Has(FlagFixed)).
					To(BeTrue())
				Expect(c.table.virtualPage(frame)).To(Equal(base))
				Expect(c.TranslateForRead(base)).To(Equal(base))
			}
		})
	})

	Context("with read-only pages", func() {
		var page uint64

		BeforeEach(func() {
			allowFaults()
			page = pt.MapNew(0x10000, pagetable.FlagValid|pagetable.FlagReadOnly)
			global.WriteUint64(page, 5)
		})

		It("should service writes without faulting", func() {
			c.ReadUint64(0x10000)
			c.WriteUint64(0x10000, 6)

			Expect(c.ReadUint64(0x10000)).To(Equal(uint64(6)))
			Expect(c.HardFaults()).To(Equal(uint64(1)))
			Expect(c.FrameTable().FrameFlags(firstMovable).Has(FlagReadOnly)).
				To(BeTrue())
		})

		It("should not write the page back", func() {
			c.WriteUint64(0x10000, 6)
			c.FlushAddress(0x10000)

			Expect(global.ReadUint64(page)).To(Equal(uint64(5)))
		})
	})

	Context("when flushing and dropping", func() {
		var page uint64

		BeforeEach(func() {
			allowFaults()
			page = pt.MapNew(0x10000, pagetable.FlagValid)
		})

		It("should flush a resident page to the backing memory", func() {
			c.WriteUint64(0x10010, 0xabcd)
			c.FlushAddress(0x10010)

			Expect(global.ReadUint64(page + 0x10)).To(Equal(uint64(0xabcd)))
			Expect(c.InInterruptContext()).To(BeFalse())
		})

		It("should ignore a page that is not resident", func() {
			c.FlushAddress(0x10010)

			Expect(c.HardFaults()).To(Equal(uint64(0)))
			Expect(fab.Serviced()).To(Equal(uint64(0)))
		})

		It("should drop a page without writing it back", func() {
			c.WriteUint64(0x10000, 9)
			c.DropPage(firstMovable)

			Expect(c.FrameTable().FrameFlags(firstMovable)).To(Equal(Flags(0)))
			Expect(c.TLBEntries()[firstMovable].Valid).To(BeFalse())
			Expect(c.ReadUint64(0x10000)).To(Equal(uint64(0)))
			Expect(c.HardFaults()).To(Equal(uint64(2)))
		})

		It("should refuse to drop a fixed frame", func() {
			Expect(func() { c.DropPage(0) }).To(Panic())
			Expect(func() { c.DropPage(numFrames) }).To(Panic())
		})
	})

	Context("when running the CLOCK sweep", func() {
		BeforeEach(func() {
			allowFaults()
			pt.MapNew(0x10000, pagetable.FlagValid)
		})

		It("should keep the data across a sweep", func() {
			c.WriteUint64(0x10000, 0x1234)
			c.Sweep()

			flags := c.FrameTable().FrameFlags(firstMovable)
			Expect(flags.Has(FlagValid)).To(BeTrue())
			Expect(flags.Has(FlagAccessed)).To(BeFalse())
			Expect(c.TLBEntries()[firstMovable].Valid).To(BeFalse())

			Expect(c.ReadUint64(0x10000)).To(Equal(uint64(0x1234)))
			Expect(c.HardFaults()).To(Equal(uint64(1)))
			Expect(c.FrameTable().FrameFlags(firstMovable).Has(FlagAccessed)).
				To(BeTrue())
		})

		It("should skip fixed frames and move the cursor", func() {
			c.ReadUint64(0x10000)
			c.Sweep()

			for frame := 0; frame < numFrames; frame++ {
				if c.FrameTable().FrameFlags(frame).Has(FlagFixed) {
					Expect(c.TLBEntries()[frame].Valid).To(BeTrue())
				}
			}

			Expect(c.clockCursor).To(Equal(0))
		})

		It("should stop after wiping enough frames", func() {
			c = builder.WithClockWipe(1).Build("MMU")
			c.ReadUint64(0x10000)

			c.Sweep()

			Expect(c.clockCursor).To(Equal(firstMovable + 1))
		})

		It("should defer a due sweep while in interrupt context", func() {
			c = builder.WithClockTicks(3).Build("MMU")
			c.ReadUint64(0x10000)

			c.EnterInterruptContext()
			c.Tick()

			Expect(c.FrameTable().FrameFlags(firstMovable).Has(FlagAccessed)).
				To(BeTrue())

			c.LeaveInterruptContext()

			Expect(c.FrameTable().FrameFlags(firstMovable).Has(FlagAccessed)).
				To(BeFalse())
		})
	})

	Context("in interrupt context", func() {
		It("should switch to real mode and back", func() {
			c.SetRegister(5, 9)
			c.EnterInterruptContext()

			Expect(c.Mode()).To(Equal(ModeReal))
			Expect(c.StackPointer()).To(Equal(LocalBase + localSize - NumRegisters*8))

			c.SetRegister(5, 1)
			c.LeaveInterruptContext()

			Expect(c.Mode()).To(Equal(ModeVirtual))
			Expect(c.Register(5)).To(Equal(uint64(9)))
			Expect(c.Ticks()).To(Equal(uint64(4 * NumRegisters)))
		})

		It("should panic when entered twice", func() {
			c.EnterInterruptContext()

			Expect(func() { c.EnterInterruptContext() }).To(Panic())
		})

		It("should panic when left without entering", func() {
			Expect(func() { c.LeaveInterruptContext() }).To(Panic())
		})

		It("should panic when the stack overflows", func() {
			for c.StackPointer() >= c.stackLimit+8 {
				c.push()
			}

			Expect(func() { c.push() }).To(Panic())
		})

		It("should panic when the stack underflows", func() {
			Expect(func() { c.pop() }).To(Panic())
		})

		It("should reach the backing memory through the fabric", func() {
			c.EnterInterruptContext()
			c.WriteUint64(0x80000, 11)

			Expect(c.ReadUint64(0x80000)).To(Equal(uint64(11)))
			Expect(global.ReadUint64(0x80000)).To(Equal(uint64(11)))
			Expect(fab.Serviced()).To(Equal(uint64(2)))
		})
	})

	It("should panic on an access across pages", func() {
		Expect(func() { c.ReadUint64(0x10000 + testPageSize - 4) }).To(Panic())
	})

	It("should count contended retries", func() {
		c.IncrementBlocks()
		c.IncrementBlocks()

		Expect(c.Blocks()).To(Equal(uint64(2)))
	})
})
