package fabric

import (
	"math/rand"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/nocsim/barrier"
	"github.com/sarchlab/nocsim/memory"
	"github.com/sarchlab/nocsim/sim"
)

type barrierRequester struct {
	b *barrier.Barrier
}

func (r barrierRequester) WaitGlobalTick() {
	r.b.ArriveAndWait()
}

func (r barrierRequester) IncrementBlocks() {
	r.b.IncrementBlocks()
}

func runTiles(b *barrier.Barrier, numTiles int, body func(id int, r Requester)) {
	for i := 0; i < numTiles; i++ {
		b.RegisterTask()
	}

	var wg sync.WaitGroup
	for i := 0; i < numTiles; i++ {
		wg.Add(1)

		go func(id int) {
			defer GinkgoRecover()
			defer wg.Done()
			defer b.TaskFinished()

			body(id, barrierRequester{b: b})
		}(i)
	}

	wg.Wait()
}

type slotChecker struct {
	lock       sync.Mutex
	occupied   map[SlotInfo]bool
	violations int
	occupies   int
}

func newSlotChecker() *slotChecker {
	return &slotChecker{occupied: make(map[SlotInfo]bool)}
}

func (c *slotChecker) Func(ctx sim.HookCtx) {
	info := ctx.Detail.(SlotInfo)

	c.lock.Lock()
	defer c.lock.Unlock()

	switch ctx.Pos {
	case HookPosSlotOccupy:
		if c.occupied[info] {
			c.violations++
		}

		c.occupied[info] = true
		c.occupies++
	case HookPosSlotRelease:
		if !c.occupied[info] {
			c.violations++
		}

		c.occupied[info] = false
	}
}

type inServiceChecker struct {
	lock    sync.Mutex
	current int
	peak    int
}

func (c *inServiceChecker) Func(ctx sim.HookCtx) {
	c.lock.Lock()
	defer c.lock.Unlock()

	switch ctx.Pos {
	case HookPosServiceStart:
		c.current++
		c.peak = max(c.peak, c.current)
	case HookPosServiceEnd:
		c.current--
	}
}

var _ = Describe("Comp", func() {
	var (
		storage *memory.Storage
		b       *barrier.Barrier
	)

	BeforeEach(func() {
		storage = memory.NewStorage(0, 1<<16)
		b = barrier.MakeBuilder().Build()
	})

	Context("when checking acceptance", func() {
		It("should reject packets without backing memory", func() {
			c := MakeBuilder().Build("Fabric")

			Expect(c.AcceptPacketUp(NewReadPacket(0, 0, 0, 8))).To(BeFalse())
		})

		It("should reject packets outside the backing memory", func() {
			c := MakeBuilder().WithMemory(storage).Build("Fabric")

			Expect(c.AcceptPacketUp(NewReadPacket(0, 1<<16, 0, 8))).
				To(BeFalse())
			Expect(c.AcceptPacketUp(NewReadPacket(0, 1<<16-4, 0, 8))).
				To(BeFalse())
			Expect(c.AcceptPacketUp(NewReadPacket(0, 1<<16-8, 0, 8))).
				To(BeTrue())
		})
	})

	Context("when arbitrating a node", func() {
		var c *Comp

		BeforeEach(func() {
			c = MakeBuilder().WithNumTiles(2).WithMemory(storage).Build("Fabric")
			c.nodes[0].slots[left] = slot{occupied: true}
			c.nodes[0].slots[right] = slot{occupied: true}
		})

		It("should let a lone packet pass regardless of the gate", func() {
			c.nodes[0].slots[left] = slot{}
			c.nodes[0].gate = left

			Expect(c.tryClaimOutput(0, right)).To(BeTrue())
			Expect(c.nodes[0].gate).To(Equal(left))
		})

		It("should alternate between contending sides", func() {
			Expect(c.tryClaimOutput(0, left)).To(BeTrue())
			Expect(c.tryClaimOutput(0, right)).To(BeFalse())

			c.releaseSlot(0, left)
			c.nodes[0].slots[left] = slot{occupied: true}

			Expect(c.tryClaimOutput(0, left)).To(BeFalse())
			Expect(c.tryClaimOutput(0, right)).To(BeTrue())

			c.releaseSlot(0, right)
			c.nodes[0].slots[right] = slot{occupied: true}

			Expect(c.tryClaimOutput(0, right)).To(BeFalse())
			Expect(c.tryClaimOutput(0, left)).To(BeTrue())
		})
	})

	It("should write and read back through the tree", func() {
		c := MakeBuilder().
			WithNumTiles(4).
			WithMemory(storage).
			WithServiceDelay(2).
			WithTransitDelay(1).
			Build("Fabric")
		port := NewPort(3, c)
		var got []byte

		runTiles(b, 1, func(_ int, r Requester) {
			port.Write(r, 0x100, 0, []byte{1, 2, 3, 4})
			got = port.Read(r, 0x100, 0, 4)
		})

		Expect(got).To(Equal([]byte{1, 2, 3, 4}))
		Expect(storage.MustRead(0x100, 4)).To(Equal([]byte{1, 2, 3, 4}))
		Expect(c.Serviced()).To(Equal(uint64(2)))
		Expect(c.InService()).To(Equal(0))
	})

	It("should take the hops and the service delay in ticks", func() {
		c := MakeBuilder().
			WithNumTiles(4).
			WithMemory(storage).
			Build("Fabric")
		port := NewPort(0, c)

		runTiles(b, 1, func(_ int, r Requester) {
			port.Read(r, 0, 0, 8)
		})

		Expect(b.Now()).To(Equal(uint64(c.Depth() + 8 + 50)))
	})

	It("should never put two packets in one slot", func() {
		c := MakeBuilder().
			WithNumTiles(8).
			WithMemory(storage).
			WithServiceDelay(3).
			WithTransitDelay(1).
			Build("Fabric")
		checker := newSlotChecker()
		c.AcceptHook(checker)

		runTiles(b, 8, func(id int, r Requester) {
			port := NewPort(id, c)
			for i := 0; i < 20; i++ {
				port.Read(r, uint64(id*64+i), 0, 1)
			}
		})

		Expect(checker.violations).To(Equal(0))
		Expect(checker.occupies).To(Equal(8 * 20 * c.Depth()))
		Expect(c.Serviced()).To(Equal(uint64(8 * 20)))
		for _, s := range c.Slots() {
			Expect(s.Occupied).To(BeFalse())
		}
	})

	It("should respect the admission limit under random load", func() {
		c := MakeBuilder().
			WithNumTiles(8).
			WithMemory(storage).
			WithAdmissionLimit(2).
			WithServiceDelay(5).
			WithTransitDelay(2).
			Build("Fabric")
		checker := &inServiceChecker{}
		c.AcceptHook(checker)

		runTiles(b, 8, func(id int, r Requester) {
			rng := rand.New(rand.NewSource(int64(id)))
			port := NewPort(id, c)

			for i := 0; i < 10; i++ {
				for j := rng.Intn(4); j > 0; j-- {
					r.WaitGlobalTick()
				}

				addr := uint64(rng.Intn(1<<16 - 8))
				if rng.Intn(2) == 0 {
					port.Write(r, addr, 0, []byte{byte(id)})
				} else {
					port.Read(r, addr, 0, 8)
				}
			}
		})

		Expect(c.MaxInService()).To(BeNumerically("<=", 2))
		Expect(checker.peak).To(BeNumerically("<=", 2))
		Expect(c.MaxInService()).To(BeNumerically(">", 0))
		Expect(c.Serviced()).To(Equal(uint64(80)))
	})

	It("should serve both sides of a contended leaf", func() {
		c := MakeBuilder().
			WithNumTiles(2).
			WithMemory(storage).
			WithAdmissionLimit(1).
			WithServiceDelay(1).
			WithTransitDelay(0).
			Build("Fabric")
		completed := make([]int, 2)

		runTiles(b, 2, func(id int, r Requester) {
			port := NewPort(id, c)
			for i := 0; i < 30; i++ {
				port.Read(r, 0, 0, 8)
				completed[id]++
			}
		})

		Expect(completed).To(Equal([]int{30, 30}))
	})
})

var _ = Describe("Port", func() {
	It("should panic on a tile that is not connected", func() {
		c := MakeBuilder().WithNumTiles(2).Build("Fabric")

		Expect(func() { NewPort(2, c) }).To(Panic())
	})

	It("should pick the fabric that owns the address", func() {
		low := memory.NewStorage(0, 1024)
		high := memory.NewStorage(1024, 1024)
		lowFabric := MakeBuilder().WithMemory(low).
			WithServiceDelay(0).WithTransitDelay(0).Build("Low")
		highFabric := MakeBuilder().WithMemory(high).
			WithServiceDelay(0).WithTransitDelay(0).Build("High")
		b := barrier.MakeBuilder().Build()
		port := NewPort(1, lowFabric, highFabric)

		runTiles(b, 1, func(_ int, r Requester) {
			port.Write(r, 1030, 0, []byte{9})
		})

		Expect(high.MustRead(1030, 1)).To(Equal([]byte{9}))
		Expect(highFabric.Serviced()).To(Equal(uint64(1)))
		Expect(lowFabric.Serviced()).To(Equal(uint64(0)))
	})

	It("should panic when no fabric accepts the packet", func() {
		c := MakeBuilder().WithMemory(memory.NewStorage(0, 64)).Build("Fabric")
		port := NewPort(0, c)

		Expect(func() {
			port.Request(NewReadPacket(0, 60, 0, 8), nil)
		}).To(Panic())
	})
})
