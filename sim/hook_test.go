package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/xid"
	"go.uber.org/mock/gomock"
)

var _ = Describe("HookableBase", func() {
	It("should invoke the registered hooks in order", func() {
		h := NewHookableBase()
		pos := &HookPos{Name: "Test"}
		var seen []string

		h.AcceptHook(HookFunc(func(ctx HookCtx) {
			seen = append(seen, "first:"+ctx.Pos.Name)
		}))
		h.AcceptHook(HookFunc(func(ctx HookCtx) {
			seen = append(seen, "second:"+ctx.Item.(string))
		}))

		h.InvokeHook(HookCtx{Pos: pos, Item: "item"})

		Expect(h.NumHooks()).To(Equal(2))
		Expect(seen).To(Equal([]string{"first:Test", "second:item"}))
	})
})

var _ = Describe("Observers", func() {
	var (
		mockCtrl *gomock.Controller
		a, b     *MockObserver
		obs      Observers
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		a = NewMockObserver(mockCtrl)
		b = NewMockObserver(mockCtrl)
		obs = Observers{a, b, NopObserver{}}
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should fan out tick notifications", func() {
		a.EXPECT().OnTickAdvanced(uint64(3), uint64(7))
		b.EXPECT().OnTickAdvanced(uint64(3), uint64(7))

		obs.OnTickAdvanced(3, 7)
	})

	It("should fan out fault notifications", func() {
		a.EXPECT().OnHardFault(2)
		b.EXPECT().OnHardFault(2)
		a.EXPECT().OnSmallFault(5)
		b.EXPECT().OnSmallFault(5)

		obs.OnHardFault(2)
		obs.OnSmallFault(5)
	})
})

var _ = Describe("IDGenerator", func() {
	It("should generate distinct ids", func() {
		gen := GetIDGenerator()

		first := gen.Generate()
		second := gen.Generate()

		Expect(first).NotTo(BeEmpty())
		Expect(second).NotTo(Equal(first))
	})

	It("should restart the sequential numbering", func() {
		UseSequentialIDGenerator()
		Expect(GetIDGenerator().Generate()).To(Equal("1"))
		Expect(GetIDGenerator().Generate()).To(Equal("2"))

		UseSequentialIDGenerator()
		Expect(GetIDGenerator().Generate()).To(Equal("1"))
	})

	It("should generate xids in parallel mode", func() {
		UseParallelIDGenerator()
		defer UseSequentialIDGenerator()

		id := GetIDGenerator().Generate()
		_, err := xid.FromString(id)

		Expect(err).NotTo(HaveOccurred())
		Expect(GetIDGenerator().Generate()).NotTo(Equal(id))
	})
})
