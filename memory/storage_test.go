package memory_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/nocsim/memory"
)

var _ = Describe("Storage", func() {
	It("should read and write in single unit", func() {
		storage := memory.NewStorage(0, 4096)
		Expect(storage.Write(0, []byte{1, 2, 3, 4})).To(Succeed())

		res, err := storage.Read(0, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(Equal([]byte{1, 2}))

		res, _ = storage.Read(1, 2)
		Expect(res).To(Equal([]byte{2, 3}))
	})

	It("should read and write across units", func() {
		storage := memory.NewStorage(0, 8192)
		Expect(storage.Write(4094, []byte{1, 2, 3, 4})).To(Succeed())

		res, _ := storage.Read(4094, 4)
		Expect(res).To(Equal([]byte{1, 2, 3, 4}))
		Expect(storage.Units()).To(Equal([]uint64{0, 4096}))
	})

	It("should return zero for untouched memory", func() {
		storage := memory.NewStorage(0x1000, 0x1000)

		Expect(storage.ReadUint64(0x1800)).To(Equal(uint64(0)))
	})

	It("should honour the base address", func() {
		storage := memory.NewStorage(0xA000000000000000, 16*1024)

		storage.WriteUint64(0xA000000000000010, 0xDEADBEEF)

		Expect(storage.ReadUint64(0xA000000000000010)).
			To(Equal(uint64(0xDEADBEEF)))
		Expect(storage.ReadUint32(0xA000000000000010)).
			To(Equal(uint32(0xDEADBEEF)))
		Expect(storage.ReadUint8(0xA000000000000010)).To(Equal(uint8(0xEF)))
		Expect(storage.Contains(0xA000000000000000 + 16*1024)).To(BeFalse())
		Expect(storage.Contains(0xA000000000000000 + 16*1024 - 1)).To(BeTrue())
	})

	It("should return error if accessing over the capacity", func() {
		storage := memory.NewStorage(0, 4096)

		err := storage.Write(4097, []byte{1})
		Expect(err).To(MatchError(memory.ErrOutOfRange))

		_, err = storage.Read(4095, 2)
		Expect(err).To(MatchError(memory.ErrOutOfRange))
	})

	It("should return error if accessing below the base", func() {
		storage := memory.NewStorage(4096, 4096)

		_, err := storage.Read(4095, 1)
		Expect(err).To(MatchError(memory.ErrOutOfRange))
	})

	It("should panic on typed out-of-range access", func() {
		storage := memory.NewStorage(0, 4096)

		Expect(func() { storage.ReadUint64(4090) }).To(Panic())
		Expect(func() { storage.WriteUint32(4096, 1) }).To(Panic())
	})

	It("should check ranges", func() {
		storage := memory.NewStorage(100, 100)

		Expect(storage.ContainsRange(100, 100)).To(BeTrue())
		Expect(storage.ContainsRange(150, 51)).To(BeFalse())
		Expect(storage.ContainsRange(199, 0)).To(BeTrue())
		Expect(storage.ContainsRange(200, 0)).To(BeFalse())
	})
})
