// Package memory provides the flat byte store used both as tile-local memory
// and as the global backing memory.
package memory

import (
	"encoding/binary"
	"errors"
	"log"
	"sort"
	"sync"
)

// ErrOutOfRange is returned when an access falls outside the storage.
var ErrOutOfRange = errors.New("accessing address beyond the storage range")

// A Storage keeps the bytes of one memory block.
//
// The storage covers the address range [base, base+capacity). Memory is
// managed in units, similar to the concept of pages in memory management.
// Units that are not touched by Read and Write do not allocate memory, so a
// large backing memory costs nothing until it is used.
type Storage struct {
	sync.Mutex

	base     uint64
	capacity uint64
	unitSize uint64
	data     map[uint64][]byte
}

// NewStorage creates a storage object that covers capacity bytes starting at
// base.
func NewStorage(base, capacity uint64) *Storage {
	if capacity == 0 {
		log.Panic("storage capacity must be larger than 0")
	}

	if base+capacity < base {
		log.Panic("storage range overflows the address space")
	}

	storage := new(Storage)
	storage.base = base
	storage.capacity = capacity
	storage.unitSize = 4096
	storage.data = make(map[uint64][]byte)

	return storage
}

// Base returns the first address covered by the storage.
func (s *Storage) Base() uint64 {
	return s.base
}

// Capacity returns the number of bytes covered by the storage.
func (s *Storage) Capacity() uint64 {
	return s.capacity
}

// UnitSize returns the allocation granularity of the storage.
func (s *Storage) UnitSize() uint64 {
	return s.unitSize
}

// Contains checks if the address lies in the storage.
func (s *Storage) Contains(addr uint64) bool {
	return addr >= s.base && addr-s.base < s.capacity
}

// ContainsRange checks if every byte of [addr, addr+length) lies in the
// storage. A zero-length range is contained if addr is.
func (s *Storage) ContainsRange(addr, length uint64) bool {
	if !s.Contains(addr) {
		return false
	}

	return length <= s.capacity-(addr-s.base)
}

// createOrGetStorageUnit retrieves a storage unit if the unit has been created
// before. Otherwise it initializes a storage unit in the storage object. The
// offset is relative to the storage base.
func (s *Storage) createOrGetStorageUnit(offset uint64) []byte {
	baseAddr, _ := s.parseAddress(offset)

	unit, ok := s.data[baseAddr]
	if !ok {
		unit = make([]byte, s.unitSize)
		s.data[baseAddr] = unit
	}

	return unit
}

func (s *Storage) parseAddress(offset uint64) (baseAddr, inUnitAddr uint64) {
	inUnitAddr = offset % s.unitSize
	baseAddr = offset - inUnitAddr

	return
}

// Read returns length bytes starting at address.
func (s *Storage) Read(address uint64, length uint64) ([]byte, error) {
	if !s.ContainsRange(address, length) {
		return nil, ErrOutOfRange
	}

	s.Lock()
	defer s.Unlock()

	res := make([]byte, length)
	curr := address - s.base
	end := curr + length
	dataOffset := uint64(0)

	for curr < end {
		unit := s.createOrGetStorageUnit(curr)

		baseAddr, inUnitAddr := s.parseAddress(curr)
		lenToRead := min(end-curr, baseAddr+s.unitSize-curr)

		copy(res[dataOffset:dataOffset+lenToRead],
			unit[inUnitAddr:inUnitAddr+lenToRead])
		dataOffset += lenToRead
		curr += lenToRead
	}

	return res, nil
}

// Write stores data starting at address.
func (s *Storage) Write(address uint64, data []byte) error {
	if !s.ContainsRange(address, uint64(len(data))) {
		return ErrOutOfRange
	}

	s.Lock()
	defer s.Unlock()

	curr := address - s.base
	dataOffset := uint64(0)

	for dataOffset < uint64(len(data)) {
		unit := s.createOrGetStorageUnit(curr)

		baseAddr, inUnitAddr := s.parseAddress(curr)
		lenToWrite := min(uint64(len(data))-dataOffset,
			baseAddr+s.unitSize-curr)

		copy(unit[inUnitAddr:inUnitAddr+lenToWrite],
			data[dataOffset:dataOffset+lenToWrite])
		dataOffset += lenToWrite
		curr += lenToWrite
	}

	return nil
}

// MustRead is Read that treats an out-of-range access as fatal.
func (s *Storage) MustRead(address uint64, length uint64) []byte {
	data, err := s.Read(address, length)
	if err != nil {
		log.Panicf("read 0x%x+%d from storage [0x%x, 0x%x): %v",
			address, length, s.base, s.base+s.capacity, err)
	}

	return data
}

// MustWrite is Write that treats an out-of-range access as fatal.
func (s *Storage) MustWrite(address uint64, data []byte) {
	err := s.Write(address, data)
	if err != nil {
		log.Panicf("write 0x%x+%d to storage [0x%x, 0x%x): %v",
			address, len(data), s.base, s.base+s.capacity, err)
	}
}

// ReadUint8 reads a single byte.
func (s *Storage) ReadUint8(address uint64) uint8 {
	return s.MustRead(address, 1)[0]
}

// WriteUint8 writes a single byte.
func (s *Storage) WriteUint8(address uint64, value uint8) {
	s.MustWrite(address, []byte{value})
}

// ReadUint32 reads a little-endian 32-bit word.
func (s *Storage) ReadUint32(address uint64) uint32 {
	return binary.LittleEndian.Uint32(s.MustRead(address, 4))
}

// WriteUint32 writes a little-endian 32-bit word.
func (s *Storage) WriteUint32(address uint64, value uint32) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, value)
	s.MustWrite(address, buf)
}

// ReadUint64 reads a little-endian 64-bit word.
func (s *Storage) ReadUint64(address uint64) uint64 {
	return binary.LittleEndian.Uint64(s.MustRead(address, 8))
}

// WriteUint64 writes a little-endian 64-bit word.
func (s *Storage) WriteUint64(address uint64, value uint64) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)
	s.MustWrite(address, buf)
}

// Units returns the absolute start addresses of all the allocated units in
// ascending order.
func (s *Storage) Units() []uint64 {
	s.Lock()
	defer s.Unlock()

	addrs := make([]uint64, 0, len(s.data))
	for offset := range s.data {
		addrs = append(addrs, s.base+offset)
	}

	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	return addrs
}
