package mmu

import "log"

// NumRegisters is the number of general registers of a tile.
const NumRegisters = 32

// A RegisterFile holds the general registers of one tile. Register 0 always
// reads as zero and ignores writes.
type RegisterFile [NumRegisters]uint64

// Get returns the value of register i.
func (r *RegisterFile) Get(i int) uint64 {
	mustBeValidRegister(i)

	if i == 0 {
		return 0
	}

	return r[i]
}

// Set updates register i.
func (r *RegisterFile) Set(i int, value uint64) {
	mustBeValidRegister(i)

	if i == 0 {
		return
	}

	r[i] = value
}

func mustBeValidRegister(i int) {
	if i < 0 || i >= NumRegisters {
		log.Panicf("bad register number %d", i)
	}
}
