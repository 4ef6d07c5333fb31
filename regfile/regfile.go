// Package regfile implements the 32-slot architectural register file shared
// by the execution engine and the CPU driver. Each slot holds either
// a concrete committed Word or a reference to the in-flight reservation
// station slot that will eventually produce it.
package regfile

import "github.com/sarchlab/oooriscsim/word"

// SlotID is the stable index of a reservation-station slot. It is used
// wherever one in-flight instruction needs to reference another — as a
// register-file entry, as an operand, or inside a hazard/preceding set.
type SlotID int

// NumRegisters is the size of the architectural register file.
const NumRegisters = 32

// Value is a tagged union: either a concrete committed Word, or a pending
// reference to the slot that will produce it.
type Value struct {
	Pending bool
	Slot    SlotID
	Word    word.Word
}

// Concrete builds a resolved Value.
func Concrete(w word.Word) Value {
	return Value{Word: w}
}

// Ref builds a pending Value referencing slot s.
func Ref(s SlotID) Value {
	return Value{Pending: true, Slot: s}
}

// File is the 32-entry architectural register file. Register 0 is
// hardwired to zero: writes are silently discarded and reads always
// observe Word(0), regardless of what was last stored there.
type File struct {
	regs [NumRegisters]Value
}

// New returns a File with every register holding a concrete zero.
func New() *File {
	return &File{}
}

// Read returns the current value held by register r.
func (f *File) Read(r int) Value {
	if r == 0 {
		return Concrete(0)
	}
	return f.regs[r]
}

// Write stores v into register r. Writes to register 0 are silently
// discarded per the ISA's zero-register convention.
func (f *File) Write(r int, v Value) {
	if r == 0 {
		return
	}
	f.regs[r] = v
}

// Snapshot returns a value copy of the register file, suitable for a
// potentially-faulting slot's rollback snapshot. Because File holds only
// value types, a plain struct copy is a correct deep copy.
func (f *File) Snapshot() File {
	return *f
}

// Restore overwrites f's contents with snap, used by rollback.
func (f *File) Restore(snap File) {
	*f = snap
}

// NotifyResult replaces every occurrence of Ref(slot) in the file with the
// concrete value, implementing the CDB broadcast's effect on architectural
// state. It returns the number of registers updated, purely for tests.
func (f *File) NotifyResult(slot SlotID, value word.Word) int {
	updated := 0
	for i := 1; i < NumRegisters; i++ {
		if f.regs[i].Pending && f.regs[i].Slot == slot {
			f.regs[i] = Concrete(value)
			updated++
		}
	}
	return updated
}
