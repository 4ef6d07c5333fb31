// Package word implements the fixed-width modular integer arithmetic that
// underlies every register and memory cell in the simulator: a 32-bit Word
// with both an unsigned and a two's-complement signed view, and its 8-bit
// analog Byte.
package word

// Width is the bit width of a Word. The arithmetic in this package is built
// on uint32/int32; Width is kept as a named constant so the privileged-half
// split in memsys and the shift-amount masks in the ALU read from one place.
const Width = 32

// Word is a 32-bit modular integer. All arithmetic wraps silently, matching
// the hardware registers it models.
type Word uint32

// Byte is the 8-bit analog of Word.
type Byte uint8

// FromInt32 builds a Word from a signed value, keeping its two's-complement
// bit pattern.
func FromInt32(v int32) Word {
	return Word(uint32(v))
}

// Signed returns the two's-complement signed view of w.
func (w Word) Signed() int32 {
	return int32(w)
}

// Unsigned returns the unsigned view of w.
func (w Word) Unsigned() uint32 {
	return uint32(w)
}

// Add returns w+other, modulo 2^32.
func (w Word) Add(other Word) Word {
	return w + other
}

// Sub returns w-other, modulo 2^32.
func (w Word) Sub(other Word) Word {
	return w - other
}

// Mul returns w*other, modulo 2^32.
func (w Word) Mul(other Word) Word {
	return w * other
}

// And, Or, Xor implement the bitwise operators.
func (w Word) And(other Word) Word { return w & other }
func (w Word) Or(other Word) Word  { return w | other }
func (w Word) Xor(other Word) Word { return w ^ other }

// Not returns the bitwise complement of w.
func (w Word) Not() Word { return ^w }

// Shl shifts w left by the low 5 bits of amount, as hardware would.
func (w Word) Shl(amount Word) Word {
	return w << (amount & (Width - 1))
}

// Shr performs a logical (unsigned) right shift.
func (w Word) Shr(amount Word) Word {
	return w >> (amount & (Width - 1))
}

// Sar performs an arithmetic (sign-extending) right shift.
func (w Word) Sar(amount Word) Word {
	return Word(w.Signed() >> (amount & (Width - 1)))
}

// DivTrunc performs signed division truncating toward zero. Division by
// zero yields all-ones (-1), matching the RISC-V M-extension rather than
// panicking — a simulated core has no trap for this in the base ISA.
func (w Word) DivTrunc(other Word) Word {
	if other == 0 {
		return Word(0xFFFFFFFF)
	}
	a, b := w.Signed(), other.Signed()
	if a == int32(-1<<31) && b == -1 {
		// signed_min / -1 overflows; the M-extension defines the
		// result as signed_min itself.
		return w
	}
	return FromInt32(a / b)
}

// RemTrunc performs signed remainder truncating toward zero. Division by
// zero yields the dividend unchanged, matching the RISC-V M-extension.
func (w Word) RemTrunc(other Word) Word {
	if other == 0 {
		return w
	}
	a, b := w.Signed(), other.Signed()
	if a == int32(-1<<31) && b == -1 {
		return 0
	}
	return FromInt32(a % b)
}

// DivTruncUnsigned and RemTruncUnsigned are the unsigned-division analogs.
// Division by zero yields all-ones / the dividend, same as the signed case.
func (w Word) DivTruncUnsigned(other Word) Word {
	if other == 0 {
		return Word(0xFFFFFFFF)
	}
	return w / other
}

func (w Word) RemTruncUnsigned(other Word) Word {
	if other == 0 {
		return w
	}
	return w % other
}

// SignedLess reports whether w < other under signed comparison.
func (w Word) SignedLess(other Word) bool {
	return w.Signed() < other.Signed()
}

// SignedLessEqual reports whether w <= other under signed comparison.
func (w Word) SignedLessEqual(other Word) bool {
	return w.Signed() <= other.Signed()
}

// UnsignedLess reports whether w < other under unsigned comparison.
func (w Word) UnsignedLess(other Word) bool {
	return w.Unsigned() < other.Unsigned()
}

// UnsignedLessEqual reports whether w <= other under unsigned comparison.
func (w Word) UnsignedLessEqual(other Word) bool {
	return w.Unsigned() <= other.Unsigned()
}

// Equal reports bitwise equality; signed and unsigned equality coincide.
func (w Word) Equal(other Word) bool {
	return w == other
}

// AsBytes returns the little-endian byte representation of w.
func (w Word) AsBytes() [4]Byte {
	return [4]Byte{
		Byte(w),
		Byte(w >> 8),
		Byte(w >> 16),
		Byte(w >> 24),
	}
}

// FromBytes composes a Word from up to 4 little-endian bytes. Fewer than 4
// bytes are zero-extended in the high positions.
func FromBytes(bs ...Byte) Word {
	var w Word
	for i, b := range bs {
		if i >= 4 {
			break
		}
		w |= Word(b) << (uint(i) * 8)
	}
	return w
}

// ZeroExtend widens a Byte to a Word with zero extension.
func (b Byte) ZeroExtend() Word {
	return Word(b)
}

// SignExtend widens a Byte to a Word with sign extension.
func (b Byte) SignExtend() Word {
	return FromInt32(int32(int8(b)))
}
