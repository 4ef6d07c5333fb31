// Package isa defines the closed instruction set the core executes: the
// instruction record, its operand conventions, and the Program container
// produced by the (out-of-scope) assembler and consumed by the core.
package isa

import "github.com/sarchlab/oooriscsim/word"

// Kind is the closed set of instruction variants the engine understands.
type Kind int

const (
	// ALURegister computes dst = src1 op src2 for two register operands.
	ALURegister Kind = iota
	// ALUImmediate computes dst = src1 op imm.
	ALUImmediate
	// LoadImmediate materializes a PC-relative or large immediate into dst.
	LoadImmediate
	// Load reads a word/byte/half from memory into dst.
	Load
	// Store writes a register value to memory.
	Store
	// Flush invalidates one cache line.
	Flush
	// FlushAll invalidates the entire cache.
	FlushAll
	// Branch conditionally redirects control flow.
	Branch
	// Jump is a direct, always-taken jump (optionally linking).
	Jump
	// JumpRegister is a register-indirect, always-taken jump.
	JumpRegister
	// Cyclecount reads the engine's live cycle counter into dst.
	Cyclecount
	// Serializing is a fence/ecall/ebreak barrier.
	Serializing
)

func (k Kind) String() string {
	switch k {
	case ALURegister:
		return "alu-reg"
	case ALUImmediate:
		return "alu-imm"
	case LoadImmediate:
		return "load-imm"
	case Load:
		return "load"
	case Store:
		return "store"
	case Flush:
		return "flush"
	case FlushAll:
		return "flush-all"
	case Branch:
		return "branch"
	case Jump:
		return "jump"
	case JumpRegister:
		return "jump-register"
	case Cyclecount:
		return "cyclecount"
	case Serializing:
		return "serializing"
	default:
		return "unknown"
	}
}

// SerializingEffect names the sub-effect of a Serializing instruction.
type SerializingEffect int

const (
	Fence SerializingEffect = iota
	Ecall
	Ebreak
)

func (e SerializingEffect) String() string {
	switch e {
	case Fence:
		return "fence"
	case Ecall:
		return "ecall"
	case Ebreak:
		return "ebreak"
	default:
		return "unknown"
	}
}

// Op names the concrete ALU/branch/jump operation an instruction performs.
// It is orthogonal to Kind: Kind selects the slot variant and operand
// shape, Op selects the pure function that variant evaluates.
type Op int

const (
	OpAdd Op = iota
	OpSub
	OpAnd
	OpOr
	OpXor
	OpSll
	OpSrl
	OpSra
	OpSlt
	OpSltu
	OpMul
	OpDiv
	OpDivu
	OpRem
	OpRemu
	OpBeq
	OpBne
	OpBlt
	OpBge
	OpBltu
	OpBgeu
)

// MemWidth is the byte width of a Load/Store access: 1, 2, or 4.
type MemWidth int

const (
	Width1 MemWidth = 1
	Width2 MemWidth = 2
	Width4 MemWidth = 4
)

// Operand identifies one instruction operand: either a register index or
// an immediate constant. Exactly one of the two is meaningful, selected by
// IsImmediate.
type Operand struct {
	IsImmediate bool
	Reg         int
	Imm         word.Word
}

// RegOperand builds a register operand.
func RegOperand(reg int) Operand { return Operand{Reg: reg} }

// ImmOperand builds an immediate operand.
func ImmOperand(imm word.Word) Operand { return Operand{IsImmediate: true, Imm: imm} }

// Instruction is one closed-ISA instruction record. Operands is indexed by
// role, and the meaning of each index is Kind-dependent (see Source).
type Instruction struct {
	Addr     word.Word
	Kind     Kind
	Op       Op
	Effect   SerializingEffect // meaningful only for Kind == Serializing
	Width    MemWidth          // meaningful only for Kind == Load/Store
	Signed   bool              // sign-extend on Load with Width < 4
	Link     bool              // Jump/JumpRegister writes pc+4 to Dest
	PCRelative bool            // LoadImmediate: add the operand to the instruction's own PC (auipc-style) rather than using it verbatim
	Operands []Operand
	Dest     int  // destination register index
	HasDest  bool // whether Dest is written (register 0 writes are still silently discarded)
}

// Source returns the i'th operand as stored, or the zero Operand when i is
// out of range.
func (in Instruction) Source(i int) Operand {
	if i < 0 || i >= len(in.Operands) {
		return Operand{}
	}
	return in.Operands[i]
}

// TextSegment is the instruction memory: a base address plus a dense array
// of instructions addressed by (addr-base)/4.
type TextSegment struct {
	BaseAddr     word.Word
	Instructions []Instruction
}

// DataSegment is the initial contents of the data memory.
type DataSegment struct {
	BaseAddr word.Word
	Bytes    []word.Byte
}

// Program is the closed artifact the (out-of-scope) assembler hands to the
// core: an entry point, a text segment, a data segment, and a symbol table.
type Program struct {
	EntryPC word.Word
	Text    TextSegment
	Data    DataSegment
	Symbols map[string]word.Word
}

// InstructionAt looks up the instruction at addr within the text segment.
// It reports ok=false if addr falls outside the segment or is misaligned.
func (p Program) InstructionAt(addr word.Word) (Instruction, bool) {
	if addr < p.Text.BaseAddr {
		return Instruction{}, false
	}
	if (addr-p.Text.BaseAddr)%4 != 0 {
		return Instruction{}, false
	}
	idx := int((addr - p.Text.BaseAddr) / 4)
	if idx < 0 || idx >= len(p.Text.Instructions) {
		return Instruction{}, false
	}
	return p.Text.Instructions[idx], true
}

// Bounds returns [pcLo, pcHi) for the text segment, used by the frontend to
// decide when fetch has run off the end of the program.
func (p Program) Bounds() (lo, hi word.Word) {
	lo = p.Text.BaseAddr
	hi = lo + word.Word(4*len(p.Text.Instructions))
	return lo, hi
}
