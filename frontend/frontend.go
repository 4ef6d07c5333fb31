// Package frontend implements prediction-driven instruction fetch: the
// program counter, a bounded fetch queue, serializing-instruction stall, and
// microprogram injection. It consults the branch predictors to decide where
// to fetch next but never resolves a prediction itself — that is the
// execution engine's job at retirement.
package frontend

import (
	"github.com/sarchlab/oooriscsim/bpu"
	"github.com/sarchlab/oooriscsim/isa"
	"github.com/sarchlab/oooriscsim/word"
)

// MicroPC is the sentinel address stamped on every instruction injected by
// AddMicroProgram, distinguishing it from a regularly fetched instruction.
const MicroPC = word.Word(0xFFFFFFFF)

// Entry is one fetched instruction sitting in the queue, carrying whatever
// prediction the frontend made for it at fetch time.
type Entry struct {
	Instruction isa.Instruction
	PredictDir  bool
	PredictTgt  word.Word
}

// Frontend owns the program counter and the bounded fetch queue feeding the
// execution engine's issue stage.
type Frontend struct {
	program *isa.Program
	dir     *bpu.DirectionPredictor
	btb     *bpu.BTB
	rsb     *bpu.RSB

	pc          word.Word
	pcLo, pcHi  word.Word
	stalled     bool
	queue       []Entry
	queueBound  int
}

// New constructs a Frontend over program, using dir/btb/rsb for prediction
// and bounding the fetch queue at queueBound entries.
func New(program *isa.Program, dir *bpu.DirectionPredictor, btb *bpu.BTB, rsb *bpu.RSB, queueBound int) *Frontend {
	lo, hi := program.Bounds()
	return &Frontend{
		program:    program,
		dir:        dir,
		btb:        btb,
		rsb:        rsb,
		pc:         program.EntryPC,
		pcLo:       lo,
		pcHi:       hi,
		queueBound: queueBound,
	}
}

// PC returns the current program counter.
func (f *Frontend) PC() word.Word { return f.pc }

// SetPC forcibly redirects the program counter, used by the CPU driver after
// a fault or misprediction is resolved.
func (f *Frontend) SetPC(pc word.Word) { f.pc = pc }

// Stalled reports whether fetch is currently blocked on a serializing
// instruction awaiting unstall.
func (f *Frontend) Stalled() bool { return f.stalled }

// Unstall clears the stall flag, allowing fetch to resume.
func (f *Frontend) Unstall() { f.stalled = false }

// Queue returns a read-only view of the currently queued entries.
func (f *Frontend) Queue() []Entry {
	return append([]Entry(nil), f.queue...)
}

// Len reports the number of entries currently queued.
func (f *Frontend) Len() int { return len(f.queue) }

// State is a deep, independent copy of a Frontend's mutable state: the
// program counter, the stall flag, and the fetch queue. The predictors it
// consults (dir/btb/rsb) and the program it fetches from are not part of
// this state — they are shared with the owning engine/CPU and snapshotted
// at that level instead.
type State struct {
	pc      word.Word
	stalled bool
	queue   []Entry
}

// Snapshot captures f's mutable state, independent of any further mutation
// to f.
func (f *Frontend) Snapshot() State {
	return State{
		pc:      f.pc,
		stalled: f.stalled,
		queue:   append([]Entry(nil), f.queue...),
	}
}

// Restore overwrites f's mutable state with snap, in place.
func (f *Frontend) Restore(snap State) {
	f.pc = snap.pc
	f.stalled = snap.stalled
	f.queue = append([]Entry(nil), snap.queue...)
}

// Pop removes and returns the oldest queued entry.
func (f *Frontend) Pop() (Entry, bool) {
	if len(f.queue) == 0 {
		return Entry{}, false
	}
	e := f.queue[0]
	f.queue = f.queue[1:]
	return e, true
}

// inBounds reports whether pc still falls within the program's text segment.
func (f *Frontend) inBounds(pc word.Word) bool {
	return pc >= f.pcLo && pc < f.pcHi
}

func isLinkDest(in isa.Instruction) int {
	if in.HasDest {
		return in.Dest
	}
	return -1
}

// AddInstructionsToQueue fetches and queues instructions while not stalled,
// the queue has room, and the PC remains within the program's bounds.
func (f *Frontend) AddInstructionsToQueue() {
	for !f.stalled && len(f.queue) < f.queueBound && f.inBounds(f.pc) {
		in, ok := f.program.InstructionAt(f.pc)
		if !ok {
			break
		}
		in.Addr = f.pc

		switch in.Kind {
		case isa.Branch:
			taken := f.dir.Predict(f.pc)
			var target word.Word
			if taken {
				target = in.Source(2).Imm // operands: rs1, rs2, branch-target immediate
			} else {
				target = f.pc + 4
			}
			f.queue = append(f.queue, Entry{Instruction: in, PredictDir: taken, PredictTgt: target})
			f.pc = target

		case isa.Jump:
			target := in.Source(0).Imm
			linkReg := -1
			if in.Link {
				linkReg = isLinkDest(in)
			}
			f.rsb.Handle(f.pc, -1, linkReg)
			f.queue = append(f.queue, Entry{Instruction: in, PredictDir: true, PredictTgt: target})
			f.pc = target

		case isa.JumpRegister:
			// For the RSB, destReg is the register the jump goes through
			// (the base operand), which a register jump always has -- -1
			// is reserved for a direct jump. linkReg is the register that
			// receives pc+4, or -1 for an unlinked jump.
			destReg := in.Source(0).Reg
			linkReg := -1
			if in.Link {
				linkReg = isLinkDest(in)
			}
			target, ok := f.rsb.Handle(f.pc, destReg, linkReg)
			if !ok {
				target = f.btb.Predict(f.pc)
			}
			f.queue = append(f.queue, Entry{Instruction: in, PredictDir: true, PredictTgt: target})
			f.pc = target

		case isa.Serializing:
			f.queue = append(f.queue, Entry{Instruction: in})
			f.stalled = true
			f.pc += 4

		default:
			f.queue = append(f.queue, Entry{Instruction: in})
			f.pc += 4
		}
	}
}

// AddMicroProgram appends instrs directly to the queue, bypassing the
// length bound, stamping each with the MicroPC sentinel address. Used by the
// CPU driver to inject a recovery/mitigation sequence after a fault.
// JumpRegister is forbidden inside a microprogram; Branch/Jump instructions
// are taken unconditionally and adjust nothing but the queue contents (the
// PC is left to the CPU driver to manage around the injected sequence).
func (f *Frontend) AddMicroProgram(instrs []isa.Instruction) {
	for _, in := range instrs {
		in.Addr = MicroPC
		f.queue = append(f.queue, Entry{Instruction: in, PredictDir: true})
	}
}

// FlushInstructionQueue empties the queue and clears any stall.
func (f *Frontend) FlushInstructionQueue() {
	f.queue = nil
	f.stalled = false
}

// AddInstructionsAfterBranch resets the PC to target if taken (else pc+4)
// and refills the queue — used by the CPU driver to force the architecturally
// correct path after a branch misprediction.
func (f *Frontend) AddInstructionsAfterBranch(taken bool, pc, target word.Word) {
	if taken {
		f.pc = target
	} else {
		f.pc = pc + 4
	}
	f.AddInstructionsToQueue()
}
