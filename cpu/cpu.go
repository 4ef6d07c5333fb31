// Package cpu wires the frontend, the execution engine, and the predictors
// together into a single ticking core: draining fetched instructions into
// the reservation station, advancing the engine one cycle at a time, and
// dispatching whatever fault the engine surfaces back into a PC redirect or
// a syscall against the attached console. Fault dispatch never injects a
// microprogram; one is queued only through InjectMicroProgram.
package cpu

import (
	"github.com/sarchlab/oooriscsim/bpu"
	"github.com/sarchlab/oooriscsim/console"
	"github.com/sarchlab/oooriscsim/engine"
	"github.com/sarchlab/oooriscsim/frontend"
	"github.com/sarchlab/oooriscsim/isa"
	"github.com/sarchlab/oooriscsim/memsys"
	"github.com/sarchlab/oooriscsim/regfile"
	"github.com/sarchlab/oooriscsim/word"
)

// Syscall numbers recognized by the Serializing(ecall) dispatch, following
// the minimal read/write/exit convention: a7 selects the call, a0/a1/a2
// carry its arguments. Negative numbering matches the convention an
// unknown-syscall response (ENOSYS, also negative) already has to share.
const (
	RegA7 = 17
	RegA0 = 10
	RegA1 = 11
	RegA2 = 12

	SyscallExit  = -1
	SyscallWrite = -2
	SyscallRead  = -3

	ENOSYS = -38
	EFAULT = -14
)

// Halted reports, via CPU.Halted, that the core has reached an exit
// syscall and will not execute any further ticks.
type haltState struct {
	halted   bool
	exitCode word.Word
}

// CPU is the top-level per-tick orchestrator.
type CPU struct {
	front *frontend.Frontend
	eng   *engine.Engine
	mem   *memsys.Memory
	con   *console.Console

	// dir and btb are shared by front and eng, and rsb is used by front
	// only; CPU keeps its own reference to each purely so Snapshot/Restore
	// can reach them without either owner exposing an accessor solely for
	// that purpose.
	dir *bpu.DirectionPredictor
	btb *bpu.BTB
	rsb *bpu.RSB

	instrQBound int
	halt        haltState
}

// New wires a full CPU around program, with predictors built from the
// supplied configs and instrQBound as the frontend's fetch-queue depth.
func New(
	program *isa.Program,
	dirCfg bpu.DirectionConfig,
	btbCfg bpu.BTBConfig,
	rsbMaxDepth int,
	mem *memsys.Memory,
	engCfg engine.Config,
	con *console.Console,
	instrQBound int,
) *CPU {
	dir := bpu.NewDirectionPredictor(dirCfg)
	btb := bpu.NewBTB(btbCfg)
	rsb := bpu.NewRSB(rsbMaxDepth)

	front := frontend.New(program, dir, btb, rsb, instrQBound)
	eng := engine.New(engCfg, mem, dir, btb)

	c := &CPU{
		front: front, eng: eng, mem: mem, con: con,
		dir: dir, btb: btb, rsb: rsb,
		instrQBound: instrQBound,
	}
	eng.OnFenceRetired = front.Unstall
	return c
}

// Frontend exposes the fetch stage for inspection.
func (c *CPU) Frontend() *frontend.Frontend { return c.front }

// Engine exposes the execution core for inspection.
func (c *CPU) Engine() *engine.Engine { return c.eng }

// Memory exposes the attached memory subsystem for inspection (cache
// timing probes, covert-channel demonstrations).
func (c *CPU) Memory() *memsys.Memory { return c.mem }

// Console exposes the attached console for feeding input and reading
// accumulated output.
func (c *CPU) Console() *console.Console { return c.con }

// InjectMicroProgram queues instrs directly ahead of whatever the frontend
// would otherwise fetch next, bypassing the queue bound. Used to drive a
// recovery or probe sequence (e.g. a Meltdown cache-timing probe) from
// outside the normal control flow.
func (c *CPU) InjectMicroProgram(instrs []isa.Instruction) {
	c.front.AddMicroProgram(instrs)
}

// Halted reports whether the core has executed an exit syscall.
func (c *CPU) Halted() bool { return c.halt.halted }

// ExitCode returns the code passed to the exit syscall, valid once Halted.
func (c *CPU) ExitCode() word.Word { return c.halt.exitCode }

// State is a deep, independent copy of an entire CPU's architectural and
// microarchitectural state — every component Tick can mutate — suitable
// for a step-back timeline. A whole-CPU deep copy is cheap enough here
// because every component's state is small and value-dominant.
type State struct {
	front frontend.State
	eng   engine.State
	mem   memsys.State
	con   console.State
	dir   bpu.State
	btb   bpu.BTBState
	rsb   bpu.RSBState
	halt  haltState
}

// Snapshot captures the entire CPU's state, independent of any further
// mutation to c.
func (c *CPU) Snapshot() State {
	return State{
		front: c.front.Snapshot(),
		eng:   c.eng.Snapshot(),
		mem:   c.mem.Snapshot(),
		con:   c.con.Snapshot(),
		dir:   c.dir.Snapshot(),
		btb:   c.btb.Snapshot(),
		rsb:   c.rsb.Snapshot(),
		halt:  c.halt,
	}
}

// Restore overwrites the entire CPU's state with snap, in place.
func (c *CPU) Restore(snap State) {
	c.front.Restore(snap.front)
	c.eng.Restore(snap.eng)
	c.mem.Restore(snap.mem)
	c.con.Restore(snap.con)
	c.dir.Restore(snap.dir)
	c.btb.Restore(snap.btb)
	c.rsb.Restore(snap.rsb)
	c.halt = snap.halt
}

// Tick drains the frontend into the engine, advances the engine one cycle,
// and dispatches any fault that surfaces. It is a no-op once the core has
// halted.
func (c *CPU) Tick() {
	if c.halt.halted {
		return
	}

	c.issueFromQueue()

	fault := c.eng.Tick()
	if fault == nil {
		c.issueFromQueue()
		return
	}
	c.dispatchFault(*fault)
}

// issueFromQueue moves fetched entries from the frontend queue into the
// engine's reservation station until either is exhausted, then tops the
// frontend queue back up.
func (c *CPU) issueFromQueue() {
	for {
		entries := c.front.Queue()
		if len(entries) == 0 {
			break
		}
		e := entries[0]
		if _, ok := c.eng.TryIssue(e.Instruction, e.PredictDir, e.PredictTgt); !ok {
			break
		}
		c.front.Pop()
	}
	c.front.AddInstructionsToQueue()
}

// dispatchFault routes a surfaced FaultInfo to the appropriate recovery
// action: a branch misprediction redirects fetch down the resolved path; a
// register-jump misprediction redirects to its resolved target; a memory
// fault flushes the queue and continues at the faulting instruction's
// successor; a serializing effect is handled as a syscall or a debug trap.
func (c *CPU) dispatchFault(f engine.FaultInfo) {
	switch {
	case f.Effect != nil:
		c.dispatchSerializing(f)

	case f.Prediction != nil:
		actual := !*f.Prediction
		c.front.FlushInstructionQueue()
		c.front.AddInstructionsAfterBranch(actual, f.Instr.Addr, f.Instr.Source(2).Imm)

	case f.NextInstrAddr != nil:
		c.front.FlushInstructionQueue()
		c.front.SetPC(*f.NextInstrAddr)
		c.front.AddInstructionsToQueue()

	case f.Address != nil:
		c.front.FlushInstructionQueue()
		c.front.SetPC(f.Instr.Addr + 4)
		c.front.AddInstructionsToQueue()
	}
}

func (c *CPU) dispatchSerializing(f engine.FaultInfo) {
	c.front.FlushInstructionQueue()
	switch *f.Effect {
	case isa.Ecall:
		c.dispatchSyscall(f)
	case isa.Ebreak:
		// A debugger would stop here; absent one, resume at the next
		// instruction so the simulation can keep running.
		c.front.SetPC(f.Instr.Addr + 4)
		c.front.AddInstructionsToQueue()
	}
}

func (c *CPU) dispatchSyscall(f engine.FaultInfo) {
	regs := c.eng.Registers()
	switch regs.Read(RegA7).Word.Signed() {
	case SyscallWrite:
		addr := regs.Read(RegA0).Word
		length := int(regs.Read(RegA1).Word)
		data := make([]byte, 0, length)
		for i := 0; i < length; i++ {
			r := c.mem.ReadByte(addr+word.Word(i), false)
			if r.Fault {
				regs.Write(RegA0, regfile.Concrete(word.FromInt32(EFAULT)))
				break
			}
			data = append(data, byte(r.Value))
		}
		if len(data) == length {
			n := c.con.Write(data)
			regs.Write(RegA0, regfile.Concrete(word.Word(n)))
		}

	case SyscallRead:
		maxLen := int(regs.Read(RegA1).Word)
		data, ok := c.con.Read(maxLen)
		if !ok {
			// No input yet: re-fetch this same ecall so it re-traps on a
			// later tick once the console has bytes.
			c.front.SetPC(f.Instr.Addr)
			c.front.AddInstructionsToQueue()
			return
		}
		addr := regs.Read(RegA0).Word
		faulted := false
		for i, b := range data {
			r := c.mem.WriteByte(addr+word.Word(i), b, true)
			if r.Fault {
				regs.Write(RegA0, regfile.Concrete(word.FromInt32(EFAULT)))
				faulted = true
				break
			}
		}
		if !faulted {
			regs.Write(RegA0, regfile.Concrete(word.Word(len(data))))
		}

	case SyscallExit:
		c.halt.halted = true
		c.halt.exitCode = regs.Read(RegA0).Word
		return

	default:
		regs.Write(RegA0, regfile.Concrete(word.FromInt32(ENOSYS)))
	}

	c.front.SetPC(f.Instr.Addr + 4)
	c.front.AddInstructionsToQueue()
}
