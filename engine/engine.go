// Package engine implements the out-of-order execution core: a reservation
// station of tagged-variant slots advancing through a shared macro-state
// machine, the Common Data Bus broadcast that resolves pending operands, and
// the rollback mechanism that restores architectural state when a
// potentially-faulting slot retires with a fault.
package engine

import (
	"github.com/sarchlab/oooriscsim/bpu"
	"github.com/sarchlab/oooriscsim/isa"
	"github.com/sarchlab/oooriscsim/memsys"
	"github.com/sarchlab/oooriscsim/regfile"
	"github.com/sarchlab/oooriscsim/word"
)

// Stage is a slot's position in the shared macro-state machine.
type Stage int

const (
	StageExecuting Stage = iota
	StageExecuted
	StageRetiring
	StageRetired
)

func (s Stage) String() string {
	switch s {
	case StageExecuting:
		return "executing"
	case StageExecuted:
		return "executed"
	case StageRetiring:
		return "retiring"
	case StageRetired:
		return "retired"
	default:
		return "unknown"
	}
}

// RetireMode selects one of the three retirement disciplines of §4.5.2.
type RetireMode int

const (
	// RetireLegacy stops the whole tick as soon as either a single
	// execute-completion broadcast or a single retire-completion fires.
	RetireLegacy RetireMode = iota
	// RetireLoose lets every ready slot advance execute/retire freely, but
	// only the retire-queue head may actually free its slot.
	RetireLoose
	// RetireStrict runs retirement strictly in issue (retire-queue) order:
	// a non-head slot does not even advance its retiring sub-stage.
	RetireStrict
)

// FaultInfo is the first-class architectural fault signal surfaced by
// Tick. Which optional fields are set discriminates the fault's cause.
type FaultInfo struct {
	Instr         isa.Instruction
	Effect        *isa.SerializingEffect
	Prediction    *bool
	Address       *word.Word
	NextInstrAddr *word.Word
}

// Config holds the engine's sizing and per-kind latency knobs.
type Config struct {
	NumSlots     int
	ALUCycles    uint64
	BranchCycles uint64
	JumpCycles   uint64
	RetireMode   RetireMode
}

func (c Config) normalized() Config {
	if c.ALUCycles == 0 {
		c.ALUCycles = 1
	}
	if c.BranchCycles == 0 {
		c.BranchCycles = 1
	}
	if c.JumpCycles == 0 {
		c.JumpCycles = 1
	}
	return c
}

type retireOutcome struct {
	fault bool
	info  FaultInfo
}

// slot is one reservation-station entry. Only the fields relevant to the
// instruction's Kind are meaningful; the rest sit at their zero value.
type slot struct {
	id    regfile.SlotID
	instr isa.Instruction
	stage Stage

	operands []regfile.Value
	result   word.Word

	predictDir  bool
	predictTgt  word.Word
	actualTaken bool

	potentiallyFaulting bool
	precedingFaulting   map[regfile.SlotID]bool
	regSnapshot         regfile.File

	effAddr      word.Word
	effAddrKnown bool
	hazards      map[regfile.SlotID]bool
	memResult    memsys.Result
	memStarted   bool

	preceding map[regfile.SlotID]bool // Serializing's issue-time barrier set

	started   bool   // ALU/Branch/Jump cycle countdown has begun
	countdown uint64 // remaining execute-side cycles
	faultdown uint64 // remaining retire-side (fault-visibility) cycles
	faultInit bool

	outcome *retireOutcome
}

// Engine is the reservation-station execution core. It exclusively owns the
// slot array and the architectural register file.
type Engine struct {
	cfg Config

	regs *regfile.File
	mem  *memsys.Memory
	dir  *bpu.DirectionPredictor
	btb  *bpu.BTB

	slots    []slot
	occupied []bool

	retireQueue      []regfile.SlotID
	faultingInFlight map[regfile.SlotID]bool

	cycle uint64

	// OnFenceRetired is invoked synchronously when a Serializing(fence)
	// slot retires without fault — the engine's only side channel to the
	// frontend it does not own, used to lift the fetch stall.
	OnFenceRetired func()
}

// New constructs an Engine with its own register file, wired to mem for
// memory slots and dir/btb for branch/jump resolution.
func New(cfg Config, mem *memsys.Memory, dir *bpu.DirectionPredictor, btb *bpu.BTB) *Engine {
	cfg = cfg.normalized()
	return &Engine{
		cfg:              cfg,
		regs:             regfile.New(),
		mem:              mem,
		dir:              dir,
		btb:              btb,
		slots:            make([]slot, cfg.NumSlots),
		occupied:         make([]bool, cfg.NumSlots),
		faultingInFlight: make(map[regfile.SlotID]bool),
	}
}

// Registers exposes the architectural register file for inspection and for
// the CPU driver's syscall dispatch, which reads arguments and writes
// results through it.
func (e *Engine) Registers() *regfile.File { return e.regs }

// Cycle returns the engine's live cycle counter, used by Cyclecount slots
// and exposed for inspection.
func (e *Engine) Cycle() uint64 { return e.cycle }

// OccupiedSlots reports how many reservation-station entries currently hold
// an in-flight instruction.
func (e *Engine) OccupiedSlots() int {
	n := 0
	for _, o := range e.occupied {
		if o {
			n++
		}
	}
	return n
}

// State is a deep, independent copy of an Engine's entire reservation
// station, retire queue, and architectural register file — the unit a
// whole-system snapshot timeline steps back through.
type State struct {
	regs             regfile.File
	slots            []slot
	occupied         []bool
	retireQueue      []regfile.SlotID
	faultingInFlight map[regfile.SlotID]bool
	cycle            uint64
}

func cloneSlot(s slot) slot {
	out := s
	out.operands = append([]regfile.Value(nil), s.operands...)
	out.precedingFaulting = cloneSet(s.precedingFaulting)
	out.hazards = cloneSet(s.hazards)
	out.preceding = cloneSet(s.preceding)
	return out
}

// Snapshot captures e's entire state, independent of any further mutation
// to e.
func (e *Engine) Snapshot() State {
	slots := make([]slot, len(e.slots))
	for i, s := range e.slots {
		slots[i] = cloneSlot(s)
	}
	return State{
		regs:             e.regs.Snapshot(),
		slots:            slots,
		occupied:         append([]bool(nil), e.occupied...),
		retireQueue:      append([]regfile.SlotID(nil), e.retireQueue...),
		faultingInFlight: cloneSet(e.faultingInFlight),
		cycle:            e.cycle,
	}
}

// Restore overwrites e's entire state with snap, in place — every other
// holder of e's pointer observes the restored state without needing its own
// reference refreshed.
func (e *Engine) Restore(snap State) {
	e.regs.Restore(snap.regs)
	slots := make([]slot, len(snap.slots))
	for i, s := range snap.slots {
		slots[i] = cloneSlot(s)
	}
	e.slots = slots
	e.occupied = append([]bool(nil), snap.occupied...)
	e.retireQueue = append([]regfile.SlotID(nil), snap.retireQueue...)
	e.faultingInFlight = cloneSet(snap.faultingInFlight)
	e.cycle = snap.cycle
}

func isPotentiallyFaulting(k isa.Kind) bool {
	switch k {
	case isa.Load, isa.Store, isa.Branch, isa.JumpRegister, isa.Serializing:
		return true
	default:
		return false
	}
}

func (e *Engine) hasSerializingOccupied() bool {
	for i, o := range e.occupied {
		if o && e.slots[i].instr.Kind == isa.Serializing {
			return true
		}
	}
	return false
}

func (e *Engine) freeSlot() (int, bool) {
	for i, o := range e.occupied {
		if !o {
			return i, true
		}
	}
	return 0, false
}

func cloneSet(s map[regfile.SlotID]bool) map[regfile.SlotID]bool {
	out := make(map[regfile.SlotID]bool, len(s))
	for k := range s {
		out[k] = true
	}
	return out
}

func (e *Engine) allOccupiedIDs() map[regfile.SlotID]bool {
	out := make(map[regfile.SlotID]bool)
	for i, o := range e.occupied {
		if o {
			out[regfile.SlotID(i)] = true
		}
	}
	return out
}

func (e *Engine) resolveOperands(in isa.Instruction) []regfile.Value {
	out := make([]regfile.Value, len(in.Operands))
	for i, op := range in.Operands {
		if op.IsImmediate {
			out[i] = regfile.Concrete(op.Imm)
		} else {
			out[i] = e.regs.Read(op.Reg)
		}
	}
	return out
}

// TryIssue attempts to allocate a reservation-station slot for in, with the
// frontend's direction/target predictions attached for Branch/Jump kinds. It
// refuses while any Serializing instruction is in flight, and when the
// station is full.
func (e *Engine) TryIssue(in isa.Instruction, predDir bool, predTgt word.Word) (regfile.SlotID, bool) {
	if e.hasSerializingOccupied() {
		return 0, false
	}
	idx, ok := e.freeSlot()
	if !ok {
		return 0, false
	}

	s := slot{
		id:         regfile.SlotID(idx),
		instr:      in,
		stage:      StageExecuting,
		operands:   e.resolveOperands(in),
		predictDir: predDir,
		predictTgt: predTgt,
	}

	s.potentiallyFaulting = isPotentiallyFaulting(in.Kind)
	if s.potentiallyFaulting {
		s.regSnapshot = e.regs.Snapshot()
		s.precedingFaulting = cloneSet(e.faultingInFlight)
	}
	if in.Kind == isa.Serializing {
		s.preceding = e.allOccupiedIDs()
	}
	if in.Kind == isa.Load || in.Kind == isa.Store {
		s.hazards = make(map[regfile.SlotID]bool)
	}

	e.slots[idx] = s
	e.occupied[idx] = true

	if in.HasDest && in.Dest != 0 {
		e.regs.Write(in.Dest, regfile.Ref(regfile.SlotID(idx)))
	}
	e.retireQueue = append(e.retireQueue, regfile.SlotID(idx))
	if s.potentiallyFaulting {
		e.faultingInFlight[regfile.SlotID(idx)] = true
	}
	return regfile.SlotID(idx), true
}

func (e *Engine) isHead(id regfile.SlotID) bool {
	return len(e.retireQueue) > 0 && e.retireQueue[0] == id
}

// Tick advances every occupied slot by at most one sub-stage, applies the
// CDB broadcast for at most one newly-executed slot, and completes at most
// one retirement, per the retire-mode rules of §4.5.2. It returns a non-nil
// FaultInfo the moment a retiring slot surfaces a fault, after it has already
// rolled the engine back; the caller (the CPU driver) is then responsible
// for flushing the frontend and redirecting fetch.
func (e *Engine) Tick() *FaultInfo {
	e.cycle++
	broadcastFired := false
	retiredFired := false

	for id := 0; id < len(e.slots); id++ {
		if !e.occupied[id] {
			continue
		}
		s := &e.slots[id]

		switch s.stage {
		case StageExecuting:
			if val, done := e.tickExecute(s); done {
				s.result = val
				s.stage = StageExecuted
			}

		case StageExecuted:
			if broadcastFired {
				continue
			}
			broadcastFired = true
			e.broadcast(s.id, s.result)
			s.stage = StageRetiring
			if e.cfg.RetireMode == RetireLegacy {
				return nil
			}

		case StageRetiring:
			if e.cfg.RetireMode == RetireStrict && !e.isHead(s.id) {
				continue
			}
			if outcome, done := e.tickRetire(s); done {
				s.outcome = outcome
				s.stage = StageRetired
			}

		case StageRetired:
			if retiredFired {
				continue
			}
			if e.cfg.RetireMode == RetireLoose && !e.isHead(s.id) {
				continue
			}
			retiredFired = true

			if s.outcome.fault {
				info := s.outcome.info
				e.rollback(s)
				return &info
			}
			e.completeRetire(s)
			if e.cfg.RetireMode == RetireLegacy {
				return nil
			}
		}
	}
	return nil
}

func (e *Engine) broadcast(id regfile.SlotID, value word.Word) {
	e.regs.NotifyResult(id, value)
	for i := range e.slots {
		if !e.occupied[i] {
			continue
		}
		s := &e.slots[i]
		for oi := range s.operands {
			if s.operands[oi].Pending && s.operands[oi].Slot == id {
				s.operands[oi] = regfile.Concrete(value)
			}
		}
		if s.potentiallyFaulting {
			s.regSnapshot.NotifyResult(id, value)
		}
	}
}

func (e *Engine) notifyRetired(id regfile.SlotID) {
	for i := range e.slots {
		if !e.occupied[i] {
			continue
		}
		s := &e.slots[i]
		delete(s.precedingFaulting, id)
		delete(s.hazards, id)
		delete(s.preceding, id)
	}
	delete(e.faultingInFlight, id)
}

func (e *Engine) completeRetire(s *slot) {
	e.notifyRetired(s.id)
	for i, qid := range e.retireQueue {
		if qid == s.id {
			e.retireQueue = append(e.retireQueue[:i], e.retireQueue[i+1:]...)
			break
		}
	}
	e.occupied[int(s.id)] = false
	e.slots[int(s.id)] = slot{}
}

// rollback restores the register file to the faulting slot's issue-time
// snapshot and discards every in-flight slot.
func (e *Engine) rollback(faulting *slot) {
	e.regs.Restore(faulting.regSnapshot)
	for i := range e.slots {
		e.occupied[i] = false
		e.slots[i] = slot{}
	}
	e.faultingInFlight = make(map[regfile.SlotID]bool)
	e.retireQueue = nil
}

func allConcrete(vs []regfile.Value) bool {
	for _, v := range vs {
		if v.Pending {
			return false
		}
	}
	return true
}

// tickExecute dispatches the execute-side behavior for s's instruction
// kind, returning (result, done) — done is false while the slot must keep
// waiting in the executing stage.
func (e *Engine) tickExecute(s *slot) (word.Word, bool) {
	switch s.instr.Kind {
	case isa.ALURegister, isa.ALUImmediate, isa.LoadImmediate:
		return e.tickExecuteALU(s)
	case isa.Load:
		return e.tickExecuteLoad(s)
	case isa.Store:
		return e.tickExecuteStore(s)
	case isa.Flush:
		return e.tickExecuteFlush(s)
	case isa.FlushAll:
		e.mem.FlushAll()
		return 0, true
	case isa.Branch:
		return e.tickExecuteBranch(s)
	case isa.Jump, isa.JumpRegister:
		return e.tickExecuteJump(s)
	case isa.Cyclecount:
		return word.Word(e.cycle), true
	case isa.Serializing:
		return e.tickExecuteSerializing(s)
	default:
		return 0, true
	}
}

func (e *Engine) tickExecuteALU(s *slot) (word.Word, bool) {
	if !allConcrete(s.operands) {
		return 0, false
	}
	if !s.started {
		s.started = true
		s.countdown = e.cfg.ALUCycles
	}
	if s.countdown > 0 {
		s.countdown--
	}
	if s.countdown > 0 {
		return 0, false
	}
	return e.computeALU(s), true
}

func (e *Engine) computeALU(s *slot) word.Word {
	in := s.instr
	if in.Kind == isa.LoadImmediate {
		imm := word.Word(0)
		if len(s.operands) > 0 {
			imm = s.operands[0].Word
		}
		if in.PCRelative {
			return in.Addr.Add(imm)
		}
		return imm
	}

	a := word.Word(0)
	b := word.Word(0)
	if len(s.operands) > 0 {
		a = s.operands[0].Word
	}
	if len(s.operands) > 1 {
		b = s.operands[1].Word
	}

	switch in.Op {
	case isa.OpAdd:
		return a.Add(b)
	case isa.OpSub:
		return a.Sub(b)
	case isa.OpAnd:
		return a.And(b)
	case isa.OpOr:
		return a.Or(b)
	case isa.OpXor:
		return a.Xor(b)
	case isa.OpSll:
		return a.Shl(b)
	case isa.OpSrl:
		return a.Shr(b)
	case isa.OpSra:
		return a.Sar(b)
	case isa.OpSlt:
		if a.SignedLess(b) {
			return 1
		}
		return 0
	case isa.OpSltu:
		if a.UnsignedLess(b) {
			return 1
		}
		return 0
	case isa.OpMul:
		return a.Mul(b)
	case isa.OpDiv:
		return a.DivTrunc(b)
	case isa.OpDivu:
		return a.DivTruncUnsigned(b)
	case isa.OpRem:
		return a.RemTrunc(b)
	case isa.OpRemu:
		return a.RemTruncUnsigned(b)
	default:
		return 0
	}
}

// memWaitForHazards walks s's precedingFaulting set, the only slots it may
// legally overlap with, recording true byte-range overlaps as hazards and
// reporting whether s must keep waiting before its own memory access can
// proceed (an unresolved predecessor's address is still unknown).
func (e *Engine) memWaitForHazards(s *slot) (mustWait bool) {
	width := word.Word(s.instr.Width)
	for id := range s.precedingFaulting {
		other := &e.slots[int(id)]
		if other.instr.Kind != isa.Load && other.instr.Kind != isa.Store {
			continue
		}
		if !other.effAddrKnown {
			return true
		}
		otherWidth := word.Word(other.instr.Width)
		if rangesOverlap(s.effAddr, width, other.effAddr, otherWidth) {
			s.hazards[id] = true
		}
	}
	return false
}

func rangesOverlap(a word.Word, aw word.Word, b word.Word, bw word.Word) bool {
	return a < b.Add(bw) && b < a.Add(aw)
}

func (e *Engine) effectiveAddress(s *slot) word.Word {
	base := word.Word(0)
	offset := word.Word(0)
	if len(s.operands) > 0 {
		base = s.operands[0].Word
	}
	if len(s.operands) > 1 {
		offset = s.operands[1].Word
	}
	return base.Add(offset)
}

func (e *Engine) tickExecuteLoad(s *slot) (word.Word, bool) {
	if len(s.operands) > 0 && s.operands[0].Pending {
		return 0, false
	}
	if !s.effAddrKnown {
		s.effAddr = e.effectiveAddress(s)
		s.effAddrKnown = true
	}
	if e.memWaitForHazards(s) {
		return 0, false
	}
	if len(s.hazards) > 0 {
		return 0, false
	}

	if !s.memStarted {
		width := int(s.instr.Width)
		s.memResult = e.mem.ReadWord(s.effAddr, width, s.instr.Signed, true)
		s.memStarted = true
	}
	if s.memResult.CyclesValue > 0 {
		s.memResult.CyclesValue--
		return 0, false
	}
	return s.memResult.Value, true
}

func (e *Engine) tickExecuteStore(s *slot) (word.Word, bool) {
	if len(s.operands) > 0 && s.operands[0].Pending {
		return 0, false
	}
	if len(s.operands) > 2 && s.operands[2].Pending {
		return 0, false
	}
	if !s.effAddrKnown {
		s.effAddr = e.effectiveAddress(s)
		s.effAddrKnown = true
	}
	if e.memWaitForHazards(s) {
		return 0, false
	}
	if len(s.hazards) > 0 {
		return 0, false
	}
	if len(s.precedingFaulting) > 0 {
		return 0, false
	}

	if !s.memStarted {
		value := word.Word(0)
		if len(s.operands) > 2 {
			value = s.operands[2].Word
		}
		width := int(s.instr.Width)
		s.memResult = e.mem.WriteWord(s.effAddr, width, value, true)
		s.memStarted = true
	}
	if s.memResult.CyclesValue > 0 {
		s.memResult.CyclesValue--
		return 0, false
	}
	return 0, true
}

func (e *Engine) tickExecuteFlush(s *slot) (word.Word, bool) {
	if !s.effAddrKnown {
		s.effAddr = e.effectiveAddress(s)
		s.effAddrKnown = true
	}
	e.mem.FlushLine(s.effAddr)
	return 0, true
}

func (e *Engine) tickExecuteBranch(s *slot) (word.Word, bool) {
	if !allConcrete(s.operands) {
		return 0, false
	}
	if !s.started {
		s.started = true
		s.countdown = e.cfg.BranchCycles
	}
	if s.countdown > 0 {
		s.countdown--
	}
	if s.countdown > 0 {
		return 0, false
	}

	a := s.operands[0].Word
	b := word.Word(0)
	if len(s.operands) > 1 {
		b = s.operands[1].Word
	}
	var taken bool
	switch s.instr.Op {
	case isa.OpBeq:
		taken = a.Equal(b)
	case isa.OpBne:
		taken = !a.Equal(b)
	case isa.OpBlt:
		taken = a.SignedLess(b)
	case isa.OpBge:
		taken = !a.SignedLess(b)
	case isa.OpBltu:
		taken = a.UnsignedLess(b)
	case isa.OpBgeu:
		taken = !a.UnsignedLess(b)
	}
	e.dir.Update(s.instr.Addr, taken)
	s.actualTaken = taken
	return 0, true
}

func (e *Engine) tickExecuteJump(s *slot) (word.Word, bool) {
	if !allConcrete(s.operands) {
		return 0, false
	}
	if !s.started {
		s.started = true
		s.countdown = e.cfg.JumpCycles
	}
	if s.countdown > 0 {
		s.countdown--
	}
	if s.countdown > 0 {
		return 0, false
	}

	var dest word.Word
	if s.instr.Kind == isa.JumpRegister {
		base := word.Word(0)
		offset := word.Word(0)
		if len(s.operands) > 0 {
			base = s.operands[0].Word
		}
		if len(s.operands) > 1 {
			offset = s.operands[1].Word
		}
		dest = base.Add(offset)
		e.btb.Update(s.instr.Addr, dest)
	} else {
		dest = s.instr.Source(0).Imm
	}
	s.effAddr = dest
	s.effAddrKnown = true

	link := s.instr.Addr.Add(4)
	if s.instr.Link && s.instr.HasDest && s.instr.Dest != 0 {
		s.regSnapshot.Write(s.instr.Dest, regfile.Concrete(link))
	}
	if !s.instr.Link {
		return 0, true
	}
	return link, true
}

func (e *Engine) tickExecuteSerializing(s *slot) (word.Word, bool) {
	if len(s.preceding) > 0 {
		return 0, false
	}
	return 0, true
}

// tickRetire dispatches the retire-side behavior for s, returning
// (outcome, done) — done is false while the slot must keep waiting in the
// retiring stage.
func (e *Engine) tickRetire(s *slot) (*retireOutcome, bool) {
	switch s.instr.Kind {
	case isa.ALURegister, isa.ALUImmediate, isa.LoadImmediate,
		isa.FlushAll, isa.Flush, isa.Cyclecount, isa.Jump:
		return &retireOutcome{}, true
	case isa.Load, isa.Store:
		return e.tickRetireMem(s)
	case isa.Branch:
		return e.tickRetireBranch(s)
	case isa.JumpRegister:
		return e.tickRetireJumpRegister(s)
	case isa.Serializing:
		return e.tickRetireSerializing(s)
	default:
		return &retireOutcome{}, true
	}
}

func (e *Engine) tickRetireMem(s *slot) (*retireOutcome, bool) {
	if !s.faultInit {
		s.faultInit = true
		s.faultdown = s.memResult.CyclesFault
	}
	if s.faultdown > 0 {
		s.faultdown--
		return nil, false
	}
	if !s.memResult.Fault {
		return &retireOutcome{}, true
	}
	addr := s.effAddr
	return &retireOutcome{
		fault: true,
		info:  FaultInfo{Instr: s.instr, Address: &addr},
	}, true
}

func (e *Engine) tickRetireBranch(s *slot) (*retireOutcome, bool) {
	actual := s.actualTaken
	if actual == s.predictDir {
		return &retireOutcome{}, true
	}
	pred := s.predictDir
	return &retireOutcome{
		fault: true,
		info:  FaultInfo{Instr: s.instr, Prediction: &pred},
	}, true
}

func (e *Engine) tickRetireJumpRegister(s *slot) (*retireOutcome, bool) {
	actual := s.effAddr
	if actual == s.predictTgt {
		return &retireOutcome{}, true
	}
	addr := actual
	next := actual
	return &retireOutcome{
		fault: true,
		info:  FaultInfo{Instr: s.instr, Address: &addr, NextInstrAddr: &next},
	}, true
}

func (e *Engine) tickRetireSerializing(s *slot) (*retireOutcome, bool) {
	effect := s.instr.Effect
	if effect == isa.Fence {
		if e.OnFenceRetired != nil {
			e.OnFenceRetired()
		}
		return &retireOutcome{}, true
	}
	return &retireOutcome{
		fault: true,
		info:  FaultInfo{Instr: s.instr, Effect: &effect},
	}, true
}
