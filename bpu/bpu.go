// Package bpu implements branch prediction: the direction predictor (a
// shared or direct-mapped array of 2-bit saturating counters), the branch
// target buffer, and the return-address stack used for call/return pairs.
package bpu

import "github.com/sarchlab/oooriscsim/word"

// DirectionConfig configures the direction predictor.
type DirectionConfig struct {
	// Advanced selects the direct-mapped, per-PC predictor. When false, a
	// single counter is shared across every PC.
	Advanced bool
	// IndexBits is log2 of the direct-mapped table size; ignored when
	// Advanced is false.
	IndexBits uint
	// InitCounter is the starting value (0-3) of every counter.
	InitCounter uint8
}

// DirectionPredictor is a 2-bit saturating-counter branch direction
// predictor, either a single shared counter or a direct-mapped array
// indexed by (pc>>2) mod 2^IndexBits.
type DirectionPredictor struct {
	advanced bool
	mask     uint32
	counters []uint8
}

// NewDirectionPredictor builds a predictor from cfg.
func NewDirectionPredictor(cfg DirectionConfig) *DirectionPredictor {
	if cfg.InitCounter > 3 {
		cfg.InitCounter = 3
	}
	p := &DirectionPredictor{advanced: cfg.Advanced}
	if !cfg.Advanced {
		p.counters = []uint8{cfg.InitCounter}
		return p
	}
	size := uint32(1) << cfg.IndexBits
	p.mask = size - 1
	p.counters = make([]uint8, size)
	for i := range p.counters {
		p.counters[i] = cfg.InitCounter
	}
	return p
}

func (p *DirectionPredictor) index(pc word.Word) uint32 {
	if !p.advanced {
		return 0
	}
	return (uint32(pc) >> 2) & p.mask
}

// Predict reports whether the branch at pc is predicted taken: counter >= 2.
func (p *DirectionPredictor) Predict(pc word.Word) bool {
	return p.counters[p.index(pc)] >= 2
}

// Update advances the saturating counter for pc toward the actual outcome.
func (p *DirectionPredictor) Update(pc word.Word, taken bool) {
	i := p.index(pc)
	if taken {
		if p.counters[i] < 3 {
			p.counters[i]++
		}
	} else {
		if p.counters[i] > 0 {
			p.counters[i]--
		}
	}
}

// Counter returns the raw counter value tracking pc, for inspection.
func (p *DirectionPredictor) Counter(pc word.Word) uint8 {
	return p.counters[p.index(pc)]
}

// State is a deep, independent copy of a DirectionPredictor's counters, for
// a whole-system snapshot.
type State struct {
	advanced bool
	mask     uint32
	counters []uint8
}

// Snapshot captures p's entire state, independent of any further mutation
// to p.
func (p *DirectionPredictor) Snapshot() State {
	return State{
		advanced: p.advanced,
		mask:     p.mask,
		counters: append([]uint8(nil), p.counters...),
	}
}

// Restore overwrites p's entire state with snap, in place.
func (p *DirectionPredictor) Restore(snap State) {
	p.advanced = snap.advanced
	p.mask = snap.mask
	p.counters = append([]uint8(nil), snap.counters...)
}

// BTBConfig configures the branch target buffer.
type BTBConfig struct {
	// IndexBits is log2 of the BTB's entry count.
	IndexBits uint
}

// btbEntry is one direct-mapped BTB slot.
type btbEntry struct {
	valid  bool
	target word.Word
}

// BTB is a direct-mapped branch target buffer.
type BTB struct {
	mask    uint32
	entries []btbEntry
}

// NewBTB builds a BTB from cfg.
func NewBTB(cfg BTBConfig) *BTB {
	size := uint32(1) << cfg.IndexBits
	return &BTB{
		mask:    size - 1,
		entries: make([]btbEntry, size),
	}
}

func (b *BTB) index(pc word.Word) uint32 {
	return (uint32(pc) >> 2) & b.mask
}

// Predict returns the cached target for pc, or pc+4 if the BTB has nothing
// cached there (signaling "not a taken jump").
func (b *BTB) Predict(pc word.Word) word.Word {
	e := b.entries[b.index(pc)]
	if e.valid {
		return e.target
	}
	return pc + 4
}

// Update records the resolved target for a register jump at pc. The BTB is
// updated only by register-jump resolution, never by direct jumps or
// branches (those don't need a target cache — their target is immediate or
// the fall-through).
func (b *BTB) Update(pc, target word.Word) {
	b.entries[b.index(pc)] = btbEntry{valid: true, target: target}
}

// BTBState is a deep, independent copy of a BTB's entries, for a
// whole-system snapshot.
type BTBState struct {
	mask    uint32
	entries []btbEntry
}

// Snapshot captures b's entire state, independent of any further mutation
// to b.
func (b *BTB) Snapshot() BTBState {
	return BTBState{
		mask:    b.mask,
		entries: append([]btbEntry(nil), b.entries...),
	}
}

// Restore overwrites b's entire state with snap, in place.
func (b *BTB) Restore(snap BTBState) {
	b.mask = snap.mask
	b.entries = append([]btbEntry(nil), snap.entries...)
}

// linkRegisters is the fixed set of RISC-V return-convention registers: ra
// (x1) and t0 (x5), per the psABI's link-register hint encoding.
var linkRegisters = map[int]bool{1: true, 5: true}

// IsLinkRegister reports whether reg is a return-convention register.
func IsLinkRegister(reg int) bool {
	return linkRegisters[reg]
}

// RSB is a bounded return-address stack. Overflow silently evicts the
// oldest entry rather than growing or erroring — a faithful reproduction of
// a real hardware RSB's undocumented-but-plausible wraparound behavior.
type RSB struct {
	entries []word.Word
	maxDepth int
}

// NewRSB builds an RSB with the given bound. A bound of zero disables the
// RSB (every Handle call returns none/pushes are dropped).
func NewRSB(maxDepth int) *RSB {
	return &RSB{maxDepth: maxDepth}
}

func (r *RSB) push(addr word.Word) {
	if r.maxDepth <= 0 {
		return
	}
	if len(r.entries) >= r.maxDepth {
		// Evict the oldest (bottom of stack) entry.
		r.entries = r.entries[1:]
	}
	r.entries = append(r.entries, addr)
}

func (r *RSB) pop() (word.Word, bool) {
	if len(r.entries) == 0 {
		return 0, false
	}
	top := r.entries[len(r.entries)-1]
	r.entries = r.entries[:len(r.entries)-1]
	return top, true
}

// Handle implements the RISC-V return-stack discipline for a jump/
// jump-register instruction at pc. destReg/linkReg are -1 when the
// instruction has no destination/link register respectively (a direct
// jump has no destReg; an unlinked jump has no linkReg).
//
//   - Direct jump (destReg < 0): if linkReg is a return register, push
//     pc+4; always returns (0, false).
//   - Register jump:
//     linkReg not-ret, destReg not-ret: no-op, returns (0, false).
//     linkReg not-ret, destReg ret: pop and return it.
//     linkReg ret, destReg not-ret: push pc+4, returns (0, false).
//     both ret, different registers: pop (as the prediction), then push
//     pc+4, return the popped value.
//     both ret, same register: push pc+4, returns (0, false).
func (r *RSB) Handle(pc word.Word, destReg, linkReg int) (predicted word.Word, ok bool) {
	destIsRet := destReg >= 0 && IsLinkRegister(destReg)
	linkIsRet := linkReg >= 0 && IsLinkRegister(linkReg)

	if destReg < 0 {
		if linkIsRet {
			r.push(pc + 4)
		}
		return 0, false
	}

	switch {
	case !linkIsRet && !destIsRet:
		return 0, false
	case !linkIsRet && destIsRet:
		return r.pop()
	case linkIsRet && !destIsRet:
		r.push(pc + 4)
		return 0, false
	case linkIsRet && destIsRet && destReg != linkReg:
		predicted, ok = r.pop()
		r.push(pc + 4)
		return predicted, ok
	default: // linkIsRet && destIsRet && destReg == linkReg
		r.push(pc + 4)
		return 0, false
	}
}

// Depth returns the number of entries currently on the stack, for tests.
func (r *RSB) Depth() int {
	return len(r.entries)
}

// RSBState is a deep, independent copy of an RSB's entries, for a
// whole-system snapshot.
type RSBState struct {
	entries  []word.Word
	maxDepth int
}

// Snapshot captures r's entire state, independent of any further mutation
// to r.
func (r *RSB) Snapshot() RSBState {
	return RSBState{
		entries:  append([]word.Word(nil), r.entries...),
		maxDepth: r.maxDepth,
	}
}

// Restore overwrites r's entire state with snap, in place.
func (r *RSB) Restore(snap RSBState) {
	r.entries = append([]word.Word(nil), snap.entries...)
	r.maxDepth = snap.maxDepth
}
