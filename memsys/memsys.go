// Package memsys implements the byte-addressed memory subsystem: a sparse
// backing store with access-permission faults, integrated with a cache for
// latency accounting. Its read path is deliberately ordered so that a
// faulting speculative load still leaves a cache-observable footprint —
// the mechanism this whole simulator exists to demonstrate.
package memsys

import (
	"github.com/sarchlab/oooriscsim/cache"
	"github.com/sarchlab/oooriscsim/word"
)

// PrivilegedBase is the first address of the privileged half of the
// address space: [PrivilegedBase, 2^32) faults on every access.
const PrivilegedBase = word.Word(1) << (word.Width - 1)

// MagicUnwrittenByte is returned for any never-written address in the
// privileged half, a deliberately memorable sentinel for Meltdown-style
// demonstrations.
const MagicUnwrittenByte byte = 0x42

// Config holds the memory subsystem's own latency and mitigation knobs,
// independent of the cache's hit/miss latencies.
type Config struct {
	// NumWriteCycles is the latency of a non-faulting write.
	NumWriteCycles uint64
	// NumFaultCycles is the latency incurred before a fault (or its
	// absence) becomes architecturally visible, for both reads and
	// writes — this paces the retire-stage fault check independently of
	// the data-path latency charged during execute.
	NumFaultCycles uint64
	// ZeroOnIllegal implements the naive "return zero on illegal access"
	// mitigation: the returned value is zeroed when the access faults,
	// but the cache line is filled regardless. Whether this is adequate
	// mitigation or a textbook example of an incomplete one is left to
	// the reader — the cache line fill still happened.
	ZeroOnIllegal bool
}

// Result is the outcome of a single memory operation.
type Result struct {
	Value       word.Word
	Fault       bool
	CyclesValue uint64
	CyclesFault uint64
}

// Memory is the byte-addressable backing store plus its attached cache.
type Memory struct {
	backing map[word.Word]byte
	cache   *cache.Cache
	config  Config
}

// New constructs a Memory over c, which must already be configured with
// the set/way/line-size/policy/hit-miss-cycle parameters from §6.
func New(c *cache.Cache, config Config) *Memory {
	return &Memory{
		backing: make(map[word.Word]byte),
		cache:   c,
		config:  config,
	}
}

// Cache exposes the attached cache for inspection (shell/timing display).
func (m *Memory) Cache() *cache.Cache {
	return m.cache
}

// State is a deep, independent copy of a Memory's backing store and
// attached cache, for a whole-system snapshot.
type State struct {
	backing   map[word.Word]byte
	cacheSnap cache.State
}

// Snapshot captures m's entire contents, independent of any further
// mutation to m.
func (m *Memory) Snapshot() State {
	backing := make(map[word.Word]byte, len(m.backing))
	for k, v := range m.backing {
		backing[k] = v
	}
	return State{backing: backing, cacheSnap: m.cache.Snapshot()}
}

// Restore overwrites m's entire contents with snap, in place — including
// the attached cache, which every other holder of m.Cache()'s pointer
// observes without needing its own reference refreshed.
func (m *Memory) Restore(snap State) {
	backing := make(map[word.Word]byte, len(snap.backing))
	for k, v := range snap.backing {
		backing[k] = v
	}
	m.backing = backing
	m.cache.Restore(snap.cacheSnap)
}

func isPrivileged(addr word.Word) bool {
	return addr >= PrivilegedBase
}

func (m *Memory) readBackingByte(addr word.Word) byte {
	if b, ok := m.backing[addr]; ok {
		return b
	}
	if isPrivileged(addr) {
		return MagicUnwrittenByte
	}
	return 0x00
}

// fillLine loads every byte of addr's containing cache line into the
// cache, straight from the backing store, bypassing the fault check — a
// line fill is never itself privileged-sensitive; only the ultimate
// register value is.
func (m *Memory) fillLine(addr word.Word, sideEffects bool) {
	lineSize := word.Word(m.cache.Config().LineSize)
	base := addr - addr%lineSize
	for i := word.Word(0); i < lineSize; i++ {
		a := base + i
		m.cache.Write(a, m.readBackingByte(a), sideEffects)
	}
}

// ReadByte reads one byte at addr. The fault check happens strictly after
// the value has been read and, on a miss with sideEffects set, its whole
// line cached — this ordering is the
// critical Meltdown-enabling behavior: a speculative load that will later
// be rolled back for faulting has already left its mark in the cache.
func (m *Memory) ReadByte(addr word.Word, sideEffects bool) Result {
	cfg := m.cache.Config()

	var value byte
	v, hit := m.cache.Read(addr, sideEffects)
	if hit {
		value = v
	} else {
		value = m.readBackingByte(addr)
		if sideEffects {
			m.fillLine(addr, true)
		}
	}

	result := Result{
		Value:       word.Byte(value).ZeroExtend(),
		CyclesFault: m.config.NumFaultCycles,
	}
	if hit {
		result.CyclesValue = cfg.HitCycles
	} else {
		result.CyclesValue = cfg.MissCycles
	}

	if isPrivileged(addr) {
		result.Fault = true
		if m.config.ZeroOnIllegal {
			result.Value = 0
		}
	}
	return result
}

// ReadWord reads width (1, 2, or 4) consecutive bytes starting at addr,
// composes them little-endian, and zero- or sign-extends to a Word.
func (m *Memory) ReadWord(addr word.Word, width int, signExtend, sideEffects bool) Result {
	var bytes [4]word.Byte
	var fault bool
	var cyclesValue, cyclesFault uint64

	for i := 0; i < width; i++ {
		r := m.ReadByte(addr+word.Word(i), sideEffects)
		bytes[i] = word.Byte(r.Value)
		fault = fault || r.Fault
		cyclesValue = max64(cyclesValue, r.CyclesValue)
		cyclesFault = max64(cyclesFault, r.CyclesFault)
	}

	raw := word.FromBytes(bytes[:width]...)
	value := raw
	if signExtend {
		switch width {
		case 1:
			value = word.Byte(raw).SignExtend()
		case 2:
			if raw&0x8000 != 0 {
				value = raw | 0xFFFF0000
			}
		}
	}

	return Result{Value: value, Fault: fault, CyclesValue: cyclesValue, CyclesFault: cyclesFault}
}

// WriteByte writes one byte at addr. A faulting write commits nothing; a
// non-faulting write commits to the backing store and, if the address is
// already cached or the caller requested side effects, refreshes the
// cached copy too.
func (m *Memory) WriteByte(addr word.Word, value byte, sideEffects bool) Result {
	if isPrivileged(addr) {
		return Result{Fault: true, CyclesFault: m.config.NumFaultCycles}
	}

	m.backing[addr] = value
	if m.cache.IsCached(addr) || sideEffects {
		m.cache.Write(addr, value, sideEffects)
	}

	return Result{
		Value:       word.Byte(value).ZeroExtend(),
		CyclesValue: m.config.NumWriteCycles,
		CyclesFault: m.config.NumFaultCycles,
	}
}

// WriteWord splits value into width little-endian bytes and writes each.
func (m *Memory) WriteWord(addr word.Word, width int, value word.Word, sideEffects bool) Result {
	bytes := value.AsBytes()
	var fault bool
	var cyclesValue, cyclesFault uint64

	for i := 0; i < width; i++ {
		r := m.WriteByte(addr+word.Word(i), byte(bytes[i]), sideEffects)
		fault = fault || r.Fault
		cyclesValue = max64(cyclesValue, r.CyclesValue)
		cyclesFault = max64(cyclesFault, r.CyclesFault)
	}

	return Result{Fault: fault, CyclesValue: cyclesValue, CyclesFault: cyclesFault}
}

// FlushLine invalidates the cache line containing addr.
func (m *Memory) FlushLine(addr word.Word) {
	m.cache.Flush(addr)
}

// FlushAll invalidates the entire cache.
func (m *Memory) FlushAll() {
	m.cache.FlushAll()
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
