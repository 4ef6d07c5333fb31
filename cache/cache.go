// Package cache provides the set-associative cache used by the memory
// subsystem, with a pluggable eviction policy (Random, LRU, FIFO) chosen at
// construction time. Reads and writes are byte-granular: a write that
// allocates a line stores only the addressed byte, and filling the rest of
// the line is left to the memory subsystem. Eviction invalidates a whole
// line.
package cache

import (
	"fmt"
	"math/bits"
	"math/rand"

	"github.com/sarchlab/oooriscsim/word"
)

// ReplacementPolicy selects how a set picks a victim line when every way is
// already occupied by a different tag.
type ReplacementPolicy int

const (
	// Random evicts a uniformly chosen line from the set.
	Random ReplacementPolicy = iota
	// LRU evicts the line with the oldest last-access timestamp.
	LRU
	// FIFO evicts the line that has been resident the longest, regardless
	// of how recently it was touched.
	FIFO
)

func (p ReplacementPolicy) String() string {
	switch p {
	case Random:
		return "random"
	case LRU:
		return "lru"
	case FIFO:
		return "fifo"
	default:
		return "unknown"
	}
}

// Config holds the parameters of a set-associative cache. NumSets and
// LineSize must both be powers of two, and the address bits they consume
// (offset bits + index bits) must leave at least one tag bit, per the
// invariant in the data model.
type Config struct {
	NumSets       int
	NumWays       int
	LineSize      int
	Policy        ReplacementPolicy
	HitCycles     uint64
	MissCycles    uint64
}

// line is one cache-storage slot. Tag is nil when the line is invalid.
type line struct {
	tag        *uint32
	data       []byte
	lruStamp   uint64
	fifoStamp  uint64
}

// Statistics tallies cache activity for reporting and tests.
type Statistics struct {
	Reads     uint64
	Writes    uint64
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Cache is a set-associative cache with a pluggable replacement policy.
type Cache struct {
	config Config

	offsetBits uint
	indexBits  uint

	sets [][]line

	clock uint64
	stats Statistics
	rng   *rand.Rand
}

// New validates config and constructs an empty Cache.
func New(config Config) (*Cache, error) {
	if config.NumSets <= 0 || !isPow2(config.NumSets) {
		return nil, fmt.Errorf("cache: num_sets must be a positive power of two, got %d", config.NumSets)
	}
	if config.NumWays <= 0 {
		return nil, fmt.Errorf("cache: num_ways must be positive, got %d", config.NumWays)
	}
	if config.LineSize <= 0 || !isPow2(config.LineSize) {
		return nil, fmt.Errorf("cache: line_size must be a positive power of two, got %d", config.LineSize)
	}
	if config.LineSize%4 != 0 {
		return nil, fmt.Errorf("cache: line_size must be a multiple of the word size, got %d", config.LineSize)
	}

	offsetBits := uint(bits.TrailingZeros(uint(config.LineSize)))
	indexBits := uint(bits.TrailingZeros(uint(config.NumSets)))
	if offsetBits+indexBits >= word.Width {
		return nil, fmt.Errorf("cache: offset bits (%d) + index bits (%d) must leave room for a tag", offsetBits, indexBits)
	}

	sets := make([][]line, config.NumSets)
	for s := range sets {
		ways := make([]line, config.NumWays)
		for w := range ways {
			ways[w].data = make([]byte, config.LineSize)
		}
		sets[s] = ways
	}

	return &Cache{
		config:     config,
		offsetBits: offsetBits,
		indexBits:  indexBits,
		sets:       sets,
		rng:        rand.New(rand.NewSource(1)),
	}, nil
}

// State is a deep, independent copy of a Cache's contents, suitable for a
// whole-system snapshot.
type State struct {
	sets    [][]line
	clock   uint64
	stats   Statistics
	rngSeed int64
}

func cloneSets(sets [][]line) [][]line {
	out := make([][]line, len(sets))
	for s := range sets {
		ways := make([]line, len(sets[s]))
		for w := range sets[s] {
			ways[w] = sets[s][w]
			if ways[w].tag != nil {
				t := *ways[w].tag
				ways[w].tag = &t
			}
			ways[w].data = append([]byte(nil), sets[s][w].data...)
		}
		out[s] = ways
	}
	return out
}

// Snapshot captures c's entire contents, independent of any further
// mutation to c. The eviction RNG's state is captured as a seed drawn from
// c's current stream, so a restore reproduces a deterministic Random-policy
// sequence and restoring the same snapshot twice yields the same sequence
// both times.
func (c *Cache) Snapshot() State {
	return State{
		sets:    cloneSets(c.sets),
		clock:   c.clock,
		stats:   c.stats,
		rngSeed: c.rng.Int63(),
	}
}

// Restore overwrites c's entire contents with snap, in place — every other
// holder of c's pointer observes the restored state without needing its
// own reference refreshed.
func (c *Cache) Restore(snap State) {
	c.sets = cloneSets(snap.sets)
	c.clock = snap.clock
	c.stats = snap.stats
	c.rng = rand.New(rand.NewSource(snap.rngSeed))
}

// Config returns the cache's configuration.
func (c *Cache) Config() Config {
	return c.config
}

// Stats returns a snapshot of the cache's access statistics.
func (c *Cache) Stats() Statistics {
	return c.stats
}

// decompose splits addr into (tag, set index, byte offset within line).
func (c *Cache) decompose(addr word.Word) (tag uint32, index int, offset int) {
	a := uint32(addr)
	offset = int(a & uint32(c.config.LineSize-1))
	index = int((a >> c.offsetBits) & uint32(c.config.NumSets-1))
	tag = a >> (c.offsetBits + c.indexBits)
	return
}

// lookup returns the way index within the set holding addr's tag, or -1.
func (c *Cache) lookup(set []line, tag uint32) int {
	for i := range set {
		if set[i].tag != nil && *set[i].tag == tag {
			return i
		}
	}
	return -1
}

// Read returns the byte at addr if it is cached. sideEffects controls
// whether a hit refreshes the line's LRU timestamp — callers performing a
// speculative peek that must not perturb future replacement decisions pass
// false.
func (c *Cache) Read(addr word.Word, sideEffects bool) (value byte, hit bool) {
	c.stats.Reads++
	tag, index, offset := c.decompose(addr)
	set := c.sets[index]

	way := c.lookup(set, tag)
	if way < 0 {
		c.stats.Misses++
		return 0, false
	}

	c.stats.Hits++
	if sideEffects {
		c.clock++
		set[way].lruStamp = c.clock
	}
	return set[way].data[offset], true
}

// IsCached reports whether addr currently has a resident line, without
// touching any replacement-policy timestamp.
func (c *Cache) IsCached(addr word.Word) bool {
	tag, index, _ := c.decompose(addr)
	return c.lookup(c.sets[index], tag) >= 0
}

// Write stores one byte at addr. If the set has no line for addr's tag,
// Write fills the first invalid line it finds; only if every way is
// already valid does it invoke the replacement policy to pick a victim.
// Only the single written byte is populated — filling the rest of the line
// is the memory subsystem's job (memsys.Memory.fillLine).
func (c *Cache) Write(addr word.Word, value byte, sideEffects bool) {
	c.stats.Writes++
	tag, index, offset := c.decompose(addr)
	set := c.sets[index]

	if way := c.lookup(set, tag); way >= 0 {
		set[way].data[offset] = value
		if sideEffects {
			c.clock++
			set[way].lruStamp = c.clock
		}
		return
	}

	if way := c.firstInvalid(set); way >= 0 {
		c.fillWay(set, way, tag, offset, value)
		return
	}

	victim := c.chooseVictim(set)
	c.stats.Evictions++
	c.invalidate(&set[victim])
	c.fillWay(set, victim, tag, offset, value)
}

func (c *Cache) firstInvalid(set []line) int {
	for i := range set {
		if set[i].tag == nil {
			return i
		}
	}
	return -1
}

func (c *Cache) fillWay(set []line, way int, tag uint32, offset int, value byte) {
	t := tag
	set[way].tag = &t
	set[way].data[offset] = value
	c.clock++
	set[way].lruStamp = c.clock
	set[way].fifoStamp = c.clock
}

func (c *Cache) invalidate(l *line) {
	l.tag = nil
	for i := range l.data {
		l.data[i] = 0
	}
}

// chooseVictim selects a way to evict according to the configured policy.
func (c *Cache) chooseVictim(set []line) int {
	switch c.config.Policy {
	case LRU:
		victim := 0
		for i := 1; i < len(set); i++ {
			if set[i].lruStamp < set[victim].lruStamp {
				victim = i
			}
		}
		return victim
	case FIFO:
		victim := 0
		for i := 1; i < len(set); i++ {
			if set[i].fifoStamp < set[victim].fifoStamp {
				victim = i
			}
		}
		return victim
	default: // Random
		return c.rng.Intn(len(set))
	}
}

// Flush invalidates the line containing addr, if any.
func (c *Cache) Flush(addr word.Word) {
	tag, index, _ := c.decompose(addr)
	set := c.sets[index]
	if way := c.lookup(set, tag); way >= 0 {
		c.invalidate(&set[way])
	}
}

// FlushAll invalidates every line in the cache.
func (c *Cache) FlushAll() {
	for s := range c.sets {
		for w := range c.sets[s] {
			c.invalidate(&c.sets[s][w])
		}
	}
}

func isPow2(n int) bool {
	return n > 0 && n&(n-1) == 0
}
