// Package config defines the JSON-loadable configuration schema for every
// tunable knob of the simulator: the branch predictor, cache, memory
// subsystem, mitigations, execution engine, instruction queue, and
// microprogram table.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// BPUConfig configures the direction predictor, BTB, and RSB together.
type BPUConfig struct {
	// Advanced selects the direct-mapped per-PC predictor over the single
	// shared-counter predictor.
	Advanced bool `json:"advanced"`
	// IndexBits is log2 of the direct-mapped direction table's size.
	IndexBits uint `json:"index_bits"`
	// InitCounter is the starting value (0-3) of every direction counter.
	InitCounter uint8 `json:"init_counter"`

	BTB struct {
		// IndexBits is log2 of the branch target buffer's entry count.
		IndexBits uint `json:"index_bits"`
	} `json:"btb"`

	RSB struct {
		// MaxDepth bounds the return-address stack.
		MaxDepth int `json:"max_depth"`
	} `json:"rsb"`
}

// ReplacementPolicy names a cache eviction policy as it appears in JSON.
type ReplacementPolicy string

const (
	PolicyRandom ReplacementPolicy = "RR"
	PolicyLRU    ReplacementPolicy = "LRU"
	PolicyFIFO   ReplacementPolicy = "FIFO"
)

// CacheConfig configures the set-associative cache.
type CacheConfig struct {
	Sets              int               `json:"sets"`
	Ways              int               `json:"ways"`
	LineSize          int               `json:"line_size"`
	ReplacementPolicy ReplacementPolicy `json:"replacement_policy"`
	CacheHitCycles    uint64            `json:"cache_hit_cycles"`
	CacheMissCycles   uint64            `json:"cache_miss_cycles"`
}

// MemoryConfig configures the byte-addressed memory subsystem.
type MemoryConfig struct {
	NumWriteCycles uint64 `json:"num_write_cycles"`
	NumFaultCycles uint64 `json:"num_fault_cycles"`
}

// MitigationsConfig configures the speculative-execution mitigations the
// simulator can model.
type MitigationsConfig struct {
	// IllegalReadReturnZero zeroes the value returned by a faulting read,
	// while the triggering cache-line fill still happens regardless.
	IllegalReadReturnZero bool `json:"illegal_read_return_zero"`
}

// RetireMode names a retirement discipline as it appears in JSON.
type RetireMode string

const (
	RetireLegacy RetireMode = "legacy"
	RetireLoose  RetireMode = "loose"
	RetireStrict RetireMode = "strict"
)

// ExecutionEngineConfig configures the reservation station.
type ExecutionEngineConfig struct {
	Regs       int        `json:"regs"`
	Slots      int        `json:"slots"`
	RetireMode RetireMode `json:"retire_mode"`
}

// InstrQConfig configures the frontend's fetch queue.
type InstrQConfig struct {
	Size int `json:"size"`
}

// Config is the top-level configuration document for the simulator.
type Config struct {
	BPU             BPUConfig                    `json:"bpu"`
	Cache           CacheConfig                  `json:"cache"`
	Memory          MemoryConfig                 `json:"memory"`
	Mitigations     MitigationsConfig            `json:"mitigations"`
	ExecutionEngine ExecutionEngineConfig        `json:"execution_engine"`
	InstrQ          InstrQConfig                 `json:"instr_q"`
	// Microprograms maps an instruction-kind/fault-effect name (e.g.
	// "ecall", "ebreak") to the path of a source fragment a collaborating
	// assembler would resolve into an isa.Program. This package only
	// carries the path; resolving it into instructions is out of scope.
	Microprograms map[string]string `json:"microprograms"`
}

// Default returns the simulator's baseline configuration.
func Default() *Config {
	c := &Config{
		BPU: BPUConfig{
			Advanced:    true,
			IndexBits:   8,
			InitCounter: 1,
		},
		Cache: CacheConfig{
			Sets:              64,
			Ways:              4,
			LineSize:          16,
			ReplacementPolicy: PolicyLRU,
			CacheHitCycles:    1,
			CacheMissCycles:   10,
		},
		Memory: MemoryConfig{
			NumWriteCycles: 1,
			NumFaultCycles: 1,
		},
		Mitigations: MitigationsConfig{
			IllegalReadReturnZero: false,
		},
		ExecutionEngine: ExecutionEngineConfig{
			Regs:       32,
			Slots:      16,
			RetireMode: RetireLoose,
		},
		InstrQ: InstrQConfig{
			Size: 8,
		},
		Microprograms: map[string]string{},
	}
	c.BPU.BTB.IndexBits = 8
	c.BPU.RSB.MaxDepth = 1 << c.BPU.IndexBits
	return c
}

// Load reads and parses a Config from a JSON file, starting from Default
// and overlaying whatever fields path's document sets.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	c := Default()
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

// Save serializes c to path as indented JSON.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks that every size/count knob is usable.
func (c *Config) Validate() error {
	if c.Cache.Sets <= 0 || c.Cache.Ways <= 0 || c.Cache.LineSize <= 0 {
		return fmt.Errorf("cache.sets, cache.ways, and cache.line_size must all be > 0")
	}
	if !isPow2(c.Cache.Sets) || !isPow2(c.Cache.LineSize) {
		return fmt.Errorf("cache.sets and cache.line_size must be powers of two")
	}
	switch c.Cache.ReplacementPolicy {
	case PolicyRandom, PolicyLRU, PolicyFIFO:
	default:
		return fmt.Errorf("cache.replacement_policy must be one of RR, LRU, FIFO, got %q", c.Cache.ReplacementPolicy)
	}
	if c.ExecutionEngine.Slots <= 0 {
		return fmt.Errorf("execution_engine.slots must be > 0")
	}
	switch c.ExecutionEngine.RetireMode {
	case RetireLegacy, RetireLoose, RetireStrict:
	default:
		return fmt.Errorf("execution_engine.retire_mode must be one of legacy, loose, strict, got %q", c.ExecutionEngine.RetireMode)
	}
	if c.InstrQ.Size <= 0 {
		return fmt.Errorf("instr_q.size must be > 0")
	}
	return nil
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	out := *c
	out.Microprograms = make(map[string]string, len(c.Microprograms))
	for k, v := range c.Microprograms {
		out.Microprograms[k] = v
	}
	return &out
}

func isPow2(n int) bool {
	return n > 0 && n&(n-1) == 0
}
