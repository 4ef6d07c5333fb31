package cpu

import (
	"fmt"

	"github.com/sarchlab/oooriscsim/bpu"
	"github.com/sarchlab/oooriscsim/cache"
	"github.com/sarchlab/oooriscsim/config"
	"github.com/sarchlab/oooriscsim/console"
	"github.com/sarchlab/oooriscsim/engine"
	"github.com/sarchlab/oooriscsim/isa"
	"github.com/sarchlab/oooriscsim/memsys"
)

func cachePolicy(p config.ReplacementPolicy) (cache.ReplacementPolicy, error) {
	switch p {
	case config.PolicyRandom:
		return cache.Random, nil
	case config.PolicyLRU:
		return cache.LRU, nil
	case config.PolicyFIFO:
		return cache.FIFO, nil
	default:
		return 0, fmt.Errorf("unknown cache replacement policy %q", p)
	}
}

func retireMode(m config.RetireMode) (engine.RetireMode, error) {
	switch m {
	case config.RetireLegacy:
		return engine.RetireLegacy, nil
	case config.RetireLoose:
		return engine.RetireLoose, nil
	case config.RetireStrict:
		return engine.RetireStrict, nil
	default:
		return 0, fmt.Errorf("unknown retire mode %q", m)
	}
}

// NewFromConfig builds a full CPU — cache, memory subsystem, predictors,
// engine, and frontend — from a parsed Config, wired around program and con.
func NewFromConfig(program *isa.Program, cfg *config.Config, con *console.Console) (*CPU, error) {
	policy, err := cachePolicy(cfg.Cache.ReplacementPolicy)
	if err != nil {
		return nil, err
	}
	mode, err := retireMode(cfg.ExecutionEngine.RetireMode)
	if err != nil {
		return nil, err
	}

	c, err := cache.New(cache.Config{
		NumSets:    cfg.Cache.Sets,
		NumWays:    cfg.Cache.Ways,
		LineSize:   cfg.Cache.LineSize,
		Policy:     policy,
		HitCycles:  cfg.Cache.CacheHitCycles,
		MissCycles: cfg.Cache.CacheMissCycles,
	})
	if err != nil {
		return nil, fmt.Errorf("build cache: %w", err)
	}

	mem := memsys.New(c, memsys.Config{
		NumWriteCycles: cfg.Memory.NumWriteCycles,
		NumFaultCycles: cfg.Memory.NumFaultCycles,
		ZeroOnIllegal:  cfg.Mitigations.IllegalReadReturnZero,
	})

	return New(
		program,
		bpu.DirectionConfig{
			Advanced:    cfg.BPU.Advanced,
			IndexBits:   cfg.BPU.IndexBits,
			InitCounter: cfg.BPU.InitCounter,
		},
		bpu.BTBConfig{IndexBits: cfg.BPU.BTB.IndexBits},
		cfg.BPU.RSB.MaxDepth,
		mem,
		engine.Config{
			NumSlots:   cfg.ExecutionEngine.Slots,
			RetireMode: mode,
		},
		con,
		cfg.InstrQ.Size,
	), nil
}
