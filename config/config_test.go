package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sarchlab/oooriscsim/config"
)

func TestDefaultValidates(t *testing.T) {
	if err := config.Default().Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestValidateRejectsBadKnobs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero sets", func(c *config.Config) { c.Cache.Sets = 0 }},
		{"non-power-of-two sets", func(c *config.Config) { c.Cache.Sets = 3 }},
		{"unknown replacement policy", func(c *config.Config) { c.Cache.ReplacementPolicy = "MRU" }},
		{"zero slots", func(c *config.Config) { c.ExecutionEngine.Slots = 0 }},
		{"unknown retire mode", func(c *config.Config) { c.ExecutionEngine.RetireMode = "eager" }},
		{"zero instr queue size", func(c *config.Config) { c.InstrQ.Size = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := config.Default()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Fatalf("expected validation error, got none")
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	c := config.Default()
	c.Cache.Sets = 128
	c.Microprograms["ecall"] = "microprograms/syscall.s"

	path := filepath.Join(t.TempDir(), "sim.json")
	if err := c.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Cache.Sets != 128 {
		t.Fatalf("Cache.Sets = %d, want 128", loaded.Cache.Sets)
	}
	if loaded.Microprograms["ecall"] != "microprograms/syscall.s" {
		t.Fatalf("Microprograms[ecall] = %q, want the saved path", loaded.Microprograms["ecall"])
	}
}

func TestLoadOverlaysOntoDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.json")
	if err := os.WriteFile(path, []byte(`{"cache": {"sets": 32, "ways": 8, "line_size": 16, "replacement_policy": "FIFO", "cache_hit_cycles": 1, "cache_miss_cycles": 10}}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	c, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Cache.Sets != 32 || c.Cache.ReplacementPolicy != config.PolicyFIFO {
		t.Fatalf("cache fields not overlaid: %+v", c.Cache)
	}
	if c.ExecutionEngine.Slots != config.Default().ExecutionEngine.Slots {
		t.Fatalf("untouched fields should keep their default, got slots=%d", c.ExecutionEngine.Slots)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	c := config.Default()
	c.Microprograms["fence"] = "orig.s"

	clone := c.Clone()
	clone.Microprograms["fence"] = "changed.s"
	clone.Cache.Sets = 999

	if c.Microprograms["fence"] != "orig.s" {
		t.Fatalf("mutating the clone's map affected the original")
	}
	if c.Cache.Sets == 999 {
		t.Fatalf("mutating the clone affected the original struct")
	}
}
