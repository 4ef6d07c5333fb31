// Command sim is the thinnest possible driver around the core: load a
// config and a JSON-encoded program, tick the CPU until it halts or a tick
// budget runs out, and report the outcome. It is not a shell — no
// interactive stepping, no disassembly, no pretty-printing beyond a final
// summary line.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/sarchlab/oooriscsim/config"
	"github.com/sarchlab/oooriscsim/console"
	"github.com/sarchlab/oooriscsim/cpu"
	"github.com/sarchlab/oooriscsim/isa"
)

func main() {
	log.SetFlags(0)

	configPath := flag.String("config", "", "path to a JSON config file (default config if empty)")
	programPath := flag.String("program", "", "path to a JSON-encoded program (required)")
	inputPath := flag.String("input", "", "path to bytes fed to the console as stdin, if any")
	maxTicks := flag.Int("ticks", 1_000_000, "maximum ticks to run before giving up")
	verbose := flag.Bool("v", false, "print a per-run summary")
	flag.Parse()

	if *programPath == "" {
		log.Fatal("usage: sim -program <file.json> [-config <file.json>] [-input <file>] [-ticks N] [-v]")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	program, err := loadProgram(*programPath)
	if err != nil {
		log.Fatal(err)
	}

	con := console.New()
	if *inputPath != "" {
		data, err := os.ReadFile(*inputPath)
		if err != nil {
			log.Fatal(err)
		}
		con.FeedInput(data)
	}

	c, err := cpu.NewFromConfig(program, cfg, con)
	if err != nil {
		log.Fatal(err)
	}

	ticks := 0
	for ticks < *maxTicks && !c.Halted() {
		c.Tick()
		ticks++
	}

	os.Stdout.Write(con.Output())

	if *verbose {
		fmt.Fprintf(os.Stderr, "\nhalted: %v\n", c.Halted())
		if c.Halted() {
			fmt.Fprintf(os.Stderr, "exit code: %d\n", c.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "ticks: %d\n", ticks)
		fmt.Fprintf(os.Stderr, "cycles: %d\n", c.Engine().Cycle())
		fmt.Fprintf(os.Stderr, "cache: %+v\n", c.Memory().Cache().Stats())
	}

	if c.Halted() && c.ExitCode() != 0 {
		os.Exit(int(c.ExitCode()))
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func loadProgram(path string) (*isa.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read program file: %w", err)
	}
	var program isa.Program
	if err := json.Unmarshal(data, &program); err != nil {
		return nil, fmt.Errorf("parse program file: %w", err)
	}
	return &program, nil
}
