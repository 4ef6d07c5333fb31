// Package loader reads ELF binaries for the optional raw-segment loading
// path: a program's data (and, for a binary that embeds it, its .rodata
// secrets) can be preloaded into the memory subsystem's backing store
// straight from an object file, independent of how its instruction stream
// was built. Binary instruction decoding itself is out of scope — the
// instruction stream always comes from an isa.Program, never from decoding
// the ELF's .text bytes.
package loader

import (
	"debug/elf"
	"fmt"
	"io"

	"github.com/sarchlab/oooriscsim/memsys"
	"github.com/sarchlab/oooriscsim/word"
)

// SegmentFlags mirrors the ELF program header's read/write/execute bits.
type SegmentFlags uint32

const (
	// FlagExecute marks a segment mapped executable.
	FlagExecute SegmentFlags = 1 << iota
	// FlagWrite marks a segment mapped writable.
	FlagWrite
	// FlagRead marks a segment mapped readable.
	FlagRead
)

// Segment is one loadable ELF segment, ready to be copied byte-by-byte into
// a memsys.Memory.
type Segment struct {
	VirtAddr uint32
	Data     []byte
	MemSize  uint32
	Flags    SegmentFlags
}

// Program is the set of loadable segments extracted from an ELF file, plus
// its declared entry point.
type Program struct {
	EntryPoint uint32
	Segments   []Segment
}

// Load parses a 32-bit RISC-V ELF at path and returns its loadable
// segments. It validates class and machine type but does not interpret
// instruction bytes — the returned Data is opaque to this package.
func Load(path string) (*Program, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if f.Class != elf.ELFCLASS32 {
		return nil, fmt.Errorf("not a 32-bit ELF file")
	}
	if f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("not a RISC-V ELF file (machine type: %v)", f.Machine)
	}

	prog := &Program{EntryPoint: uint32(f.Entry)}

	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		data := make([]byte, phdr.Filesz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data, 0)
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("read segment at 0x%x: %w", phdr.Vaddr, err)
			}
			if uint64(n) != phdr.Filesz {
				return nil, fmt.Errorf("short read for segment at 0x%x: got %d bytes, want %d",
					phdr.Vaddr, n, phdr.Filesz)
			}
		}

		var flags SegmentFlags
		if phdr.Flags&elf.PF_X != 0 {
			flags |= FlagExecute
		}
		if phdr.Flags&elf.PF_W != 0 {
			flags |= FlagWrite
		}
		if phdr.Flags&elf.PF_R != 0 {
			flags |= FlagRead
		}

		prog.Segments = append(prog.Segments, Segment{
			VirtAddr: uint32(phdr.Vaddr),
			Data:     data,
			MemSize:  uint32(phdr.Memsz),
			Flags:    flags,
		})
	}

	return prog, nil
}

// Preload copies every byte of p's segments into mem, including BSS
// zero-fill out to each segment's MemSize. A segment that falls (even
// partially) in the privileged upper half is rejected: the memory
// subsystem's invariant is that the privileged half is never seeded with
// real content, only ever observed as the fixed magic byte, so a loadable
// ELF segment must live entirely below memsys.PrivilegedBase.
func Preload(mem *memsys.Memory, p *Program) error {
	for _, seg := range p.Segments {
		end := word.Word(seg.VirtAddr) + word.Word(seg.MemSize)
		if word.Word(seg.VirtAddr) >= memsys.PrivilegedBase || end > memsys.PrivilegedBase {
			return fmt.Errorf("segment at 0x%x..0x%x crosses into privileged memory", seg.VirtAddr, end)
		}

		for i, b := range seg.Data {
			mem.WriteByte(word.Word(seg.VirtAddr)+word.Word(i), b, false)
		}
		for i := uint32(len(seg.Data)); i < seg.MemSize; i++ {
			mem.WriteByte(word.Word(seg.VirtAddr)+word.Word(i), 0, false)
		}
	}
	return nil
}
