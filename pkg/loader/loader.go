// Package loader places guest programs into guest memory.
package loader

import (
	"debug/elf"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"rvjit/pkg/ram"
)

var log = logrus.WithField("component", "loader")

// Segment is one loaded region of the image.
type Segment struct {
	Addr     uint64
	FileSize uint64
	MemSize  uint64
	Flags    elf.ProgFlag
}

// Image describes a program after loading.
type Image struct {
	Entry    uint64
	Segments []Segment
	Low      uint64 // lowest loaded address
	High     uint64 // end of the highest loaded segment
}

func (img *Image) add(s Segment) {
	if len(img.Segments) == 0 || s.Addr < img.Low {
		img.Low = s.Addr
	}
	if end := s.Addr + s.MemSize; end > img.High {
		img.High = end
	}
	img.Segments = append(img.Segments, s)
}

// LoadELFFile loads the RV64 executable at path.
func LoadELFFile(mem *ram.RAM, path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	return load(mem, f)
}

// LoadELF loads an RV64 executable read from r.
func LoadELF(mem *ram.RAM, r io.ReaderAt) (*Image, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, errors.Wrap(err, "parsing ELF")
	}
	return load(mem, f)
}

func load(mem *ram.RAM, f *elf.File) (*Image, error) {
	switch {
	case f.Class != elf.ELFCLASS64:
		return nil, errors.Newf("unsupported ELF class %s", f.Class)
	case f.Data != elf.ELFDATA2LSB:
		return nil, errors.Newf("unsupported ELF byte order %s", f.Data)
	case f.Machine != elf.EM_RISCV:
		return nil, errors.Newf("ELF machine is %s, want %s", f.Machine, elf.EM_RISCV)
	case f.Type != elf.ET_EXEC:
		return nil, errors.Newf("ELF type is %s, want %s", f.Type, elf.ET_EXEC)
	}

	img := &Image{Entry: f.Entry}
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Memsz == 0 {
			continue
		}
		if prog.Filesz > prog.Memsz {
			return nil, errors.Newf("segment at 0x%x: file size 0x%x exceeds memory size 0x%x", prog.Vaddr, prog.Filesz, prog.Memsz)
		}
		if !mem.Contains(prog.Vaddr, prog.Memsz) {
			return nil, errors.Newf("segment [0x%x, +0x%x) outside guest memory [0x%x, 0x%x)", prog.Vaddr, prog.Memsz, mem.Base(), mem.End())
		}

		data := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(data, 0); err != nil && !errors.Is(err, io.EOF) {
			return nil, errors.Wrapf(err, "reading segment at 0x%x", prog.Vaddr)
		}
		if err := mem.MutateRange(prog.Vaddr, data); err != nil {
			return nil, err
		}
		if bss := prog.Memsz - prog.Filesz; bss > 0 {
			if err := mem.ZeroRange(prog.Vaddr+prog.Filesz, bss); err != nil {
				return nil, err
			}
		}
		img.add(Segment{Addr: prog.Vaddr, FileSize: prog.Filesz, MemSize: prog.Memsz, Flags: prog.Flags})
		log.WithFields(logrus.Fields{
			"addr":  prog.Vaddr,
			"size":  prog.Memsz,
			"flags": prog.Flags,
		}).Debug("loaded segment")
	}

	if len(img.Segments) == 0 {
		return nil, errors.New("ELF has no loadable segments")
	}
	if !mem.Contains(img.Entry, ram.InstructionLength) {
		return nil, errors.Newf("entry point 0x%x outside guest memory", img.Entry)
	}
	return img, nil
}

// LoadRaw copies a flat binary to addr; execution starts at addr.
func LoadRaw(mem *ram.RAM, addr uint64, data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, errors.New("empty raw image")
	}
	if err := mem.MutateRange(addr, data); err != nil {
		return nil, err
	}
	img := &Image{Entry: addr}
	img.add(Segment{
		Addr:     addr,
		FileSize: uint64(len(data)),
		MemSize:  uint64(len(data)),
		Flags:    elf.PF_R | elf.PF_W | elf.PF_X,
	})
	return img, nil
}
