// Package elfimage implements memport.Port over module images saved as ELF
// files, one file per module, named after the module.
package elfimage

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"schemadump/internal/memport"
)

var (
	ErrNotELF   = errors.New("elfimage: not an ELF file")
	ErrNot64Bit = errors.New("elfimage: not 64-bit ELF")
	ErrNotLE    = errors.New("elfimage: not little-endian")
)

// File is one opened module image.
type File struct {
	ELF  *elf.File
	raw  *os.File
	size int64
	segs []segment
}

type segment struct {
	vaddr, memsz, filesz, off uint64
}

// Open opens an ELF image and validates it is a 64-bit little-endian file.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("elfimage: open: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("elfimage: stat: %w", err)
	}

	ef, err := elf.NewFile(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrNotELF, err)
	}
	if ef.Class != elf.ELFCLASS64 {
		ef.Close()
		f.Close()
		return nil, ErrNot64Bit
	}
	if ef.Data != elf.ELFDATA2LSB {
		ef.Close()
		f.Close()
		return nil, ErrNotLE
	}

	file := &File{ELF: ef, raw: f, size: info.Size()}
	for _, p := range ef.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		file.segs = append(file.segs, segment{vaddr: p.Vaddr, memsz: p.Memsz, filesz: p.Filesz, off: p.Off})
	}
	return file, nil
}

// Close releases resources.
func (f *File) Close() error {
	f.ELF.Close()
	return f.raw.Close()
}

// Span returns the lowest mapped address and the size of the mapped range.
func (f *File) Span() (base, size uint64) {
	if len(f.segs) == 0 {
		return 0, 0
	}
	lo, hi := f.segs[0].vaddr, f.segs[0].vaddr+f.segs[0].memsz
	for _, s := range f.segs[1:] {
		lo = min(lo, s.vaddr)
		hi = max(hi, s.vaddr+s.memsz)
	}
	return lo, hi - lo
}

// Arch maps the ELF machine to a memport architecture name.
func (f *File) Arch() string {
	switch f.ELF.Machine {
	case elf.EM_X86_64:
		return memport.ArchX8664
	case elf.EM_AARCH64:
		return memport.ArchARM64
	default:
		return f.ELF.Machine.String()
	}
}

// Symbol looks up a symbol by exact name, dynamic table first.
func (f *File) Symbol(name string) (uint64, bool) {
	for _, load := range []func() ([]elf.Symbol, error){f.ELF.DynamicSymbols, f.ELF.Symbols} {
		syms, err := load()
		if err != nil {
			continue
		}
		for _, s := range syms {
			if s.Name == name && s.Value != 0 {
				return s.Value, true
			}
		}
	}
	return 0, false
}

// ReadVA fills buf from virtual address va. Bytes past a segment's file
// size read as zero, like .bss in a loaded image. The whole range must lie
// in one segment.
func (f *File) ReadVA(va uint64, buf []byte) error {
	n := uint64(len(buf))
	for _, s := range f.segs {
		if va < s.vaddr || va-s.vaddr >= s.memsz {
			continue
		}
		rel := va - s.vaddr
		if rel+n > s.memsz {
			return memport.ReadError(va, len(buf), memport.ErrOutOfRange)
		}
		clear(buf)
		if rel >= s.filesz {
			return nil
		}
		avail := min(n, s.filesz-rel)
		off := s.off + rel
		if off+avail > uint64(f.size) {
			return memport.ReadError(va, len(buf), memport.ErrOutOfRange)
		}
		if _, err := f.raw.ReadAt(buf[:avail], int64(off)); err != nil && !errors.Is(err, io.EOF) {
			return memport.ReadError(va, len(buf), memport.ErrDenied)
		}
		return nil
	}
	return memport.ReadError(va, len(buf), memport.ErrOutOfRange)
}

// Port serves a directory of module images. Images are opened lazily on
// the first FindModule for their name and mapped at their link addresses,
// so the directory is expected to hold images dumped from a running
// process rather than pristine files.
type Port struct {
	dir string

	mu     sync.RWMutex
	files  map[string]*File
	order  []string
	closed bool
}

// New returns a port over the images in dir.
func New(dir string) *Port {
	return &Port{dir: dir, files: make(map[string]*File)}
}

func (p *Port) FindModule(name string) (memport.Module, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return memport.Module{}, memport.LookupError("module", name, memport.ErrUnavailable)
	}
	f, ok := p.files[name]
	if !ok {
		if filepath.Base(name) != name {
			return memport.Module{}, memport.LookupError("module", name, memport.ErrNotFound)
		}
		path := filepath.Join(p.dir, name)
		if _, err := os.Stat(path); err != nil {
			return memport.Module{}, memport.LookupError("module", name, memport.ErrNotFound)
		}
		opened, err := Open(path)
		if err != nil {
			return memport.Module{}, fmt.Errorf("%w: %w", memport.LookupError("module", name, memport.ErrDenied), err)
		}
		if other, ok := p.overlapping(opened); ok {
			opened.Close()
			return memport.Module{}, fmt.Errorf("%w: maps over %s", memport.LookupError("module", name, memport.ErrDenied), other)
		}
		f = opened
		p.files[name] = f
		p.order = append(p.order, name)
	}
	base, size := f.Span()
	return memport.Module{Name: name, Base: base, Size: size, Arch: f.Arch()}, nil
}

// overlapping returns an opened image whose span shares an address with
// f. Reads are served by address, so overlapping images are ambiguous.
func (p *Port) overlapping(f *File) (string, bool) {
	base, size := f.Span()
	for _, name := range p.order {
		b, s := p.files[name].Span()
		if size > 0 && s > 0 && (base-b < s || b-base < size) {
			return name, true
		}
	}
	return "", false
}

func (p *Port) Export(mod memport.Module, symbol string) (uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return 0, memport.LookupError("export", symbol, memport.ErrUnavailable)
	}
	f, ok := p.files[mod.Name]
	if !ok {
		return 0, memport.LookupError("export", mod.Name+"!"+symbol, memport.ErrNotFound)
	}
	addr, ok := f.Symbol(symbol)
	if !ok {
		return 0, memport.LookupError("export", mod.Name+"!"+symbol, memport.ErrNotFound)
	}
	return addr, nil
}

// Read serves addr from the first opened image mapping it.
func (p *Port) Read(addr uint64, buf []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return memport.ReadError(addr, len(buf), memport.ErrUnavailable)
	}
	for _, name := range p.order {
		f := p.files[name]
		base, size := f.Span()
		if addr < base || addr-base >= size {
			continue
		}
		return f.ReadVA(addr, buf)
	}
	return memport.ReadError(addr, len(buf), memport.ErrOutOfRange)
}

// Close closes every opened image. Later calls fail with ErrUnavailable.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var errs []error
	for _, name := range p.order {
		if err := p.files[name].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ memport.Port = (*Port)(nil)
