// Package memimage implements memport.Port over a sparse in-memory address
// space. It backs replayed images and test fixtures, and can inject
// transient, denied and unavailable failures.
package memimage

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"schemadump/internal/memport"
)

const (
	defaultStart = 0x10000
	allocAlign   = 0x10
	allocGuard   = 0x100 // unmapped gap between allocations
)

type region struct {
	addr uint64
	data []byte
}

func (r *region) end() uint64 { return r.addr + uint64(len(r.data)) }

type span struct{ addr, size uint64 }

// Image is a sparse, little-endian address space. It is safe for
// concurrent use.
type Image struct {
	mu        sync.Mutex
	regions   []*region // sorted by addr, non-overlapping
	next      uint64
	modules   map[string]memport.Module
	exports   map[string]map[string]uint64
	transient map[uint64]int
	lookups   map[string]int
	denied    []span
	closed    bool
	reads     int
}

// New returns an empty image whose allocator starts at a low canonical
// address.
func New() *Image {
	return &Image{
		next:      defaultStart,
		modules:   make(map[string]memport.Module),
		exports:   make(map[string]map[string]uint64),
		transient: make(map[uint64]int),
		lookups:   make(map[string]int),
	}
}

// Map maps a zeroed region of size bytes at addr.
func (im *Image) Map(addr uint64, size int) {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.mapLocked(addr, size)
}

func (im *Image) mapLocked(addr uint64, size int) {
	r := &region{addr: addr, data: make([]byte, size)}
	for _, o := range im.regions {
		if addr < o.end() && o.addr < r.end() {
			panic(fmt.Sprintf("memimage: region 0x%x+%d overlaps 0x%x+%d", addr, size, o.addr, len(o.data)))
		}
	}
	im.regions = append(im.regions, r)
	sort.Slice(im.regions, func(i, j int) bool { return im.regions[i].addr < im.regions[j].addr })
	if end := alignUp(r.end()+allocGuard, allocAlign); end > im.next {
		im.next = end
	}
}

// Alloc maps a fresh zeroed region and returns its address. Consecutive
// allocations are separated by an unmapped guard gap.
func (im *Image) Alloc(size int) uint64 {
	im.mu.Lock()
	defer im.mu.Unlock()
	addr := alignUp(im.next, allocAlign)
	if size == 0 {
		size = 1
	}
	im.mapLocked(addr, size)
	return addr
}

// Write copies data into mapped memory. It panics when the range is not
// fully mapped; fixtures are expected to be well formed.
func (im *Image) Write(addr uint64, data []byte) {
	im.mu.Lock()
	defer im.mu.Unlock()
	r := im.find(addr, len(data))
	if r == nil {
		panic(fmt.Sprintf("memimage: write 0x%x+%d outside mapped memory", addr, len(data)))
	}
	copy(r.data[addr-r.addr:], data)
}

func (im *Image) PutU8(addr uint64, v uint8) { im.Write(addr, []byte{v}) }

func (im *Image) PutU16(addr uint64, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	im.Write(addr, b[:])
}

func (im *Image) PutU32(addr uint64, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	im.Write(addr, b[:])
}

func (im *Image) PutU64(addr uint64, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	im.Write(addr, b[:])
}

func (im *Image) PutPtr(addr, v uint64) { im.PutU64(addr, v) }

// CString allocates s followed by a NUL byte and returns its address.
func (im *Image) CString(s string) uint64 {
	addr := im.Alloc(len(s) + 1)
	im.Write(addr, append([]byte(s), 0))
	return addr
}

// AddModule registers a module. Its memory is mapped separately.
func (im *Image) AddModule(name string, base, size uint64, arch string) memport.Module {
	im.mu.Lock()
	defer im.mu.Unlock()
	m := memport.Module{Name: name, Base: base, Size: size, Arch: arch}
	im.modules[name] = m
	return m
}

// AddExport registers symbol of module at addr.
func (im *Image) AddExport(module, symbol string, addr uint64) {
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.exports[module] == nil {
		im.exports[module] = make(map[string]uint64)
	}
	im.exports[module][symbol] = addr
}

// FailTransient makes the next times reads covering addr fail with
// memport.ErrTransient.
func (im *Image) FailTransient(addr uint64, times int) {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.transient[addr] = times
}

// FailLookup makes the next times module or export lookups of name fail
// with memport.ErrTransient.
func (im *Image) FailLookup(name string, times int) {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.lookups[name] = times
}

// failLookup consumes one injected lookup failure. mu must be held.
func (im *Image) failLookup(name string) bool {
	if im.lookups[name] > 0 {
		im.lookups[name]--
		return true
	}
	return false
}

// Deny makes every read overlapping [addr, addr+size) fail with
// memport.ErrDenied.
func (im *Image) Deny(addr, size uint64) {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.denied = append(im.denied, span{addr, size})
}

// Close makes every later operation fail with memport.ErrUnavailable.
func (im *Image) Close() error {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.closed = true
	return nil
}

// Reads returns the number of Read calls served, including failed ones.
func (im *Image) Reads() int {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.reads
}

func (im *Image) Read(addr uint64, buf []byte) error {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.reads++
	n := len(buf)
	if im.closed {
		return memport.ReadError(addr, n, memport.ErrUnavailable)
	}
	end := addr + uint64(n)
	if end < addr {
		return memport.ReadError(addr, n, memport.ErrOutOfRange)
	}
	for _, d := range im.denied {
		if addr < d.addr+d.size && d.addr < end {
			return memport.ReadError(addr, n, memport.ErrDenied)
		}
	}
	for a, left := range im.transient {
		if left > 0 && a >= addr && a < end {
			im.transient[a] = left - 1
			return memport.ReadError(addr, n, memport.ErrTransient)
		}
	}
	r := im.find(addr, n)
	if r == nil {
		return memport.ReadError(addr, n, memport.ErrOutOfRange)
	}
	copy(buf, r.data[addr-r.addr:])
	return nil
}

func (im *Image) FindModule(name string) (memport.Module, error) {
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.closed {
		return memport.Module{}, memport.LookupError("module", name, memport.ErrUnavailable)
	}
	if im.failLookup(name) {
		return memport.Module{}, memport.LookupError("module", name, memport.ErrTransient)
	}
	m, ok := im.modules[name]
	if !ok {
		return memport.Module{}, memport.LookupError("module", name, memport.ErrNotFound)
	}
	return m, nil
}

func (im *Image) Export(mod memport.Module, symbol string) (uint64, error) {
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.closed {
		return 0, memport.LookupError("export", symbol, memport.ErrUnavailable)
	}
	if im.failLookup(symbol) {
		return 0, memport.LookupError("export", symbol, memport.ErrTransient)
	}
	addr, ok := im.exports[mod.Name][symbol]
	if !ok {
		return 0, memport.LookupError("export", mod.Name+"!"+symbol, memport.ErrNotFound)
	}
	return addr, nil
}

// find returns the region fully containing [addr, addr+n), or nil.
func (im *Image) find(addr uint64, n int) *region {
	i := sort.Search(len(im.regions), func(i int) bool { return im.regions[i].end() > addr })
	if i == len(im.regions) {
		return nil
	}
	r := im.regions[i]
	if addr < r.addr || addr+uint64(n) > r.end() {
		return nil
	}
	return r
}

func alignUp(v, a uint64) uint64 {
	return (v + a - 1) &^ (a - 1)
}

var _ memport.Port = (*Image)(nil)
