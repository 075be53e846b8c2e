// Package memport defines the memory access port the schema walker reads
// target memory through, and the error taxonomy shared by its backends.
package memport

import (
	"errors"
	"fmt"
)

// Kind sentinels. Every backend error wraps exactly one of these.
var (
	ErrTransient   = errors.New("memport: transient access failure")
	ErrDenied      = errors.New("memport: access denied")
	ErrOutOfRange  = errors.New("memport: address out of range")
	ErrNotFound    = errors.New("memport: not found")
	ErrUnavailable = errors.New("memport: port unavailable")
)

// AccessError describes a failed port operation.
type AccessError struct {
	Op   string // "read", "module", "export"
	Addr uint64
	Len  int
	Name string // module or symbol name for lookups
	Err  error  // one of the kind sentinels
}

func (e *AccessError) Error() string {
	switch e.Op {
	case "read":
		return fmt.Sprintf("read 0x%x+%d: %v", e.Addr, e.Len, e.Err)
	default:
		return fmt.Sprintf("%s %s: %v", e.Op, e.Name, e.Err)
	}
}

func (e *AccessError) Unwrap() error { return e.Err }

// ReadError builds a read AccessError of the given kind.
func ReadError(addr uint64, n int, kind error) error {
	return &AccessError{Op: "read", Addr: addr, Len: n, Err: kind}
}

// LookupError builds a module or export AccessError of the given kind.
func LookupError(op, name string, kind error) error {
	return &AccessError{Op: op, Name: name, Err: kind}
}

// IsFatal reports whether err means the port can no longer be used at all.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Architectures reported in Module.Arch.
const (
	ArchX8664 = "x86_64"
	ArchARM64 = "arm64"
)

// Module is a loaded module (library or executable image) of the target.
type Module struct {
	Name string
	Base uint64
	Size uint64
	Arch string
}

// Contains reports whether addr falls inside the module's mapped range.
// A zero Size means the range is unknown and every address is accepted.
func (m Module) Contains(addr uint64) bool {
	if m.Size == 0 {
		return true
	}
	return addr >= m.Base && addr-m.Base < m.Size
}

// Reader reads target memory. Implementations fill buf completely or fail.
type Reader interface {
	Read(addr uint64, buf []byte) error
}

// Port is the capability the walker consumes. It is implemented by the
// backends in the subpackages; process attachment lives outside this module.
type Port interface {
	Reader
	// FindModule returns the module with the given name, or an error
	// wrapping ErrNotFound.
	FindModule(name string) (Module, error)
	// Export resolves a named export of mod to an absolute address, or
	// returns an error wrapping ErrNotFound.
	Export(mod Module, symbol string) (uint64, error)
}
