// Package vm provides the virtual memory primitives that the TLB hierarchy
// translates against.
package vm

// Op is the kind of memory access that triggers a translation.
type Op int

// The two access kinds. A write marks the translated mapping dirty.
const (
	OpRead Op = iota
	OpWrite
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	default:
		return "UNKNOWN"
	}
}
