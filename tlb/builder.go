package tlb

import (
	"github.com/sarchlab/tlbsim/timing"
	"github.com/sarchlab/tlbsim/tlb/internal"
)

// A Builder can build TLB hierarchies.
type Builder struct {
	l1Size    int
	l2Size    int
	pageBits  uint64
	l1Latency timing.VTimeInNS
	l2Latency timing.VTimeInNS
	pageTable PageTable
	backing   BackingStore
	clock     timing.Clock
}

// MakeBuilder returns a Builder with the default configuration.
func MakeBuilder() Builder {
	return Builder{
		l1Size:    16,
		l2Size:    64,
		pageBits:  12,
		l1Latency: 1 * timing.NS,
		l2Latency: 4 * timing.NS,
	}
}

// WithL1Size sets the number of entries in the L1 level.
func (b Builder) WithL1Size(n int) Builder {
	b.l1Size = n
	return b
}

// WithL2Size sets the number of entries in the L2 level. L1 is expected to
// be no larger than L2; this is assumed, not enforced.
func (b Builder) WithL2Size(n int) Builder {
	b.l2Size = n
	return b
}

// WithPageBits sets the page size as a power of 2.
func (b Builder) WithPageBits(n uint64) Builder {
	b.pageBits = n
	return b
}

// WithL1Latency sets the latency charged for every L1 probe, hit or miss.
func (b Builder) WithL1Latency(d timing.VTimeInNS) Builder {
	b.l1Latency = d
	return b
}

// WithL2Latency sets the latency charged for every L2 probe, hit or miss.
func (b Builder) WithL2Latency(d timing.VTimeInNS) Builder {
	b.l2Latency = d
	return b
}

// WithPageTable sets the fallback translation provider used on a full miss.
func (b Builder) WithPageTable(pt PageTable) Builder {
	b.pageTable = pt
	return b
}

// WithBackingStore sets the destination for write-backs of dirty mappings.
func (b Builder) WithBackingStore(s BackingStore) Builder {
	b.backing = s
	return b
}

// WithClock sets the clock that accumulates probe latency. A fresh
// accumulating clock is used if none is given.
func (b Builder) WithClock(c timing.Clock) Builder {
	b.clock = c
	return b
}

// Build creates a new TLB hierarchy with all entries invalid and all
// counters at zero.
func (b Builder) Build(name string) *Comp {
	b.mustBeValid()

	clock := b.clock
	if clock == nil {
		clock = timing.NewClock()
	}

	return &Comp{
		name:      name,
		L1:        internal.NewLevel(b.l1Size),
		L2:        internal.NewLevel(b.l2Size),
		pageBits:  b.pageBits,
		pageMask:  (1 << b.pageBits) - 1,
		l1Latency: b.l1Latency,
		l2Latency: b.l2Latency,
		pageTable: b.pageTable,
		backing:   b.backing,
		clock:     clock,
	}
}

func (b Builder) mustBeValid() {
	if b.l1Size <= 0 || b.l2Size <= 0 {
		panic("TLB level sizes must be positive")
	}

	if b.pageBits == 0 || b.pageBits >= 64 {
		panic("page bits must be in (0, 64)")
	}

	if b.pageTable == nil {
		panic("a TLB hierarchy requires a page table")
	}

	if b.backing == nil {
		panic("a TLB hierarchy requires a backing store")
	}
}
