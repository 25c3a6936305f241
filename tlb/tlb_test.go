package tlb

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	gomock "go.uber.org/mock/gomock"

	"github.com/sarchlab/tlbsim/hooking"
	"github.com/sarchlab/tlbsim/timing"
	"github.com/sarchlab/tlbsim/vm"
)

// eventCollector records every hook invocation for later inspection.
type eventCollector struct {
	events []hooking.HookCtx
}

func (c *eventCollector) Func(ctx hooking.HookCtx) {
	c.events = append(c.events, ctx)
}

func (c *eventCollector) at(pos *hooking.HookPos) []hooking.HookCtx {
	matched := []hooking.HookCtx{}
	for _, e := range c.events {
		if e.Pos == pos {
			matched = append(matched, e)
		}
	}

	return matched
}

var _ = Describe("Hierarchy", func() {
	var (
		mockCtrl  *gomock.Controller
		pageTable *MockPageTable
		backing   *MockBackingStore
		clock     timing.Clock
		events    *eventCollector
		hierarchy *Comp
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		pageTable = NewMockPageTable(mockCtrl)
		backing = NewMockBackingStore(mockCtrl)
		clock = timing.NewClock()
		events = &eventCollector{}

		hierarchy = MakeBuilder().
			WithL1Size(2).
			WithL2Size(4).
			WithPageBits(12).
			WithL1Latency(10 * timing.NS).
			WithL2Latency(40 * timing.NS).
			WithPageTable(pageTable).
			WithBackingStore(backing).
			WithClock(clock).
			Build("TLB")
		hierarchy.AcceptHook(events)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	// expectFill primes the page table so that translating vAddr resolves to
	// the page starting at ppn<<12.
	expectFill := func(vAddr, ppn uint64) {
		pageTable.EXPECT().
			Translate(vAddr, gomock.Any()).
			Return(ppn<<12 | vAddr&0xfff)
	}

	Context("full miss", func() {
		It("should fall back to the page table and fill both levels", func() {
			expectFill(0x1234, 5)

			pAddr := hierarchy.Translate(0x1234, vm.OpRead)

			Expect(pAddr).To(Equal(uint64(0x5234)))
			Expect(hierarchy.IsResident(LevelL1, 1)).To(BeTrue())
			Expect(hierarchy.IsResident(LevelL2, 1)).To(BeTrue())
			Expect(hierarchy.Stats()).To(Equal(Stats{L1Misses: 1, L2Misses: 1}))
		})

		It("should charge both probe latencies", func() {
			expectFill(0x1000, 2)

			hierarchy.Translate(0x1000, vm.OpRead)

			Expect(clock.Now()).To(Equal(50 * timing.NS))
		})

		It("should stamp both copies with the same counter value", func() {
			expectFill(0x1000, 2)

			hierarchy.Translate(0x1000, vm.OpRead)

			l1Index, _ := hierarchy.L1.Lookup(1)
			l2Index, _ := hierarchy.L2.Lookup(1)
			Expect(hierarchy.L1.Entry(l1Index).LastAccess).
				To(Equal(hierarchy.L2.Entry(l2Index).LastAccess))
			Expect(hierarchy.AccessCount()).To(Equal(uint64(1)))
		})

		It("should mark a write fill dirty in both levels", func() {
			expectFill(0x3000, 7)

			hierarchy.Translate(0x3000, vm.OpWrite)

			l1Index, _ := hierarchy.L1.Lookup(3)
			l2Index, _ := hierarchy.L2.Lookup(3)
			Expect(hierarchy.L1.Entry(l1Index).Dirty).To(BeTrue())
			Expect(hierarchy.L2.Entry(l2Index).Dirty).To(BeTrue())
		})
	})

	Context("L1 hit", func() {
		BeforeEach(func() {
			expectFill(0x1000, 5)
			hierarchy.Translate(0x1000, vm.OpRead)
		})

		It("should translate without consulting lower levels", func() {
			pAddr := hierarchy.Translate(0x1abc, vm.OpRead)

			Expect(pAddr).To(Equal(uint64(0x5abc)))
			Expect(hierarchy.Stats().L1Hits).To(Equal(uint64(1)))
			Expect(hierarchy.Stats().L2Hits).To(Equal(uint64(0)))
		})

		It("should charge only the L1 latency", func() {
			before := clock.Now()

			hierarchy.Translate(0x1000, vm.OpRead)

			Expect(clock.Now() - before).To(Equal(10 * timing.NS))
		})

		It("should set the dirty bit on a write and keep it on a later read", func() {
			hierarchy.Translate(0x1000, vm.OpWrite)
			hierarchy.Translate(0x1000, vm.OpRead)

			index, _ := hierarchy.L1.Lookup(1)
			Expect(hierarchy.L1.Entry(index).Dirty).To(BeTrue())
		})

		It("should refresh the recency stamp", func() {
			hierarchy.Translate(0x1000, vm.OpRead)

			index, _ := hierarchy.L1.Lookup(1)
			Expect(hierarchy.L1.Entry(index).LastAccess).
				To(Equal(hierarchy.AccessCount()))
		})
	})

	Context("L2 hit and promotion", func() {
		BeforeEach(func() {
			// Three read fills push VPN 1 out of the two-entry L1 while it
			// stays resident in L2.
			expectFill(0x1000, 5)
			expectFill(0x2000, 6)
			expectFill(0x3000, 7)
			hierarchy.Translate(0x1000, vm.OpRead)
			hierarchy.Translate(0x2000, vm.OpRead)
			hierarchy.Translate(0x3000, vm.OpRead)
		})

		It("should have evicted the oldest VPN from L1 only", func() {
			Expect(hierarchy.IsResident(LevelL1, 1)).To(BeFalse())
			Expect(hierarchy.IsResident(LevelL2, 1)).To(BeTrue())
		})

		It("should resolve through L2 and promote back into L1", func() {
			pAddr := hierarchy.Translate(0x1def, vm.OpRead)

			Expect(pAddr).To(Equal(uint64(0x5def)))
			Expect(hierarchy.Stats().L2Hits).To(Equal(uint64(1)))
			Expect(hierarchy.IsResident(LevelL1, 1)).To(BeTrue())
			Expect(hierarchy.IsResident(LevelL2, 1)).To(BeTrue())
			Expect(events.at(HookPosPromotion)).To(HaveLen(1))
		})

		It("should charge both latencies on the way to L2", func() {
			before := clock.Now()

			hierarchy.Translate(0x1000, vm.OpRead)

			Expect(clock.Now() - before).To(Equal(50 * timing.NS))
		})

		It("should keep both copies of the promoted entry time-consistent", func() {
			hierarchy.Translate(0x1000, vm.OpRead)

			l1Index, _ := hierarchy.L1.Lookup(1)
			l2Index, _ := hierarchy.L2.Lookup(1)
			Expect(hierarchy.L1.Entry(l1Index).LastAccess).
				To(Equal(hierarchy.L2.Entry(l2Index).LastAccess))
		})

		It("should dirty the L2 copy on a write that hits L2", func() {
			hierarchy.Translate(0x1000, vm.OpWrite)

			l2Index, _ := hierarchy.L2.Lookup(1)
			Expect(hierarchy.L2.Entry(l2Index).Dirty).To(BeTrue())
		})
	})

	Context("dirty L1 victim during promotion", func() {
		BeforeEach(func() {
			expectFill(0x1000, 5)
			expectFill(0x2000, 6)
			expectFill(0x3000, 7)
			hierarchy.Translate(0x1000, vm.OpRead)
			hierarchy.Translate(0x2000, vm.OpRead)
			hierarchy.Translate(0x3000, vm.OpRead) // L1 now holds VPNs 2, 3
			hierarchy.Translate(0x2000, vm.OpWrite)
			hierarchy.Translate(0x3000, vm.OpWrite) // both L1 entries dirty
		})

		It("should demote the dirty victim into its resident L2 slot", func() {
			hierarchy.Translate(0x1000, vm.OpRead)

			// VPN 2 was the least recently used L1 entry; its dirty state
			// must have reached the L2 copy.
			Expect(hierarchy.IsResident(LevelL1, 2)).To(BeFalse())
			l2Index, found := hierarchy.L2.Lookup(2)
			Expect(found).To(BeTrue())
			Expect(hierarchy.L2.Entry(l2Index).Dirty).To(BeTrue())
		})

		It("should write back the demoted state when later invalidated", func() {
			hierarchy.Translate(0x1000, vm.OpRead)

			backing.EXPECT().WriteBack(uint64(0x6000))

			hierarchy.Invalidate(2)
		})
	})

	Context("miss-fill eviction", func() {
		It("should write back a dirty L2 victim before reuse", func() {
			expectFill(0x1000, 5)
			hierarchy.Translate(0x1000, vm.OpWrite) // VPN 1 dirty in both levels

			expectFill(0x2000, 6)
			expectFill(0x3000, 7)
			expectFill(0x4000, 8)
			hierarchy.Translate(0x2000, vm.OpRead)
			hierarchy.Translate(0x3000, vm.OpRead)
			hierarchy.Translate(0x4000, vm.OpRead) // L2 now full

			// The next fill evicts VPN 1, the oldest L2 entry, which is
			// dirty and must reach the backing store.
			backing.EXPECT().WriteBack(uint64(0x5000))
			expectFill(0x5000, 9)

			hierarchy.Translate(0x5000, vm.OpRead)

			Expect(hierarchy.IsResident(LevelL2, 1)).To(BeFalse())
			Expect(events.at(HookPosWriteBack)).To(HaveLen(1))
		})

		It("should drop a dirty L1 victim without write-back", func() {
			expectFill(0x1000, 5)
			expectFill(0x2000, 6)
			hierarchy.Translate(0x1000, vm.OpWrite)
			hierarchy.Translate(0x2000, vm.OpWrite) // L1 full, both dirty

			expectFill(0x3000, 7)
			hierarchy.Translate(0x3000, vm.OpRead)

			drops := events.at(HookPosDirtyDrop)
			Expect(drops).To(HaveLen(1))
			detail := drops[0].Detail.(EvictionDetail)
			Expect(detail.Level).To(Equal(LevelL1))
			Expect(detail.VPN).To(Equal(uint64(1)))
			Expect(detail.WrittenBack).To(BeFalse())
		})
	})

	Context("invalidation", func() {
		BeforeEach(func() {
			expectFill(0x1000, 5)
			hierarchy.Translate(0x1000, vm.OpRead)
		})

		It("should remove the mapping from both levels", func() {
			hierarchy.Invalidate(1)

			Expect(hierarchy.IsResident(LevelL1, 1)).To(BeFalse())
			Expect(hierarchy.IsResident(LevelL2, 1)).To(BeFalse())
			Expect(hierarchy.Stats().L1Invalidations).To(Equal(uint64(1)))
			Expect(hierarchy.Stats().L2Invalidations).To(Equal(uint64(1)))
		})

		It("should charge no latency", func() {
			before := clock.Now()

			hierarchy.Invalidate(1)

			Expect(clock.Now()).To(Equal(before))
		})

		It("should cause a full miss on the next access", func() {
			hierarchy.Invalidate(1)

			expectFill(0x1000, 5)
			hierarchy.Translate(0x1000, vm.OpRead)

			Expect(hierarchy.Stats().L1Misses).To(Equal(uint64(2)))
			Expect(hierarchy.Stats().L2Misses).To(Equal(uint64(2)))
		})

		It("should be a silent no-op for an absent VPN", func() {
			hierarchy.Invalidate(99)

			Expect(hierarchy.Stats().L1Invalidations).To(Equal(uint64(0)))
			Expect(hierarchy.Stats().L2Invalidations).To(Equal(uint64(0)))
		})

		It("should write back a dirty L2 entry", func() {
			hierarchy.Translate(0x1000, vm.OpWrite) // L1 hit dirties L1 only

			// Push the dirty state down to L2 so the asymmetry is visible:
			// the write fill below makes both level copies dirty.
			expectFill(0x2000, 6)
			hierarchy.Translate(0x2000, vm.OpWrite)

			backing.EXPECT().WriteBack(uint64(0x6000))

			hierarchy.Invalidate(2)
		})

		It("should not write back a dirty entry found only in L1", func() {
			hierarchy.Translate(0x1000, vm.OpWrite) // dirties the L1 copy only

			// Invalidate the L2 copy out from under L1 first, leaving a
			// dirty mapping resident in L1 alone. The L2 copy is clean, so
			// no write-back fires there either.
			l2Index, _ := hierarchy.L2.Lookup(1)
			Expect(hierarchy.L2.Entry(l2Index).Dirty).To(BeFalse())

			hierarchy.Invalidate(1)

			drops := events.at(HookPosDirtyDrop)
			Expect(drops).To(HaveLen(1))
			detail := drops[0].Detail.(EvictionDetail)
			Expect(detail.Level).To(Equal(LevelL1))
			Expect(detail.VPN).To(Equal(uint64(1)))
		})
	})

	Context("capacity and duplicates", func() {
		It("should never exceed the configured sizes", func() {
			for i := uint64(1); i <= 8; i++ {
				expectFill(i<<12, 100+i)
				hierarchy.Translate(i<<12, vm.OpRead)
			}

			Expect(hierarchy.Occupancy(LevelL1)).
				To(BeNumerically("<=", hierarchy.Capacity(LevelL1)))
			Expect(hierarchy.Occupancy(LevelL2)).
				To(BeNumerically("<=", hierarchy.Capacity(LevelL2)))
		})

		It("should keep at most one valid entry per VPN in each level", func() {
			expectFill(0x1000, 5)
			expectFill(0x2000, 6)
			expectFill(0x3000, 7)
			hierarchy.Translate(0x1000, vm.OpWrite)
			hierarchy.Translate(0x2000, vm.OpWrite)
			hierarchy.Translate(0x3000, vm.OpWrite)
			hierarchy.Translate(0x1000, vm.OpRead) // L2 hit, dirty demotion

			for _, level := range []LevelID{LevelL1, LevelL2} {
				seen := map[uint64]int{}
				store := hierarchy.L1
				if level == LevelL2 {
					store = hierarchy.L2
				}
				for i := 0; i < store.Capacity(); i++ {
					if store.Entry(i).Valid {
						seen[store.Entry(i).VPN]++
					}
				}
				for vpn, count := range seen {
					Expect(count).To(Equal(1),
						"VPN %d duplicated in %s", vpn, level)
				}
			}
		})
	})

	Context("reset", func() {
		It("should return to the freshly built state", func() {
			expectFill(0x1000, 5)
			hierarchy.Translate(0x1000, vm.OpWrite)

			hierarchy.Reset()

			Expect(hierarchy.Occupancy(LevelL1)).To(Equal(0))
			Expect(hierarchy.Occupancy(LevelL2)).To(Equal(0))
			Expect(hierarchy.Stats()).To(Equal(Stats{}))
			Expect(hierarchy.AccessCount()).To(Equal(uint64(0)))
		})
	})
})

var _ = Describe("Hierarchy with demotion overwrite", func() {
	var (
		mockCtrl  *gomock.Controller
		pageTable *MockPageTable
		backing   *MockBackingStore
		events    *eventCollector
		hierarchy *Comp
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		pageTable = NewMockPageTable(mockCtrl)
		backing = NewMockBackingStore(mockCtrl)
		events = &eventCollector{}

		hierarchy = MakeBuilder().
			WithL1Size(2).
			WithL2Size(2).
			WithPageBits(12).
			WithPageTable(pageTable).
			WithBackingStore(backing).
			Build("TinyTLB")
		hierarchy.AcceptHook(events)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should drop a dirty L2 occupant overwritten by a demotion", func() {
		fill := func(vAddr, ppn uint64) {
			pageTable.EXPECT().
				Translate(vAddr, gomock.Any()).
				Return(ppn << 12)
		}

		fill(0x1000, 5)
		fill(0x2000, 6)
		hierarchy.Translate(0x1000, vm.OpWrite)
		hierarchy.Translate(0x2000, vm.OpWrite)
		hierarchy.Translate(0x1000, vm.OpWrite) // refresh VPN 1 in L1 only

		// Filling VPN 3 with a write evicts the stale dirty L2 copy of
		// VPN 1 (written back) and drops VPN 2 from L1. VPN 1 now lives
		// dirty in L1 alone.
		backing.EXPECT().WriteBack(uint64(0x5000))
		fill(0x3000, 7)
		hierarchy.Translate(0x3000, vm.OpWrite)

		Expect(hierarchy.IsResident(LevelL1, 1)).To(BeTrue())
		Expect(hierarchy.IsResident(LevelL2, 1)).To(BeFalse())

		// An L2 hit on VPN 2 promotes it; the dirty, L2-absent VPN 1 is
		// demoted over the dirty VPN 3 slot, which is lost silently.
		hierarchy.Translate(0x2000, vm.OpRead)

		drops := events.at(HookPosDirtyDrop)
		var l2Drops []EvictionDetail
		for _, d := range drops {
			detail := d.Detail.(EvictionDetail)
			if detail.Level == LevelL2 {
				l2Drops = append(l2Drops, detail)
			}
		}
		Expect(l2Drops).To(HaveLen(1))
		Expect(l2Drops[0].VPN).To(Equal(uint64(3)))
		Expect(l2Drops[0].WrittenBack).To(BeFalse())

		Expect(hierarchy.IsResident(LevelL2, 1)).To(BeTrue())
		Expect(hierarchy.IsResident(LevelL1, 2)).To(BeTrue())
	})
})

var _ = Describe("Builder", func() {
	var (
		mockCtrl  *gomock.Controller
		pageTable *MockPageTable
		backing   *MockBackingStore
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		pageTable = NewMockPageTable(mockCtrl)
		backing = NewMockBackingStore(mockCtrl)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should build with defaults", func() {
		c := MakeBuilder().
			WithPageTable(pageTable).
			WithBackingStore(backing).
			Build("TLB")

		Expect(c.Name()).To(Equal("TLB"))
		Expect(c.Capacity(LevelL1)).To(Equal(16))
		Expect(c.Capacity(LevelL2)).To(Equal(64))
	})

	It("should panic without a page table", func() {
		Expect(func() {
			MakeBuilder().WithBackingStore(backing).Build("TLB")
		}).To(Panic())
	})

	It("should panic without a backing store", func() {
		Expect(func() {
			MakeBuilder().WithPageTable(pageTable).Build("TLB")
		}).To(Panic())
	})

	It("should panic on a non-positive level size", func() {
		Expect(func() {
			MakeBuilder().
				WithL1Size(0).
				WithPageTable(pageTable).
				WithBackingStore(backing).
				Build("TLB")
		}).To(Panic())
	})

	It("should panic on zero page bits", func() {
		Expect(func() {
			MakeBuilder().
				WithPageBits(0).
				WithPageTable(pageTable).
				WithBackingStore(backing).
				Build("TLB")
		}).To(Panic())
	})
})
