// Package tlb models a two-level, fully-associative, inclusive translation
// lookaside buffer with LRU replacement and write-back dirty tracking.
package tlb

import (
	"github.com/sarchlab/tlbsim/hooking"
	"github.com/sarchlab/tlbsim/timing"
	"github.com/sarchlab/tlbsim/tlb/internal"
	"github.com/sarchlab/tlbsim/vm"
)

// A PageTable resolves translations that miss in every TLB level. Its
// latency and failure semantics are opaque to the hierarchy.
type PageTable interface {
	Translate(vAddr uint64, op vm.Op) uint64
}

// A BackingStore receives write-backs of dirty mappings that leave the
// hierarchy. Write-backs always succeed.
type BackingStore interface {
	WriteBack(pAddr uint64)
}

// Comp is a two-level TLB hierarchy. It owns both level stores, the shared
// recency counter, and the statistics counters. Translate and Invalidate are
// immediate state transitions; the component is not safe for concurrent use.
type Comp struct {
	hooking.HookableBase

	name string

	// L1 and L2 are the two level stores, exported for inspection by tests
	// and monitors. Mutating them directly bypasses the protocol.
	L1 *internal.Level
	L2 *internal.Level

	pageBits uint64
	pageMask uint64

	l1Latency timing.VTimeInNS
	l2Latency timing.VTimeInNS

	pageTable PageTable
	backing   BackingStore
	clock     timing.Clock

	accessCount uint64
	stats       Stats
}

// Name returns the name of the hierarchy.
func (c *Comp) Name() string {
	return c.name
}

// Translate resolves a virtual address into a physical address, consulting
// L1, then L2, then the page table. Latency is charged for every level
// probed, hit or miss. A write access marks the entry that produced the hit
// dirty; a fill is born dirty only if the filling access is a write.
func (c *Comp) Translate(vAddr uint64, op vm.Op) uint64 {
	vpn := vAddr >> c.pageBits
	offset := vAddr & c.pageMask

	if index, found := c.L1.Lookup(vpn); found {
		return c.translateL1Hit(index, vAddr, vpn, offset, op)
	}

	c.stats.L1Misses++
	c.clock.Charge(c.l1Latency)
	c.invokeHook(HookPosL1Miss, AccessDetail{VAddr: vAddr, VPN: vpn, Op: op})

	if index, found := c.L2.Lookup(vpn); found {
		return c.translateL2Hit(index, vAddr, vpn, offset, op)
	}

	c.stats.L2Misses++
	c.clock.Charge(c.l2Latency)
	c.invokeHook(HookPosL2Miss, AccessDetail{VAddr: vAddr, VPN: vpn, Op: op})

	return c.fillFromPageTable(vAddr, vpn, offset, op)
}

func (c *Comp) translateL1Hit(
	index int,
	vAddr, vpn, offset uint64,
	op vm.Op,
) uint64 {
	c.stats.L1Hits++

	entry := c.L1.Entry(index)
	c.accessCount++
	entry.LastAccess = c.accessCount
	c.clock.Charge(c.l1Latency)

	if op == vm.OpWrite {
		entry.Dirty = true
	}

	c.invokeHook(HookPosL1Hit, AccessDetail{VAddr: vAddr, VPN: vpn, Op: op})

	return entry.PPN<<c.pageBits | offset
}

func (c *Comp) translateL2Hit(
	index int,
	vAddr, vpn, offset uint64,
	op vm.Op,
) uint64 {
	c.stats.L2Hits++

	entry := c.L2.Entry(index)
	c.accessCount++
	entry.LastAccess = c.accessCount
	c.clock.Charge(c.l2Latency)

	if op == vm.OpWrite {
		entry.Dirty = true
	}

	c.invokeHook(HookPosL2Hit, AccessDetail{VAddr: vAddr, VPN: vpn, Op: op})

	c.promote(index)

	return entry.PPN<<c.pageBits | offset
}

// promote copies the L2 entry that just hit into L1, keeping the hierarchy
// inclusive. A valid and dirty L1 victim is demoted into L2 first so that
// its state survives; clean victims are silently overwritten since L2 still
// holds their mapping.
func (c *Comp) promote(hitIndex int) {
	l1Slot := c.L1.FindVictim()
	victim := c.L1.Entry(l1Slot)

	if victim.Valid && victim.Dirty {
		c.demote(l1Slot, hitIndex)
	}

	hit := c.L2.Entry(hitIndex)
	*c.L1.Entry(l1Slot) = *hit

	// Both copies carry the stamp assigned at hit time, keeping cross-level
	// recency consistent.
	c.invokeHook(HookPosPromotion, AccessDetail{VPN: hit.VPN})
}

// demote moves a dirty L1 victim down into L2. The slot that produced the
// L2 hit is never chosen. If the victim's VPN is already resident in L2,
// that entry is refreshed in place so a level never maps the same VPN twice.
// The L2 occupant that gets overwritten is not written back even if dirty;
// the loss is surfaced at HookPosDirtyDrop.
func (c *Comp) demote(l1Slot, hitIndex int) {
	victim := c.L1.Entry(l1Slot)

	slot, resident := c.L2.Lookup(victim.VPN)
	if !resident {
		slot = c.L2.FindVictim()
		if slot == hitIndex {
			slot = c.L2.FindVictimExcluding(hitIndex)
		}
	}

	occupant := c.L2.Entry(slot)
	if occupant.Valid && occupant.Dirty && occupant.VPN != victim.VPN {
		c.invokeHook(HookPosDirtyDrop, EvictionDetail{
			Level: LevelL2,
			VPN:   occupant.VPN,
			PAddr: occupant.PPN << c.pageBits,
			Dirty: true,
		})
	}

	*occupant = *victim
}

// fillFromPageTable resolves a full miss through the page table and inserts
// the mapping into both levels with a single shared recency stamp. Dirty L2
// victims are written back before being overwritten; dirty L1 victims are
// not, which is surfaced at HookPosDirtyDrop.
func (c *Comp) fillFromPageTable(
	vAddr, vpn, offset uint64,
	op vm.Op,
) uint64 {
	pAddr := c.pageTable.Translate(vAddr, op)
	ppn := pAddr >> c.pageBits

	c.accessCount++
	entry := internal.Entry{
		Valid:      true,
		Dirty:      op == vm.OpWrite,
		LastAccess: c.accessCount,
		VPN:        vpn,
		PPN:        ppn,
	}

	l2Slot := c.L2.FindVictim()
	l2Victim := c.L2.Entry(l2Slot)
	if l2Victim.Valid && l2Victim.Dirty {
		victimPAddr := l2Victim.PPN << c.pageBits
		c.backing.WriteBack(victimPAddr)
		c.invokeHook(HookPosWriteBack, EvictionDetail{
			Level:       LevelL2,
			VPN:         l2Victim.VPN,
			PAddr:       victimPAddr,
			Dirty:       true,
			WrittenBack: true,
		})
	}
	*l2Victim = entry

	l1Slot := c.L1.FindVictim()
	l1Victim := c.L1.Entry(l1Slot)
	if l1Victim.Valid && l1Victim.Dirty {
		c.invokeHook(HookPosDirtyDrop, EvictionDetail{
			Level: LevelL1,
			VPN:   l1Victim.VPN,
			PAddr: l1Victim.PPN << c.pageBits,
			Dirty: true,
		})
	}
	*l1Victim = entry

	c.invokeHook(HookPosFill, AccessDetail{VAddr: vAddr, VPN: vpn, Op: op})

	return pAddr
}

// Invalidate removes the mapping for a virtual page from both levels. A
// dirty L2 entry is written back before invalidation; a dirty L1 entry is
// not, only counted, with the loss surfaced at HookPosDirtyDrop. An absent
// VPN is a silent no-op. No latency is charged.
func (c *Comp) Invalidate(vpn uint64) {
	if index, found := c.L1.Lookup(vpn); found {
		c.stats.L1Invalidations++

		entry := c.L1.Entry(index)
		if entry.Dirty {
			c.invokeHook(HookPosDirtyDrop, EvictionDetail{
				Level: LevelL1,
				VPN:   entry.VPN,
				PAddr: entry.PPN << c.pageBits,
				Dirty: true,
			})
		}
		entry.Valid = false

		c.invokeHook(HookPosInvalidation, InvalidationDetail{
			Level: LevelL1,
			VPN:   vpn,
		})
	}

	if index, found := c.L2.Lookup(vpn); found {
		c.stats.L2Invalidations++

		entry := c.L2.Entry(index)
		if entry.Dirty {
			pAddr := entry.PPN << c.pageBits
			c.backing.WriteBack(pAddr)
			c.invokeHook(HookPosWriteBack, EvictionDetail{
				Level:       LevelL2,
				VPN:         entry.VPN,
				PAddr:       pAddr,
				Dirty:       true,
				WrittenBack: true,
			})
		}
		entry.Valid = false

		c.invokeHook(HookPosInvalidation, InvalidationDetail{
			Level: LevelL2,
			VPN:   vpn,
		})
	}
}

// Reset invalidates every entry and zeroes all counters, returning the
// hierarchy to its freshly built state.
func (c *Comp) Reset() {
	c.L1.Reset()
	c.L2.Reset()
	c.accessCount = 0
	c.stats = Stats{}
}

// Stats returns a copy of the six event counters.
func (c *Comp) Stats() Stats {
	return c.stats
}

// AccessCount returns the value of the shared recency counter.
func (c *Comp) AccessCount() uint64 {
	return c.accessCount
}

// Capacity returns the number of slots in a level.
func (c *Comp) Capacity(level LevelID) int {
	return c.levelStore(level).Capacity()
}

// Occupancy returns the number of valid entries in a level.
func (c *Comp) Occupancy(level LevelID) int {
	return c.levelStore(level).CountValid()
}

// IsResident reports whether a level currently holds a valid mapping for
// the given virtual page.
func (c *Comp) IsResident(level LevelID, vpn uint64) bool {
	_, found := c.levelStore(level).Lookup(vpn)
	return found
}

func (c *Comp) levelStore(level LevelID) *internal.Level {
	switch level {
	case LevelL1:
		return c.L1
	case LevelL2:
		return c.L2
	default:
		panic("unknown TLB level")
	}
}

func (c *Comp) invokeHook(pos *hooking.HookPos, detail interface{}) {
	if c.NumHooks() == 0 {
		return
	}

	c.InvokeHook(hooking.HookCtx{
		Domain: c,
		Pos:    pos,
		Detail: detail,
	})
}
