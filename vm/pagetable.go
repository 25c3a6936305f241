package vm

import "sync"

// A PageTable maps virtual page numbers to physical page numbers. It is the
// fallback translation provider when an address misses in every TLB level.
//
// Frames are allocated on demand: the first access to an unmapped virtual
// page claims the next free physical page. This mirrors a resident page
// table with no page faults, which is all the TLB hierarchy requires from
// its collaborator.
type PageTable struct {
	sync.Mutex

	log2PageSize uint64
	entries      map[uint64]uint64
	nextPPN      uint64
}

// NewPageTable creates a PageTable for pages of 2^log2PageSize bytes.
func NewPageTable(log2PageSize uint64) *PageTable {
	return &PageTable{
		log2PageSize: log2PageSize,
		entries:      make(map[uint64]uint64),
	}
}

// Translate resolves a full virtual address into a full physical address.
// The op parameter is accepted for contract parity with the TLB levels; the
// page table itself does not track dirtiness.
func (pt *PageTable) Translate(vAddr uint64, op Op) uint64 {
	pt.Lock()
	defer pt.Unlock()

	vpn := vAddr >> pt.log2PageSize
	offset := vAddr & ((1 << pt.log2PageSize) - 1)

	ppn, found := pt.entries[vpn]
	if !found {
		ppn = pt.nextPPN
		pt.nextPPN++
		pt.entries[vpn] = ppn
	}

	return ppn<<pt.log2PageSize | offset
}

// Insert establishes a mapping, overwriting any previous one.
func (pt *PageTable) Insert(vpn, ppn uint64) {
	pt.Lock()
	defer pt.Unlock()

	pt.entries[vpn] = ppn
	if ppn >= pt.nextPPN {
		pt.nextPPN = ppn + 1
	}
}

// Remove drops the mapping for a virtual page. Removing an absent page is a
// no-op. Callers are expected to invalidate the TLB hierarchy afterwards.
func (pt *PageTable) Remove(vpn uint64) {
	pt.Lock()
	defer pt.Unlock()

	delete(pt.entries, vpn)
}

// Find returns the physical page currently mapped to a virtual page.
func (pt *PageTable) Find(vpn uint64) (ppn uint64, found bool) {
	pt.Lock()
	defer pt.Unlock()

	ppn, found = pt.entries[vpn]
	return ppn, found
}
