package tlb

import (
	"github.com/sarchlab/tlbsim/hooking"
	"github.com/sarchlab/tlbsim/vm"
)

// LevelID identifies one of the two TLB levels in hook details.
type LevelID int

// The two levels of the hierarchy.
const (
	LevelL1 LevelID = 1
	LevelL2 LevelID = 2
)

func (l LevelID) String() string {
	switch l {
	case LevelL1:
		return "L1"
	case LevelL2:
		return "L2"
	default:
		return "?"
	}
}

// Hook positions where a TLB hierarchy invokes its hooks.
var (
	HookPosL1Hit        = &hooking.HookPos{Name: "TLB L1 Hit"}
	HookPosL1Miss       = &hooking.HookPos{Name: "TLB L1 Miss"}
	HookPosL2Hit        = &hooking.HookPos{Name: "TLB L2 Hit"}
	HookPosL2Miss       = &hooking.HookPos{Name: "TLB L2 Miss"}
	HookPosFill         = &hooking.HookPos{Name: "TLB Fill"}
	HookPosPromotion    = &hooking.HookPos{Name: "TLB Promotion"}
	HookPosWriteBack    = &hooking.HookPos{Name: "TLB Write Back"}
	HookPosDirtyDrop    = &hooking.HookPos{Name: "TLB Dirty Drop"}
	HookPosInvalidation = &hooking.HookPos{Name: "TLB Invalidation"}
)

// AccessDetail is the hook detail for probe outcomes (hits, misses, fills,
// promotions).
type AccessDetail struct {
	VAddr uint64
	VPN   uint64
	Op    vm.Op
}

// EvictionDetail is the hook detail for an entry leaving a slot. WrittenBack
// reports whether the entry reached the backing store: write-backs fire at
// HookPosWriteBack with WrittenBack true, while HookPosDirtyDrop marks the
// sites where dirty data is discarded without a write-back (L2 overwrite
// during promotion-demotion, L1 eviction during a miss-fill, and dirty L1
// invalidation).
type EvictionDetail struct {
	Level       LevelID
	VPN         uint64
	PAddr       uint64
	Dirty       bool
	WrittenBack bool
}

// InvalidationDetail is the hook detail for an entry removed by Invalidate.
type InvalidationDetail struct {
	Level LevelID
	VPN   uint64
}
