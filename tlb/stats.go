package tlb

// Stats tallies the events of a TLB hierarchy. All counters are cumulative
// since construction or the last Reset, and each increments by exactly one
// per matching event.
type Stats struct {
	L1Hits          uint64
	L1Misses        uint64
	L1Invalidations uint64
	L2Hits          uint64
	L2Misses        uint64
	L2Invalidations uint64
}
