// Package mem provides the physical memory model that receives write-backs
// from the TLB hierarchy.
package mem

import "github.com/sarchlab/tlbsim/timing"

// An IdealBackingStore commits dirty cached mappings to main memory. It
// never fails and completes in a fixed, configurable latency.
type IdealBackingStore struct {
	clock   timing.Clock
	latency timing.VTimeInNS

	writeBackCount uint64
	lastPAddr      uint64
}

// NewIdealBackingStore creates an IdealBackingStore. The clock may be nil,
// in which case write-backs are free.
func NewIdealBackingStore(clock timing.Clock, latency timing.VTimeInNS) *IdealBackingStore {
	return &IdealBackingStore{
		clock:   clock,
		latency: latency,
	}
}

// WriteBack commits the page starting at pAddr.
func (s *IdealBackingStore) WriteBack(pAddr uint64) {
	s.writeBackCount++
	s.lastPAddr = pAddr

	if s.clock != nil {
		s.clock.Charge(s.latency)
	}
}

// WriteBackCount returns the number of write-backs performed.
func (s *IdealBackingStore) WriteBackCount() uint64 {
	return s.writeBackCount
}

// LastWriteBackAddr returns the physical address of the most recent
// write-back.
func (s *IdealBackingStore) LastWriteBackAddr() uint64 {
	return s.lastPAddr
}
