// Package internal provides the entry storage shared by the TLB levels.
package internal

// An Entry is one slot of a TLB level.
type Entry struct {
	Valid      bool
	Dirty      bool
	LastAccess uint64
	VPN        uint64
	PPN        uint64
}

// A Level is a fixed-capacity, fully-associative array of entries. Lookups
// and victim selection are explicit linear scans so that the LRU semantics
// are exactly the order the slots are laid out in.
type Level struct {
	entries []Entry
}

// NewLevel creates a Level with the given number of slots, all invalid.
func NewLevel(capacity int) *Level {
	if capacity <= 0 {
		panic("TLB level capacity must be positive")
	}

	return &Level{
		entries: make([]Entry, capacity),
	}
}

// Capacity returns the number of slots in the level.
func (l *Level) Capacity() int {
	return len(l.entries)
}

// Entry returns the slot at the given index. The returned pointer stays
// valid for the lifetime of the level.
func (l *Level) Entry(i int) *Entry {
	return &l.entries[i]
}

// Lookup scans for a valid entry that maps vpn. At most one such entry can
// exist in a level.
func (l *Level) Lookup(vpn uint64) (index int, found bool) {
	for i := range l.entries {
		if l.entries[i].Valid && l.entries[i].VPN == vpn {
			return i, true
		}
	}

	return 0, false
}

// FindVictim returns the slot to fill next. The first invalid slot wins; if
// every slot is valid, the one with the smallest LastAccess stamp is chosen,
// ties broken by the lowest index.
func (l *Level) FindVictim() int {
	return l.findVictim(-1)
}

// FindVictimExcluding behaves like FindVictim but never returns the skip
// index. It is used during promotion so that a demoted L1 entry cannot land
// on the slot that just produced the L2 hit.
func (l *Level) FindVictimExcluding(skip int) int {
	return l.findVictim(skip)
}

func (l *Level) findVictim(skip int) int {
	for i := range l.entries {
		if i == skip {
			continue
		}

		if !l.entries[i].Valid {
			return i
		}
	}

	victim := -1
	for i := range l.entries {
		if i == skip {
			continue
		}

		if victim < 0 || l.entries[i].LastAccess < l.entries[victim].LastAccess {
			victim = i
		}
	}

	if victim < 0 {
		panic("no victim candidate in TLB level")
	}

	return victim
}

// CountValid returns the number of live mappings in the level.
func (l *Level) CountValid() int {
	count := 0
	for i := range l.entries {
		if l.entries[i].Valid {
			count++
		}
	}

	return count
}

// Reset marks every slot invalid.
func (l *Level) Reset() {
	for i := range l.entries {
		l.entries[i] = Entry{}
	}
}
