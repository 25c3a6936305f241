// Package timing provides the simulated time accounting used by tlbsim.
package timing

import "fmt"

// VTimeInNS is the virtual time in nanoseconds.
type VTimeInNS uint64

// Defines the unit of virtual time.
const (
	NS VTimeInNS = 1
	US VTimeInNS = 1000 * NS
	MS VTimeInNS = 1000 * US
)

func (t VTimeInNS) String() string {
	return fmt.Sprintf("%dns", uint64(t))
}

// A Clock accumulates the latency charged by the components of a
// simulation. Charging latency is purely an accounting side effect and never
// changes control flow.
type Clock interface {
	Charge(d VTimeInNS)
	Now() VTimeInNS
}

// NewClock returns a Clock that starts at time 0.
func NewClock() Clock {
	return &accumulatingClock{}
}

type accumulatingClock struct {
	now VTimeInNS
}

func (c *accumulatingClock) Charge(d VTimeInNS) {
	c.now += d
}

func (c *accumulatingClock) Now() VTimeInNS {
	return c.now
}
