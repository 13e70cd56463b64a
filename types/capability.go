package types

import "strings"

// Capabilities is the set of optional interfaces an application
// serves, declared at handshake.
type Capabilities uint8

const (
	// CapSimulation: dry runs against committed state.
	CapSimulation Capabilities = 1 << iota
)

// Has reports whether every bit of cap is set.
func (c Capabilities) Has(cap Capabilities) bool {
	return c&cap == cap
}

func (c Capabilities) String() string {
	var caps []string
	if c.Has(CapSimulation) {
		caps = append(caps, "Simulation")
	}
	if len(caps) == 0 {
		return "none"
	}
	return strings.Join(caps, "|")
}
