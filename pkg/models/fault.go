package models

import "net"

// FaultDefinition names one intentional misconfiguration and the
// ordered command sequence that applies it. Definitions are catalog
// data: immutable and free of runtime state.
type FaultDefinition struct {
	Name     string
	Commands []string
}

// FaultContext carries the topology facts a catalog needs to build a
// context-appropriate fault list for one device.
type FaultContext struct {
	NorthIf  string // interface facing the default-route direction
	SouthIf  string // interface facing downstream networks
	NorthNet *net.IPNet
	SouthNet *net.IPNet // connected subnet behind the south interface, when known
}
