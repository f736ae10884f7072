package models

import "strings"

// InterfaceInfo is one row of live interface state as reported by a
// device. It is produced fresh per session by the topology probe and is
// stale the moment a fault mutates the device.
type InterfaceInfo struct {
	Name     string `json:"name"`
	Address  string `json:"address"`  // assigned IP, or the device's "unassigned" marker
	Status   string `json:"status"`   // operational status column
	Protocol string `json:"protocol"` // line protocol column
}

// IsLoopback reports whether the interface is a loopback.
func (i InterfaceInfo) IsLoopback() bool {
	return strings.HasPrefix(strings.ToLower(i.Name), "loop")
}

// HasAddress reports whether the interface carries a usable address.
func (i InterfaceInfo) HasAddress() bool {
	switch strings.ToLower(i.Address) {
	case "", "unassigned", "unknown":
		return false
	}
	return true
}

// IsUp reports whether both the interface and its line protocol are up.
func (i InterfaceInfo) IsUp() bool {
	return strings.EqualFold(i.Status, "up") && strings.EqualFold(i.Protocol, "up")
}
