package fault

import (
	"fmt"
	"net"

	"github.com/HerbHall/uproot/pkg/models"
)

// BogusNextHop is an unreachable documentation-range address used for
// wrong-next-hop faults.
const BogusNextHop = "203.0.113.1"

// RouterFaults builds the full catalog for a router that may lose its
// own management path (the technician reaches it another way).
func RouterFaults(fc models.FaultContext) []models.FaultDefinition {
	faults := []models.FaultDefinition{
		{
			Name:     "remove_default_route",
			Commands: []string{"no ip route 0.0.0.0 0.0.0.0"},
		},
		{
			Name: "wrong_default_next_hop_forced_interface",
			Commands: []string{
				"no ip route 0.0.0.0 0.0.0.0",
				fmt.Sprintf("ip route 0.0.0.0 0.0.0.0 %s %s", fc.NorthIf, BogusNextHop),
			},
		},
		{
			Name: "default_out_wrong_interface_south",
			Commands: []string{
				"no ip route 0.0.0.0 0.0.0.0",
				fmt.Sprintf("ip route 0.0.0.0 0.0.0.0 %s %s", fc.SouthIf, BogusNextHop),
			},
		},
		{
			Name:     "shutdown_northbound",
			Commands: []string{"interface " + fc.NorthIf, "shutdown"},
		},
		{
			Name:     "remove_northbound_ip",
			Commands: []string{"interface " + fc.NorthIf, "no ip address"},
		},
		{
			Name: "drop_all_outbound_on_northbound",
			Commands: []string{
				"ip access-list extended CHAOS_OUT",
				"deny ip any any",
				"exit",
				"interface " + fc.NorthIf,
				"ip access-group CHAOS_OUT out",
			},
		},
	}

	if bh := blackholeFault(fc.SouthNet); bh != nil {
		faults = append(faults, *bh)
	}
	return faults
}

// RouterFaultsSafe is the south-side-only catalog for a router whose
// north-bound interface carries the operator's own path; breaking it
// would cut the run off from the rest of the topology.
func RouterFaultsSafe(fc models.FaultContext) []models.FaultDefinition {
	faults := []models.FaultDefinition{
		{
			Name:     "shutdown_southbound",
			Commands: []string{"interface " + fc.SouthIf, "shutdown"},
		},
		{
			Name:     "remove_southbound_ip",
			Commands: []string{"interface " + fc.SouthIf, "no ip address"},
		},
		{
			Name: "drop_all_outbound_on_southbound",
			Commands: []string{
				"ip access-list extended CHAOS_SB_OUT",
				"deny ip any any",
				"exit",
				"interface " + fc.SouthIf,
				"ip access-group CHAOS_SB_OUT out",
			},
		},
	}

	if bh := blackholeFault(fc.SouthNet); bh != nil {
		faults = append(faults, *bh)
	}
	return faults
}

// blackholeFault routes the south-bound connected subnet into Null0.
// Only possible when the subnet is known.
func blackholeFault(southNet *net.IPNet) *models.FaultDefinition {
	if southNet == nil {
		return nil
	}
	mask := net.IP(southNet.Mask).String()
	return &models.FaultDefinition{
		Name: "blackhole_south_connected_subnet",
		Commands: []string{
			fmt.Sprintf("ip route %s %s Null0", southNet.IP.String(), mask),
		},
	}
}
