package fault

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Switch plan tuning. VLAN 1 carries management traffic and is never
// handed out.
const (
	mgmtVLAN = 1
	vlanMin  = 2
	vlanMax  = 4094

	maxPlannedPorts  = 4
	trunkProbability = 0.25
	trunkAllowedMin  = 3
	trunkAllowedMax  = 12
)

// PortMode is the planned switchport mode.
type PortMode string

const (
	PortModeAccess PortMode = "access"
	PortModeTrunk  PortMode = "trunk"
)

// PortPlan is one planned switchport misconfiguration.
type PortPlan struct {
	Port       string
	Mode       PortMode
	AccessVLAN int   // access mode
	Allowed    []int // trunk mode
	Native     int   // trunk mode, 0 when unset
}

// Commands renders the plan as an IOS config batch.
func (p PortPlan) Commands() []string {
	cmds := []string{"interface " + p.Port}
	if p.Mode == PortModeAccess {
		cmds = append(cmds,
			"switchport",
			"switchport mode access",
			fmt.Sprintf("switchport access vlan %d", p.AccessVLAN),
			"no shutdown",
		)
		return cmds
	}
	cmds = append(cmds,
		"switchport",
		"switchport mode trunk",
		"switchport trunk allowed vlan "+vlanList(p.Allowed),
		"no shutdown",
	)
	if p.Native != 0 {
		cmds = append(cmds, fmt.Sprintf("switchport trunk native vlan %d", p.Native))
	}
	return cmds
}

// String describes the plan for logging.
func (p PortPlan) String() string {
	if p.Mode == PortModeAccess {
		return fmt.Sprintf("%s -> ACCESS vlan %d", p.Port, p.AccessVLAN)
	}
	if p.Native != 0 {
		return fmt.Sprintf("%s -> TRUNK allowed [%s] native %d", p.Port, vlanList(p.Allowed), p.Native)
	}
	return fmt.Sprintf("%s -> TRUNK allowed [%s]", p.Port, vlanList(p.Allowed))
}

// BuildSwitchPlan shuffles the eligible connected ports, takes up to
// four, and assigns each a random access VLAN or (with low probability)
// a trunk with a random allowed list and native VLAN. The eligible
// list must already have exclusions applied; an empty list fails
// closed.
func BuildSwitchPlan(sel *Selector, eligible []string) ([]PortPlan, error) {
	if len(eligible) == 0 {
		return nil, &NoSafeFaultError{Label: "switch", Reason: "no eligible connected ports after exclusions"}
	}

	shuffled := append([]string(nil), eligible...)
	sel.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	if len(shuffled) > maxPlannedPorts {
		shuffled = shuffled[:maxPlannedPorts]
	}

	exclude := map[int]bool{mgmtVLAN: true}
	plans := make([]PortPlan, 0, len(shuffled))
	for _, port := range shuffled {
		if sel.Float64() < trunkProbability {
			count := trunkAllowedMin + sel.Intn(trunkAllowedMax-trunkAllowedMin+1)
			allowed, err := randVLANList(sel, count, exclude)
			if err != nil {
				return nil, err
			}
			excludeWithAllowed := map[int]bool{mgmtVLAN: true}
			for _, v := range allowed {
				excludeWithAllowed[v] = true
			}
			native, err := randVLAN(sel, excludeWithAllowed)
			if err != nil {
				return nil, err
			}
			plans = append(plans, PortPlan{Port: port, Mode: PortModeTrunk, Allowed: allowed, Native: native})
			continue
		}
		vlan, err := randVLAN(sel, exclude)
		if err != nil {
			return nil, err
		}
		plans = append(plans, PortPlan{Port: port, Mode: PortModeAccess, AccessVLAN: vlan})
	}
	return plans, nil
}

// VLANsToCreate collects every VLAN the plan references, sorted.
func VLANsToCreate(plans []PortPlan) []int {
	seen := map[int]bool{}
	for _, p := range plans {
		if p.AccessVLAN != 0 {
			seen[p.AccessVLAN] = true
		}
		for _, v := range p.Allowed {
			seen[v] = true
		}
		if p.Native != 0 {
			seen[p.Native] = true
		}
	}
	vlans := make([]int, 0, len(seen))
	for v := range seen {
		vlans = append(vlans, v)
	}
	sort.Ints(vlans)
	return vlans
}

// VLANCommands renders the VLAN-creation batch.
func VLANCommands(vlans []int) []string {
	cmds := make([]string, 0, len(vlans)*2)
	for _, v := range vlans {
		cmds = append(cmds, fmt.Sprintf("vlan %d", v), "exit")
	}
	return cmds
}

// randVLAN draws a VLAN ID outside the exclude set. Random draws
// first, then a linear sweep so a dense exclude set still terminates.
func randVLAN(sel *Selector, exclude map[int]bool) (int, error) {
	for i := 0; i < 50; i++ {
		v := vlanMin + sel.Intn(vlanMax-vlanMin+1)
		if !exclude[v] {
			return v, nil
		}
	}
	for v := vlanMin; v <= vlanMax; v++ {
		if !exclude[v] {
			return v, nil
		}
	}
	return 0, fmt.Errorf("no VLAN IDs available")
}

func randVLANList(sel *Selector, count int, exclude map[int]bool) ([]int, error) {
	picked := map[int]bool{}
	for k := range exclude {
		picked[k] = true
	}
	vlans := make([]int, 0, count)
	for len(vlans) < count {
		v, err := randVLAN(sel, picked)
		if err != nil {
			return nil, err
		}
		picked[v] = true
		vlans = append(vlans, v)
	}
	sort.Ints(vlans)
	return vlans, nil
}

func vlanList(vlans []int) string {
	parts := make([]string, len(vlans))
	for i, v := range vlans {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
