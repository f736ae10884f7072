package topology

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/HerbHall/uproot/internal/session"
	"github.com/HerbHall/uproot/pkg/models"
)

// fakeSession serves canned query results keyed by target.
type fakeSession struct {
	device  models.Device
	results map[string]*session.Result
}

func (f *fakeSession) Device() models.Device { return f.device }

func (f *fakeSession) Query(_ context.Context, target string) (*session.Result, error) {
	if res, ok := f.results[target]; ok {
		return res, nil
	}
	return nil, &session.QueryError{Label: f.device.Label, Target: target, Err: errors.New("no canned result")}
}

func (f *fakeSession) Apply(context.Context, session.ChangeSet) error { return nil }
func (f *fakeSession) Close() error                                   { return nil }

func cliDevice() models.Device {
	return models.Device{Label: "SP-ROUTER1", Role: models.RoleRouter, Protocol: models.ProtocolCLI}
}

const briefTable = `Interface                  IP-Address      OK? Method Status                Protocol
Ethernet0/0                10.0.12.1       YES NVRAM  up                    up
Ethernet0/1                10.0.23.1       YES NVRAM  up                    up
Ethernet0/2                unassigned      YES NVRAM  administratively down down
Loopback0                  192.168.255.1   YES NVRAM  up                    up
`

func TestInterfacesRawFallback(t *testing.T) {
	sess := &fakeSession{
		device: cliDevice(),
		results: map[string]*session.Result{
			"show ip interface brief": {Raw: briefTable},
		},
	}

	rows, err := NewProbe(zap.NewNop()).Interfaces(context.Background(), sess)
	if err != nil {
		t.Fatalf("Interfaces() error = %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("Interfaces() returned %d rows, want 4", len(rows))
	}
	if rows[0].Name != "Ethernet0/0" || rows[0].Address != "10.0.12.1" {
		t.Errorf("row[0] = %+v", rows[0])
	}
	if rows[2].Protocol != "down" {
		t.Errorf("row[2].Protocol = %q, want down", rows[2].Protocol)
	}
}

func TestInterfacesStructuredRecords(t *testing.T) {
	sess := &fakeSession{
		device: cliDevice(),
		results: map[string]*session.Result{
			"show ip interface brief": {
				Records: []map[string]any{
					{"intf": "Ethernet0/0", "ipaddr": "10.0.12.1", "status": "up", "proto": "up"},
					{"interface": "Ethernet0/1", "ip_address": "10.0.23.1", "interface_status": "up", "line_protocol": "up"},
				},
			},
		},
	}

	rows, err := NewProbe(zap.NewNop()).Interfaces(context.Background(), sess)
	if err != nil {
		t.Fatalf("Interfaces() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Interfaces() returned %d rows, want 2", len(rows))
	}
	if rows[1].Name != "Ethernet0/1" || rows[1].Address != "10.0.23.1" {
		t.Errorf("row[1] = %+v", rows[1])
	}
}

func TestClassify(t *testing.T) {
	up := func(name, addr string) models.InterfaceInfo {
		return models.InterfaceInfo{Name: name, Address: addr, Status: "up", Protocol: "up"}
	}
	down := func(name, addr string) models.InterfaceInfo {
		return models.InterfaceInfo{Name: name, Address: addr, Status: "down", Protocol: "down"}
	}

	tests := []struct {
		name        string
		in          []models.InterfaceInfo
		wantPrimary string
		wantErr     bool
	}{
		{
			name:        "two_up",
			in:          []models.InterfaceInfo{up("Et0/0", "10.0.0.1"), up("Et0/1", "10.0.1.1")},
			wantPrimary: "Et0/0",
		},
		{
			name: "skips_loopback_and_unassigned",
			in: []models.InterfaceInfo{
				up("Loopback0", "192.168.255.1"),
				up("Et0/0", "unassigned"),
				up("Et0/1", "10.0.1.1"),
				up("Et0/2", "10.0.2.1"),
			},
			wantPrimary: "Et0/1",
		},
		{
			name:        "falls_back_to_down_candidates",
			in:          []models.InterfaceInfo{down("Et0/0", "10.0.0.1"), down("Et0/1", "10.0.1.1")},
			wantPrimary: "Et0/0",
		},
		{
			name:    "too_few",
			in:      []models.InterfaceInfo{up("Et0/0", "10.0.0.1")},
			wantErr: true,
		},
	}

	p := NewProbe(zap.NewNop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary, _, err := p.Classify("SP-ROUTER1", tt.in)
			if tt.wantErr {
				var topoErr *TopologyError
				if !errors.As(err, &topoErr) {
					t.Fatalf("Classify() error = %v, want *TopologyError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}
			if primary.Name != tt.wantPrimary {
				t.Errorf("primary = %q, want %q", primary.Name, tt.wantPrimary)
			}
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	in := []models.InterfaceInfo{
		{Name: "Et0/0", Address: "10.0.0.1", Status: "up", Protocol: "up"},
		{Name: "Et0/1", Address: "10.0.1.1", Status: "up", Protocol: "up"},
		{Name: "Et0/2", Address: "10.0.2.1", Status: "up", Protocol: "up"},
	}

	p := NewProbe(zap.NewNop())
	p1, s1, err := p.Classify("r1", in)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		p2, s2, err := p.Classify("r1", in)
		if err != nil {
			t.Fatalf("Classify() error = %v", err)
		}
		if p1.Name != p2.Name || s1.Name != s2.Name {
			t.Fatalf("Classify() not deterministic: (%s,%s) vs (%s,%s)", p1.Name, s1.Name, p2.Name, s2.Name)
		}
	}
}

func TestParseDefaultRouteOwner(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "static_default",
			raw: `Routing entry for 0.0.0.0/0, supernet
S*    0.0.0.0/0 [1/0] via 10.0.12.2, Ethernet0/0`,
			want: "Ethernet0/0",
		},
		{
			name: "no_default",
			raw:  "% Network not in table",
			want: "",
		},
		{
			name: "next_hop_only",
			raw:  `S*    0.0.0.0/0 [1/0] via 10.0.12.2`,
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseDefaultRouteOwner(tt.raw); got != tt.want {
				t.Errorf("parseDefaultRouteOwner() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOrient(t *testing.T) {
	a := models.InterfaceInfo{Name: "Et0/0"}
	b := models.InterfaceInfo{Name: "Et0/1"}

	north, south := Orient(a, b, "Et0/1")
	if north.Name != "Et0/1" || south.Name != "Et0/0" {
		t.Errorf("Orient(owner=Et0/1) = (%s,%s), want (Et0/1,Et0/0)", north.Name, south.Name)
	}

	north, south = Orient(a, b, "")
	if north.Name != "Et0/0" || south.Name != "Et0/1" {
		t.Errorf("Orient(owner unknown) = (%s,%s), want (Et0/0,Et0/1)", north.Name, south.Name)
	}

	north, south = Orient(a, b, "Et9/9")
	if north.Name != "Et0/0" {
		t.Errorf("Orient(owner unmatched) north = %s, want Et0/0", north.Name)
	}
}

func TestDiscover(t *testing.T) {
	sess := &fakeSession{
		device: cliDevice(),
		results: map[string]*session.Result{
			"show ip interface brief": {Raw: briefTable},
			"show ip route 0.0.0.0": {Raw: `S*    0.0.0.0/0 [1/0] via 10.0.23.2, Ethernet0/1`},
			"show ip interface Ethernet0/0": {Raw: `Ethernet0/0 is up, line protocol is up
  Internet address is 10.0.12.1/24`},
			"show ip interface Ethernet0/1": {Raw: `Ethernet0/1 is up, line protocol is up
  Internet address is 10.0.23.1/30`},
		},
	}

	fc, err := NewProbe(zap.NewNop()).Discover(context.Background(), sess)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if fc.NorthIf != "Ethernet0/1" {
		t.Errorf("NorthIf = %q, want Ethernet0/1", fc.NorthIf)
	}
	if fc.SouthIf != "Ethernet0/0" {
		t.Errorf("SouthIf = %q, want Ethernet0/0", fc.SouthIf)
	}
	if fc.SouthNet == nil || fc.SouthNet.String() != "10.0.12.0/24" {
		t.Errorf("SouthNet = %v, want 10.0.12.0/24", fc.SouthNet)
	}
}
