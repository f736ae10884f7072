// Package topology discovers live interface and route state from a
// connected device and classifies interfaces into north-bound (uplink)
// and south-bound (downstream) roles. Nothing here relies on static
// configuration; every answer reflects the device as it is right now.
package topology

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/HerbHall/uproot/internal/session"
	"github.com/HerbHall/uproot/pkg/models"
)

// TopologyError is a fatal per-device failure to classify interfaces.
type TopologyError struct {
	Label  string
	Reason string
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("%s: topology: %s", e.Label, e.Reason)
}

// interfaceNameKeys and friends cover the field-name drift between
// firmware revisions and response shapes.
var (
	interfaceNameKeys = []string{"intf", "interface", "intf_name", "interface_name", "if", "name"}
	addressKeys       = []string{"ipaddr", "ip_address", "ip", "address"}
	statusKeys        = []string{"status", "interface_status", "line_status"}
	protoKeys         = []string{"proto", "protocol", "line_protocol"}
)

var addrRe = regexp.MustCompile(`Internet address is (\d+\.\d+\.\d+\.\d+)/(\d+)`)
var wordRe = regexp.MustCompile(`^[A-Za-z]`)

// Probe reads interface and route state through a device session.
type Probe struct {
	logger *zap.Logger
}

// NewProbe creates a topology probe.
func NewProbe(logger *zap.Logger) *Probe {
	return &Probe{logger: logger}
}

// Interfaces queries the device for interface state and normalizes the
// response into InterfaceInfo rows. Structured records are preferred; a
// missing or unusable structured shape falls back to parsing the raw
// text table.
func (p *Probe) Interfaces(ctx context.Context, sess session.Session) ([]models.InterfaceInfo, error) {
	res, err := sess.Query(ctx, interfacesTarget(sess.Device()))
	if err != nil {
		return nil, err
	}

	if rows := parseRecords(res.Records); len(rows) > 0 {
		return rows, nil
	}
	rows := parseRawTable(res.Raw)
	if len(rows) == 0 {
		p.logger.Debug("interface query produced no rows",
			zap.String("device", sess.Device().Label))
	}
	return rows, nil
}

// Classify picks exactly two non-loopback, address-bearing interfaces,
// preferring both to be operationally up. Identical input always yields
// the same pair.
func (p *Probe) Classify(label string, ifaces []models.InterfaceInfo) (primary, secondary models.InterfaceInfo, err error) {
	var candidates []models.InterfaceInfo
	for _, i := range ifaces {
		if i.IsLoopback() || !i.HasAddress() {
			continue
		}
		candidates = append(candidates, i)
	}

	var up []models.InterfaceInfo
	for _, i := range candidates {
		if i.IsUp() {
			up = append(up, i)
		}
	}
	if len(up) >= 2 {
		return up[0], up[1], nil
	}

	if len(candidates) < 2 {
		return models.InterfaceInfo{}, models.InterfaceInfo{}, &TopologyError{
			Label:  label,
			Reason: fmt.Sprintf("need 2 usable L3 interfaces, found %d", len(candidates)),
		}
	}
	return candidates[0], candidates[1], nil
}

// DefaultRouteOwner inspects the active default route and returns the
// egress interface name, or "" when no default route is identifiable.
func (p *Probe) DefaultRouteOwner(ctx context.Context, sess session.Session) string {
	res, err := sess.Query(ctx, "show ip route 0.0.0.0")
	if err != nil {
		p.logger.Debug("default route query failed",
			zap.String("device", sess.Device().Label), zap.Error(err))
		return ""
	}
	return parseDefaultRouteOwner(res.Raw)
}

// Orient labels the classified pair. When the default-route owner is
// one of the pair, it becomes north-bound; otherwise the first
// classified interface is the default labeling.
func Orient(primary, secondary models.InterfaceInfo, owner string) (north, south models.InterfaceInfo) {
	if owner != "" {
		if owner == secondary.Name {
			return secondary, primary
		}
	}
	return primary, secondary
}

// ConnectedNetwork returns the connected subnet of an interface, or nil
// when the device does not report one.
func (p *Probe) ConnectedNetwork(ctx context.Context, sess session.Session, ifname string) *net.IPNet {
	res, err := sess.Query(ctx, "show ip interface "+ifname)
	if err != nil {
		return nil
	}
	m := addrRe.FindStringSubmatch(res.Raw)
	if m == nil {
		return nil
	}
	_, network, err := net.ParseCIDR(m[1] + "/" + m[2])
	if err != nil {
		return nil
	}
	return network
}

// Discover runs the full sequence (interfaces, classification, route
// orientation, connected subnets) and packages the result as the
// context a fault catalog needs.
func (p *Probe) Discover(ctx context.Context, sess session.Session) (models.FaultContext, error) {
	label := sess.Device().Label

	ifaces, err := p.Interfaces(ctx, sess)
	if err != nil {
		return models.FaultContext{}, err
	}
	primary, secondary, err := p.Classify(label, ifaces)
	if err != nil {
		return models.FaultContext{}, err
	}

	owner := p.DefaultRouteOwner(ctx, sess)
	north, south := Orient(primary, secondary, owner)

	fc := models.FaultContext{
		NorthIf:  north.Name,
		SouthIf:  south.Name,
		NorthNet: p.ConnectedNetwork(ctx, sess, north.Name),
		SouthNet: p.ConnectedNetwork(ctx, sess, south.Name),
	}

	p.logger.Info("topology discovered",
		zap.String("device", label),
		zap.String("north", fc.NorthIf),
		zap.String("south", fc.SouthIf),
		zap.String("south_net", cidrString(fc.SouthNet)),
	)
	return fc, nil
}

func interfacesTarget(d models.Device) string {
	if d.Protocol == models.ProtocolREST {
		return "/interfaces"
	}
	return "show ip interface brief"
}

// parseRecords normalizes structured rows, tolerating field-name drift.
// Returns nil when no record yields an interface name, which triggers
// the raw-table fallback.
func parseRecords(records []map[string]any) []models.InterfaceInfo {
	var rows []models.InterfaceInfo
	for _, rec := range records {
		name := firstString(rec, interfaceNameKeys)
		if name == "" {
			continue
		}
		rows = append(rows, models.InterfaceInfo{
			Name:     name,
			Address:  firstString(rec, addressKeys),
			Status:   firstString(rec, statusKeys),
			Protocol: firstString(rec, protoKeys),
		})
	}
	return rows
}

// parseRawTable parses a "show ip interface brief" style text table.
func parseRawTable(raw string) []models.InterfaceInfo {
	var rows []models.InterfaceInfo
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(strings.ToLower(line), "interface") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 6 {
			continue
		}
		rows = append(rows, models.InterfaceInfo{
			Name:     parts[0],
			Address:  parts[1],
			Status:   parts[len(parts)-2],
			Protocol: parts[len(parts)-1],
		})
	}
	return rows
}

// parseDefaultRouteOwner extracts the egress interface from the static
// default route line.
func parseDefaultRouteOwner(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "S*") && !strings.Contains(line, "0.0.0.0/0") {
			continue
		}
		tokens := strings.Fields(line)
		if len(tokens) == 0 {
			continue
		}
		last := strings.TrimRight(tokens[len(tokens)-1], ",")
		if wordRe.MatchString(last) {
			return last
		}
	}
	return ""
}

func firstString(rec map[string]any, keys []string) string {
	for _, k := range keys {
		if v, ok := rec[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func cidrString(n *net.IPNet) string {
	if n == nil {
		return "unknown"
	}
	return n.String()
}
