package fault

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/HerbHall/uproot/internal/session"
)

// ExclusionSet is the run-wide set of protected interfaces. It is
// populated during discovery and read-only afterwards; a fault is never
// applied to a member.
type ExclusionSet map[string]struct{}

// NewExclusionSet seeds the set with statically configured names.
func NewExclusionSet(names ...string) ExclusionSet {
	s := make(ExclusionSet, len(names))
	for _, n := range names {
		s.Add(n)
	}
	return s
}

// Add marks an interface as protected.
func (s ExclusionSet) Add(name string) {
	if name != "" {
		s[name] = struct{}{}
	}
}

// Contains reports whether an interface is protected.
func (s ExclusionSet) Contains(name string) bool {
	_, ok := s[name]
	return ok
}

// Eligible filters a candidate list down to unprotected members,
// preserving order.
func (s ExclusionSet) Eligible(candidates []string) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if !s.Contains(c) {
			out = append(out, c)
		}
	}
	return out
}

var devRe = regexp.MustCompile(`\bdev\s+(\S+)`)
var portRe = regexp.MustCompile(`^[A-Za-z]`)

// HostPortDetector locates the switchport that carries the operator's
// own traffic, by matching the local egress interface's hardware
// address against the switch's MAC address table. That port must never
// be a fault target or the run saws off its own branch.
type HostPortDetector struct {
	logger *zap.Logger

	// overridable for tests
	routeOutput func(ctx context.Context, dest string) (string, error)
	ifaceMAC    func(iface string) (string, error)
}

// NewHostPortDetector creates a detector using the host's routing
// table and sysfs.
func NewHostPortDetector(logger *zap.Logger) *HostPortDetector {
	return &HostPortDetector{
		logger:      logger,
		routeOutput: ipRouteGet,
		ifaceMAC:    sysfsMAC,
	}
}

// Detect returns the switchport behind the local egress interface
// toward dest, or "" when the switch's table has no matching entry.
func (d *HostPortDetector) Detect(ctx context.Context, sess session.Session, dest string) (string, error) {
	out, err := d.routeOutput(ctx, dest)
	if err != nil {
		return "", fmt.Errorf("resolve egress interface for %s: %w", dest, err)
	}
	m := devRe.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("no egress interface in route output %q", strings.TrimSpace(out))
	}
	iface := m[1]

	mac, err := d.ifaceMAC(iface)
	if err != nil {
		return "", fmt.Errorf("read MAC of %s: %w", iface, err)
	}
	dotted, err := MACToCiscoDotted(mac)
	if err != nil {
		return "", err
	}

	d.logger.Info("looking up host MAC on switch",
		zap.String("egress", iface),
		zap.String("mac", mac),
	)

	res, err := sess.Query(ctx, "show mac address-table | include "+dotted)
	if err != nil {
		return "", err
	}
	return parseMACTablePort(res.Raw), nil
}

// MACToCiscoDotted converts aa:bb:cc:dd:ee:ff to aabb.ccdd.eeff.
func MACToCiscoDotted(mac string) (string, error) {
	hexchars := strings.ToLower(strings.NewReplacer(":", "", "-", "").Replace(mac))
	if len(hexchars) != 12 {
		return "", fmt.Errorf("unexpected MAC format %q", mac)
	}
	return hexchars[0:4] + "." + hexchars[4:8] + "." + hexchars[8:12], nil
}

// parseMACTablePort extracts the port column from a filtered MAC
// address table, skipping internal pseudo-ports.
func parseMACTablePort(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		parts := strings.Fields(strings.TrimSpace(line))
		if len(parts) < 2 {
			continue
		}
		candidate := parts[len(parts)-1]
		switch strings.ToLower(candidate) {
		case "cpu", "router", "sup":
			continue
		}
		if portRe.MatchString(candidate) {
			return candidate
		}
	}
	return ""
}

func ipRouteGet(ctx context.Context, dest string) (string, error) {
	out, err := exec.CommandContext(ctx, "ip", "-o", "route", "get", dest).Output()
	return string(out), err
}

func sysfsMAC(iface string) (string, error) {
	data, err := os.ReadFile("/sys/class/net/" + iface + "/address")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
