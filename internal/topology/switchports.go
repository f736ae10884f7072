package topology

import (
	"context"
	"strings"

	"github.com/HerbHall/uproot/internal/session"
)

// ConnectedPorts returns the names of switchports currently in the
// "connected" state, in table order. Both structured records and the
// raw "show interfaces status" table are accepted.
func (p *Probe) ConnectedPorts(ctx context.Context, sess session.Session) ([]string, error) {
	res, err := sess.Query(ctx, "show interfaces status")
	if err != nil {
		return nil, err
	}

	if len(res.Records) > 0 {
		var ports []string
		for _, rec := range res.Records {
			port := firstString(rec, []string{"port", "interface", "intf"})
			status := firstString(rec, []string{"status"})
			if port != "" && strings.EqualFold(status, "connected") {
				ports = append(ports, port)
			}
		}
		return ports, nil
	}
	return parseStatusTable(res.Raw), nil
}

// parseStatusTable scans the text table for connected rows. The port
// name is the first column; "connected" appears in the status column.
func parseStatusTable(raw string) []string {
	var ports []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(strings.ToLower(line), "port") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		for _, f := range parts[1:] {
			if strings.EqualFold(f, "connected") {
				ports = append(ports, parts[0])
				break
			}
		}
	}
	return ports
}
