package probe

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// GatewayWait discovers the default gateway reachable through a named
// local link and pings it until it answers. It is used after firewall
// reboots to confirm the management path out of the lab host is back.
type GatewayWait struct {
	Device string
	Waiter *Waiter

	logger *zap.Logger

	// routeOutput is overridable for tests.
	routeOutput func(ctx context.Context, dev string) (string, error)
}

// NewGatewayWait creates a gateway waiter bound to a local link name
// such as "ens4".
func NewGatewayWait(device string, waiter *Waiter, logger *zap.Logger) *GatewayWait {
	return &GatewayWait{
		Device:      device,
		Waiter:      waiter,
		logger:      logger,
		routeOutput: defaultRouteOutput,
	}
}

func defaultRouteOutput(ctx context.Context, dev string) (string, error) {
	out, err := exec.CommandContext(ctx, "ip", "route", "show", "default", "dev", dev).Output()
	if err != nil {
		return "", fmt.Errorf("listing default routes on %s: %w", dev, err)
	}
	return string(out), nil
}

// Gateway returns the next-hop address of the default route on the
// configured link.
func (g *GatewayWait) Gateway(ctx context.Context) (string, error) {
	out, err := g.routeOutput(ctx, g.Device)
	if err != nil {
		return "", err
	}
	gw := parseGateway(out)
	if gw == "" {
		return "", fmt.Errorf("no default gateway on %s", g.Device)
	}
	return gw, nil
}

// Wait blocks until the link's default gateway answers a ping. The
// route lookup is retried on every poll since the route itself may be
// absent while the upstream device reboots.
func (g *GatewayWait) Wait(ctx context.Context) (string, error) {
	var gw string
	ok := g.Waiter.WaitFor(ctx, func(ctx context.Context) bool {
		addr, err := g.Gateway(ctx)
		if err != nil {
			g.logger.Debug("gateway not yet routable", zap.String("device", g.Device), zap.Error(err))
			return false
		}
		gw = addr
		return g.Waiter.ping(ctx, addr)
	})
	if !ok {
		return "", fmt.Errorf("gateway on %s unreachable after %s", g.Device, g.Waiter.Timeout)
	}
	g.logger.Info("gateway reachable", zap.String("device", g.Device), zap.String("gateway", gw))
	return gw, nil
}

// parseGateway extracts the next-hop from "default via A.B.C.D ..."
// route output. The first route line wins.
func parseGateway(out string) string {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		for i := 0; i+1 < len(fields); i++ {
			if fields[i] == "via" {
				return fields[i+1]
			}
		}
	}
	return ""
}
