package restore

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/uproot/internal/probe"
	"github.com/HerbHall/uproot/pkg/models"
)

const (
	telnetPort        = 23
	telnetWaitTimeout = 240 * time.Second
	gatewayTimeout    = 300 * time.Second
)

// Restorer returns one device to baseline and reports the outcome.
type Restorer interface {
	Restore(ctx context.Context, device models.Device) models.RestoreOutcome
}

// Target pairs a device with the restorer that handles it. Firewalls
// carry per-device baselines, so each gets its own restorer.
type Target struct {
	Device   models.Device
	Restorer Restorer
}

// Journal records restore outcomes for the run. Defined here on the
// consumer side; the store package implements it.
type Journal interface {
	RecordRestore(ctx context.Context, outcome models.RestoreOutcome) error
}

// Coordinator serializes the full lab rollback. Ordering matters: the
// firewalls come back first, then the switch, then the lab gateway must
// answer before the routers are reachable at all.
type Coordinator struct {
	Firewalls []Target
	Switch    *Target
	Routers   []Target

	// GatewayLink is the local interface whose default gateway proves
	// the path into the lab is back, typically ens4.
	GatewayLink string

	journal Journal
	logger  *zap.Logger

	// overridable for tests
	waitGateway func(ctx context.Context) (string, error)
	waitTelnet  func(ctx context.Context, host string) bool
}

// NewCoordinator wires a coordinator with the lab's stock waits.
// journal may be nil when the run journal is disabled.
func NewCoordinator(gatewayLink string, journal Journal, logger *zap.Logger) *Coordinator {
	c := &Coordinator{
		GatewayLink: gatewayLink,
		journal:     journal,
		logger:      logger,
	}
	c.waitGateway = func(ctx context.Context) (string, error) {
		gw := probe.NewGatewayWait(c.GatewayLink, probe.NewWaiter(gatewayTimeout, 3*time.Second, logger), logger)
		return gw.Wait(ctx)
	}
	c.waitTelnet = func(ctx context.Context, host string) bool {
		w := probe.NewWaiter(telnetWaitTimeout, 3*time.Second, logger)
		return w.WaitTCPUp(ctx, host, telnetPort)
	}
	return c
}

// RollbackAll restores every device in dependency order and returns
// the per-device outcomes. A device's failure never prevents an attempt
// on its siblings, but a dead lab gateway blocks the router stage since
// the routers sit behind it.
func (c *Coordinator) RollbackAll(ctx context.Context) []models.RestoreOutcome {
	var outcomes []models.RestoreOutcome

	record := func(o models.RestoreOutcome) {
		outcomes = append(outcomes, o)
		if o.Success {
			c.logger.Info("restore succeeded", zap.String("device", o.Label))
		} else {
			c.logger.Error("restore failed",
				zap.String("device", o.Label),
				zap.String("reason", o.Reason))
		}
		if c.journal != nil {
			if err := c.journal.RecordRestore(ctx, o); err != nil {
				c.logger.Warn("journal write failed", zap.String("device", o.Label), zap.Error(err))
			}
		}
	}

	for _, t := range c.Firewalls {
		record(t.Restorer.Restore(ctx, t.Device))
	}

	if c.Switch != nil {
		record(c.Switch.Restorer.Restore(ctx, c.Switch.Device))
	}

	if len(c.Routers) > 0 {
		c.logger.Info("waiting for lab gateway before router stage", zap.String("link", c.GatewayLink))
		if _, err := c.waitGateway(ctx); err != nil {
			c.logger.Error("lab gateway never returned, router stage blocked", zap.Error(err))
			now := time.Now()
			for _, t := range c.Routers {
				record(models.RestoreOutcome{
					Label:      t.Device.Label,
					Reason:     fmt.Sprintf("blocked: %v", err),
					StartedAt:  now,
					FinishedAt: now,
				})
			}
			return outcomes
		}
	}

	for _, t := range c.Routers {
		c.logger.Info("waiting for telnet", zap.String("device", t.Device.Label), zap.String("host", t.Device.Host))
		if !c.waitTelnet(ctx, t.Device.Host) {
			now := time.Now()
			record(models.RestoreOutcome{
				Label:      t.Device.Label,
				Reason:     fmt.Sprintf("telnet on %s:%d did not come up", t.Device.Host, telnetPort),
				StartedAt:  now,
				FinishedAt: now,
			})
			continue
		}
		record(t.Restorer.Restore(ctx, t.Device))
	}

	return outcomes
}
