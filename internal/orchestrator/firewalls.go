package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/HerbHall/uproot/internal/fault"
	"github.com/HerbHall/uproot/pkg/models"
)

// BreakFirewalls injects one randomly chosen fault into each firewall.
// A device's failure never stops the remaining firewalls.
func (r *Runner) BreakFirewalls(ctx context.Context, firewalls []models.Device) []FaultResult {
	results := make([]FaultResult, 0, len(firewalls))
	for _, device := range firewalls {
		res := r.breakFirewall(ctx, device)
		r.record(ctx, res)
		results = append(results, res)
	}
	return results
}

func (r *Runner) breakFirewall(ctx context.Context, device models.Device) FaultResult {
	res := FaultResult{Device: device.Label}
	log := r.logger.With(zap.String("device", device.Label))

	sess, err := r.openREST(ctx, device)
	if err != nil {
		res.Err = err
		log.Error("firewall session failed", zap.Error(err))
		return res
	}
	defer sess.Close()

	chosen, err := fault.Choose(r.selector, device.Label, fault.FirewallFaults())
	if err != nil {
		res.Err = err
		return res
	}
	res.Fault = chosen.Name
	log.Info("selected fault", zap.String("fault", chosen.Name), zap.String("api", sess.Prefix()))

	changes, err := chosen.Build(ctx, sess)
	if err != nil {
		res.Err = err
		log.Error("building fault failed", zap.String("fault", chosen.Name), zap.Error(err))
		return res
	}

	if !r.Apply {
		log.Warn("dry run, changes not applied", zap.String("fault", chosen.Name))
		return res
	}

	if err := sess.Apply(ctx, changes); err != nil {
		res.Err = err
		log.Error("applying fault failed", zap.String("fault", chosen.Name), zap.Error(err))
		return res
	}

	res.Applied = true
	log.Info("firewall broken", zap.String("fault", chosen.Name))
	return res
}
