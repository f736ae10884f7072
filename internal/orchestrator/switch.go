package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/HerbHall/uproot/internal/fault"
	"github.com/HerbHall/uproot/internal/session"
	"github.com/HerbHall/uproot/pkg/models"
)

// BreakSwitch scrambles VLAN assignments on a random subset of
// connected switchports. staticExclusions are port names that must
// never be touched; the operator's own port is detected and added
// automatically. An empty eligible pool fails closed.
func (r *Runner) BreakSwitch(ctx context.Context, device models.Device, staticExclusions []string) []FaultResult {
	log := r.logger.With(zap.String("device", device.Label))

	sess, err := r.openCLI(ctx, device)
	if err != nil {
		log.Error("switch session failed", zap.Error(err))
		return []FaultResult{{Device: device.Label, Err: err}}
	}
	defer sess.Close()

	exclusions := fault.NewExclusionSet(staticExclusions...)
	hostPort, err := r.detector.Detect(ctx, sess, device.Host)
	switch {
	case err != nil:
		log.Warn("host port auto-detect failed, continuing", zap.Error(err))
	case hostPort == "":
		log.Warn("host MAC not found in switch table, no auto-exclusion")
	default:
		exclusions.Add(hostPort)
		log.Info("auto-excluding host switchport", zap.String("port", hostPort))
	}

	ports, err := r.probe.ConnectedPorts(ctx, sess)
	if err != nil {
		log.Error("listing switchports failed", zap.Error(err))
		return []FaultResult{{Device: device.Label, Err: err}}
	}

	plans, err := fault.BuildSwitchPlan(r.selector, exclusions.Eligible(ports))
	if err != nil {
		log.Error("no eligible switchports", zap.Error(err))
		return []FaultResult{{Device: device.Label, Err: err}}
	}

	for _, p := range plans {
		log.Info("planned change", zap.String("plan", p.String()))
	}

	results := make([]FaultResult, 0, len(plans))
	if !r.Apply {
		log.Warn("dry run, changes not applied")
		for _, p := range plans {
			res := FaultResult{Device: device.Label, Fault: string(p.Mode) + "_vlan", Target: p.Port}
			r.record(ctx, res)
			results = append(results, res)
		}
		return results
	}

	// VLANs must exist before ports are moved into them.
	vlanCmds := fault.VLANCommands(fault.VLANsToCreate(plans))
	if len(vlanCmds) > 0 {
		if err := sess.Apply(ctx, session.ChangeSet{Commands: vlanCmds}); err != nil {
			log.Error("creating VLANs failed", zap.Error(err))
			return []FaultResult{{Device: device.Label, Err: err}}
		}
	}

	for _, p := range plans {
		res := FaultResult{Device: device.Label, Fault: string(p.Mode) + "_vlan", Target: p.Port}
		if err := sess.Apply(ctx, session.ChangeSet{Commands: p.Commands()}); err != nil {
			res.Err = err
			log.Error("port change failed", zap.String("port", p.Port), zap.Error(err))
		} else {
			res.Applied = true
		}
		r.record(ctx, res)
		results = append(results, res)
	}

	if r.WriteMemory {
		if err := sess.Save(ctx); err != nil {
			log.Warn("write memory failed", zap.Error(err))
		}
	}
	log.Info("switch broken", zap.Int("ports", len(plans)))
	return results
}
