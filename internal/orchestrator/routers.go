package orchestrator

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/HerbHall/uproot/internal/fault"
	"github.com/HerbHall/uproot/internal/session"
	"github.com/HerbHall/uproot/pkg/models"
)

// RouterTarget pairs a router with its catalog mode. Safe restricts
// the catalog to south-side faults so the device stays reachable from
// the north for restore.
type RouterTarget struct {
	Device models.Device
	Safe   bool
}

// BreakRouters injects one fault per router, in the given order. The
// upstream router normally goes first in safe mode so the path to the
// downstream one survives its own fault.
func (r *Runner) BreakRouters(ctx context.Context, targets []RouterTarget) []FaultResult {
	results := make([]FaultResult, 0, len(targets))
	for _, t := range targets {
		res := r.breakRouter(ctx, t)
		r.record(ctx, res)
		results = append(results, res)
	}
	return results
}

func (r *Runner) breakRouter(ctx context.Context, t RouterTarget) FaultResult {
	res := FaultResult{Device: t.Device.Label}
	log := r.logger.With(zap.String("device", t.Device.Label))

	sess, err := r.openCLI(ctx, t.Device)
	if err != nil {
		res.Err = err
		log.Error("router session failed", zap.Error(err))
		return res
	}
	defer sess.Close()

	// Discover logs the discovered orientation itself.
	fc, err := r.probe.Discover(ctx, sess)
	if err != nil {
		res.Err = err
		log.Error("topology discovery failed", zap.Error(err))
		return res
	}

	catalog := fault.RouterFaults(fc)
	if t.Safe {
		catalog = fault.RouterFaultsSafe(fc)
	}
	chosen, err := fault.Choose(r.selector, t.Device.Label, catalog)
	if err != nil {
		res.Err = err
		return res
	}
	res.Fault = chosen.Name
	res.Target = fc.NorthIf
	if t.Safe {
		res.Target = fc.SouthIf
	}
	log.Info("selected fault", zap.String("fault", chosen.Name))

	if !r.Apply {
		log.Warn("dry run, changes not applied", zap.Strings("commands", chosen.Commands))
		return res
	}

	err = sess.Apply(ctx, session.ChangeSet{Commands: chosen.Commands})
	if err != nil {
		// Some faults sever the path the telnet session rides on.
		if errors.Is(err, session.ErrSessionDropped) {
			log.Info("telnet dropped during commit, expected for this fault type")
			res.Applied = true
			return res
		}
		res.Err = err
		log.Error("applying fault failed", zap.String("fault", chosen.Name), zap.Error(err))
		return res
	}
	res.Applied = true

	if r.WriteMemory {
		if err := sess.Save(ctx); err != nil {
			log.Warn("write memory failed", zap.Error(err))
		}
	}
	log.Info("router broken", zap.String("fault", chosen.Name))
	return res
}
