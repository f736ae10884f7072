// Package orchestrator drives the break side of a run: it opens a
// session per device, discovers live topology, selects a fault and
// applies it, isolating every per-device failure from its siblings.
package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/HerbHall/uproot/internal/fault"
	"github.com/HerbHall/uproot/internal/session"
	"github.com/HerbHall/uproot/internal/store"
	"github.com/HerbHall/uproot/internal/topology"
	"github.com/HerbHall/uproot/pkg/models"
)

// Journal records fault events for the run. The store package
// implements it; nil disables journaling.
type Journal interface {
	RecordFault(ctx context.Context, e store.FaultEvent) error
}

// FaultResult reports what happened to one device.
type FaultResult struct {
	Device  string
	Fault   string
	Target  string
	Applied bool
	Err     error
}

// cliSession is the CLI surface the runners drive. Satisfied by
// *session.CLISession; faked in tests.
type cliSession interface {
	session.Session
	Save(ctx context.Context) error
}

// portDetector finds the operator's own switchport so it can be
// excluded from fault targets.
type portDetector interface {
	Detect(ctx context.Context, sess session.Session, dest string) (string, error)
}

// Runner executes break operations under the run's global switches.
type Runner struct {
	// Apply gates every mutating command. False logs the plan only.
	Apply bool
	// WriteMemory persists CLI changes to startup config.
	WriteMemory bool

	selector *fault.Selector
	probe    *topology.Probe
	journal  Journal
	logger   *zap.Logger

	// overridable for tests
	openREST func(ctx context.Context, device models.Device) (*session.RESTSession, error)
	openCLI  func(ctx context.Context, device models.Device) (cliSession, error)
	detector portDetector
}

// NewRunner wires a break runner. journal may be nil.
func NewRunner(apply, writeMemory bool, selector *fault.Selector, journal Journal, logger *zap.Logger) *Runner {
	return &Runner{
		Apply:       apply,
		WriteMemory: writeMemory,
		selector:    selector,
		probe:       topology.NewProbe(logger),
		journal:     journal,
		logger:      logger,
		openREST: func(ctx context.Context, device models.Device) (*session.RESTSession, error) {
			return session.OpenREST(ctx, device, session.RESTOptions{}, logger)
		},
		openCLI: func(ctx context.Context, device models.Device) (cliSession, error) {
			return session.OpenCLI(ctx, device, session.CLIOptions{}, logger)
		},
		detector: fault.NewHostPortDetector(logger),
	}
}

// record journals one fault event, logging journal failures instead of
// surfacing them.
func (r *Runner) record(ctx context.Context, res FaultResult) {
	if r.journal == nil || res.Fault == "" {
		return
	}
	e := store.FaultEvent{
		Device:  res.Device,
		Fault:   res.Fault,
		Target:  res.Target,
		Applied: res.Applied,
	}
	if err := r.journal.RecordFault(ctx, e); err != nil {
		r.logger.Warn("journal write failed", zap.String("device", res.Device), zap.Error(err))
	}
}
