package restore

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/uproot/internal/session"
	"github.com/HerbHall/uproot/pkg/models"
)

const replaceCommand = "configure replace unix:golden-backup.cfg force"

// cliConn is the slice of session.CLISession a restore needs.
type cliConn interface {
	Run(ctx context.Context, command string) (string, error)
	Save(ctx context.Context) error
	Close() error
}

// CLIRestore rolls a router or switch back to its golden backup by
// replacing the running config in place. No reboot is involved.
type CLIRestore struct {
	// WriteMemory persists the replaced config to startup config.
	WriteMemory bool

	logger *zap.Logger

	// open is overridable for tests.
	open func(ctx context.Context, device models.Device) (cliConn, error)
}

// NewCLIRestore creates a restorer for telnet-managed devices.
func NewCLIRestore(writeMemory bool, logger *zap.Logger) *CLIRestore {
	return &CLIRestore{
		WriteMemory: writeMemory,
		logger:      logger,
		open: func(ctx context.Context, device models.Device) (cliConn, error) {
			return session.OpenCLI(ctx, device, session.CLIOptions{}, logger)
		},
	}
}

// Restore reconnects to the device and replaces its running config
// with the golden backup stored on the device during lab setup.
func (r *CLIRestore) Restore(ctx context.Context, device models.Device) (outcome models.RestoreOutcome) {
	outcome = models.RestoreOutcome{
		Label:     device.Label,
		StartedAt: time.Now(),
	}
	defer func() { outcome.FinishedAt = time.Now() }()

	log := r.logger.With(zap.String("device", device.Label))
	log.Info("restoring running config from golden backup")

	conn, err := r.open(ctx, device)
	if err != nil {
		outcome.Reason = fmt.Sprintf("connect: %v", err)
		log.Error("cli connect failed", zap.Error(err))
		return outcome
	}
	defer conn.Close()

	out, err := conn.Run(ctx, replaceCommand)
	if err != nil {
		outcome.Reason = fmt.Sprintf("config replace: %v", err)
		log.Error("config replace failed", zap.Error(err))
		return outcome
	}
	log.Debug("config replace output", zap.String("output", out))

	if r.WriteMemory {
		if err := conn.Save(ctx); err != nil {
			outcome.Reason = fmt.Sprintf("write memory: %v", err)
			log.Error("saving config failed", zap.Error(err))
			return outcome
		}
	}

	outcome.Success = true
	log.Info("config replaced", zap.Bool("persisted", r.WriteMemory))
	return outcome
}
