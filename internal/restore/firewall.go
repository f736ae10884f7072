package restore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/uproot/internal/probe"
	"github.com/HerbHall/uproot/pkg/models"
)

const (
	remoteConfigPath = "/conf/config.xml"
	bootIDCommand    = "sysctl -n kern.boottime"
	rebootCommand    = "reboot"

	defaultSettleDelay   = 15 * time.Second
	defaultDropTimeout   = 60 * time.Second
	defaultReturnTimeout = 300 * time.Second
	defaultSSHPort       = 22
)

// VerificationError reports a restore that completed its command
// sequence but could not be confirmed: the device never returned, or it
// returned without actually rebooting.
type VerificationError struct {
	Label  string
	Reason string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("restore verification failed for %s: %s", e.Label, e.Reason)
}

// FirewallRestore pushes a baseline config over SSH, reboots the
// device, and verifies the reboot by comparing boot identities.
type FirewallRestore struct {
	// BaselinePath is the local baseline config for this device.
	BaselinePath string

	SettleDelay   time.Duration
	DropTimeout   time.Duration
	ReturnTimeout time.Duration
	SSHPort       int

	logger *zap.Logger

	// overridable for tests
	openControl func(ctx context.Context, device models.Device, port int, timeout time.Duration) (controlClient, error)
	readFile    func(name string) ([]byte, error)
	waitDown    func(ctx context.Context, host string, port int) bool
	waitUp      func(ctx context.Context, host string, port int) bool
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewFirewallRestore creates a restorer with the lab's stock timing.
func NewFirewallRestore(baselinePath string, logger *zap.Logger) *FirewallRestore {
	r := &FirewallRestore{
		BaselinePath:  baselinePath,
		SettleDelay:   defaultSettleDelay,
		DropTimeout:   defaultDropTimeout,
		ReturnTimeout: defaultReturnTimeout,
		SSHPort:       defaultSSHPort,
		logger:        logger,
		openControl:   openSSHControl,
		readFile:      os.ReadFile,
		sleep:         sleepCtx,
	}
	r.waitDown = func(ctx context.Context, host string, port int) bool {
		return probe.NewWaiter(r.DropTimeout, 2*time.Second, logger).WaitTCPDown(ctx, host, port)
	}
	r.waitUp = func(ctx context.Context, host string, port int) bool {
		return probe.NewWaiter(r.ReturnTimeout, 3*time.Second, logger).WaitTCPUp(ctx, host, port)
	}
	return r
}

// BootIdentity captures the device's boot timestamp over an open
// control channel. An empty or failed read is reported as
// models.BootIDUnknown, older firmware does not expose the value.
func BootIdentity(ctx context.Context, ctl controlClient) string {
	out, err := ctl.Run(ctx, bootIDCommand)
	if err != nil {
		return models.BootIDUnknown
	}
	return strings.TrimSpace(out)
}

// Restore drives the full push-reboot-verify sequence for one firewall
// and reports the outcome. The outcome always carries a reason on
// failure; it never panics or aborts sibling devices.
func (r *FirewallRestore) Restore(ctx context.Context, device models.Device) (outcome models.RestoreOutcome) {
	outcome = models.RestoreOutcome{
		Label:     device.Label,
		StartedAt: time.Now(),
	}
	defer func() { outcome.FinishedAt = time.Now() }()

	log := r.logger.With(zap.String("device", device.Label))

	baseline, err := r.readFile(r.BaselinePath)
	if err != nil {
		outcome.Reason = fmt.Sprintf("baseline missing: %v", err)
		log.Error("baseline config not readable", zap.String("path", r.BaselinePath), zap.Error(err))
		return outcome
	}

	ctl, err := r.openControl(ctx, device, r.SSHPort, 10*time.Second)
	if err != nil {
		outcome.Reason = fmt.Sprintf("control channel: %v", err)
		log.Error("ssh connect failed", zap.Error(err))
		return outcome
	}

	log.Info("pushing baseline config",
		zap.String("from", r.BaselinePath),
		zap.String("to", remoteConfigPath))
	if err := ctl.Upload(ctx, baseline, remoteConfigPath); err != nil {
		ctl.Close()
		outcome.Reason = fmt.Sprintf("baseline push: %v", err)
		log.Error("baseline push failed", zap.Error(err))
		return outcome
	}

	outcome.BootIDBefore = BootIdentity(ctx, ctl)
	if outcome.BootIDBefore == models.BootIDUnknown {
		log.Warn("boot identity unavailable before restart")
	}

	log.Info("config pushed, settling before reboot", zap.Duration("delay", r.SettleDelay))
	if err := r.sleep(ctx, r.SettleDelay); err != nil {
		ctl.Close()
		outcome.Reason = fmt.Sprintf("interrupted: %v", err)
		return outcome
	}

	// The restart drops the transport, so an error from the reboot
	// command itself is expected.
	log.Info("triggering reboot")
	if _, err := ctl.Run(ctx, rebootCommand); err != nil {
		log.Info("transport dropped during reboot command", zap.Error(err))
	}
	ctl.Close()

	log.Info("waiting for management port to drop", zap.Duration("timeout", r.DropTimeout))
	if !r.waitDown(ctx, device.Host, r.SSHPort) {
		log.Warn("management port never observed down, platform may restart too fast")
	}

	log.Info("waiting for management port to return", zap.Duration("timeout", r.ReturnTimeout))
	if !r.waitUp(ctx, device.Host, r.SSHPort) {
		verr := &VerificationError{Label: device.Label, Reason: "management port did not return after reboot"}
		outcome.Reason = verr.Error()
		log.Error("device did not return", zap.Duration("waited", r.ReturnTimeout))
		return outcome
	}

	ctl, err = r.openControl(ctx, device, r.SSHPort, 10*time.Second)
	if err != nil {
		verr := &VerificationError{Label: device.Label, Reason: fmt.Sprintf("reconnect after reboot: %v", err)}
		outcome.Reason = verr.Error()
		return outcome
	}
	outcome.BootIDAfter = BootIdentity(ctx, ctl)
	ctl.Close()

	if !outcome.Rebooted() {
		verr := &VerificationError{Label: device.Label, Reason: "reachable but did not reboot"}
		outcome.Reason = verr.Error()
		log.Error("boot identity unchanged after restart",
			zap.String("boot_id", outcome.BootIDBefore))
		return outcome
	}

	outcome.Success = true
	log.Info("restore verified",
		zap.String("boot_id_before", outcome.BootIDBefore),
		zap.String("boot_id_after", outcome.BootIDAfter))
	return outcome
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
