package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/HerbHall/uproot/internal/config"
	"github.com/HerbHall/uproot/internal/fault"
	"github.com/HerbHall/uproot/internal/orchestrator"
	"github.com/HerbHall/uproot/internal/restore"
	"github.com/HerbHall/uproot/internal/store"
	"github.com/HerbHall/uproot/internal/version"
)

func main() {
	// Subcommand dispatch (before flag.Parse).
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "break":
			runBreak(os.Args[2:])
			return
		case "restore":
			runRestore(os.Args[2:])
			return
		case "version":
			fmt.Println(version.Info())
			return
		}
	}

	fmt.Fprintln(os.Stderr, "usage: uproot <break|restore|version> [flags]")
	os.Exit(2)
}

// runEnv is everything a subcommand needs after configuration loads.
type runEnv struct {
	v       *viper.Viper
	opts    config.Options
	inv     config.Inventory
	logger  *zap.Logger
	journal *store.Journal
	close   func()
}

func setup(configPath, command string) *runEnv {
	v, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	env := &runEnv{
		v:      v,
		opts:   config.LoadOptions(v),
		inv:    config.Devices(v),
		logger: logger,
		close:  func() { _ = logger.Sync() },
	}

	logger.Info("uproot starting",
		zap.String("version", version.Short()),
		zap.String("command", command),
		zap.Bool("apply_changes", env.opts.ApplyChanges),
	)
	for _, devErr := range env.inv.Errors {
		logger.Warn("device excluded from run", zap.String("device", devErr.Label), zap.String("reason", devErr.Reason))
	}

	if v.GetBool("journal.enabled") {
		db, err := store.Open(v.GetString("journal.path"))
		if err != nil {
			logger.Fatal("failed to open run journal", zap.Error(err))
		}
		ctx := context.Background()
		if err := db.Migrate(ctx); err != nil {
			logger.Fatal("failed to migrate run journal", zap.Error(err))
		}
		journal, err := db.NewRun(ctx, command)
		if err != nil {
			logger.Fatal("failed to register run", zap.Error(err))
		}
		env.journal = journal
		env.close = func() {
			db.Close()
			_ = logger.Sync()
		}
		logger.Info("run journal opened", zap.String("run_id", journal.RunID()))
	}

	return env
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newSelector(opts config.Options) *fault.Selector {
	if opts.Seed != 0 {
		return fault.NewSeededSelector(opts.Seed)
	}
	return fault.NewSelector(rand.New(rand.NewSource(time.Now().UnixNano())))
}

func runBreak(args []string) {
	fs := flag.NewFlagSet("break", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	all := fs.Bool("all", false, "break routers, firewalls and the switch")
	firewalls := fs.Bool("firewalls", false, "break the firewalls")
	routers := fs.Bool("routers", false, "break the service-provider routers")
	sw := fs.Bool("switch", false, "break the switch")
	_ = fs.Parse(args)

	if !*all && !*firewalls && !*routers && !*sw {
		fmt.Fprintln(os.Stderr, "usage: uproot break [-all] [-firewalls] [-routers] [-switch]")
		os.Exit(2)
	}

	env := setup(*configPath, "break")
	defer env.close()

	ctx, cancel := signalContext()
	defer cancel()

	runner := orchestrator.NewRunner(
		env.opts.ApplyChanges,
		env.opts.WriteMemory,
		newSelector(env.opts),
		faultJournal(env.journal),
		env.logger,
	)

	var results []orchestrator.FaultResult

	if *all || *routers {
		results = append(results, runner.BreakRouters(ctx, routerTargets(env.inv))...)
	}
	if *all || *firewalls {
		results = append(results, runner.BreakFirewalls(ctx, env.inv.Firewalls)...)
	}
	if *all || *sw {
		if env.inv.Switch != nil {
			exclusions := env.v.GetStringSlice("exclusions.switch_ports")
			results = append(results, runner.BreakSwitch(ctx, *env.inv.Switch, exclusions)...)
		} else {
			env.logger.Warn("switch not configured, skipping")
		}
	}

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	env.logger.Info("break run finished",
		zap.Int("faults", len(results)),
		zap.Int("failed", failed),
	)
	if failed > 0 {
		env.close()
		os.Exit(1)
	}
}

// routerTargets orders the routers so the upstream one is broken first
// in safe mode, keeping the path to the downstream router alive.
func routerTargets(inv config.Inventory) []orchestrator.RouterTarget {
	var targets []orchestrator.RouterTarget
	for i := len(inv.Routers) - 1; i >= 0; i-- {
		targets = append(targets, orchestrator.RouterTarget{
			Device: inv.Routers[i],
			Safe:   i == len(inv.Routers)-1,
		})
	}
	return targets
}

// faultJournal adapts a possibly-nil journal to the orchestrator's
// interface without handing it a typed nil.
func faultJournal(j *store.Journal) orchestrator.Journal {
	if j == nil {
		return nil
	}
	return j
}

func runRestore(args []string) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	_ = fs.Parse(args)

	env := setup(*configPath, "restore")
	defer env.close()

	ctx, cancel := signalContext()
	defer cancel()

	coord := restore.NewCoordinator(env.opts.GatewayLink, restoreJournal(env.journal), env.logger)
	for _, dev := range env.inv.Firewalls {
		baseline := env.v.GetString("baselines." + dev.Label)
		coord.Firewalls = append(coord.Firewalls, restore.Target{
			Device:   dev,
			Restorer: restore.NewFirewallRestore(baseline, env.logger),
		})
	}
	// Restores are always persisted so the golden config survives a
	// reload, unlike break-side changes.
	cliRestore := restore.NewCLIRestore(true, env.logger)
	if env.inv.Switch != nil {
		coord.Switch = &restore.Target{Device: *env.inv.Switch, Restorer: cliRestore}
	}
	for _, dev := range env.inv.Routers {
		coord.Routers = append(coord.Routers, restore.Target{Device: dev, Restorer: cliRestore})
	}

	outcomes := coord.RollbackAll(ctx)

	failed := 0
	for _, o := range outcomes {
		if !o.Success {
			failed++
		}
	}
	env.logger.Info("restore run finished",
		zap.Int("devices", len(outcomes)),
		zap.Int("failed", failed),
	)
	if failed > 0 {
		env.close()
		os.Exit(1)
	}
}

func restoreJournal(j *store.Journal) restore.Journal {
	if j == nil {
		return nil
	}
	return j
}
