package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chomhq/chom/pkg/bridge"
	"github.com/chomhq/chom/pkg/config"
	"github.com/chomhq/chom/pkg/degrade"
	"github.com/chomhq/chom/pkg/events"
	"github.com/chomhq/chom/pkg/log"
	"github.com/chomhq/chom/pkg/notify"
	"github.com/chomhq/chom/pkg/orchestrator"
	"github.com/chomhq/chom/pkg/queue"
	"github.com/chomhq/chom/pkg/storage"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chomd",
	Short: "CHOM - web hosting fleet control plane",
	Long: `chomd is the control plane for a CHOM hosting fleet. It keeps the
desired state of sites and nodes, pushes changes to per-node agents
over SSH, and continuously verifies that reality matches the record.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"chomd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/chom/chomd.yaml", "Path to config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(siteCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(checkCmd)
}

// runtime holds the wired control-plane components shared by every
// subcommand. The bolt store takes an exclusive file lock, so the CLI
// commands expect the daemon to be stopped or pointed at another data
// directory.
type runtime struct {
	cfg    *config.Config
	store  storage.Store
	bridge *bridge.Bridge
	caller *bridge.ResilientCaller
	queue  *queue.Queue
	broker *events.Broker
	orc    *orchestrator.Orchestrator
}

func buildRuntime() (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
		Output:     os.Stderr,
	})

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	b, err := bridge.NewBridge(bridge.Config{
		IdentityFile: cfg.SSH.IdentityFile,
		User:         cfg.SSH.User,
		AgentPath:    cfg.SSH.AgentPath,
		DialTimeout:  cfg.SSH.DialTimeout.Std(),
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to build ssh bridge: %w", err)
	}

	q := queue.New(cfg.Jobs.Workers)
	q.Configure("provision", queue.Settings{
		Attempts: cfg.Jobs.Provision.Attempts,
		Backoff:  cfg.Jobs.Provision.Backoff.Std(),
		Timeout:  cfg.Jobs.Provision.Timeout.Std(),
	})
	q.Configure("ssl_check", queue.Settings{
		Attempts: cfg.Jobs.SSLCheck.Attempts,
		Backoff:  cfg.Jobs.SSLCheck.Backoff.Std(),
		Timeout:  cfg.Jobs.SSLCheck.Timeout.Std(),
	})
	q.Configure("coherency", queue.Settings{
		Attempts: cfg.Jobs.Coherency.Attempts,
		Backoff:  cfg.Jobs.Coherency.Backoff.Std(),
		Timeout:  cfg.Jobs.Coherency.Timeout.Std(),
	})
	q.Configure("reconcile", queue.Settings{Attempts: 1})

	// Agent calls go through the policy layer: recoverable connection
	// failures are retried, exhausted nodes sit out a degradation TTL.
	caller := bridge.NewResilientCaller(b, cfg.Policy("bridge"), degrade.NewRegistry(), cfg.Degrade.TTL.Std())

	broker := events.NewBroker()
	notifier := notify.NewLogNotifier()
	orc := orchestrator.New(store, caller, q, broker, notifier)

	return &runtime{
		cfg:    cfg,
		store:  store,
		bridge: b,
		caller: caller,
		queue:  q,
		broker: broker,
		orc:    orc,
	}, nil
}

func (r *runtime) Close() {
	if err := r.store.Close(); err != nil {
		logger := log.WithComponent("chomd")
		logger.Warn().Err(err).Msg("close store")
	}
}
