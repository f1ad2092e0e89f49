package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chomhq/chom/pkg/coherency"
	"github.com/chomhq/chom/pkg/log"
	"github.com/chomhq/chom/pkg/metrics"
	"github.com/chomhq/chom/pkg/notify"
	"github.com/chomhq/chom/pkg/orchestrator"
	"github.com/chomhq/chom/pkg/queue"
	"github.com/chomhq/chom/pkg/remediate"
)

const (
	reconcileInterval = 1 * time.Minute
	healthInterval    = 30 * time.Second
	quickDriftEvery   = 1 * time.Hour
	fullDriftEvery    = 6 * time.Hour
	renewalSweepEvery = 12 * time.Hour
	backupExpiryEvery = 24 * time.Hour
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane daemon",
	Long: `Start the control plane: the background job queue, periodic
reconciliation and drift detection, node health probing, certificate
renewal sweeps, and the operational HTTP endpoint.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()
		return runDaemon(rt)
	},
}

func runDaemon(rt *runtime) error {
	logger := log.WithComponent("chomd")
	notifier := notify.NewLogNotifier()

	rt.broker.Start()
	defer rt.broker.Stop()

	sub := rt.broker.Subscribe()
	defer rt.broker.Unsubscribe(sub)
	go func() {
		for event := range sub {
			logEvent := logger.Info().Str("event", string(event.Type))
			for k, v := range event.Metadata {
				logEvent = logEvent.Str(k, v)
			}
			logEvent.Msg(event.Message)
		}
	}()

	collector := metrics.NewCollector(rt.store)
	collector.Start()
	defer collector.Stop()

	engine := coherency.NewEngine(rt.store, rt.caller, coherency.Config{
		CertHorizonDays: rt.cfg.Coherency.CertHorizonDays,
		DisplayCap:      rt.cfg.Coherency.DisplayCap,
	})

	var onReport func(context.Context, *coherency.Report)
	if rt.cfg.Coherency.AutoHeal {
		remediator := remediate.New(rt.store, rt.queue, rt.orc, rt.broker)
		onReport = func(ctx context.Context, report *coherency.Report) {
			remediator.Apply(ctx, report)
		}
	}
	driftJob := func(full bool) queue.Job {
		job := coherency.NewJob(engine, full, notifier, rt.broker)
		job.OnReport = onReport
		return job
	}

	rt.queue.Start()
	defer rt.queue.Stop()

	rt.queue.Schedule(reconcileInterval, func() queue.Job {
		return orchestrator.NewPendingSweepJob(rt.orc)
	})
	healthJob := orchestrator.NewHealthSweepJob(rt.orc, notifier)
	rt.queue.Schedule(healthInterval, func() queue.Job { return healthJob })
	rt.queue.Schedule(renewalSweepEvery, func() queue.Job {
		return orchestrator.NewRenewalSweepJob(rt.orc)
	})
	rt.queue.Schedule(quickDriftEvery, func() queue.Job { return driftJob(false) })
	rt.queue.Schedule(fullDriftEvery, func() queue.Job { return driftJob(true) })
	rt.queue.Schedule(backupExpiryEvery, func() queue.Job {
		return orchestrator.NewBackupExpiryJob(rt.orc)
	})

	// Catch up immediately instead of waiting out the first tick.
	rt.queue.Enqueue(orchestrator.NewPendingSweepJob(rt.orc))

	srv := opsServer(rt)
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", rt.cfg.OpsListenAddr).Msg("ops endpoint listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	logger.Info().Str("version", Version).Msg("control plane started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("ops server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("ops server shutdown")
	}
	return nil
}

func opsServer(rt *runtime) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := rt.store.ListNodes(); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return &http.Server{
		Addr:              rt.cfg.OpsListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
