package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mixelka/mailsync/internal/api"
	"github.com/mixelka/mailsync/internal/events"
	"github.com/mixelka/mailsync/internal/poller"
	"github.com/mixelka/mailsync/internal/scheduler"
	"github.com/mixelka/mailsync/internal/telegram"
)

const shutdownGrace = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, the real-time poller and the control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	logger.Info("starting mailsync")

	tracker := events.NewTracker()
	sinks := []events.Sink{events.NewLogSink(logger), tracker}

	var notifier *telegram.Notifier
	if cfg.TelegramEnabled() {
		n, err := telegram.NewNotifier(cfg.TelegramToken, cfg.TelegramChatID, cfg.TelegramTopicID, a.db, logger)
		if err != nil {
			return err
		}
		notifier = n
		go notifier.Start()
		sinks = append(sinks, notifier)
	}

	dispatcher := events.NewDispatcher(cfg.QueueSize, logger, sinks...)
	go dispatcher.Run()

	sched := scheduler.New(a.newEngine(), dispatcher, scheduler.Options{
		ManualWorkers:   cfg.ManualWorkers,
		RealTimeWorkers: cfg.RealTimeWorkers,
		QueueSize:       cfg.QueueSize,
	}, logger)

	poll := poller.New(a.db, sched, logger)
	if cfg.RealTimeEnabled {
		poll.Start(cfg.RealTimeInterval)
	}

	server := api.New(sched, poll, tracker, a.db, api.Options{
		Addr:             cfg.HTTPListenAddr,
		CheckWaitTimeout: cfg.CheckWaitTimeout,
		RealTimeInterval: cfg.RealTimeInterval,
	}, logger)

	serveErr := server.ListenAndServe(ctx)
	if serveErr != nil {
		logger.Error("control API stopped", "error", serveErr)
	}

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	poll.Stop()
	if err := sched.Shutdown(shutdownCtx); err != nil {
		logger.Warn("scheduler did not drain in time, running jobs were cancelled", "error", err)
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("event dispatcher did not drain", "error", err)
	}
	if notifier != nil {
		if err := notifier.Close(shutdownCtx); err != nil {
			logger.Warn("telegram notifier did not drain", "error", err)
		}
	}

	logger.Info("mailsync stopped")
	return serveErr
}
