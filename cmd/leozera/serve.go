package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/camppoia/leozera/internal/buildinfo"
	"github.com/camppoia/leozera/internal/connwatch"
	"github.com/camppoia/leozera/internal/events"
	"github.com/camppoia/leozera/internal/mqtt"
	"github.com/camppoia/leozera/internal/reminders"
	"github.com/camppoia/leozera/internal/scheduler"
	"github.com/camppoia/leozera/internal/server"
	"github.com/camppoia/leozera/internal/whatsapp"
)

// shutdownTimeout bounds the graceful shutdown of the HTTP server and
// in-flight conversation turns.
const shutdownTimeout = 30 * time.Second

// runServe is the primary operating mode: it answers WhatsApp messages
// and runs the reminder jobs until SIGINT or SIGTERM.
//
// The shutdown sequence is:
//  1. the signal cancels ctx, which stops the websocket stream and MQTT
//  2. the HTTP server drains and in-flight turns finish
//  3. the scheduler waits for running jobs
//  4. the database is closed via defer
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, logger, err := configuredLogger(stdout, configPath)
	if err != nil {
		return err
	}
	logger.Info("starting Leozera", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	engine, err := a.newEngine(ctx)
	if err != nil {
		return err
	}

	bridge, err := whatsapp.NewBridge(whatsapp.BridgeConfig{
		Turns:       engine,
		Channel:     a.channel,
		Events:      a.bus,
		Logger:      logger.With("component", "whatsapp"),
		RateLimit:   cfg.WhatsApp.RateLimit,
		TypingDelay: cfg.WhatsApp.TypingDelay,
	})
	if err != nil {
		return err
	}
	defer bridge.Close()

	// Jobs
	jobs := scheduler.New(logger.With("component", "scheduler"), a.runs, a.bus)
	if cfg.Reminders.IsEnabled() {
		for _, j := range a.sweepJobs() {
			if err := jobs.Add(j); err != nil {
				return err
			}
		}
	} else {
		logger.Info("reminder sweeps disabled")
	}
	if err := jobs.Add(a.pruneJob()); err != nil {
		return err
	}
	if err := jobs.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer jobs.Stop()

	var background sync.WaitGroup
	defer background.Wait()

	// Dependency health
	health := connwatch.NewManager(connwatch.DefaultBackoff(), a.publishHealth, logger.With("component", "connwatch"))
	health.Watch(ctx, "database", a.db.PingContext)
	if a.waha != nil {
		health.Watch(ctx, "waha", a.waha.Ping)
	}
	defer func() {
		stop()
		health.Wait()
	}()

	// WAHA event stream
	if a.waha != nil && cfg.WhatsApp.WAHA.Inbound == "websocket" {
		stream, err := whatsapp.NewStream(a.waha, a.opstate, func(ctx context.Context, in whatsapp.Inbound) {
			bridge.Handle(ctx, in)
		}, logger.With("component", "waha_stream"))
		if err != nil {
			return err
		}
		background.Add(1)
		go func() {
			defer background.Done()
			stream.Run(ctx)
		}()
	}

	// MQTT
	if cfg.MQTT.Configured() {
		clientID, err := mqtt.ClientID(cfg.DataDir, cfg.MQTT.DeviceName)
		if err != nil {
			return err
		}
		pub := mqtt.New(cfg.MQTT, clientID, a.bus, mqtt.NewDailyCounters(a.loc), logger.With("component", "mqtt"))
		background.Add(1)
		go func() {
			defer background.Done()
			if err := pub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := pub.Stop(stopCtx); err != nil {
				logger.Warn("mqtt disconnect failed", "error", err)
			}
		}()
	}

	// HTTP
	srv := server.New(server.Config{
		Address:          cfg.Listen.Address,
		Port:             cfg.Listen.Port,
		WebhookToken:     cfg.Listen.WebhookToken,
		AdminToken:       cfg.Listen.AdminToken,
		RegistrationLink: cfg.Links.Registration,
		Inbound:          bridge,
		Aliases:          a.opstate,
		Confirmer:        a.sweeper,
		Jobs:             jobs,
		Health:           health,
		Logger:           logger.With("component", "server"),
	})
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	logger.Info("Leozera stopped")
	return nil
}

// publishHealth forwards dependency transitions to the event bus.
func (a *app) publishHealth(service string, ready bool, err error) {
	e := events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceConnWatch,
		Kind:      events.KindServiceReady,
		Data:      map[string]any{"service": service},
	}
	if !ready {
		e.Kind = events.KindServiceDown
		e.Data["error"] = err.Error()
	}
	a.bus.Publish(e)
}

// runSweep runs every reminder sweep once, records the runs and prints
// the reports. It is meant for cron-driven deployments that do not run
// serve.
func runSweep(ctx context.Context, stdout io.Writer, configPath, outputFmt string) error {
	cfg, logger, err := configuredLogger(stdout, configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	jobs := scheduler.New(logger.With("component", "scheduler"), a.runs, a.bus)
	for _, j := range a.sweepJobs() {
		if err := jobs.Add(j); err != nil {
			return err
		}
	}

	var runs []*scheduler.Run
	var failed []error
	for _, name := range jobs.Jobs() {
		run, err := jobs.Trigger(ctx, name)
		if run != nil {
			runs = append(runs, run)
		}
		if err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", name, err))
		}
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(runs); err != nil {
			return err
		}
	} else {
		for _, r := range runs {
			fmt.Fprintf(stdout, "%-14s %-10s %s\n", r.Job, r.Status, r.Result)
		}
	}
	return errors.Join(failed...)
}

// runConfirm sends an on-demand confirmation request for one
// appointment.
func runConfirm(ctx context.Context, stdout io.Writer, configPath, appointmentID string) error {
	cfg, logger, err := configuredLogger(stdout, configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sent, err := a.sweeper.SendConfirmation(ctx, appointmentID)
	if errors.Is(err, reminders.ErrNotFound) {
		return fmt.Errorf("appointment %s not found", appointmentID)
	}
	if err != nil {
		return err
	}
	if sent {
		fmt.Fprintf(stdout, "confirmation request sent for %s\n", appointmentID)
	} else {
		fmt.Fprintf(stdout, "nothing sent for %s: not pending, already requested or user has no phone\n", appointmentID)
	}
	return nil
}
