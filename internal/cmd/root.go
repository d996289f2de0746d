// SPDX-License-Identifier: AGPL-3.0-or-later
// iaxhub - an in-process telephony message bus and IAX2 transaction core
// Copyright (C) 2023-2026 Jacob McSwain
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// Package cmd wires the message dispatcher, the IAX2 engine and the
// ambient servers (metrics, pprof) into a single runnable command, and
// orchestrates an ordered shutdown.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/USA-RedDragon/configulator"
	"github.com/go-co-op/gocron/v2"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/telcore-oss/iaxhub/internal/config"
	"github.com/telcore-oss/iaxhub/internal/iax/engine"
	"github.com/telcore-oss/iaxhub/internal/message"
	"github.com/telcore-oss/iaxhub/internal/metrics"
	"github.com/telcore-oss/iaxhub/internal/pprof"
)

// dequeueInterval is how often the async pump drains the dispatcher's
// FIFO. The dispatcher owns no worker thread of its own; this scheduler
// job is the external pump.
const dequeueInterval = 10 * time.Millisecond

// NewCommand builds the root iaxhub command.
func NewCommand(version, commit string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "iaxhub",
		Version: fmt.Sprintf("%s - %s", version, commit),
		Annotations: map[string]string{
			"version": version,
			"commit":  commit,
		},
		RunE:              runRoot,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
	}
	return cmd
}

func runRoot(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	fmt.Printf("iaxhub - %s (%s)\n", cmd.Annotations["version"], cmd.Annotations["commit"])

	c, err := configulator.FromContext[config.Config](ctx)
	if err != nil {
		return fmt.Errorf("failed to get config from context: %w", err)
	}

	cfg, err := c.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var logger *slog.Logger
	switch cfg.LogLevel {
	case config.LogLevelDebug:
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelDebug}))
	case config.LogLevelInfo:
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelInfo}))
	case config.LogLevelWarn:
		logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelWarn}))
	case config.LogLevelError:
		logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelError}))
	default:
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelInfo}))
	}
	slog.SetDefault(logger)

	var cleanup func(context.Context) error
	if cfg.Metrics.OTLPEndpoint != "" {
		cleanup = initTracer(cfg)
	}

	met := metrics.NewMetrics()

	go func() {
		if err := metrics.CreateMetricsServer(cfg); err != nil {
			slog.Error("metrics server exited", "error", err)
		}
	}()
	go func() {
		if err := pprof.CreatePProfServer(cfg); err != nil {
			slog.Error("pprof server exited", "error", err)
		}
	}()

	dispatcher := message.NewDispatcher(
		message.WithWarnTime(cfg.Dispatcher.WarnTime),
		message.WithQueueAgeSmoothing(cfg.Dispatcher.QueueAgeSmoothing),
		message.WithRecorder(met),
		message.WithLogger(logger),
	)

	var redisSink *message.RedisSink
	if cfg.Redis.Enabled {
		redisSink, err = message.NewRedisSink(ctx, message.RedisSinkConfig{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			Channel:      "iaxhub.dispatch",
			TraceEnabled: cfg.Metrics.OTLPEndpoint != "",
		})
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		dispatcher.InstallPostHook(redisSink.Hook())
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if _, err := scheduler.NewJob(
		gocron.DurationJob(dequeueInterval),
		gocron.NewTask(func() { dispatcher.Dequeue(ctx) }),
	); err != nil {
		return fmt.Errorf("failed to schedule dispatcher pump: %w", err)
	}
	scheduler.Start()

	iaxEngine := engine.New(cfg, engine.WithDispatcher(dispatcher), engine.WithMetrics(met))
	if err := iaxEngine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start IAX2 engine: %w", err)
	}

	stopCtx, stopCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	defer stopCancel()
	<-stopCtx.Done()

	slog.Info("shutting down")
	shutdown(iaxEngine, scheduler, dispatcher, redisSink, cleanup)

	return nil
}

// shutdown stops the scheduler and drains the dispatcher queue, stops the
// IAX2 engine (each live transaction emits a Reject as it is destroyed),
// and flushes the tracer and closes the Redis sink, bounding the whole
// sequence so a stuck collaborator cannot hang the process. The metrics
// and pprof servers are not stopped here.
func shutdown(iaxEngine *engine.Engine, scheduler gocron.Scheduler, dispatcher *message.Dispatcher, redisSink *message.RedisSink, cleanup func(context.Context) error) {
	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func(wg *sync.WaitGroup) {
		defer wg.Done()
		if err := scheduler.StopJobs(); err != nil {
			slog.Error("failed to stop scheduler jobs", "error", err)
		}
		if err := scheduler.Shutdown(); err != nil {
			slog.Error("failed to stop scheduler", "error", err)
		}
		dispatcher.Dequeue(context.Background())
	}(wg)

	wg.Add(1)
	go func(wg *sync.WaitGroup) {
		defer wg.Done()
		if err := iaxEngine.Stop(); err != nil {
			slog.Error("failed to stop IAX2 engine", "error", err)
		}
	}(wg)

	if cleanup != nil {
		wg.Add(1)
		go func(wg *sync.WaitGroup) {
			defer wg.Done()
			const timeout = 5 * time.Second
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := cleanup(ctx); err != nil {
				slog.Error("failed to shut down tracer", "error", err)
			}
		}(wg)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()

	const timeout = 10 * time.Second
	select {
	case <-done:
		if redisSink != nil {
			if err := redisSink.Close(); err != nil {
				slog.Error("failed to close redis sink", "error", err)
			}
		}
		slog.Info("shutdown complete")
	case <-time.After(timeout):
		slog.Error("shutdown timed out")
		os.Exit(1)
	}
}

func initTracer(cfg *config.Config) func(context.Context) error {
	exporter, err := otlptrace.New(
		context.Background(),
		otlptracegrpc.NewClient(
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithEndpoint(cfg.Metrics.OTLPEndpoint),
		),
	)
	if err != nil {
		slog.Error("failed to build trace exporter", "error", err)
	}
	resources, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", "iaxhub"),
			attribute.String("library.language", "go"),
		),
	)
	if err != nil {
		slog.Error("failed to build trace resource", "error", err)
	}

	otel.SetTracerProvider(
		sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(resources),
		),
	)
	return exporter.Shutdown
}
