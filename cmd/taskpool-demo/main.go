// Command taskpool-demo builds a worker pool from configuration, runs the
// demonstration workload (timestamped messages printed from pool workers)
// and optionally serves the ops dashboard while doing so.
//
// The pool's own Stop drains every queued task before returning, so the
// binary exits cleanly without waiting on input.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/savegress/taskpool/internal/config"
	"github.com/savegress/taskpool/pkg/workerpool"
	"github.com/savegress/taskpool/pkg/workerpool/dashboard"
	"github.com/savegress/taskpool/pkg/workerpool/observability"
	"github.com/savegress/taskpool/pkg/workerpool/persistence"
)

func main() {
	var cfg *config.Config
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	} else {
		cfg = config.LoadFromEnv()
	}

	log.Printf("Starting taskpool demo: %d workers, %d tasks", cfg.Pool.Workers, cfg.Demo.Tasks)

	health := observability.NewHealthChecker(cfg.Pool.QueueSize)

	dlq, err := buildDLQ(cfg)
	if err != nil {
		log.Fatalf("Failed to set up dead letter queue: %v", err)
	}

	pool, err := workerpool.New(workerpool.Config{
		Workers:         cfg.Pool.Workers,
		QueueSize:       cfg.Pool.QueueSize,
		ShutdownTimeout: cfg.Pool.ShutdownTimeout,
		DLQ:             dlq,
		ErrorHandler: func(err error) {
			var taskErr *workerpool.TaskError
			if errors.As(err, &taskErr) && taskErr.Stack != "" {
				health.RecordPanic()
			}
			log.Printf("Task failed: %v", err)
		},
	})
	if err != nil {
		log.Fatalf("Failed to create pool: %v", err)
	}
	health.MarkStarted()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Dashboard.Enabled {
		srv := dashboard.NewServer(dashboard.Config{
			Addr:              fmt.Sprintf(":%d", cfg.Dashboard.Port),
			JWTSecret:         cfg.Dashboard.JWTSecret,
			AdminPasswordHash: cfg.Dashboard.AdminPasswordHash,
		}, pool, health, dlq)

		g.Go(func() error {
			log.Printf("Dashboard listening on :%d", cfg.Dashboard.Port)
			return srv.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		// Workload completion tears the dashboard down too.
		defer cancel()
		return runWorkload(ctx, pool, cfg.Demo)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("Error: %v", err)
	}

	log.Println("Shutting down...")

	// Stop drains queued tasks and joins every worker before returning.
	if err := pool.Stop(); err != nil {
		log.Printf("Pool shutdown: %v", err)
	}
	health.MarkStopped()

	stats := pool.Stats()
	log.Printf("Done: %d completed, %d failed, avg latency %s",
		stats.CompletedTasks, stats.FailedTasks, stats.AverageLatency)
}

// runWorkload submits the numbered demonstration tasks. Each prints a
// message from whichever worker picks it up; the final task reports the
// wall time since submission began.
func runWorkload(ctx context.Context, pool *workerpool.Pool, demo config.DemoConfig) error {
	start := time.Now()
	last := demo.Tasks - 1

	for i := 0; i < demo.Tasks; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		i := i
		err := pool.SubmitLabeled("demo", func() error {
			log.Printf("Hello from work item %d", i)
			if demo.TaskDelay > 0 {
				time.Sleep(demo.TaskDelay)
			}
			if i == last {
				log.Printf("time: %s", time.Since(start))
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("submit work item %d: %w", i, err)
		}
	}

	pool.Wait()
	return nil
}

// buildDLQ constructs the configured dead letter queue backend, or returns
// nil when dead-lettering is disabled.
func buildDLQ(cfg *config.Config) (*persistence.DeadLetterQueue, error) {
	if !cfg.DLQ.Enabled {
		return nil, nil
	}

	var (
		storage persistence.Queue
		err     error
	)
	switch cfg.DLQ.Backend {
	case "redis":
		storage, err = persistence.NewRedisQueue(context.Background(), cfg.DLQ.RedisURL, "taskpool:dlq")
	case "postgres":
		storage, err = persistence.NewPostgresQueue(context.Background(), cfg.DLQ.DBURL)
	default:
		storage = persistence.NewMemoryQueue(cfg.DLQ.MaxSize)
	}
	if err != nil {
		return nil, err
	}

	return persistence.NewDeadLetterQueue(persistence.DLQConfig{
		MaxSize:   cfg.DLQ.MaxSize,
		Retention: cfg.DLQ.Retention,
		Storage:   storage,
		OnEntry: func(entry *persistence.Entry) {
			log.Printf("Task moved to DLQ: %s (failures: %d)", entry.TaskID, entry.FailureCount)
		},
	}), nil
}
