// Command worker runs the media-processing queue consumer.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"

	"mediaqueue/internal/archive"
	"mediaqueue/internal/blob"
	"mediaqueue/internal/config"
	"mediaqueue/internal/encoder"
	"mediaqueue/internal/executor"
	"mediaqueue/internal/notify"
	"mediaqueue/internal/observability/logging"
	"mediaqueue/internal/pipeline"
	"mediaqueue/internal/progress"
	"mediaqueue/internal/queue"
	"mediaqueue/internal/serverutil"
	"mediaqueue/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(redisOpts)
	defer client.Close()

	jobs, err := queue.New(client, queue.Config{
		Stream: queue.StreamMediaProcessing,
		Group:  queue.GroupMediaWorkers,
		Logger: logging.WithComponent(logger, "queue"),
	})
	if err != nil {
		return fmt.Errorf("create job queue: %w", err)
	}
	cleanup, err := queue.New(client, queue.Config{
		Stream: queue.StreamCleanup,
		Group:  queue.GroupCleanupWorkers,
		Logger: logging.WithComponent(logger, "queue"),
	})
	if err != nil {
		return fmt.Errorf("create cleanup queue: %w", err)
	}

	blobs, err := blob.New(blob.Config{
		Endpoint:       cfg.Storage.Endpoint,
		PublicEndpoint: cfg.Storage.PublicEndpoint,
		Bucket:         cfg.Storage.Bucket,
		Region:         cfg.Storage.Region,
		AccessKey:      cfg.Storage.AccessKey,
		SecretKey:      cfg.Storage.SecretKey,
		UseSSL:         cfg.Storage.UseSSL,
	}, logging.WithComponent(logger, "blob"))
	if err != nil {
		return fmt.Errorf("create blob client: %w", err)
	}

	driver := encoder.NewDriver(cfg.FFmpegPath, logging.WithComponent(logger, "encoder"))
	pipelines := pipeline.NewProcessor(driver, blobs, logging.WithComponent(logger, "pipeline"))
	store := progress.NewRedisStore(client, logging.WithComponent(logger, "progress"))
	notifier := notify.NewHTTPNotifier(cfg.CallbackTimeout, logging.WithComponent(logger, "notify"))

	var history archive.Archive = archive.NoopArchive{}
	if cfg.DatabaseURL != "" {
		pg, err := archive.NewPostgresArchive(ctx, cfg.DatabaseURL, logging.WithComponent(logger, "archive"))
		if err != nil {
			return fmt.Errorf("create job archive: %w", err)
		}
		history = pg
	}
	defer history.Close()

	exec, err := executor.New(executor.Config{
		Store:        store,
		Blobs:        blobs,
		Pipelines:    pipelines,
		Notifier:     notifier,
		OutputRoot:   cfg.OutputDir,
		DownloadRoot: cfg.DownloadDir,
		Logger:       logging.WithComponent(logger, "executor"),
	})
	if err != nil {
		return fmt.Errorf("create executor: %w", err)
	}

	host, err := worker.New(worker.Config{
		Jobs:        jobs,
		Cleanup:     cleanup,
		Runner:      exec,
		Archive:     history,
		Concurrency: cfg.Concurrency,
		Logger:      logging.WithComponent(logger, "worker"),
	})
	if err != nil {
		return fmt.Errorf("create worker host: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", worker.HealthHandler(map[string]*queue.Queue{
		queue.StreamMediaProcessing: jobs,
		queue.StreamCleanup:         cleanup,
	}, logging.WithComponent(logger, "health")))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           logging.RequestLogger(logging.RequestLoggerConfig{Logger: logger})(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- serverutil.Run(ctx, serverutil.Config{Server: httpServer})
	}()

	hostErr := make(chan error, 1)
	go func() {
		hostErr <- host.Run(ctx)
	}()

	logger.Info("media worker running", "port", cfg.Port, "concurrency", cfg.Concurrency)

	select {
	case err := <-hostErr:
		stopServer(httpServer)
		if serveErr := <-serverErr; err == nil {
			err = serveErr
		}
		return err
	case err := <-serverErr:
		if err != nil {
			return err
		}
		return <-hostErr
	}
}

func stopServer(server *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverutil.DefaultShutdownTimeout)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}
