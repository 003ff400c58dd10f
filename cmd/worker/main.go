// Command worker consumes inference requests from Kafka and executes them
// with the inference service.  Results go to the sinks enabled in the
// configuration; completion and population events go back to Kafka.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/turtacn/abcflow/internal/application/inference"
	"github.com/turtacn/abcflow/internal/bootstrap"
	"github.com/turtacn/abcflow/internal/config"
	"github.com/turtacn/abcflow/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/abcflow/internal/infrastructure/monitoring/logging"
)

const healthCheckTimeout = 3 * time.Second

func main() {
	configPath := flag.String("config", "", "path to configuration file (default: ABCFLOW_* environment)")
	workers := flag.Int("workers", 0, "number of consumers in the group (default: worker.concurrency)")
	ensureTopics := flag.Bool("ensure-topics", false, "create missing Kafka topics before consuming (also kafka.ensure_topics)")
	flag.Parse()

	cfg, err := config.LoadOrEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *workers > 0 {
		cfg.Worker.Concurrency = *workers
	}
	if *ensureTopics {
		cfg.Kafka.EnsureTopics = true
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync(logger)

	if err := run(cfg, *configPath, logger); err != nil {
		logger.Error("worker stopped with error", logging.Err(err))
		logging.Sync(logger)
		os.Exit(1)
	}
}

func run(cfg *config.Config, configPath string, logger logging.Logger) error {
	if !cfg.Kafka.Enabled {
		return errors.New("kafka.enabled must be true for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if configPath != "" {
		config.Watch(configPath, func(next *config.Config) {
			if logging.SetLevel(logger, next.Log.Level) {
				logger.Info("log level changed", logging.String("level", next.Log.Level))
			}
		}, func(err error) {
			logger.Warn("config reload rejected", logging.Err(err))
		})
	}

	infra, err := bootstrap.Init(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("infrastructure: %w", err)
	}
	defer infra.Close()

	if cfg.Kafka.EnsureTopics {
		if err := createTopics(ctx, cfg.Kafka, logger); err != nil {
			return err
		}
	}

	handler := inference.NewRequestHandler(infra.Service(), infra.ServiceMetrics, logger)
	consumers, err := startConsumers(ctx, cfg, infra.Producer, handler, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Worker.HealthAddr,
		Handler:           newHealthMux(infra, cfg.Metrics.Path),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("health server listening", logging.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	logger.Info("worker started",
		logging.Int("consumers", len(consumers)),
		logging.String("topic", cfg.Kafka.RequestTopic),
		logging.String("group", cfg.Kafka.GroupID))

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err = <-serveErr:
		logger.Error("health server failed", logging.Err(err))
	}

	shutdown(consumers, srv, cfg.Worker.ShutdownTimeout, logger)
	return err
}

func createTopics(ctx context.Context, cfg config.KafkaConfig, logger logging.Logger) error {
	manager, err := kafka.NewTopicManager(cfg.Brokers, logger)
	if err != nil {
		return fmt.Errorf("kafka topic manager: %w", err)
	}
	defer manager.Close()
	return bootstrap.EnsureTopics(ctx, cfg, manager)
}

// startConsumers joins cfg.Worker.Concurrency readers to the consumer group;
// Kafka spreads the request partitions across them.  Failed messages go to
// the dead letter topic through the shared producer.
func startConsumers(ctx context.Context, cfg *config.Config, dlq kafka.Publisher, handler kafka.MessageHandler, logger logging.Logger) ([]*kafka.Consumer, error) {
	n := cfg.Worker.Concurrency
	if n < 1 {
		n = 1
	}
	consumers := make([]*kafka.Consumer, 0, n)
	for i := 0; i < n; i++ {
		c, err := kafka.NewConsumer(bootstrap.ConsumerConfig(cfg), dlq, logger.With(logging.Int("consumer", i)))
		if err == nil {
			c.Subscribe(cfg.Kafka.RequestTopic, handler)
			err = c.Start(ctx)
		}
		if err != nil {
			for _, started := range consumers {
				_ = started.Close()
			}
			return nil, fmt.Errorf("kafka consumer %d: %w", i, err)
		}
		consumers = append(consumers, c)
	}
	return consumers, nil
}

// shutdown closes consumers and the health server within timeout.  Closing a
// consumer cancels its in-flight run, which ends as a partial run.
func shutdown(consumers []*kafka.Consumer, srv *http.Server, timeout time.Duration, logger logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, c := range consumers {
		wg.Add(1)
		go func(c *kafka.Consumer) {
			defer wg.Done()
			if err := c.Close(); err != nil {
				logger.Warn("consumer close failed", logging.Err(err))
			}
		}(c)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all consumers stopped")
	case <-ctx.Done():
		logger.Warn("shutdown timeout exceeded, forcing exit")
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("health server shutdown error", logging.Err(err))
	}
	logger.Info("worker stopped")
}

// healthSource is the part of bootstrap.Infrastructure the health server
// needs.
type healthSource interface {
	Health(ctx context.Context) map[string]error
	MetricsHandler() http.Handler
}

// newHealthMux serves liveness on /healthz, backend readiness on /readyz and
// the metrics registry on metricsPath.
func newHealthMux(infra healthSource, metricsPath string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		var failed []string
		for component, err := range infra.Health(ctx) {
			if err != nil {
				failed = append(failed, fmt.Sprintf("%s: %v", component, err))
			}
		}
		if len(failed) > 0 {
			sort.Strings(failed)
			w.WriteHeader(http.StatusServiceUnavailable)
			for _, f := range failed {
				_, _ = fmt.Fprintln(w, f)
			}
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	if metricsPath == "" {
		metricsPath = config.DefaultMetricsPath
	}
	mux.Handle(metricsPath, infra.MetricsHandler())
	return mux
}

//Personal.AI order the ending
