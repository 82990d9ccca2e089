package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"cdc-sink/internal/config"
	"cdc-sink/internal/consumer"
	"cdc-sink/internal/deadletter"
	"cdc-sink/internal/metrics"
	"cdc-sink/internal/processor"
	"cdc-sink/internal/registry"
	"cdc-sink/internal/store"
)

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	logger.SetLevel(logrus.InfoLevel)
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	return logger
}

func main() {
	// Load configuration
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Logging)

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid config: %v", err)
	}
	if err := processor.ValidateRules(&cfg.Processor); err != nil {
		logger.Fatalf("Invalid processor config: %v", err)
	}

	logger.Info("Starting CDC sink service...")

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Connect to the target store
	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		logger.Fatalf("Failed to open target store: %v", err)
	}
	defer st.Close()

	reg := registry.Default()
	if cfg.Store.VerifySchema {
		if err := st.Verify(ctx, reg.Tables()); err != nil {
			logger.Fatalf("Target store check failed: %v", err)
		}
	}

	transformer, err := processor.NewTransformer(&cfg.Processor, logger)
	if err != nil {
		logger.Fatalf("Failed to create transformer: %v", err)
	}

	deadLetter, err := deadletter.New(cfg.DeadLetter, logger)
	if err != nil {
		logger.Fatalf("Failed to create dead letter publisher: %v", err)
	}
	defer deadLetter.Close()

	m := metrics.New(st.Ping, logger)

	proc := processor.NewProcessor(st, reg, logger,
		processor.WithTransformer(transformer),
		processor.WithDeadLetter(deadLetter),
		processor.WithRecorder(m),
		processor.WithApplyTimeout(cfg.Store.ApplyTimeout),
	)

	topics := cfg.Kafka.TopicsFor(reg.Tables())
	logger.Infof("Consuming %v as group %s", topics, cfg.Kafka.GroupID)

	group := consumer.NewGroup(cfg.Kafka.Workers, func(int) consumer.Reader {
		return consumer.NewReader(cfg.Kafka, topics, logger)
	}, proc, m, cfg.Kafka, logger)

	var wg conc.WaitGroup
	if cfg.Metrics.Addr != "" {
		wg.Go(func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr); err != nil {
				logger.Errorf("Metrics server error: %v", err)
			}
		})
	}

	// Start consuming in goroutine
	stopped := make(chan struct{})
	wg.Go(func() {
		group.Run(ctx)
		close(stopped)
	})

	// Wait for signal or the consumers stopping on their own
	select {
	case sig := <-sigChan:
		logger.Infof("Received signal: %v, shutting down...", sig)
		cancel()
	case <-stopped:
		cancel()
	}

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-time.After(cfg.Store.ApplyTimeout + 30*time.Second):
		logger.Warn("Timed out waiting for consumers to stop")
	}

	logger.Info("CDC sink service stopped")
}
