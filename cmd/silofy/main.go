package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"silofy/internal/api"
	"silofy/internal/config"
	"silofy/internal/engine"
	"silofy/internal/fixtures"
	"silofy/internal/ingest"
	"silofy/internal/logging"
	"silofy/internal/model"
	"silofy/internal/mq"
	"silofy/internal/storage"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("SILOFY_CONFIG"), "path to a YAML or JSON config file")
	demo := flag.Bool("demo", false, "load the demo fleet and two weeks of synthetic history")
	flag.Parse()

	mgr, err := config.NewManager(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "silofy: config: %v\n", err)
		os.Exit(1)
	}
	cfg := mgr.Get()
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("storage setup failed", "driver", cfg.Storage.Driver, "err", err)
		os.Exit(1)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			logger.Error("storage init failed", "driver", cfg.Storage.Driver, "err", err)
			os.Exit(1)
		}
		defer store.Close()
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	}

	opts := engine.Options{Store: store}
	if pub := mq.NewPublisher(cfg.Publish.Kafka); pub != nil {
		defer pub.Close()
		opts.Publisher = pub
		logger.Info("kafka publishing enabled", "brokers", cfg.Publish.Kafka.Brokers, "topic", cfg.Publish.Kafka.Topic)
	}
	eng := engine.NewEngine(cfg, logger, opts)

	if *demo {
		for _, r := range fixtures.DemoHistory(time.Now().UTC()) {
			if err := eng.ProcessReading(ctx, r); err != nil {
				logger.Warn("demo reading rejected", "bag_id", r.Bag.ID, "err", err)
			}
		}
		logger.Info("demo fleet loaded", "bags", eng.Inventory().Len())
	}

	readings := make(chan model.Reading, cfg.Ingest.ChannelBuffer)
	eng.Start(ctx, readings)

	ingest.StartREST(ctx, mgr, readings, logger)
	ingest.StartTCPStream(ctx, mgr, readings, logger)
	ingest.StartFileTail(ctx, mgr, readings, logger)
	ingest.StartKafka(ctx, mgr, readings, logger)
	ingest.StartMQTT(ctx, mgr, readings, logger)

	api.Start(ctx, mgr, eng, logger, version)

	go mgr.Watch(ctx, 3*time.Second, func(next *config.Config) {
		eng.UpdateConfig(next)
		logger.Info("config reloaded", "path", mgr.Path())
	}, func(err error) {
		logger.Warn("config reload failed", "path", mgr.Path(), "err", err)
	})

	logger.Info("silofy started", "version", version, "config", mgr.Path())
	<-ctx.Done()
	logger.Info("silofy shutting down")
}
