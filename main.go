package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"cryptocsv/config"
	"cryptocsv/dispatcher"
	"cryptocsv/internal/errkind"
	"cryptocsv/logger"
	"cryptocsv/models"
	"cryptocsv/reader"
	"cryptocsv/writer"
)

const (
	defaultConfigPath      = "config/config.yml"
	defaultCredentialsPath = "config/credentials.yml"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	credentialsPath := flag.String("credentials", defaultCredentialsPath, "Path to private credentials file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolvePath(*configPath, defaultConfigPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	runID := uuid.NewString()
	log.WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": config.AppEnvironment(),
		"run_id":      runID,
		"streams":     len(cfg.Streams),
	}).Info("starting cryptocsv")

	creds, err := config.LoadCredentials(config.ResolvePath(*credentialsPath, defaultCredentialsPath))
	if err != nil {
		log.WithError(err).Error("Failed to load credentials")
		os.Exit(1)
	}
	streams := cfg.ResolvedStreams()
	if err := creds.Require(streams); err != nil {
		log.WithError(err).Error("Missing credentials for configured streams")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	streams, err = reader.Expand(ctx, streams, cfg.Collector.DataDir, func(exchange string) (reader.Lister, error) {
		return reader.NewLister(exchange, creds, cfg)
	})
	if err != nil {
		log.WithError(err).Error("failed to expand wildcard streams")
		os.Exit(1)
	}

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(ctx, cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
	}
	logger.StartReport(ctx, log, cfg.Logging.ReportInterval)

	workers, sinks := buildWorkers(ctx, cfg, streams, creds, log)
	if len(workers) == 0 {
		log.Error("no stream could be started")
		os.Exit(1)
	}

	var archiver *writer.S3Archiver
	if cfg.Storage.S3.Enabled {
		archiver, err = writer.NewS3Archiver(ctx, cfg)
		if err != nil {
			log.WithError(err).Error("failed to create S3 archiver")
			os.Exit(1)
		}
		go archiver.Run(ctx)
	} else {
		log.WithComponent("main").Info("S3 storage disabled; keeping CSV files local only")
	}

	d, err := dispatcher.New(workers, dispatcher.OptionsFromConfig(cfg))
	if err != nil {
		log.WithError(err).Error("failed to create dispatcher")
		os.Exit(1)
	}
	d.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case <-d.Done():
		log.Info("all workers finished")
	}

	log.Info("starting graceful shutdown")
	cancel()
	d.Wait()

	for name, st := range d.Stats() {
		log.WithFields(logger.Fields{
			"stream":  name,
			"fetches": st.Fetches,
			"rows":    st.Rows,
			"errors":  st.Errors,
			"reason":  st.Reason,
		}).Info("worker summary")
	}

	closeSinks(sinks, log)

	if archiver != nil {
		if n, err := archiver.Sync(context.Background()); err != nil {
			log.WithError(err).Warn("final S3 sync failed")
		} else {
			log.WithFields(logger.Fields{"files": n}).Info("final S3 sync complete")
		}
	}

	log.WithFields(logger.Fields{"run_id": runID}).Info("cryptocsv stopped")
}

// buildWorkers creates one adapter and sink per stream. Streams whose adapter
// cannot be built or whose credentials are rejected are skipped.
func buildWorkers(ctx context.Context, cfg *config.Config, streams []models.Stream, creds *config.Credentials, log *logger.Log) ([]dispatcher.Worker, []*writer.CSVSink) {
	workers := make([]dispatcher.Worker, 0, len(streams))
	sinks := make([]*writer.CSVSink, 0, len(streams))

	for _, stream := range streams {
		entry := log.WithComponent("main").WithFields(logger.Fields{
			"exchange":  stream.Exchange,
			"data_type": stream.DataType,
			"symbol":    stream.Symbol,
		})

		adapter, err := reader.New(stream, creds, cfg)
		if err != nil {
			entry.WithError(err).Error("failed to build adapter")
			continue
		}

		if cfg.Reader.VerifyCredentials {
			vctx, vcancel := context.WithTimeout(ctx, cfg.Reader.Timeout)
			err := reader.Verify(vctx, adapter)
			vcancel()
			switch {
			case errors.Is(err, errkind.ErrAuth):
				entry.WithError(err).Error("credentials rejected, stream dropped")
				continue
			case err != nil:
				entry.WithError(err).Warn("credential check failed, polling anyway")
			}
		}

		sink := writer.NewCSVSink(stream.Target)
		sinks = append(sinks, sink)
		workers = append(workers, dispatcher.Worker{Stream: stream, Adapter: adapter, Sink: sink})
		entry.WithFields(logger.Fields{"target": stream.Target}).Info("stream configured")
	}
	return workers, sinks
}

func closeSinks(sinks []*writer.CSVSink, log *logger.Log) {
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			log.WithError(err).WithFields(logger.Fields{"path": s.Path()}).Warn("failed to close csv file")
		}
	}
}
