package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/nijaru/yt-script/config"
	"github.com/nijaru/yt-script/gemini"
	"github.com/nijaru/yt-script/logger"
	"github.com/nijaru/yt-script/messaging"
	"github.com/nijaru/yt-script/models"
	"github.com/nijaru/yt-script/pool"
	"github.com/nijaru/yt-script/progress"
	"github.com/nijaru/yt-script/repository/sqlite"
	"github.com/nijaru/yt-script/script"
	"github.com/nijaru/yt-script/segment"
	"github.com/nijaru/yt-script/services/pipeline"
	"github.com/nijaru/yt-script/storage"
	"github.com/sirupsen/logrus"
)

// app holds every long lived component a command may need.
type app struct {
	cfg       *config.Config
	logOutput io.Writer
	keys      *pool.CredentialPool
	proxies   *pool.EgressPool
	gemini    *gemini.Client
	service   pipeline.Service
	db        *sqlite.DB
	hub       *progress.Hub
	natsConn  *nats.Conn
	runner    *pipeline.Runner
}

func setupLogging(cfg *config.Config) (io.Writer, error) {
	return logger.Setup(logger.Options{
		Dir:   cfg.LogDir,
		Level: cfg.LogLevel,
		JSON:  cfg.Environment == "production",
	})
}

// newPools builds the key and proxy pools from the seed file and environment.
func newPools(cfg *config.Config) (*pool.CredentialPool, *pool.EgressPool, error) {
	keys := pool.NewCredentialPool(cfg.CredentialPolicy())
	proxies := pool.NewEgressPool(cfg.EgressConfig())

	if cfg.Pools.SeedFile != "" {
		seed, err := pool.LoadSeedFile(cfg.Pools.SeedFile)
		if err != nil {
			return nil, nil, err
		}
		k, p := seed.Apply(keys, proxies)
		logrus.WithFields(logrus.Fields{
			"file":    cfg.Pools.SeedFile,
			"keys":    k,
			"proxies": p,
		}).Info("Pools seeded")
	}
	keys.LoadKeys(cfg.Pools.Keys)
	proxies.LoadProxies(cfg.Pools.Proxies)

	logrus.WithFields(logrus.Fields{
		"keys":    keys.Len(),
		"proxies": proxies.Len(),
	}).Info("Pools ready")
	return keys, proxies, nil
}

// newApp wires the pipeline, its storage and its progress publishers.
// extra publishers receive every event alongside the hub.
func newApp(ctx context.Context, cfg *config.Config, extra ...progress.Publisher) (*app, error) {
	logOutput, err := setupLogging(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	keys, proxies, err := newPools(cfg)
	if err != nil {
		return nil, err
	}

	client, err := gemini.NewClient(keys, proxies, cfg.GeminiClientConfig())
	if err != nil {
		return nil, err
	}
	engine := segment.NewEngine(client, segment.Config{Model: cfg.Gemini.SegmentationModel})
	chain := script.NewChain(client, cfg.ScriptChainConfig())
	service := pipeline.NewService(client, engine, chain, cfg.PipelineServiceConfig())

	dbConfig := sqlite.DefaultDBConfig()
	dbConfig.MaxConnections = cfg.Database.MaxConnections
	dbConfig.MaxIdleConnections = cfg.Database.MaxIdleConnections
	dbConfig.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	db, err := sqlite.Open(ctx, cfg.Database.Path, dbConfig)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &app{
		cfg:       cfg,
		logOutput: logOutput,
		keys:      keys,
		proxies:   proxies,
		gemini:    client,
		service:   service,
		db:        db,
		hub:       progress.NewHub(progress.DefaultBuffer),
	}

	var archive pipeline.Archive
	if cfg.Storage.Enabled() {
		spaces, err := storage.NewSpacesClient(ctx, cfg.Storage)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize archive storage: %w", err)
		}
		archive = spaces
		logrus.WithField("bucket", cfg.Storage.Bucket).Info("Archiving results to object storage")
	}

	publishers := progress.Multi{a.hub}
	if cfg.NATS.URL != "" {
		conn, err := messaging.Connect(cfg.NATS.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		a.natsConn = conn
		publishers = append(publishers, messaging.NewNATSPublisher(conn, cfg.NATS.SubjectPrefix))
	}
	publishers = append(publishers, extra...)

	a.runner = pipeline.NewRunner(service, sqlite.NewRepository(db), archive, publishers, cfg.RunnerConfig())
	return a, nil
}

// Close stops the runner and releases connections. Safe on a partly built app.
func (a *app) Close() {
	if a.runner != nil {
		a.runner.Close()
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if a.natsConn != nil {
		if err := a.natsConn.Drain(); err != nil {
			logrus.WithError(err).Warn("NATS drain failed")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logrus.WithError(err).Error("Database shutdown error")
		}
	}
	if a.gemini != nil {
		if err := a.gemini.Close(); err != nil {
			logrus.WithError(err).Warn("Gemini client shutdown error")
		}
	}
}

// logPublisher writes progress events to the log for one-shot commands.
type logPublisher struct {
	logger *logrus.Entry
}

func (p logPublisher) Publish(_ context.Context, event models.ProgressEvent) error {
	fields := logrus.Fields{"step": event.Step}
	if event.SegmentTotal > 0 {
		fields["segment"] = fmt.Sprintf("%d/%d", event.SegmentIndex, event.SegmentTotal)
	}
	if event.Retry != nil {
		fields["attempt"] = event.Retry.Attempt
	}
	p.logger.WithFields(fields).Info(event.Message)
	return nil
}

// loadSettings reads a settings JSON file, or returns the defaults when path
// is empty. Missing fields keep their default values.
func loadSettings(path string) (models.Settings, error) {
	settings := models.DefaultSettings()
	if path == "" {
		return settings, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return settings, fmt.Errorf("failed to read settings: %w", err)
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("invalid settings file: %w", err)
	}
	return settings, nil
}

// writeOutput writes text to path, or to stdout when path is empty.
func writeOutput(path, text string) error {
	if path == "" {
		_, err := fmt.Fprintln(os.Stdout, text)
		return err
	}
	return os.WriteFile(path, []byte(text+"\n"), 0o644)
}
