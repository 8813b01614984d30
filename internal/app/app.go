// Package app wires configuration into a running coordinator. Both
// commands share it.
package app

import (
	"context"
	"log/slog"

	"github.com/joseph-ayodele/invoice-extractor/internal/anomaly"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/decode"
	"github.com/joseph-ayodele/invoice-extractor/internal/export"
	"github.com/joseph-ayodele/invoice-extractor/internal/extract"
	"github.com/joseph-ayodele/invoice-extractor/internal/nlp"
	"github.com/joseph-ayodele/invoice-extractor/internal/ocr"
	"github.com/joseph-ayodele/invoice-extractor/internal/repository"
	"github.com/joseph-ayodele/invoice-extractor/internal/storage"
	"github.com/joseph-ayodele/invoice-extractor/internal/task"
)

// App owns every long-lived component.
type App struct {
	Config      *common.Config
	Logger      *slog.Logger
	Coordinator *task.Coordinator
	Store       repository.TaskStore
	Blobs       storage.ObjectStorage
	Recognizer  ocr.Recognizer

	db database
}

type Option func(*options)

type options struct {
	recognizer ocr.Recognizer
	tagger     nlp.FieldTagger
	taggerSet  bool
}

// WithRecognizer replaces the tesseract recognizer.
func WithRecognizer(r ocr.Recognizer) Option {
	return func(o *options) { o.recognizer = r }
}

// WithTagger replaces the configured tagger; nil disables tagging.
func WithTagger(t nlp.FieldTagger) Option {
	return func(o *options) { o.tagger, o.taggerSet = t, true }
}

// New builds the stores, capabilities and coordinator described by cfg.
func New(ctx context.Context, cfg *common.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	store, db, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: logger, Store: store, db: db}

	a.Blobs, err = storage.New(ctx, storage.Config{
		Type: cfg.Storage.Backend,
		S3: storage.S3Config{
			Endpoint:     cfg.Storage.Endpoint,
			AccessKey:    cfg.Storage.AccessKey,
			SecretKey:    cfg.Storage.SecretKey,
			UseSSL:       cfg.Storage.UseSSL,
			Bucket:       cfg.Storage.Bucket,
			Region:       cfg.Storage.Region,
			Prefix:       cfg.Storage.Prefix,
			CreateBucket: cfg.Storage.CreateBucket,
		},
	})
	if err != nil {
		a.closeStore()
		return nil, common.NewAppError("STORAGE_INIT", "failed to initialize object storage", err)
	}

	recognizer := o.recognizer
	if recognizer == nil {
		recognizer = ocr.NewTesseract(ocr.Config{
			Tesseract:     cfg.OCR.Tesseract,
			TesseractLang: cfg.OCR.TesseractLang,
			TessdataDir:   cfg.OCR.TessdataDir,
			PSM:           cfg.OCR.PSM,
			OEM:           cfg.OCR.OEM,
			Preprocess:    cfg.OCR.Preprocess,
			MaxImageWidth: cfg.OCR.MaxImageWidth,
		}, logger)
	}
	if cfg.OCR.CacheSize > 0 {
		cached, err := ocr.NewCached(recognizer, cfg.OCR.CacheSize, logger)
		if err != nil {
			a.closeStore()
			return nil, err
		}
		recognizer = cached
	}
	a.Recognizer = recognizer

	tagger := o.tagger
	if !o.taggerSet && cfg.NLP.APIKey != "" {
		client, err := nlp.NewClient(nlp.Config{
			APIKey:      cfg.NLP.APIKey,
			BaseURL:     cfg.NLP.BaseURL,
			Model:       cfg.NLP.Model,
			Temperature: cfg.NLP.Temperature,
			Timeout:     cfg.NLP.Timeout,
		}, logger)
		if err != nil {
			a.closeStore()
			return nil, common.NewAppError("NLP_INIT", "failed to initialize field tagger", err)
		}
		tagger = client
	}
	if tagger == nil {
		logger.Info("field tagger disabled; rule extraction only")
	}

	extractor := extract.NewExtractor(recognizer, tagger, extract.Config{
		DayFirst:        cfg.Pipeline.DayFirst,
		DefaultCurrency: cfg.Pipeline.DefaultCurrency,
		Retry: extract.RetryPolicy{
			MaxAttempts:    cfg.Pipeline.RetryMaxAttempts,
			InitialBackoff: cfg.Pipeline.RetryInitialBackoff,
			MaxBackoff:     cfg.Pipeline.RetryMaxBackoff,
		},
	}, logger)

	decoder := decode.NewDecoder(decode.Config{
		MaxArchiveDepth: cfg.Pipeline.MaxArchiveDepth,
		MaxPages:        cfg.OCR.MaxPages,
	}, logger)

	scorer := anomaly.NewScorer(anomaly.Config{
		StdDevThreshold: cfg.Anomaly.StdDevThreshold,
		MinBatchSize:    cfg.Anomaly.MinBatchSize,
	}, store, logger)

	a.Coordinator = task.NewCoordinator(task.Deps{
		Decoder:   decoder,
		Extractor: extractor,
		Scorer:    scorer,
		Baseline:  store,
		Exporter:  export.NewService(logger),
		Store:     store,
		Blobs:     a.Blobs,
	}, task.Config{
		Workers:         cfg.Pipeline.Workers,
		QueueSize:       cfg.Pipeline.QueueSize,
		JobTimeout:      cfg.Pipeline.JobTimeout,
		Retention:       cfg.Pipeline.Retention,
		JanitorInterval: cfg.Pipeline.JanitorInterval,
		LongRunning:     cfg.Pipeline.LongRunningThreshold,
	}, logger)

	logger.Info("app.ready",
		"db_driver", cfg.Database.Driver,
		"storage", cfg.Storage.Backend,
		"workers", cfg.Pipeline.Workers,
		"tagger", tagger != nil,
	)
	return a, nil
}

// HealthCheck pings the database when one is configured.
func (a *App) HealthCheck(ctx context.Context) error {
	return a.db.ping(ctx, a.Config.Database.DialTimeout, a.Logger)
}

// Close drains the coordinator within ctx and releases the stores.
func (a *App) Close(ctx context.Context) {
	a.Coordinator.Shutdown(ctx)
	a.closeStore()
}

func (a *App) closeStore() {
	if a.db.drv != nil {
		a.db.close(a.Logger)
		return
	}
	if err := a.Store.Close(); err != nil {
		a.Logger.Warn("app.store.close_failed", "error", err)
	}
}
