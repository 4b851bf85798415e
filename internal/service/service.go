// Package service assembles the grading components from configuration: the
// datastore, templates and answer keys, the pipeline engine, and the worker
// pool. The HTTP layer is wired separately by the caller so the service can
// run headless in tests.
package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"omr-grader/internal/align"
	"omr-grader/internal/bubble"
	"omr-grader/internal/config"
	"omr-grader/internal/datastore"
	"omr-grader/internal/pipeline"
	"omr-grader/internal/resolve"
	"omr-grader/internal/template"
	"omr-grader/internal/versionmark"
	"omr-grader/internal/worker"
	"omr-grader/pkg/logger"
)

// Service owns the long-lived grading components and their lifecycle.
type Service struct {
	cfg *config.Config
	log logger.Logger

	mu      sync.Mutex
	started bool

	store  datastore.Interface
	keys   *template.KeyStore
	reader *versionmark.Reader
	queue  *worker.Queue
	pool   *worker.Pool

	uploadDir  string
	overlayDir string
}

// New creates an unstarted service around the given configuration.
func New(cfg *config.Config) *Service {
	return &Service{
		cfg: cfg,
		log: logger.Get().Named("service"),
	}
}

// Start validates the configuration, builds every component, recovers sheets
// left over from a previous run, and launches the worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	s.uploadDir = filepath.Join(s.cfg.DataDir, "uploads")
	s.overlayDir = filepath.Join(s.cfg.DataDir, "overlays")
	for _, dir := range []string{s.uploadDir, s.overlayDir, filepath.Dir(s.cfg.DatabasePath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	store := datastore.New(s.cfg.DatabasePath)
	if err := store.Open(); err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	s.store = store

	if err := s.loadTemplates(ctx); err != nil {
		return err
	}
	if template.Get(s.cfg.DefaultTemplate) == nil {
		return fmt.Errorf("default template %q is not registered", s.cfg.DefaultTemplate)
	}

	keys, err := s.loadKeys(ctx)
	if err != nil {
		return err
	}
	s.keys = keys

	classifier, err := s.loadClassifier(ctx)
	if err != nil {
		return err
	}

	pcfg := pipeline.Config{
		RegisterParams: align.DefaultParams(),
		ExtractParams:  bubble.DefaultExtractParams(),
		Thresholds: resolve.Thresholds{
			FillFloor:        s.cfg.FillFloor,
			FillCeiling:      s.cfg.FillCeiling,
			SeparationMargin: s.cfg.SeparationMargin,
			TieBand:          s.cfg.TieBand,
			MinConfidence:    s.cfg.ClassifierMinConf,
		},
		AuditCapacity: s.cfg.AuditCapacity,
	}
	engine, err := pipeline.NewEngine(pcfg, classifier, s.log.Named("pipeline"))
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}

	if s.cfg.OCREnabled {
		reader, err := versionmark.NewReader()
		if err != nil {
			return fmt.Errorf("starting version reader: %w", err)
		}
		s.reader = reader
	}

	grader, err := worker.NewGrader(worker.GraderConfig{
		Store:          s.store,
		Engine:         engine,
		Keys:           s.keys,
		VersionReader:  s.reader,
		RegisterParams: pcfg.RegisterParams,
		OverlayDir:     s.overlayDir,
		Log:            s.log.Named("grader"),
	})
	if err != nil {
		return fmt.Errorf("building grader: %w", err)
	}

	s.queue = worker.NewQueue(s.cfg.QueueSize)
	s.pool = worker.NewPool(s.cfg.WorkerCount, s.queue, grader)
	s.pool.Start(ctx)

	if err := s.recoverPending(ctx); err != nil {
		return err
	}

	s.started = true
	s.log.Info(ctx, "service started",
		logger.Int("workers", s.cfg.WorkerCount),
		logger.Int("queue_size", s.cfg.QueueSize),
		logger.String("database", s.cfg.DatabasePath))
	return nil
}

// Stop drains the worker pool and releases the datastore and OCR reader.
// Safe to call on an unstarted service.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.started = false

	var firstErr error
	if err := s.pool.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if s.reader != nil {
		if err := s.reader.Close(); err != nil {
			s.log.Warn(ctx, "closing version reader", logger.Err(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if err := s.store.Close(); err != nil {
		s.log.Warn(ctx, "closing datastore", logger.Err(err))
		if firstErr == nil {
			firstErr = err
		}
	}
	s.log.Info(ctx, "service stopped")
	return firstErr
}

// Started reports whether Start has completed.
func (s *Service) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Store exposes the datastore for the HTTP layer.
func (s *Service) Store() datastore.Interface { return s.store }

// Queue exposes the grading queue for the HTTP layer.
func (s *Service) Queue() *worker.Queue { return s.queue }

// Keys exposes the loaded answer keys for the HTTP layer.
func (s *Service) Keys() *template.KeyStore { return s.keys }

// UploadDir is where uploaded sheet images are stored.
func (s *Service) UploadDir() string { return s.uploadDir }

// OverlayDir is where graded overlay renders are stored.
func (s *Service) OverlayDir() string { return s.overlayDir }

// loadTemplates registers every template JSON file under TemplateDir on top
// of the built-ins.
func (s *Service) loadTemplates(ctx context.Context) error {
	if s.cfg.TemplateDir == "" {
		return nil
	}
	entries, err := os.ReadDir(s.cfg.TemplateDir)
	if err != nil {
		return fmt.Errorf("reading template directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.cfg.TemplateDir, entry.Name())
		tmpl, err := template.LoadFromFile(path)
		if err != nil {
			return fmt.Errorf("loading template %s: %w", entry.Name(), err)
		}
		template.Register(tmpl)
		s.log.Info(ctx, "template registered",
			logger.String("template", tmpl.Name()),
			logger.String("file", entry.Name()))
	}
	return nil
}

// loadKeys builds the answer key store, from AnswerKeyDir when configured.
func (s *Service) loadKeys(ctx context.Context) (*template.KeyStore, error) {
	if s.cfg.AnswerKeyDir == "" {
		return template.NewKeyStore(), nil
	}
	keys, err := template.LoadKeyDir(s.cfg.AnswerKeyDir)
	if err != nil {
		return nil, fmt.Errorf("loading answer keys: %w", err)
	}
	s.log.Info(ctx, "answer keys loaded",
		logger.Int("versions", len(keys.Versions())),
		logger.String("dir", s.cfg.AnswerKeyDir))
	return keys, nil
}

// loadClassifier builds the ambiguity classifier when a model is configured.
// A model that does not parse fails startup; a missing or sparse model only
// logs, since grading degrades to leaving ambiguous rows unresolved.
func (s *Service) loadClassifier(ctx context.Context) (resolve.Classifier, error) {
	if s.cfg.ClassifierModelPath == "" {
		return nil, nil
	}
	ts, err := resolve.LoadTrainingSet(s.cfg.ClassifierModelPath)
	if err != nil {
		return nil, fmt.Errorf("loading classifier model: %w", err)
	}
	sc := resolve.NewStatClassifier(ts)
	sc.Train()
	if !sc.Trained() {
		s.log.Warn(ctx, "classifier model has too few samples, ambiguous rows stay unresolved",
			logger.String("model", s.cfg.ClassifierModelPath),
			logger.Int("labeled", ts.LabeledCount()))
		return nil, nil
	}
	s.log.Info(ctx, "classifier trained", logger.Int("labeled", ts.LabeledCount()))
	return sc, nil
}

// recoverPending requeues sheets that were uploaded or mid-processing when
// the previous run stopped.
func (s *Service) recoverPending(ctx context.Context) error {
	released, err := s.store.ReleaseProcessing()
	if err != nil {
		return err
	}
	if released > 0 {
		s.log.Warn(ctx, "released sheets stuck in processing", logger.Int("count", int(released)))
	}

	ids, err := s.store.SheetIDsByStatus(datastore.StatusUploaded)
	if err != nil {
		return err
	}
	requeued := 0
	for _, id := range ids {
		if !s.queue.Enqueue(id) {
			s.log.Warn(ctx, "queue filled during recovery, remaining sheets wait for re-upload",
				logger.Int("requeued", requeued),
				logger.Int("pending", len(ids)))
			break
		}
		requeued++
	}
	if requeued > 0 {
		s.log.Info(ctx, "requeued pending sheets", logger.Int("count", requeued))
	}
	return nil
}
