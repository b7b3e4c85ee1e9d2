// Package app assembles a runnable phase camera from its configuration.
package app

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-phase/capture"
	"github.com/nvr-ai/go-phase/config"
	"github.com/nvr-ai/go-phase/decision"
	"github.com/nvr-ai/go-phase/inference"
	"github.com/nvr-ai/go-phase/inference/onnx"
	"github.com/nvr-ai/go-phase/inference/opencv"
	"github.com/nvr-ai/go-phase/journal"
	"github.com/nvr-ai/go-phase/models"
	"github.com/nvr-ai/go-phase/models/preprocess"
	"github.com/nvr-ai/go-phase/mqtt"
	"github.com/nvr-ai/go-phase/pipeline"
	"github.com/nvr-ai/go-phase/storage"
)

// App is an assembled phase camera.
type App struct {
	Orchestrator *pipeline.Orchestrator
	Scheduler    *pipeline.Scheduler
	Journal      *journal.Journal

	backend inference.Backend
	closers []func() error
	logger  *zap.SugaredLogger
}

// metered is implemented by backends that keep cumulative run timings.
type metered interface {
	Metrics() onnx.Metrics
}

// InferenceMetrics returns the cumulative backend timings, if the backend keeps them.
func (a *App) InferenceMetrics() (onnx.Metrics, bool) {
	m, ok := a.backend.(metered)
	if !ok {
		return onnx.Metrics{}, false
	}
	return m.Metrics(), true
}

// Close releases the backend, the broker connection and the store.
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}

// Builder assembles an App with a fluent API.
//
// Components not supplied through a With method are built from the
// configuration. The first failure is kept and every later step is skipped.
type Builder struct {
	cfg    *config.Config
	logger *zap.SugaredLogger
	clock  clock.Clock

	source    capture.Source
	backend   inference.Backend
	publisher pipeline.Publisher
	store     storage.Store

	detector *models.Detector
	journal  *journal.Journal
	closers  []func() error
	err      error
}

// NewBuilder creates a builder for cfg.
func NewBuilder(cfg *config.Config, logger *zap.SugaredLogger) *Builder {
	return &Builder{cfg: cfg, logger: logger, clock: clock.New()}
}

// WithClock sets the clock used for timestamps and scheduling.
func (b *Builder) WithClock(c clock.Clock) *Builder {
	b.clock = c
	return b
}

// WithSource sets the frame source.
func (b *Builder) WithSource(src capture.Source) *Builder {
	b.source = src
	return b
}

// WithBackend sets the inference backend. The App takes ownership and closes it.
func (b *Builder) WithBackend(backend inference.Backend) *Builder {
	b.backend = backend
	return b
}

// WithPublisher sets the command publisher.
func (b *Builder) WithPublisher(p pipeline.Publisher) *Builder {
	b.publisher = p
	return b
}

// WithStore sets the persistence sink. The App takes ownership and closes it.
func (b *Builder) WithStore(s storage.Store) *Builder {
	b.store = s
	return b
}

// HasError reports whether a step failed.
func (b *Builder) HasError() bool {
	return b.err != nil
}

// Build assembles the App. Every returned error is a *config.Error.
//
// Arguments:
//   - ctx: Bounds the broker connection attempt.
//
// Returns:
//   - *App: The app. Call Close to release its resources.
//   - error: The first failure. Resources built before it are released.
func (b *Builder) Build(ctx context.Context) (*App, error) {
	b.buildSource()
	b.buildDetector()
	b.buildPublisher(ctx)
	b.buildStore()

	if b.HasError() {
		b.release()
		return nil, b.err
	}

	b.journal = journal.New(b.cfg.LogPath, b.clock, b.logger.Named("journal"))
	table, _ := b.cfg.PhaseTable()

	orch, err := pipeline.NewOrchestrator(pipeline.Config{
		Source:       b.source,
		Detector:     b.detector,
		Policy:       decision.NewPolicy(table, b.cfg.NeutralCommand),
		Publisher:    b.publisher,
		Topic:        b.cfg.MQTT.Topic,
		Store:        b.store,
		Journal:      b.journal,
		ArtifactPath: b.cfg.ArtifactPath,
		Clock:        b.clock,
		Logger:       b.logger.Named("cycle"),
	})
	if err != nil {
		b.release()
		return nil, &config.Error{Err: err}
	}

	sched, err := pipeline.NewScheduler(orch, b.cfg.Interval(), b.clock, b.logger.Named("scheduler"))
	if err != nil {
		b.release()
		return nil, &config.Error{Field: "interval_seconds", Err: err}
	}

	return &App{
		Orchestrator: orch,
		Scheduler:    sched,
		Journal:      b.journal,
		backend:      b.backend,
		closers:      b.closers,
		logger:       b.logger,
	}, nil
}

func (b *Builder) fail(field string, err error) {
	b.err = &config.Error{Field: field, Err: err}
}

func (b *Builder) release() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			b.logger.Warnw("release after failed build", "error", err)
		}
	}
	b.closers = nil
}

func (b *Builder) buildSource() {
	if b.HasError() || b.source != nil {
		return
	}
	switch b.cfg.Camera.Source {
	case config.SourceDirectory:
		src, err := capture.NewDirectorySource(b.cfg.Camera.Directory, b.clock)
		if err != nil {
			b.fail("camera.directory", err)
			return
		}
		b.source = src
	default:
		b.source = capture.NewHTTPSource(b.cfg.Camera.URL, b.cfg.CaptureTimeout(), capture.WithClock(b.clock))
	}
}

func (b *Builder) buildDetector() {
	if b.HasError() {
		return
	}

	if b.backend == nil {
		backend, err := b.newBackend()
		if err != nil {
			b.fail("model", errors.Wrapf(err, "%s backend", b.cfg.Model.Backend))
			return
		}
		b.backend = backend
	}

	table, err := b.cfg.PhaseTable()
	if err != nil {
		b.backend.Close()
		b.fail("phases", err)
		return
	}
	post, err := models.NewPostprocessor(b.cfg.ModelConfig(), table)
	if err != nil {
		b.backend.Close()
		b.fail("model", err)
		return
	}

	b.detector = models.NewDetector(preprocess.NewPreprocessor(b.cfg.PreprocessConfig()), b.backend, post)
	b.closers = append(b.closers, b.detector.Close)
}

func (b *Builder) newBackend() (inference.Backend, error) {
	logger := b.logger.Named(string(b.cfg.Model.Backend))
	switch b.cfg.Model.Backend {
	case inference.EngineOpenCV:
		return opencv.New(b.cfg.OpenCVConfig(), logger)
	default:
		return onnx.New(b.cfg.ONNXConfig(), logger)
	}
}

func (b *Builder) buildPublisher(ctx context.Context) {
	if b.HasError() || b.publisher != nil {
		return
	}
	p := mqtt.New(b.cfg.MQTTConfig(), b.logger.Named("mqtt"))
	if err := p.Connect(ctx); err != nil {
		b.fail("mqtt", err)
		return
	}
	b.publisher = p
	b.closers = append(b.closers, func() error {
		p.Disconnect()
		return nil
	})
}

func (b *Builder) buildStore() {
	if b.HasError() {
		return
	}
	if b.store == nil {
		s, err := storage.Open(b.cfg.Storage, b.logger.Named("storage"))
		if err != nil {
			b.fail("storage", err)
			return
		}
		b.store = s
	}
	b.closers = append(b.closers, b.store.Close)
}
