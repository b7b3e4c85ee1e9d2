package pipeline

import (
	"context"
	"os"
	"strconv"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-phase/capture"
	"github.com/nvr-ai/go-phase/decision"
	"github.com/nvr-ai/go-phase/journal"
	"github.com/nvr-ai/go-phase/models"
	"github.com/nvr-ai/go-phase/profiler"
	"github.com/nvr-ai/go-phase/storage"
)

// Detector turns an encoded frame into phase detections.
type Detector interface {
	DetectBytes(ctx context.Context, data []byte) (*models.Result, error)
}

// Publisher delivers servo commands.
type Publisher interface {
	Publish(topic, payload string) error
}

// Config wires an Orchestrator. Every field except Clock and Logger is required.
type Config struct {
	Source    capture.Source
	Detector  Detector
	Policy    *decision.Policy
	Publisher Publisher
	Topic     string
	Store     storage.Store
	Journal   journal.Sink
	// ArtifactPath is where the captured frame is written and read back from.
	ArtifactPath string
	Clock        clock.Clock
	Logger       *zap.SugaredLogger
	// Profiler receives stage timings. Nil creates one.
	Profiler *profiler.Profiler
}

// Stage names recorded in the profiler.
const (
	OpCycle     = "cycle"
	OpCapture   = "capture"
	OpDetect    = "detect"
	OpInference = "inference"
	OpPublish   = "publish"
	OpPersist   = "persist"
)

// Orchestrator runs one capture, detect, decide, publish and persist cycle at a time.
type Orchestrator struct {
	cfg    Config
	clock  clock.Clock
	prof   *profiler.Profiler
	logger *zap.SugaredLogger
}

// NewOrchestrator validates cfg and returns an orchestrator.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Source == nil:
		return nil, errors.New("orchestrator requires a frame source")
	case cfg.Detector == nil:
		return nil, errors.New("orchestrator requires a detector")
	case cfg.Policy == nil:
		return nil, errors.New("orchestrator requires a decision policy")
	case cfg.Publisher == nil:
		return nil, errors.New("orchestrator requires a publisher")
	case cfg.Topic == "":
		return nil, errors.New("orchestrator requires a topic")
	case cfg.Store == nil:
		return nil, errors.New("orchestrator requires a store")
	case cfg.Journal == nil:
		return nil, errors.New("orchestrator requires a journal")
	case cfg.ArtifactPath == "":
		return nil, errors.New("orchestrator requires an artifact path")
	}

	c := cfg.Clock
	if c == nil {
		c = clock.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	prof := cfg.Profiler
	if prof == nil {
		prof = profiler.New(c, 0)
	}
	return &Orchestrator{cfg: cfg, clock: c, prof: prof, logger: logger}, nil
}

// Profiler returns the stage timings.
func (o *Orchestrator) Profiler() *profiler.Profiler {
	return o.prof
}

// RunCycle runs one cycle to completion.
//
// Stage failures never escape: each one is journaled as a failure entry and
// recorded in the report. The cycle always ends with exactly one final entry.
func (o *Orchestrator) RunCycle(ctx context.Context) *Report {
	r := &Report{ID: uuid.NewString(), StartedAt: o.clock.Now()}
	log := o.logger.With("cycle", r.ID)
	r.enter(StateIdle)

	cycleDone := o.prof.StartOperation(OpCycle)
	defer func() {
		cycleDone()
		r.FinishedAt = o.clock.Now()
		r.enter(StateDone)
		log.Debugw("cycle done", "trace", r.Trace, "elapsed", r.FinishedAt.Sub(r.StartedAt))
	}()

	r.enter(StateCapturing)
	captureDone := o.prof.StartOperation(OpCapture)
	captured := o.capture(ctx)
	captureDone()
	if !captured.ok() {
		r.enter(StateCaptureFailed)
		o.finish(r, journal.StatusFailure, o.record(r, *captured.failure))
		return r
	}
	frame := captured.value
	r.enter(StateCaptured)
	log.Debugw("frame captured", "origin", frame.Origin, "bytes", len(frame.Data),
		"width", frame.Meta.Width, "height", frame.Meta.Height)

	r.enter(StateDetecting)
	detectDone := o.prof.StartOperation(OpDetect)
	detected := o.detect(ctx)
	detectDone()
	if !detected.ok() {
		r.enter(StateDetectionFailed)
		o.finish(r, journal.StatusFailure, o.record(r, *detected.failure))
		return r
	}
	r.enter(StateDetected)
	r.Labels = detected.value.Labels()
	r.Inference = detected.value.Inference
	o.prof.Record(OpInference, r.Inference)

	r.enter(StateDeciding)
	outcome := o.cfg.Policy.Decide(r.Labels)
	r.Outcome = &outcome
	if !outcome.Actuate {
		o.finish(r, journal.StatusFailure, outcome.String())
		return r
	}

	r.enter(StatePublishing)
	publishDone := o.prof.StartOperation(OpPublish)
	res := o.publish(outcome.Command)
	publishDone()
	if res.ok() {
		r.Published = true
	} else {
		o.cfg.Journal.Append(journal.StatusFailure, o.record(r, *res.failure))
	}

	r.enter(StatePersisting)
	persistDone := o.prof.StartOperation(OpPersist)
	o.persist(ctx, r, frame, outcome)
	persistDone()

	detail := outcome.String()
	if r.Recorded {
		detail += " | record: " + r.Reference
	}
	o.finish(r, journal.StatusSuccess, detail)
	return r
}

func (o *Orchestrator) capture(ctx context.Context) stageResult[*capture.Frame] {
	frame, err := o.cfg.Source.Fetch(ctx)
	if err != nil {
		return fail[*capture.Frame](FailureCapture, err)
	}
	if err := capture.Save(frame, o.cfg.ArtifactPath); err != nil {
		return fail[*capture.Frame](FailureCapture, errors.Wrap(err, "save frame"))
	}
	return succeed(frame)
}

func (o *Orchestrator) detect(ctx context.Context) stageResult[*models.Result] {
	data, err := os.ReadFile(o.cfg.ArtifactPath)
	if err != nil {
		return fail[*models.Result](FailureDetection, errors.Wrap(err, "read artifact"))
	}
	res, err := o.cfg.Detector.DetectBytes(ctx, data)
	if err != nil {
		return fail[*models.Result](FailureDetection, err)
	}
	return succeed(res)
}

func (o *Orchestrator) publish(command int) stageResult[struct{}] {
	if err := o.cfg.Publisher.Publish(o.cfg.Topic, strconv.Itoa(command)); err != nil {
		return fail[struct{}](FailurePublish, err)
	}
	return succeed(struct{}{})
}

// persist uploads the artifact, then inserts the record. The insert needs the
// upload reference and is skipped when the upload fails.
func (o *Orchestrator) persist(ctx context.Context, r *Report, frame *capture.Frame, outcome decision.Outcome) {
	name := storage.ArtifactName(frame.CapturedAt)
	ref, err := o.cfg.Store.UploadArtifact(ctx, name, frame.Data)
	if err != nil {
		o.cfg.Journal.Append(journal.StatusFailure, o.record(r, Failure{Kind: FailureArtifactUpload, Err: err}))
		return
	}
	r.Reference = ref

	if err := o.cfg.Store.InsertRecord(ctx, storage.NewRecord(ref, outcome.Labels, outcome.Command)); err != nil {
		o.cfg.Journal.Append(journal.StatusFailure, o.record(r, Failure{Kind: FailureRecordInsert, Err: err}))
		return
	}
	r.Recorded = true
}

// record adds f to the report and returns its journal detail.
func (o *Orchestrator) record(r *Report, f Failure) string {
	r.Failures = append(r.Failures, f)
	return f.Error()
}

func (o *Orchestrator) finish(r *Report, status journal.Status, detail string) {
	r.Status, r.Detail = status, detail
	o.cfg.Journal.Append(status, detail)
}
