package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nvr-ai/go-phase/capture"
	"github.com/nvr-ai/go-phase/decision"
	"github.com/nvr-ai/go-phase/images"
	"github.com/nvr-ai/go-phase/inference"
	"github.com/nvr-ai/go-phase/journal"
	"github.com/nvr-ai/go-phase/models"
	"github.com/nvr-ai/go-phase/models/model"
	"github.com/nvr-ai/go-phase/models/preprocess"
	"github.com/nvr-ai/go-phase/phases"
	"github.com/nvr-ai/go-phase/storage"
)

const topic = "hidroponia/servo"

var capturedAt = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	frame *capture.Frame
	err   error
	calls int
}

func (s *fakeSource) Fetch(context.Context) (*capture.Frame, error) {
	s.calls++
	return s.frame, s.err
}

type published struct {
	Topic   string
	Payload string
}

type fakePublisher struct {
	err   error
	calls []published
}

func (p *fakePublisher) Publish(topic, payload string) error {
	p.calls = append(p.calls, published{topic, payload})
	return p.err
}

type fakeStore struct {
	uploadErr error
	insertErr error
	uploads   []string
	inserts   []storage.Record
}

func (s *fakeStore) UploadArtifact(_ context.Context, name string, _ []byte) (string, error) {
	s.uploads = append(s.uploads, name)
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	return "https://bucket/" + name, nil
}

func (s *fakeStore) InsertRecord(_ context.Context, r storage.Record) error {
	s.inserts = append(s.inserts, r)
	return s.insertErr
}

func (s *fakeStore) Close() error { return nil }

type entry struct {
	Status journal.Status
	Detail string
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []entry
}

func (j *fakeJournal) Append(status journal.Status, detail string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry{status, detail})
}

// head builds a (1, 7, A) output from per-anchor rows [cx, cy, w, h, s0, s1, s2].
func head(anchors ...[]float32) inference.Tensor {
	n := len(anchors)
	data := make([]float32, 7*n)
	for a, row := range anchors {
		for attr, v := range row {
			data[attr*n+a] = v
		}
	}
	return inference.Tensor{Shape: []int64{1, 7, int64(n)}, Data: data}
}

type harness struct {
	source    *fakeSource
	publisher *fakePublisher
	store     *fakeStore
	journal   *fakeJournal
	artifact  string
	runs      int
	orch      *Orchestrator
}

func testFrame(t *testing.T) *capture.Frame {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 48, 32))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	img.Set(0, 0, color.RGBA{255, 0, 0, 255})
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	decoded, meta, err := images.Decode(buf.Bytes())
	require.NoError(t, err)
	return &capture.Frame{Data: buf.Bytes(), Image: decoded, Meta: meta, CapturedAt: capturedAt, Origin: "test"}
}

func newHarness(t *testing.T, backend inference.BackendFunc) *harness {
	t.Helper()
	h := &harness{
		source:    &fakeSource{frame: testFrame(t)},
		publisher: &fakePublisher{},
		store:     &fakeStore{},
		journal:   &fakeJournal{},
		artifact:  filepath.Join(t.TempDir(), "captured", "current_capture.jpg"),
	}

	post, err := models.NewPostprocessor(model.DefaultConfig(), phases.Default())
	require.NoError(t, err)
	pre := preprocess.NewPreprocessor(preprocess.Config{InputWidth: 32, InputHeight: 32})
	counted := inference.BackendFunc(func(ctx context.Context, in inference.Tensor) ([]inference.Tensor, error) {
		h.runs++
		return backend(ctx, in)
	})

	mock := clock.NewMock()
	mock.Set(capturedAt)
	h.orch, err = NewOrchestrator(Config{
		Source:       h.source,
		Detector:     models.NewDetector(pre, counted, post),
		Policy:       decision.NewPolicy(phases.Default(), 0),
		Publisher:    h.publisher,
		Topic:        topic,
		Store:        h.store,
		Journal:      h.journal,
		ArtifactPath: h.artifact,
		Clock:        mock,
		Logger:       zaptest.NewLogger(t).Sugar(),
	})
	require.NoError(t, err)
	return h
}

func returns(outputs ...inference.Tensor) inference.BackendFunc {
	return func(context.Context, inference.Tensor) ([]inference.Tensor, error) {
		return outputs, nil
	}
}

func TestRunCycle_SingleDetection(t *testing.T) {
	h := newHarness(t, returns(head([]float32{16, 16, 8, 8, 0.9, 0.05, 0.05})))

	r := h.orch.RunCycle(context.Background())

	assert.Equal(t, []State{
		StateIdle, StateCapturing, StateCaptured, StateDetecting, StateDetected,
		StateDeciding, StatePublishing, StatePersisting, StateDone,
	}, r.Trace)
	assert.Equal(t, []string{"fase_1"}, r.Labels)
	require.NotNil(t, r.Outcome)
	assert.Equal(t, 30, r.Outcome.Command)
	assert.True(t, r.Published)
	assert.True(t, r.Succeeded())
	assert.Empty(t, r.Failures)

	assert.Equal(t, []published{{topic, "30"}}, h.publisher.calls)
	assert.Equal(t, []string{"2026-05-01_12-00-00.jpg"}, h.store.uploads)
	if diff := cmp.Diff([]storage.Record{{
		Image:  "https://bucket/2026-05-01_12-00-00.jpg",
		Phases: "[fase_1]",
		Angle:  "30 graus",
	}}, h.store.inserts); diff != "" {
		t.Errorf("inserted records (-want +got):\n%s", diff)
	}
	assert.Equal(t, "https://bucket/2026-05-01_12-00-00.jpg", r.Reference)
	assert.True(t, r.Recorded)
	assert.Equal(t, []entry{{
		journal.StatusSuccess,
		"detected phases: [fase_1] | command: 30 | record: https://bucket/2026-05-01_12-00-00.jpg",
	}}, h.journal.entries)

	saved, err := os.ReadFile(h.artifact)
	require.NoError(t, err)
	assert.Equal(t, h.source.frame.Data, saved)

	var ops []string
	for _, s := range h.orch.Profiler().Operations() {
		assert.Equal(t, int64(1), s.Count, s.Name)
		ops = append(ops, s.Name)
	}
	assert.Equal(t, []string{OpCapture, OpCycle, OpDetect, OpInference, OpPersist, OpPublish}, ops)
}

func TestRunCycle_OverlapSuppressed(t *testing.T) {
	h := newHarness(t, returns(head(
		[]float32{16, 16, 10, 10, 0.6, 0, 0},
		[]float32{16.2, 16.2, 10, 10, 0.8, 0, 0},
	)))

	r := h.orch.RunCycle(context.Background())

	assert.Equal(t, []string{"fase_1"}, r.Labels)
	assert.Equal(t, []published{{topic, "30"}}, h.publisher.calls)
}

func TestRunCycle_MultiplePhasesUsesFirst(t *testing.T) {
	h := newHarness(t, returns(head(
		[]float32{5, 5, 4, 4, 0, 0.5, 0},
		[]float32{25, 25, 4, 4, 0, 0, 0.9},
	)))

	r := h.orch.RunCycle(context.Background())

	assert.Equal(t, []string{"fase_3", "fase_2"}, r.Labels)
	assert.Equal(t, []published{{topic, "90"}}, h.publisher.calls)
	assert.Equal(t, "[fase_3 fase_2]", h.store.inserts[0].Phases)
	assert.Equal(t, "90 graus", h.store.inserts[0].Angle)
}

func TestRunCycle_NothingDetected(t *testing.T) {
	h := newHarness(t, returns(head([]float32{16, 16, 8, 8, 0.1, 0.05, 0.02})))

	r := h.orch.RunCycle(context.Background())

	assert.Empty(t, r.Labels)
	assert.Equal(t, StateDone, r.State())
	assert.True(t, r.Visited(StateDeciding))
	assert.False(t, r.Visited(StatePublishing))
	assert.False(t, r.Visited(StatePersisting))
	assert.Empty(t, h.publisher.calls)
	assert.Empty(t, h.store.uploads)
	assert.Empty(t, h.store.inserts)
	assert.Equal(t, []entry{{journal.StatusFailure, "no phase detected"}}, h.journal.entries)
}

func TestRunCycle_CaptureTimeout(t *testing.T) {
	h := newHarness(t, returns(head([]float32{16, 16, 8, 8, 0.9, 0, 0})))
	h.source.err = errors.Wrap(capture.ErrTransport, "http://cam: context deadline exceeded")
	h.source.frame = nil

	r := h.orch.RunCycle(context.Background())

	assert.Equal(t, []State{StateIdle, StateCapturing, StateCaptureFailed, StateDone}, r.Trace)
	assert.True(t, r.Failed(FailureCapture))
	assert.True(t, errors.Is(r.Failures[0], capture.ErrTransport))
	assert.Zero(t, h.runs)
	assert.Empty(t, h.publisher.calls)
	assert.Empty(t, h.store.uploads)
	require.Len(t, h.journal.entries, 1)
	assert.Equal(t, journal.StatusFailure, h.journal.entries[0].Status)
	assert.Contains(t, h.journal.entries[0].Detail, "capture failed")
	assert.Contains(t, h.journal.entries[0].Detail, "deadline exceeded")
	assert.NoFileExists(t, h.artifact)
	_, ok := h.orch.Profiler().Operation(OpDetect)
	assert.False(t, ok)
}

func TestRunCycle_PublishFailureStillPersists(t *testing.T) {
	h := newHarness(t, returns(head([]float32{16, 16, 8, 8, 0, 0.9, 0})))
	h.publisher.err = errors.New("not connected")

	r := h.orch.RunCycle(context.Background())

	assert.False(t, r.Published)
	assert.True(t, r.Failed(FailurePublish))
	assert.Len(t, h.store.uploads, 1)
	assert.Len(t, h.store.inserts, 1)
	require.Len(t, h.journal.entries, 2)
	assert.Equal(t, journal.StatusFailure, h.journal.entries[0].Status)
	assert.Contains(t, h.journal.entries[0].Detail, "publish failed: not connected")
	assert.Equal(t, entry{
		journal.StatusSuccess,
		"detected phases: [fase_2] | command: 60 | record: https://bucket/2026-05-01_12-00-00.jpg",
	}, h.journal.entries[1], "persistence outcome is journaled despite the publish failure")
}

func TestRunCycle_UploadFailureSkipsInsert(t *testing.T) {
	h := newHarness(t, returns(head([]float32{16, 16, 8, 8, 0.9, 0, 0})))
	h.publisher.err = errors.New("broker down")
	h.store.uploadErr = errors.Wrap(storage.ErrArtifactUpload, "status 500")

	r := h.orch.RunCycle(context.Background())

	assert.Len(t, h.store.uploads, 1)
	assert.Empty(t, h.store.inserts)
	assert.Empty(t, r.Reference)
	require.Len(t, r.Failures, 2)
	assert.Equal(t, FailurePublish, r.Failures[0].Kind)
	assert.Equal(t, FailureArtifactUpload, r.Failures[1].Kind)

	require.Len(t, h.journal.entries, 3)
	assert.Equal(t, journal.StatusFailure, h.journal.entries[0].Status)
	assert.Equal(t, journal.StatusFailure, h.journal.entries[1].Status)
	assert.Contains(t, h.journal.entries[1].Detail, "artifact_upload failed")
	assert.Equal(t, entry{journal.StatusSuccess, "detected phases: [fase_1] | command: 30"}, h.journal.entries[2])
}

func TestRunCycle_InsertFailure(t *testing.T) {
	h := newHarness(t, returns(head([]float32{16, 16, 8, 8, 0.9, 0, 0})))
	h.store.insertErr = errors.Wrap(storage.ErrRecordInsert, "duplicate key")

	r := h.orch.RunCycle(context.Background())

	assert.True(t, r.Published)
	assert.True(t, r.Failed(FailureRecordInsert))
	assert.True(t, errors.Is(r.Failures[0], storage.ErrRecordInsert))
	require.Len(t, h.journal.entries, 2)
	assert.Contains(t, h.journal.entries[0].Detail, "record_insert failed")
	assert.Equal(t, entry{journal.StatusSuccess, "detected phases: [fase_1] | command: 30"}, h.journal.entries[1])
	assert.False(t, r.Recorded)
	assert.True(t, r.Succeeded())
}

func TestRunCycle_DetectionFailures(t *testing.T) {
	cases := map[string]struct {
		backend inference.BackendFunc
		target  error
	}{
		"backend error": {
			backend: func(context.Context, inference.Tensor) ([]inference.Tensor, error) {
				return nil, errors.New("session run failed")
			},
		},
		"backend panic": {
			backend: func(context.Context, inference.Tensor) ([]inference.Tensor, error) {
				panic("native crash")
			},
			target: models.ErrBackendPanic,
		},
		"bad head": {
			backend: returns(inference.Tensor{Shape: []int64{1, 2}, Data: []float32{1, 2}}),
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, tc.backend)

			r := h.orch.RunCycle(context.Background())

			assert.Equal(t, []State{
				StateIdle, StateCapturing, StateCaptured, StateDetecting, StateDetectionFailed, StateDone,
			}, r.Trace)
			assert.True(t, r.Failed(FailureDetection))
			if tc.target != nil {
				assert.True(t, errors.Is(r.Failures[0], tc.target))
			}
			assert.Empty(t, h.publisher.calls)
			assert.Empty(t, h.store.uploads)
			require.Len(t, h.journal.entries, 1)
			assert.Equal(t, journal.StatusFailure, h.journal.entries[0].Status)
			assert.Contains(t, h.journal.entries[0].Detail, "detection failed")
		})
	}
}

func TestRunCycle_UndecodableArtifact(t *testing.T) {
	h := newHarness(t, returns(head([]float32{16, 16, 8, 8, 0.9, 0, 0})))
	h.source.frame.Data = []byte("not a jpeg")

	r := h.orch.RunCycle(context.Background())

	assert.True(t, r.Failed(FailureDetection))
	assert.True(t, errors.Is(r.Failures[0], preprocess.ErrInvalidImage))
	assert.Zero(t, h.runs)
}

func TestNewOrchestratorRequiresDependencies(t *testing.T) {
	_, err := NewOrchestrator(Config{})
	assert.Error(t, err)

	h := newHarness(t, returns())
	cfg := h.orch.cfg
	cfg.Topic = ""
	_, err = NewOrchestrator(cfg)
	assert.Error(t, err)
}
