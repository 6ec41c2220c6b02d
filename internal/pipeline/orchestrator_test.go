package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gazepointer/internal/frame"
	"gazepointer/internal/inference"
	"gazepointer/internal/inference/inferencetest"
	"gazepointer/internal/model"
)

// fakeSource replays frames, then reports exhaustion. A camera source
// repeats its frames until the context is cancelled.
type fakeSource struct {
	kind   frame.Kind
	images []*image.NRGBA
	failAt int // 1-based frame number that returns err, 0 for never
	err    error

	seq    uint64
	reads  int
	closed int
}

func (s *fakeSource) Kind() frame.Kind { return s.kind }

func (s *fakeSource) Next(ctx context.Context) (*frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.reads++
	if s.failAt > 0 && s.reads == s.failAt {
		return nil, s.err
	}
	if s.kind != frame.KindCamera && int(s.seq) >= len(s.images) {
		return nil, frame.ErrStreamExhausted
	}
	img := s.images[int(s.seq)%len(s.images)]
	s.seq++
	return &frame.Frame{Image: img, Seq: s.seq, Timestamp: time.Now()}, nil
}

func (s *fakeSource) Close() error {
	s.closed++
	return nil
}

type countingActuator struct {
	mu    sync.Mutex
	moves [][2]float64
	err   error
}

func (a *countingActuator) Move(x, y float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.moves = append(a.moves, [2]float64{x, y})
	return a.err
}

func (a *countingActuator) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.moves)
}

func testFrame(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func videoSource(n int) *fakeSource {
	src := &fakeSource{kind: frame.KindVideo}
	for i := 0; i < n; i++ {
		src.images = append(src.images, testFrame(160, 120))
	}
	return src
}

type harness struct {
	engine   *inferencetest.Engine
	set      *model.Set
	actuator *countingActuator
	bus      *EventBus
	logger   *logrus.Logger
	hook     *test.Hook
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	engine := inferencetest.NewGazeEngine("CPU")
	set, err := model.OpenSet(context.Background(), engine, model.SetSpec{
		FacePath:      inferencetest.FacePath,
		LandmarksPath: inferencetest.LandmarksPath,
		HeadPosePath:  inferencetest.HeadPosePath,
		GazePath:      inferencetest.GazePath,
		Device:        "CPU",
	}, logger)
	require.NoError(t, err)
	_, err = set.Load(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { set.Close() })

	return &harness{
		engine:   engine,
		set:      set,
		actuator: &countingActuator{},
		bus:      NewEventBus(),
		logger:   logger,
		hook:     hook,
	}
}

func (h *harness) orchestrator(t *testing.T, src frame.Source, showPerf bool) *Orchestrator {
	t.Helper()
	o, err := New(ModelsFromSet(h.set), src, h.actuator, Options{
		Logger:         h.logger,
		Bus:            h.bus,
		Perf:           h.set,
		ShowPerfCounts: showPerf,
	})
	require.NoError(t, err)
	return o
}

func (h *harness) collect() *[]*FrameResult {
	var results []*FrameResult
	h.bus.Subscribe(FrameResultHandlerFunc(func(r *FrameResult) {
		results = append(results, r)
	}))
	return &results
}

func TestRunFaceInEveryFrame(t *testing.T) {
	h := newHarness(t)
	src := videoSource(3)
	results := h.collect()

	report, err := h.orchestrator(t, src, false).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, h.actuator.count())
	require.Len(t, *results, 3)
	for i, r := range *results {
		assert.Equal(t, uint64(i+1), r.Seq)
		assert.True(t, r.Completed())
		require.NotNil(t, r.Face)
		require.NotNil(t, r.Eyes)
		require.NotNil(t, r.Pose)
		require.NotNil(t, r.Gaze)
		assert.Equal(t, image.Rect(40, 24, 120, 96), r.Face.Box.Rect)
		assert.Equal(t, 16, r.Eyes.Left.Side) // int(0.2 × 80)
		assert.Equal(t, 16, r.Eyes.Right.Side)
		assert.Equal(t, model.HeadPose{Yaw: 5, Pitch: -3, Roll: 1}, *r.Pose)
		assert.InDelta(t, 0.1, r.Gaze.X, 1e-6)
	}

	assert.Equal(t, 3, report.Frames)
	assert.Equal(t, 3, report.Completed)
	assert.Equal(t, 0, report.Skipped)
	assert.Equal(t, 3, report.FaceSamples)
	assert.Equal(t, 3, report.TotalSamples)
	assert.True(t, report.HasFaceMean)
	assert.True(t, report.HasTotalMean)

	// Pointer receives the raw x/y projection
	assert.InDelta(t, 0.1, h.actuator.moves[0][0], 1e-6)
	assert.InDelta(t, -0.2, h.actuator.moves[0][1], 1e-6)

	assert.Equal(t, 1, src.closed)
	assert.Equal(t, 0, h.bus.SubscriberCount())
}

func TestRunBlankScene(t *testing.T) {
	h := newHarness(t)
	h.engine.SetInfer(inferencetest.FacePath, inferencetest.Detections())
	src := videoSource(4)
	results := h.collect()

	report, err := h.orchestrator(t, src, false).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, h.actuator.count())
	assert.Equal(t, 4, h.engine.Calls(inferencetest.FacePath))
	assert.Equal(t, 0, h.engine.Calls(inferencetest.LandmarksPath))
	assert.Equal(t, 0, h.engine.Calls(inferencetest.HeadPosePath))
	assert.Equal(t, 0, h.engine.Calls(inferencetest.GazePath))

	require.Len(t, *results, 4)
	for _, r := range *results {
		require.NotNil(t, r.Skipped)
		assert.Equal(t, StageFace, r.Skipped.Stage)
		assert.Equal(t, ReasonNoFace, r.Skipped.Reason)
		assert.Nil(t, r.Face)
		assert.Nil(t, r.Gaze)
	}

	assert.Equal(t, 4, report.Frames)
	assert.Equal(t, 4, report.Skipped)
	assert.Equal(t, map[string]int{"face_detection/no_face": 4}, report.Skips)
	assert.False(t, report.HasFaceMean)
	assert.False(t, report.HasTotalMean)
	assert.Zero(t, report.FaceMean)
	assert.Zero(t, report.TotalMean)
	assert.Equal(t, 1, src.closed)
}

func TestRunSkipsFrameOnInferenceError(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("device lost")
	h.engine.SetInfer(inferencetest.HeadPosePath, inferencetest.Failing(boom))
	results := h.collect()

	report, err := h.orchestrator(t, videoSource(2), false).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, h.actuator.count())
	assert.Equal(t, 0, h.engine.Calls(inferencetest.GazePath))
	require.Len(t, *results, 2)

	skip := (*results)[0].Skipped
	require.NotNil(t, skip)
	assert.Equal(t, StageHeadPose, skip.Stage)
	assert.Equal(t, ReasonInferenceError, skip.Reason)
	assert.ErrorIs(t, skip, boom)
	var inferErr *inference.InferenceError
	assert.True(t, errors.As(skip, &inferErr))

	// Earlier stages are kept, later ones are absent
	assert.NotNil(t, (*results)[0].Face)
	assert.NotNil(t, (*results)[0].Eyes)
	assert.Nil(t, (*results)[0].Pose)

	assert.Equal(t, 2, report.FaceSamples)
	assert.Equal(t, 0, report.TotalSamples)
	assert.Equal(t, map[string]int{"head_pose/inference_error": 2}, report.Skips)
}

func TestRunActuatorErrorIsCounted(t *testing.T) {
	h := newHarness(t)
	h.actuator.err = errors.New("no display")

	report, err := h.orchestrator(t, videoSource(1), false).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, h.actuator.count())
	assert.Equal(t, 0, report.Completed)
	assert.Equal(t, 1, report.TotalSamples)
	assert.Equal(t, map[string]int{"actuate/actuator_error": 1}, report.Skips)
}

func TestRunMirrorsCameraFramesOnly(t *testing.T) {
	for _, kind := range []frame.Kind{frame.KindCamera, frame.KindVideo} {
		t.Run(string(kind), func(t *testing.T) {
			h := newHarness(t)
			src := &fakeSource{kind: kind, images: []*image.NRGBA{testFrame(160, 120)}}
			original := testFrame(160, 120)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			var first *FrameResult
			h.bus.Subscribe(FrameResultHandlerFunc(func(r *FrameResult) {
				if first == nil {
					first = r
				}
				cancel()
			}))

			_, err := h.orchestrator(t, src, false).Run(ctx)
			require.NoError(t, err)
			require.NotNil(t, first)

			if kind == frame.KindCamera {
				assert.Equal(t, original.NRGBAAt(159, 0), first.Frame.NRGBAAt(0, 0))
			} else {
				assert.Equal(t, original.NRGBAAt(0, 0), first.Frame.NRGBAAt(0, 0))
			}
			// The source image is never modified in place
			assert.Equal(t, original.Pix, src.images[0].Pix)
		})
	}
}

func TestRunStopsOnCancellation(t *testing.T) {
	h := newHarness(t)
	src := &fakeSource{kind: frame.KindCamera, images: []*image.NRGBA{testFrame(160, 120)}}

	ctx, cancel := context.WithCancel(context.Background())
	h.bus.Subscribe(FrameResultHandlerFunc(func(r *FrameResult) {
		if r.Seq == 5 {
			cancel()
		}
	}))

	report, err := h.orchestrator(t, src, false).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Frames)
	assert.Equal(t, 5, h.actuator.count())
	assert.Equal(t, 1, src.closed)
}

func TestRunReturnsSourceErrors(t *testing.T) {
	h := newHarness(t)
	src := videoSource(3)
	src.failAt = 2
	src.err = errors.New("decoder crashed")

	report, err := h.orchestrator(t, src, false).Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "decoder crashed")
	require.NotNil(t, report)
	assert.Equal(t, 1, report.Frames)
	assert.Equal(t, 1, src.closed)
}

func TestRunLogsPerfCounts(t *testing.T) {
	h := newHarness(t)

	_, err := h.orchestrator(t, videoSource(1), true).Run(context.Background())
	require.NoError(t, err)

	found := false
	for _, entry := range h.hook.AllEntries() {
		if entry.Data["layer"] == "conv1" && entry.Data["model"] == model.FaceDetectionName {
			found = true
			assert.Equal(t, "jit_avx2_FP32", entry.Data["exec_type"])
		}
	}
	assert.True(t, found, "expected a perf counter entry for conv1")
}

func TestNewRequiresCollaborators(t *testing.T) {
	h := newHarness(t)
	models := ModelsFromSet(h.set)

	_, err := New(Models{}, videoSource(1), h.actuator, Options{})
	assert.Error(t, err)
	_, err = New(models, nil, h.actuator, Options{})
	assert.Error(t, err)
	_, err = New(models, videoSource(1), nil, Options{})
	assert.Error(t, err)
}
