package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gazepointer/internal/inference"
)

func TestThenShortCircuits(t *testing.T) {
	called := false
	r := Then(Skip[int](StageFace, ReasonNoFace, nil), func(v int) Result[string] {
		called = true
		return Ok("unreachable")
	})

	assert.False(t, called)
	assert.False(t, r.IsOk())
	_, skip := r.Get()
	require.NotNil(t, skip)
	assert.Equal(t, StageFace, skip.Stage)
	assert.Equal(t, ReasonNoFace, skip.Reason)
}

func TestThenChainsPayloads(t *testing.T) {
	r := Then(Ok(2), func(v int) Result[int] { return Ok(v * 21) })
	v, skip := r.Get()
	assert.Nil(t, skip)
	assert.Equal(t, 42, v)
}

func TestAttemptWrapsErrors(t *testing.T) {
	plain := errors.New("socket closed")
	r := Attempt(StageGaze, func() (float32, error) { return 0, plain })
	_, skip := r.Get()
	require.NotNil(t, skip)
	assert.Equal(t, ReasonInferenceError, skip.Reason)
	assert.ErrorIs(t, skip, plain)

	var inferErr *inference.InferenceError
	require.True(t, errors.As(skip, &inferErr))
	assert.Equal(t, "gaze", inferErr.Model)

	typed := &inference.InferenceError{Model: "landmarks", Err: plain}
	_, skip = Attempt(StageLandmarks, func() (int, error) { return 0, typed }).Get()
	require.True(t, errors.As(skip, &inferErr))
	assert.Same(t, typed, inferErr)
}

func TestMeanOfEmptySequence(t *testing.T) {
	mean, ok := Mean(nil)
	assert.False(t, ok)
	assert.Zero(t, mean)

	mean, ok = Mean([]time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond})
	assert.True(t, ok)
	assert.Equal(t, 20*time.Millisecond, mean)
}

func TestStatsSequencesOnlyGrow(t *testing.T) {
	s := NewStats()
	prevFace, prevTotal := 0, 0
	for i := 0; i < 10; i++ {
		s.AddFrame()
		if i%2 == 0 {
			s.AddFaceLatency(time.Duration(i) * time.Millisecond)
		}
		if i%3 == 0 {
			s.AddTotalLatency(time.Duration(i) * time.Millisecond)
		} else {
			s.AddSkip(&Skipped{Stage: StageLandmarks, Reason: ReasonInferenceError})
		}
		assert.GreaterOrEqual(t, s.FaceSamples(), prevFace)
		assert.GreaterOrEqual(t, s.TotalSamples(), prevTotal)
		prevFace, prevTotal = s.FaceSamples(), s.TotalSamples()
	}

	report := s.Report(time.Second)
	assert.Equal(t, 10, report.Frames)
	assert.Equal(t, 5, report.FaceSamples)
	assert.Equal(t, 4, report.TotalSamples)
	assert.Equal(t, 6, report.Skipped)
	assert.Equal(t, 4*time.Millisecond, report.FaceMean) // (0+2+4+6+8)/5
	assert.InDelta(t, 10.0, report.FPS, 1e-9)
}

func TestEventBusDelivery(t *testing.T) {
	bus := NewEventBus()

	var all, other []uint64
	bus.Subscribe(FrameResultHandlerFunc(func(r *FrameResult) { all = append(all, r.Seq) }))
	unsubscribe := bus.Subscribe(FrameResultHandlerFunc(func(r *FrameResult) { other = append(other, r.Seq) }))

	bus.Publish(&FrameResult{Seq: 1})
	bus.Publish(&FrameResult{Seq: 2, Skipped: &Skipped{Stage: StageFace, Reason: ReasonNoFace}})
	bus.Publish(nil)

	assert.Equal(t, []uint64{1, 2}, all)
	assert.Equal(t, []uint64{1, 2}, other)

	unsubscribe()
	bus.Publish(&FrameResult{Seq: 3})
	assert.Equal(t, []uint64{1, 2, 3}, all)
	assert.Equal(t, []uint64{1, 2}, other)
	assert.Equal(t, 1, bus.SubscriberCount())

	bus.Close()
	assert.Equal(t, 0, bus.SubscriberCount())
}
