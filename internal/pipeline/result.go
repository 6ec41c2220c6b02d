package pipeline

import (
	"errors"
	"fmt"

	"gazepointer/internal/inference"
)

// Stage names a step of the per-frame chain
type Stage string

const (
	StageFace      Stage = "face_detection"
	StageLandmarks Stage = "landmarks"
	StageHeadPose  Stage = "head_pose"
	StageGaze      Stage = "gaze"
	StageActuate   Stage = "actuate"
)

// SkipReason explains why a frame was abandoned
type SkipReason string

const (
	// ReasonNoFace - no detection reached the confidence threshold
	ReasonNoFace SkipReason = "no_face"
	// ReasonInferenceError - a model call failed
	ReasonInferenceError SkipReason = "inference_error"
	// ReasonActuatorError - the gaze was computed but the pointer could not move
	ReasonActuatorError SkipReason = "actuator_error"
)

// Skipped records where and why a frame left the chain
type Skipped struct {
	Stage  Stage      `json:"stage"`
	Reason SkipReason `json:"reason"`
	Err    error      `json:"-"`
}

func (s *Skipped) Error() string {
	if s.Err != nil {
		return fmt.Sprintf("frame skipped at %s (%s): %v", s.Stage, s.Reason, s.Err)
	}
	return fmt.Sprintf("frame skipped at %s (%s)", s.Stage, s.Reason)
}

func (s *Skipped) Unwrap() error {
	return s.Err
}

// Result is either a stage payload or the reason the frame was skipped
type Result[T any] struct {
	value T
	skip  *Skipped
}

// Ok wraps a stage payload
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Skip abandons the frame at stage
func Skip[T any](stage Stage, reason SkipReason, err error) Result[T] {
	return Result[T]{skip: &Skipped{Stage: stage, Reason: reason, Err: err}}
}

// Get returns the payload, or the skip when there is none
func (r Result[T]) Get() (T, *Skipped) {
	return r.value, r.skip
}

// IsOk reports whether the result carries a payload
func (r Result[T]) IsOk() bool {
	return r.skip == nil
}

// Then feeds an Ok payload to the next stage. A skip short-circuits and is
// carried through unchanged.
func Then[T, U any](r Result[T], next func(T) Result[U]) Result[U] {
	if r.skip != nil {
		return Result[U]{skip: r.skip}
	}
	return next(r.value)
}

// Attempt runs one model call. Any error skips the frame as an inference
// error; the call is not retried.
func Attempt[T any](stage Stage, call func() (T, error)) Result[T] {
	v, err := call()
	if err != nil {
		var inferErr *inference.InferenceError
		if !errors.As(err, &inferErr) {
			err = &inference.InferenceError{Model: string(stage), Err: err}
		}
		return Skip[T](stage, ReasonInferenceError, err)
	}
	return Ok(v)
}
