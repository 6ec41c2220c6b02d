package pipeline

import (
	"context"
	"image"

	"gazepointer/internal/inference"
	"gazepointer/internal/model"
)

// FaceDetector returns the best face of a frame, or nil when there is none
type FaceDetector interface {
	Detect(ctx context.Context, img image.Image) (*model.FaceDetection, error)
}

// LandmarksDetector derives both eye crops from a face crop
type LandmarksDetector interface {
	Eyes(ctx context.Context, face image.Image) (model.EyePair, error)
}

// HeadPoseEstimator estimates head orientation from a face crop
type HeadPoseEstimator interface {
	Estimate(ctx context.Context, face image.Image) (model.HeadPose, error)
}

// GazeEstimator combines eye crops and head pose into a gaze vector
type GazeEstimator interface {
	Estimate(ctx context.Context, in model.GazeInput) (model.GazeVector, error)
}

// Models are the four stages of the chain
type Models struct {
	Face      FaceDetector
	Landmarks LandmarksDetector
	HeadPose  HeadPoseEstimator
	Gaze      GazeEstimator
}

// ModelsFromSet adapts a loaded model set
func ModelsFromSet(set *model.Set) Models {
	return Models{
		Face:      set.Face,
		Landmarks: set.Landmarks,
		HeadPose:  set.HeadPose,
		Gaze:      set.Gaze,
	}
}

// Actuator moves the pointer by a gaze projection
type Actuator interface {
	Move(x, y float64) error
}

// FrameResultHandler receives per-frame results
type FrameResultHandler interface {
	// OnFrameResult is called synchronously from the pipeline loop and
	// must not block
	OnFrameResult(result *FrameResult)
}

// FrameResultHandlerFunc adapts a function to FrameResultHandler
type FrameResultHandlerFunc func(result *FrameResult)

func (f FrameResultHandlerFunc) OnFrameResult(result *FrameResult) {
	f(result)
}

// PerfReporter exposes per-layer counters keyed by model name
type PerfReporter interface {
	PerfCounts(ctx context.Context) (map[string]map[string]inference.PerfCount, error)
}
