package pipeline

import (
	"image"
	"time"

	"gazepointer/internal/model"
)

// Counters are the running frame counts of a run
type Counters struct {
	Frames    int `json:"frames"`
	Completed int `json:"completed"`
	Skipped   int `json:"skipped"`
}

// FrameResult is everything the chain produced for one frame. Stages after
// the skip point are nil.
type FrameResult struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`

	Face *model.FaceDetection `json:"face,omitempty"`
	Eyes *model.EyePair       `json:"eyes,omitempty"`
	Pose *model.HeadPose      `json:"pose,omitempty"`
	Gaze *model.GazeVector    `json:"gaze,omitempty"`

	Skipped *Skipped `json:"skipped,omitempty"`

	FaceLatency  time.Duration `json:"face_latency_ns,omitempty"`
	TotalLatency time.Duration `json:"total_latency_ns,omitempty"`

	Counters Counters `json:"counters"`

	Frame *image.NRGBA `json:"-"` // after mirroring
}

// Completed reports whether the frame reached the pointer
func (r *FrameResult) Completed() bool {
	return r.Skipped == nil
}

// Report summarises a run
type Report struct {
	Counters
	Skips        map[string]int `json:"skips"`
	FaceSamples  int            `json:"face_samples"`
	TotalSamples int            `json:"total_samples"`

	FaceMean     time.Duration `json:"face_mean_ns"`
	HasFaceMean  bool          `json:"has_face_mean"`
	TotalMean    time.Duration `json:"total_mean_ns"`
	HasTotalMean bool          `json:"has_total_mean"`

	Elapsed time.Duration `json:"elapsed_ns"`
	FPS     float64       `json:"fps"`
}
