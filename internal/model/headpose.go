package model

import (
	"context"
	"fmt"
	"image"

	"gorgonia.org/tensor"

	"gazepointer/internal/inference"
)

// Head pose output names
const (
	outputYaw   = "angle_y_fc"
	outputPitch = "angle_p_fc"
	outputRoll  = "angle_r_fc"
)

// HeadPose holds Tait-Bryan angles in degrees
type HeadPose struct {
	Yaw   float32 `json:"yaw"`
	Pitch float32 `json:"pitch"`
	Roll  float32 `json:"roll"`
}

// HeadPoseEstimator estimates head orientation from a face crop
type HeadPoseEstimator struct {
	*Stage[image.Image, HeadPose]
}

// NewHeadPoseEstimator wraps a loaded head-pose model
func NewHeadPoseEstimator(m *Model) *HeadPoseEstimator {
	return &HeadPoseEstimator{Stage: NewStage(m, imageInput, headPoseOutputs)}
}

// Estimate returns the head pose for a face crop
func (e *HeadPoseEstimator) Estimate(ctx context.Context, face image.Image) (HeadPose, error) {
	return e.Predict(ctx, face)
}

func headPoseOutputs(net *inference.Network, _ image.Image, outputs map[string]*tensor.Dense) (HeadPose, error) {
	angles := make([]float32, 3)
	for i, name := range []string{outputYaw, outputPitch, outputRoll} {
		values, err := output(net, outputs, name)
		if err != nil {
			return HeadPose{}, err
		}
		if len(values) == 0 {
			return HeadPose{}, fmt.Errorf("output %s is empty", name)
		}
		angles[i] = values[0]
	}
	return HeadPose{Yaw: angles[0], Pitch: angles[1], Roll: angles[2]}, nil
}
