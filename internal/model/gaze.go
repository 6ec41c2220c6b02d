package model

import (
	"context"
	"fmt"

	"gorgonia.org/tensor"

	"gazepointer/internal/inference"
)

// Gaze model tensor names
const (
	inputLeftEye  = "left_eye_image"
	inputRightEye = "right_eye_image"
	inputHeadPose = "head_pose_angles"
	outputGaze    = "gaze_vector"
)

// GazeInput is what the gaze model consumes
type GazeInput struct {
	Left  EyeCrop
	Right EyeCrop
	Pose  HeadPose
}

// GazeVector is the estimated gaze direction. The pointer uses X and Y.
type GazeVector struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// GazeEstimator combines both eyes and the head pose into a gaze vector
type GazeEstimator struct {
	*Stage[GazeInput, GazeVector]
}

// NewGazeEstimator wraps a loaded gaze model
func NewGazeEstimator(m *Model) *GazeEstimator {
	return &GazeEstimator{Stage: NewStage(m, gazeInputs, gazeOutputs)}
}

// Estimate returns the gaze vector for a pair of eye crops and a head pose
func (e *GazeEstimator) Estimate(ctx context.Context, in GazeInput) (GazeVector, error) {
	return e.Predict(ctx, in)
}

func gazeInputs(net *inference.Network, in GazeInput) (map[string]*tensor.Dense, error) {
	inputs := make(map[string]*tensor.Dense, 3)
	for name, eye := range map[string]EyeCrop{inputLeftEye: in.Left, inputRightEye: in.Right} {
		info, ok := net.Input(name)
		if !ok {
			return nil, fmt.Errorf("network %s has no input %s", net.Name, name)
		}
		if eye.Image == nil {
			return nil, fmt.Errorf("input %s: missing eye crop", name)
		}
		blob, err := Blob(eye.Image, info.Shape)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", name, err)
		}
		inputs[name] = blob
	}

	// Angles are passed through as they come out of the head pose model
	angles, err := inference.NewTensor([]int{1, 3}, []float32{in.Pose.Yaw, in.Pose.Pitch, in.Pose.Roll})
	if err != nil {
		return nil, err
	}
	inputs[inputHeadPose] = angles
	return inputs, nil
}

func gazeOutputs(net *inference.Network, _ GazeInput, outputs map[string]*tensor.Dense) (GazeVector, error) {
	values, err := output(net, outputs, outputGaze)
	if err != nil {
		return GazeVector{}, err
	}
	if len(values) < 3 {
		return GazeVector{}, fmt.Errorf("expected 3 gaze values, got %d", len(values))
	}
	return GazeVector{X: values[0], Y: values[1], Z: values[2]}, nil
}
