package inferencetest

import (
	"gorgonia.org/tensor"

	"gazepointer/internal/inference"
)

// Model paths used by NewGazeEngine
const (
	FacePath      = "models/test/face-detection"
	LandmarksPath = "models/test/landmarks-regression"
	HeadPosePath  = "models/test/head-pose-estimation"
	GazePath      = "models/test/gaze-estimation"
)

// Tensor builds a tensor and panics on a shape mismatch
func Tensor(shape []int, data []float32) *tensor.Dense {
	t, err := inference.NewTensor(shape, data)
	if err != nil {
		panic(err)
	}
	return t
}

// FaceNetwork mirrors the face-detection-adas layout at a reduced input size
func FaceNetwork() inference.Network {
	return inference.Network{
		Name:    "face-detection",
		Inputs:  []inference.TensorInfo{{Name: "data", Shape: []int{1, 3, 24, 40}}},
		Outputs: []inference.TensorInfo{{Name: "detection_out", Shape: []int{1, 1, 4, 7}}},
	}
}

// LandmarksNetwork mirrors landmarks-regression-retail
func LandmarksNetwork() inference.Network {
	return inference.Network{
		Name:    "landmarks-regression",
		Inputs:  []inference.TensorInfo{{Name: "0", Shape: []int{1, 3, 12, 12}}},
		Outputs: []inference.TensorInfo{{Name: "95", Shape: []int{1, 10, 1, 1}}},
	}
}

// HeadPoseNetwork mirrors head-pose-estimation-adas
func HeadPoseNetwork() inference.Network {
	return inference.Network{
		Name:   "head-pose-estimation",
		Inputs: []inference.TensorInfo{{Name: "data", Shape: []int{1, 3, 12, 12}}},
		Outputs: []inference.TensorInfo{
			{Name: "angle_y_fc", Shape: []int{1, 1}},
			{Name: "angle_p_fc", Shape: []int{1, 1}},
			{Name: "angle_r_fc", Shape: []int{1, 1}},
		},
	}
}

// GazeNetwork mirrors gaze-estimation-adas
func GazeNetwork() inference.Network {
	return inference.Network{
		Name: "gaze-estimation",
		Inputs: []inference.TensorInfo{
			{Name: "left_eye_image", Shape: []int{1, 3, 12, 12}},
			{Name: "right_eye_image", Shape: []int{1, 3, 12, 12}},
			{Name: "head_pose_angles", Shape: []int{1, 3}},
		},
		Outputs: []inference.TensorInfo{{Name: "gaze_vector", Shape: []int{1, 3}}},
	}
}

// Detections answers every request with the given detection rows
// (image_id, label, conf, xmin, ymin, xmax, ymax), terminated by image_id -1
func Detections(rows ...[7]float32) InferFunc {
	return func(map[string]*tensor.Dense) (map[string]*tensor.Dense, error) {
		data := make([]float32, 0, (len(rows)+1)*7)
		for _, r := range rows {
			data = append(data, r[:]...)
		}
		data = append(data, -1, 0, 0, 0, 0, 0, 0)
		return map[string]*tensor.Dense{
			"detection_out": Tensor([]int{1, 1, len(rows) + 1, 7}, data),
		}, nil
	}
}

// FixedLandmarks answers with five (x, y) points relative to the face crop
func FixedLandmarks(points [10]float32) InferFunc {
	return func(map[string]*tensor.Dense) (map[string]*tensor.Dense, error) {
		data := append([]float32(nil), points[:]...)
		return map[string]*tensor.Dense{"95": Tensor([]int{1, 10, 1, 1}, data)}, nil
	}
}

// FixedHeadPose answers with constant yaw, pitch and roll
func FixedHeadPose(yaw, pitch, roll float32) InferFunc {
	return func(map[string]*tensor.Dense) (map[string]*tensor.Dense, error) {
		return map[string]*tensor.Dense{
			"angle_y_fc": Tensor([]int{1, 1}, []float32{yaw}),
			"angle_p_fc": Tensor([]int{1, 1}, []float32{pitch}),
			"angle_r_fc": Tensor([]int{1, 1}, []float32{roll}),
		}, nil
	}
}

// FixedGaze answers with a constant gaze vector
func FixedGaze(x, y, z float32) InferFunc {
	return func(map[string]*tensor.Dense) (map[string]*tensor.Dense, error) {
		return map[string]*tensor.Dense{"gaze_vector": Tensor([]int{1, 3}, []float32{x, y, z})}, nil
	}
}

// Failing answers every request with err
func Failing(err error) InferFunc {
	return func(map[string]*tensor.Dense) (map[string]*tensor.Dense, error) {
		return nil, err
	}
}

// NewGazeEngine registers the four gaze pipeline models with behaviours of a
// frontal face filling the middle of the frame
func NewGazeEngine(devices ...string) *Engine {
	e := NewEngine(devices...)
	e.AddModel(FacePath, &Model{
		Network: FaceNetwork(),
		Infer:   Detections([7]float32{0, 1, 0.98, 0.25, 0.2, 0.75, 0.8}),
		Perf: map[string]inference.PerfCount{
			"conv1": {Status: "EXECUTED", ExecType: "jit_avx2_FP32"},
		},
	})
	e.AddModel(LandmarksPath, &Model{
		Network: LandmarksNetwork(),
		Infer:   FixedLandmarks([10]float32{0.3, 0.4, 0.7, 0.4, 0.5, 0.6, 0.35, 0.8, 0.65, 0.8}),
	})
	e.AddModel(HeadPosePath, &Model{
		Network: HeadPoseNetwork(),
		Infer:   FixedHeadPose(5, -3, 1),
	})
	e.AddModel(GazePath, &Model{
		Network: GazeNetwork(),
		Infer:   FixedGaze(0.1, -0.2, -0.97),
	})
	return e
}
