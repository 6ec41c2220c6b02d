package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"gazepointer/internal/inference"
)

// Model names used in errors, logs and perf reports
const (
	FaceDetectionName = "face-detection"
	LandmarksName     = "landmarks"
	HeadPoseName      = "head-pose"
	GazeName          = "gaze"
)

// SetSpec configures the four pipeline models
type SetSpec struct {
	FacePath      string
	LandmarksPath string
	HeadPosePath  string
	GazePath      string
	Device        string
	Extensions    []string
	FaceThreshold float32
}

func (s SetSpec) specs() []Spec {
	spec := func(name, path string) Spec {
		return Spec{Name: name, Path: path, Device: s.Device, Extensions: s.Extensions}
	}
	return []Spec{
		spec(FaceDetectionName, s.FacePath),
		spec(LandmarksName, s.LandmarksPath),
		spec(HeadPoseName, s.HeadPosePath),
		spec(GazeName, s.GazePath),
	}
}

// Set owns the four models of the gaze pipeline
type Set struct {
	Face      *FaceDetector
	Landmarks *LandmarksDetector
	HeadPose  *HeadPoseEstimator
	Gaze      *GazeEstimator

	models []*Model
	log    logrus.FieldLogger
}

// OpenSet reads all four descriptors. The first failure is returned as
// *inference.ModelLoadError.
func OpenSet(ctx context.Context, engine inference.Engine, spec SetSpec, logger logrus.FieldLogger) (*Set, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	specs := spec.specs()
	models := make([]*Model, 0, len(specs))
	for _, s := range specs {
		m, err := Open(ctx, engine, s, logger)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}

	return &Set{
		Face:      NewFaceDetector(models[0], spec.FaceThreshold),
		Landmarks: NewLandmarksDetector(models[1]),
		HeadPose:  NewHeadPoseEstimator(models[2]),
		Gaze:      NewGazeEstimator(models[3]),
		models:    models,
		log:       logger,
	}, nil
}

// Load binds every model to its device and returns the total loading time.
// Models bound before a failure are released again.
func (s *Set) Load(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	for i, m := range s.models {
		if err := m.Load(ctx); err != nil {
			for _, loaded := range s.models[:i] {
				loaded.Close()
			}
			return 0, err
		}
	}
	elapsed := time.Since(start)
	s.log.Infof("[Models] Models total loading time: %s", elapsed)
	return elapsed, nil
}

// PerfCounts collects the per-layer counters of every model, keyed by model name
func (s *Set) PerfCounts(ctx context.Context) (map[string]map[string]inference.PerfCount, error) {
	counts := make(map[string]map[string]inference.PerfCount, len(s.models))
	for _, m := range s.models {
		c, err := m.PerfCounts(ctx)
		if err != nil {
			return nil, fmt.Errorf("perf counts of %s: %w", m.Name(), err)
		}
		counts[m.Name()] = c
	}
	return counts, nil
}

// Close releases every model
func (s *Set) Close() error {
	var errs []error
	for _, m := range s.models {
		if err := m.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing %s: %w", m.Name(), err))
		}
	}
	return errors.Join(errs...)
}
