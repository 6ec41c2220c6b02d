package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"gazepointer/internal/frame"
	"gazepointer/internal/model"
)

// Options configures an Orchestrator
type Options struct {
	Logger logrus.FieldLogger
	Bus    *EventBus

	// Perf, when set together with ShowPerfCounts, is queried for per-layer
	// counters at the end of the run
	Perf           PerfReporter
	ShowPerfCounts bool
}

// Orchestrator drives the per-frame chain
// face → landmarks → head pose → gaze → pointer on a single goroutine.
type Orchestrator struct {
	models   Models
	source   frame.Source
	actuator Actuator
	bus      *EventBus
	perf     PerfReporter
	showPerf bool
	mirror   bool
	stats    *Stats
	log      logrus.FieldLogger
	now      func() time.Time
}

// New creates an orchestrator over loaded models and an open source
func New(models Models, source frame.Source, actuator Actuator, opts Options) (*Orchestrator, error) {
	if models.Face == nil || models.Landmarks == nil || models.HeadPose == nil || models.Gaze == nil {
		return nil, fmt.Errorf("all four models are required")
	}
	if source == nil {
		return nil, fmt.Errorf("frame source is required")
	}
	if actuator == nil {
		return nil, fmt.Errorf("pointer actuator is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Bus == nil {
		opts.Bus = NewEventBus()
	}

	return &Orchestrator{
		models:   models,
		source:   source,
		actuator: actuator,
		bus:      opts.Bus,
		perf:     opts.Perf,
		showPerf: opts.ShowPerfCounts,
		mirror:   source.Kind() == frame.KindCamera,
		stats:    NewStats(),
		log:      opts.Logger,
		now:      time.Now,
	}, nil
}

// Stats returns the accumulated run statistics
func (o *Orchestrator) Stats() *Stats {
	return o.stats
}

// Run processes frames until the source is exhausted or ctx is cancelled.
// The source and the event bus are closed on every exit path.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	defer o.bus.Close()
	defer func() {
		if err := o.source.Close(); err != nil {
			o.log.Warnf("[Pipeline] Error closing frame source: %v", err)
		}
	}()

	o.log.Infof("[Pipeline] Processing loop started (source: %s, mirror: %v)", o.source.Kind(), o.mirror)
	start := o.now()

	var runErr error
loop:
	for {
		f, err := o.source.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, frame.ErrStreamExhausted):
			o.log.Infof("[Pipeline] Input stream exhausted")
			break loop
		case ctx.Err() != nil:
			o.log.Infof("[Pipeline] Interrupted")
			break loop
		default:
			runErr = fmt.Errorf("error reading frame: %w", err)
			break loop
		}

		o.bus.Publish(o.ProcessFrame(ctx, f))
	}

	report := o.stats.Report(o.now().Sub(start))
	o.logReport(report)
	if o.showPerf && o.perf != nil {
		o.logPerfCounts(context.WithoutCancel(ctx))
	}
	return report, runErr
}

// ProcessFrame runs the chain on one frame. A frame that fails any stage is
// abandoned; nothing is retried.
func (o *Orchestrator) ProcessFrame(ctx context.Context, f *frame.Frame) *FrameResult {
	img := f.Image
	if o.mirror {
		img = imaging.FlipH(img)
	}

	result := &FrameResult{Seq: f.Seq, Timestamp: f.Timestamp, Frame: img}
	o.stats.AddFrame()

	chainStart := o.now()
	face := o.detectFace(ctx, result)

	eyes := Then(face, func(d *model.FaceDetection) Result[model.EyePair] {
		return Attempt(StageLandmarks, func() (model.EyePair, error) {
			return o.models.Landmarks.Eyes(ctx, d.Crop)
		})
	})

	input := Then(eyes, func(pair model.EyePair) Result[model.GazeInput] {
		result.Eyes = &pair
		pose := Attempt(StageHeadPose, func() (model.HeadPose, error) {
			return o.models.HeadPose.Estimate(ctx, result.Face.Crop)
		})
		return Then(pose, func(p model.HeadPose) Result[model.GazeInput] {
			result.Pose = &p
			return Ok(model.GazeInput{Left: pair.Left, Right: pair.Right, Pose: p})
		})
	})

	gaze := Then(input, func(in model.GazeInput) Result[model.GazeVector] {
		return Attempt(StageGaze, func() (model.GazeVector, error) {
			return o.models.Gaze.Estimate(ctx, in)
		})
	})

	vector, skip := gaze.Get()
	if skip != nil {
		return o.skip(result, skip)
	}
	result.Gaze = &vector
	result.TotalLatency = o.now().Sub(chainStart)
	o.stats.AddTotalLatency(result.TotalLatency)

	if err := o.actuator.Move(float64(vector.X), float64(vector.Y)); err != nil {
		return o.skip(result, &Skipped{Stage: StageActuate, Reason: ReasonActuatorError, Err: err})
	}

	o.stats.AddCompleted()
	result.Counters = o.stats.Counters()
	return result
}

func (o *Orchestrator) detectFace(ctx context.Context, result *FrameResult) Result[*model.FaceDetection] {
	start := o.now()
	face := Attempt(StageFace, func() (*model.FaceDetection, error) {
		return o.models.Face.Detect(ctx, result.Frame)
	})
	return Then(face, func(d *model.FaceDetection) Result[*model.FaceDetection] {
		if d == nil {
			return Skip[*model.FaceDetection](StageFace, ReasonNoFace, nil)
		}
		result.Face = d
		result.FaceLatency = o.now().Sub(start)
		o.stats.AddFaceLatency(result.FaceLatency)
		return Ok(d)
	})
}

func (o *Orchestrator) skip(result *FrameResult, skip *Skipped) *FrameResult {
	result.Skipped = skip
	o.stats.AddSkip(skip)
	result.Counters = o.stats.Counters()

	entry := o.log.WithFields(logrus.Fields{
		"frame":  result.Seq,
		"stage":  skip.Stage,
		"reason": skip.Reason,
	})
	if skip.Reason == ReasonActuatorError {
		entry.Warnf("[Pipeline] Pointer move failed: %v", skip.Err)
	} else if skip.Err != nil {
		entry.Debugf("[Pipeline] Frame skipped: %v", skip.Err)
	} else {
		entry.Debugf("[Pipeline] Frame skipped")
	}
	return result
}

func (o *Orchestrator) logReport(r *Report) {
	o.log.WithFields(logrus.Fields{
		"frames":    r.Frames,
		"completed": r.Completed,
		"skipped":   r.Skipped,
		"fps":       fmt.Sprintf("%.1f", r.FPS),
	}).Infof("[Pipeline] Run finished in %s", r.Elapsed.Round(time.Millisecond))

	if r.HasFaceMean {
		o.log.Infof("[Pipeline] Average face detection latency: %s over %d frames", r.FaceMean, r.FaceSamples)
	} else {
		o.log.Infof("[Pipeline] Average face detection latency: skipped (no faces detected)")
	}
	if r.HasTotalMean {
		o.log.Infof("[Pipeline] Average total inference latency: %s over %d frames", r.TotalMean, r.TotalSamples)
	} else {
		o.log.Infof("[Pipeline] Average total inference latency: skipped (no frame completed)")
	}
	for key, n := range r.Skips {
		o.log.Debugf("[Pipeline] Skipped %d frames at %s", n, key)
	}
}

func (o *Orchestrator) logPerfCounts(ctx context.Context) {
	counts, err := o.perf.PerfCounts(ctx)
	if err != nil {
		o.log.Warnf("[Pipeline] Could not read performance counters: %v", err)
		return
	}

	models := make([]string, 0, len(counts))
	for name := range counts {
		models = append(models, name)
	}
	sort.Strings(models)

	for _, name := range models {
		layers := make([]string, 0, len(counts[name]))
		for layer := range counts[name] {
			layers = append(layers, layer)
		}
		sort.Strings(layers)

		o.log.Infof("[Pipeline] Performance counters for %s (%d layers)", name, len(layers))
		for _, layer := range layers {
			c := counts[name][layer]
			o.log.WithFields(logrus.Fields{
				"model":     name,
				"layer":     layer,
				"status":    c.Status,
				"exec_type": c.ExecType,
				"real_time": c.RealTime,
				"cpu_time":  c.CPUTime,
			}).Info("[Pipeline] Layer")
		}
	}
}
