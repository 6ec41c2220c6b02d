// Package app wires a configuration into a complete gaze pointer run.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"gazepointer/internal/config"
	"gazepointer/internal/database"
	"gazepointer/internal/frame"
	"gazepointer/internal/inference"
	"gazepointer/internal/model"
	"gazepointer/internal/pipeline"
	"gazepointer/internal/pointer"
	"gazepointer/internal/record"
	"gazepointer/internal/stream"
	"gazepointer/internal/telemetry"
)

// SourceOpener opens a frame source, frame.Open by default
type SourceOpener func(kind frame.Kind, path string, opts frame.Options, logger logrus.FieldLogger) (frame.Source, error)

// Deps are the collaborators Run would otherwise build from the
// configuration
type Deps struct {
	Engine     inference.Engine // dials cfg.Engine when nil
	OpenSource SourceOpener
	Driver     pointer.Driver // pointer.NewDriver(cfg.Pointer) when nil
	Listen     func(network, address string) (net.Listener, error)
	Now        func() time.Time
}

// Summary is the outcome of a run
type Summary struct {
	Report *pipeline.Report
	RunID  string // empty when run history is disabled
	Token  string // telemetry token, when telemetry is protected
}

// Run loads the models, opens the frame source and drives the pipeline until
// the source is exhausted or ctx is cancelled. Model load and device bind
// errors are returned before the source is opened.
func Run(ctx context.Context, cfg config.Config, logger *logrus.Logger, deps Deps) (*Summary, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.OpenSource == nil {
		deps.OpenSource = frame.Open
	}
	if deps.Listen == nil {
		deps.Listen = net.Listen
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	startedAt := deps.Now()

	engine := deps.Engine
	if engine == nil {
		grpcEngine, err := inference.NewGRPCEngine(inference.GRPCEngineConfig{
			Endpoint:    cfg.Engine,
			CallTimeout: cfg.EngineTimeout,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		defer grpcEngine.Close()
		engine = grpcEngine
	}

	set, err := model.OpenSet(ctx, engine, model.SetSpec{
		FacePath:      cfg.FaceModel,
		LandmarksPath: cfg.LandmarksModel,
		HeadPosePath:  cfg.HeadPoseModel,
		GazePath:      cfg.GazeModel,
		Device:        cfg.Device,
		Extensions:    cfg.Extensions,
		FaceThreshold: float32(cfg.FaceThreshold),
	}, logger)
	if err != nil {
		return nil, err
	}
	defer set.Close()

	if _, err := set.Load(ctx); err != nil {
		return nil, err
	}

	driver := deps.Driver
	if driver == nil {
		driver, err = pointer.NewDriver(cfg.Pointer, logger)
		if err != nil {
			return nil, err
		}
	}
	controller, err := pointer.New(driver, cfg.Precision, cfg.Speed, logger)
	if err != nil {
		return nil, err
	}

	var db *database.Database
	if cfg.DB != "" {
		db, err = database.New(cfg.DB)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return nil, err
		}
	}

	kind, err := frame.ParseKind(cfg.InputType)
	if err != nil {
		return nil, err
	}
	source, err := deps.OpenSource(kind, cfg.InputFile, frame.Options{CameraDevice: cfg.CameraDevice}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s source: %w", kind, err)
	}

	summary := &Summary{}
	bus := pipeline.NewEventBus()

	auxCtx, stopAux := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	serve := func(name, addr string, run func(context.Context, net.Listener) error) error {
		l, err := deps.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen for %s on %s: %w", name, addr, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(auxCtx, l); err != nil {
				logger.WithError(err).Errorf("[App] %s server stopped", name)
			}
		}()
		return nil
	}
	shutdown := func() {
		stopAux()
		wg.Wait()
	}

	aux, err := startAuxiliary(cfg, logger, bus, serve, summary)
	if err != nil {
		source.Close()
		shutdown()
		return nil, err
	}

	orchestrator, err := pipeline.New(pipeline.ModelsFromSet(set), source, controller, pipeline.Options{
		Logger:         logger,
		Bus:            bus,
		Perf:           set,
		ShowPerfCounts: cfg.PerfCounts,
	})
	if err != nil {
		source.Close()
		aux.close()
		shutdown()
		return nil, err
	}

	report, runErr := orchestrator.Run(ctx)
	summary.Report = report

	if aux.hub != nil && report != nil {
		aux.hub.BroadcastReport(report)
	}
	closeErr := aux.close()
	shutdown()

	if db != nil {
		rec, err := database.NewRunRecord(report, startedAt, cfg.InputType, cfg.InputFile, cfg.Device, runErr)
		if err == nil {
			err = db.SaveRun(context.WithoutCancel(ctx), rec)
		}
		if err != nil {
			logger.WithError(err).Error("[App] Failed to save run history")
		} else {
			summary.RunID = rec.ID
			logger.WithField("run_id", rec.ID).Info("[App] Run saved")
		}
	}

	return summary, errors.Join(runErr, closeErr)
}

// auxiliary holds the optional consumers of frame results
type auxiliary struct {
	hub      *telemetry.Hub
	recorder *record.Recorder
}

func (a *auxiliary) close() error {
	if a.recorder != nil {
		return a.recorder.Close()
	}
	return nil
}

type serveFunc func(name, addr string, run func(context.Context, net.Listener) error) error

// startAuxiliary subscribes the preview, recorder and telemetry to the bus
// and starts their servers
func startAuxiliary(cfg config.Config, logger *logrus.Logger, bus *pipeline.EventBus, serve serveFunc, summary *Summary) (*auxiliary, error) {
	aux := &auxiliary{}

	if cfg.ShowFace {
		preview := stream.NewPreview(0, logger)
		if err := serve("preview", cfg.PreviewAddr, preview.Serve); err != nil {
			return aux, err
		}
		bus.Subscribe(preview)
	}

	if cfg.Record != "" {
		recorder, err := record.New(record.Options{
			Path:   cfg.Record,
			FPS:    cfg.RecordFPS,
			Width:  cfg.RecordWidth,
			Height: cfg.RecordHeight,
		}, logger)
		if err != nil {
			return aux, err
		}
		aux.recorder = recorder
		bus.Subscribe(recorder)
	}

	if cfg.TelemetryAddr != "" {
		var tokens *telemetry.TokenManager
		if cfg.TelemetrySecret != "" {
			var err error
			tokens, err = telemetry.NewTokenManager(cfg.TelemetrySecret, telemetry.DefaultTokenExpiry)
			if err != nil {
				aux.close()
				return aux, err
			}
			token, expiresAt, err := tokens.Issue("gazepointer")
			if err != nil {
				aux.close()
				return aux, err
			}
			summary.Token = token
			logger.WithField("expires_at", expiresAt.Format(time.RFC3339)).
				Infof("[Telemetry] Subscriber token: %s", token)
		}

		aux.hub = telemetry.NewHub(logger)
		server := telemetry.NewServer(aux.hub, tokens, logger)
		if err := serve("telemetry", cfg.TelemetryAddr, server.Serve); err != nil {
			aux.close()
			return aux, err
		}
		bus.Subscribe(aux.hub)
	}

	return aux, nil
}
