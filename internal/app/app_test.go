package app

import (
	"context"
	"errors"
	"image/color"
	"net"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gazepointer/internal/config"
	"gazepointer/internal/database"
	"gazepointer/internal/frame"
	"gazepointer/internal/inference"
	"gazepointer/internal/inference/inferencetest"
	"gazepointer/internal/pointer"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.FaceModel = inferencetest.FacePath
	cfg.LandmarksModel = inferencetest.LandmarksPath
	cfg.HeadPoseModel = inferencetest.HeadPosePath
	cfg.GazeModel = inferencetest.GazePath
	cfg.InputType = "image"
	cfg.InputFile = "face.png"
	cfg.ShowFace = false
	return cfg
}

type openerSpy struct {
	calls int
}

func (s *openerSpy) open(kind frame.Kind, path string, opts frame.Options, logger logrus.FieldLogger) (frame.Source, error) {
	s.calls++
	return frame.NewImageSource(imaging.New(160, 120, color.NRGBA{90, 90, 90, 255})), nil
}

func localListen(network, _ string) (net.Listener, error) {
	return net.Listen(network, "127.0.0.1:0")
}

func TestRunUnavailableDeviceFailsBeforeSourceOpens(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := testConfig()
	cfg.Device = "MYRIAD"
	spy := &openerSpy{}

	summary, err := Run(context.Background(), cfg, logger, Deps{
		Engine:     inferencetest.NewGazeEngine("CPU"),
		OpenSource: spy.open,
		Driver:     pointer.NewVirtual(1920, 1080),
	})

	require.Error(t, err)
	assert.Nil(t, summary)
	var bindErr *inference.DeviceBindError
	require.True(t, errors.As(err, &bindErr), "got %v", err)
	assert.Equal(t, "MYRIAD", bindErr.Device)
	assert.Zero(t, spy.calls, "source must not be opened")
}

func TestRunMissingModelFailsBeforeSourceOpens(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := testConfig()
	cfg.GazeModel = "models/test/missing"
	spy := &openerSpy{}

	_, err := Run(context.Background(), cfg, logger, Deps{
		Engine:     inferencetest.NewGazeEngine("CPU"),
		OpenSource: spy.open,
		Driver:     pointer.NewVirtual(1920, 1080),
	})

	var loadErr *inference.ModelLoadError
	require.True(t, errors.As(err, &loadErr), "got %v", err)
	assert.Zero(t, spy.calls)
}

func TestRunImageEndToEnd(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := testConfig()
	cfg.ShowFace = true
	cfg.TelemetryAddr = "localhost:8091"
	cfg.TelemetrySecret = "0123456789abcdef0123456789abcdef"
	cfg.DB = filepath.Join(t.TempDir(), "runs.db")

	engine := inferencetest.NewGazeEngine("CPU")
	virtual := pointer.NewVirtual(1920, 1080)
	spy := &openerSpy{}

	summary, err := Run(context.Background(), cfg, logger, Deps{
		Engine:     engine,
		OpenSource: spy.open,
		Driver:     virtual,
		Listen:     localListen,
	})
	require.NoError(t, err)
	require.NotNil(t, summary)
	require.NotNil(t, summary.Report)

	assert.Equal(t, 1, spy.calls)
	assert.Equal(t, 1, summary.Report.Frames)
	assert.Equal(t, 1, summary.Report.Completed)
	assert.True(t, summary.Report.HasFaceMean)
	assert.True(t, summary.Report.HasTotalMean)
	assert.NotEmpty(t, virtual.Moves())
	assert.NotEmpty(t, summary.Token)

	for _, path := range []string{inferencetest.FacePath, inferencetest.LandmarksPath, inferencetest.HeadPosePath, inferencetest.GazePath} {
		assert.Equal(t, 1, engine.Calls(path), path)
		assert.Equal(t, 1, engine.Closed(path), path)
	}

	require.NotEmpty(t, summary.RunID)
	db, err := database.New(cfg.DB)
	require.NoError(t, err)
	defer db.Close()
	run, err := db.GetRun(context.Background(), summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, "image", run.InputType)
	assert.Equal(t, 1, run.Completed)
}

func TestRunAppliesFaceThreshold(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := testConfig()
	cfg.FaceThreshold = 0.99 // the test face is detected with 0.98

	virtual := pointer.NewVirtual(1920, 1080)
	summary, err := Run(context.Background(), cfg, logger, Deps{
		Engine:     inferencetest.NewGazeEngine("CPU"),
		OpenSource: (&openerSpy{}).open,
		Driver:     virtual,
	})
	require.NoError(t, err)
	require.NotNil(t, summary.Report)

	assert.Equal(t, 1, summary.Report.Frames)
	assert.Equal(t, 0, summary.Report.Completed)
	assert.Equal(t, 1, summary.Report.Skipped)
	assert.Empty(t, virtual.Moves())
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := testConfig()
	cfg.InputFile = ""

	_, err := Run(context.Background(), cfg, logger, Deps{Engine: inferencetest.NewGazeEngine("CPU")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InputFile")
}
