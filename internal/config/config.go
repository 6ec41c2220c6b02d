// Package config holds the run configuration of gazepointer: defaults,
// command-line flags, GAZE_* environment overrides and validation.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Default model locations, following the Open Model Zoo download layout
const (
	DefaultFaceModel      = "models/intel/face-detection-adas-binary-0001/FP32-INT1/face-detection-adas-binary-0001"
	DefaultLandmarksModel = "models/intel/landmarks-regression-retail-0009/FP32/landmarks-regression-retail-0009"
	DefaultHeadPoseModel  = "models/intel/head-pose-estimation-adas-0001/FP32/head-pose-estimation-adas-0001"
	DefaultGazeModel      = "models/intel/gaze-estimation-adas-0002/FP32/gaze-estimation-adas-0002"
)

// EnvFileVar names the variable pointing at the optional .env file
const EnvFileVar = "GAZE_ENV_FILE"

// Config is the complete run configuration
type Config struct {
	FaceModel      string `env:"GAZE_FACE_MODEL" validate:"required"`
	LandmarksModel string `env:"GAZE_LANDMARKS_MODEL" validate:"required"`
	HeadPoseModel  string `env:"GAZE_HEAD_POSE_MODEL" validate:"required"`
	GazeModel      string `env:"GAZE_GAZE_MODEL" validate:"required"`

	Device        string        `env:"GAZE_DEVICE" validate:"required"`
	Extensions    []string      `env:"GAZE_EXTENSIONS" validate:"dive,required"`
	Engine        string        `env:"GAZE_ENGINE" validate:"required"`
	EngineTimeout time.Duration `env:"GAZE_ENGINE_TIMEOUT" validate:"gt=0"`

	InputType    string `env:"GAZE_INPUT_TYPE" validate:"oneof=cam video image"`
	InputFile    string `env:"GAZE_INPUT_FILE" validate:"required_unless=InputType cam"`
	CameraDevice string `env:"GAZE_CAMERA_DEVICE" validate:"required_if=InputType cam"`

	ShowFace      bool    `env:"GAZE_SHOW_FACE"`
	PerfCounts    bool    `env:"GAZE_PERF_COUNTS"`
	FaceThreshold float64 `env:"GAZE_FACE_THRESHOLD" validate:"gt=0,lte=1"`

	Precision string `env:"GAZE_PRECISION" validate:"oneof=high medium low"`
	Speed     string `env:"GAZE_SPEED" validate:"oneof=fast medium slow"`
	Pointer   string `env:"GAZE_POINTER" validate:"required"`

	Record       string `env:"GAZE_RECORD"`
	RecordFPS    int    `env:"GAZE_RECORD_FPS" validate:"gt=0,lte=120"`
	RecordWidth  int    `env:"GAZE_RECORD_WIDTH" validate:"gt=0"`
	RecordHeight int    `env:"GAZE_RECORD_HEIGHT" validate:"gt=0"`

	PreviewAddr     string `env:"GAZE_PREVIEW_ADDR" validate:"required_if=ShowFace true"`
	TelemetryAddr   string `env:"GAZE_TELEMETRY_ADDR" validate:"omitempty,hostname_port"`
	TelemetrySecret string `env:"GAZE_TELEMETRY_SECRET" validate:"omitempty,min=16"`

	DB string `env:"GAZE_DB"`

	LogLevel string `env:"GAZE_LOG_LEVEL" validate:"oneof=trace debug info warn warning error"`
	LogFile  string `env:"GAZE_LOG_FILE"`
}

// Default returns the configuration used when nothing is overridden
func Default() Config {
	return Config{
		FaceModel:      DefaultFaceModel,
		LandmarksModel: DefaultLandmarksModel,
		HeadPoseModel:  DefaultHeadPoseModel,
		GazeModel:      DefaultGazeModel,
		Device:         "CPU",
		Engine:         "localhost:50051",
		EngineTimeout:  10 * time.Second,
		InputType:      "cam",
		CameraDevice:   "/dev/video0",
		ShowFace:       true,
		FaceThreshold:  0.5,
		Precision:      "low",
		Speed:          "fast",
		Pointer:        "xdotool",
		RecordFPS:      10,
		RecordWidth:    1280,
		RecordHeight:   720,
		PreviewAddr:    "localhost:8090",
		LogLevel:       "info",
	}
}

// listValue is a comma-separated flag
type listValue struct {
	target *[]string
}

func (l listValue) String() string {
	if l.target == nil {
		return ""
	}
	return strings.Join(*l.target, ",")
}

func (l listValue) Set(s string) error {
	*l.target = splitList(s)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// RegisterFlags binds every field to a flag, using the current values as
// defaults
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.FaceModel, "face-model", c.FaceModel, "Face detection model base path (without .xml/.bin)")
	fs.StringVar(&c.LandmarksModel, "landmarks-model", c.LandmarksModel, "Facial landmarks model base path")
	fs.StringVar(&c.HeadPoseModel, "head-pose-model", c.HeadPoseModel, "Head pose estimation model base path")
	fs.StringVar(&c.GazeModel, "gaze-model", c.GazeModel, "Gaze estimation model base path")

	fs.StringVar(&c.Device, "device", c.Device, "Target device (CPU, GPU, MYRIAD, HETERO:...)")
	fs.Var(listValue{&c.Extensions}, "extensions", "Comma-separated device extension libraries")
	fs.StringVar(&c.Engine, "engine", c.Engine, "Inference engine gRPC endpoint")
	fs.DurationVar(&c.EngineTimeout, "engine-timeout", c.EngineTimeout, "Timeout for engine metadata calls")

	fs.StringVar(&c.InputType, "input-type", c.InputType, "Input type: cam, video or image")
	fs.StringVar(&c.InputFile, "input-file", c.InputFile, "Video or image file (required unless input-type is cam)")
	fs.StringVar(&c.CameraDevice, "camera-device", c.CameraDevice, "Camera device or stream URL")

	fs.BoolVar(&c.ShowFace, "show-face", c.ShowFace, "Serve the detected face as an MJPEG preview")
	fs.BoolVar(&c.PerfCounts, "perf-counts", c.PerfCounts, "Print per-layer performance counters at exit")
	fs.Float64Var(&c.FaceThreshold, "face-threshold", c.FaceThreshold, "Minimum face detection confidence")

	fs.StringVar(&c.Precision, "precision", c.Precision, "Pointer precision: high, medium or low")
	fs.StringVar(&c.Speed, "speed", c.Speed, "Pointer speed: fast, medium or slow")
	fs.StringVar(&c.Pointer, "pointer", c.Pointer, "Pointer driver: xdotool, robotgo (build tag) or none")

	fs.StringVar(&c.Record, "record", c.Record, "Write annotated frames to this video file")
	fs.IntVar(&c.RecordFPS, "record-fps", c.RecordFPS, "Recording frame rate")
	fs.IntVar(&c.RecordWidth, "record-width", c.RecordWidth, "Recording width")
	fs.IntVar(&c.RecordHeight, "record-height", c.RecordHeight, "Recording height")

	fs.StringVar(&c.PreviewAddr, "preview-addr", c.PreviewAddr, "Listen address of the face preview")
	fs.StringVar(&c.TelemetryAddr, "telemetry-addr", c.TelemetryAddr, "Listen address of the websocket telemetry (disabled when empty)")
	fs.StringVar(&c.TelemetrySecret, "telemetry-secret", c.TelemetrySecret, "JWT secret protecting telemetry (open when empty)")

	fs.StringVar(&c.DB, "db", c.DB, "SQLite file for run history (disabled when empty)")

	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level")
	fs.StringVar(&c.LogFile, "log-file", c.LogFile, "Rotated log file")
}

// LookupFunc resolves an environment variable
type LookupFunc func(key string) (string, bool)

// EnvLookup reads the process environment, then the .env file named by
// GAZE_ENV_FILE (default .env) when it exists. The process wins.
func EnvLookup() (LookupFunc, error) {
	file := os.Getenv(EnvFileVar)
	explicit := file != ""
	if !explicit {
		file = ".env"
	}

	values, err := godotenv.Read(file)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			values = map[string]string{}
		} else {
			return nil, fmt.Errorf("error reading %s: %w", file, err)
		}
	}

	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := values[key]
		return v, ok
	}, nil
}

// ApplyEnv overrides fields from GAZE_* variables
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	if lookup == nil {
		return nil
	}

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	var errs []error
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("GAZE_FACE_MODEL", &c.FaceModel)
	str("GAZE_LANDMARKS_MODEL", &c.LandmarksModel)
	str("GAZE_HEAD_POSE_MODEL", &c.HeadPoseModel)
	str("GAZE_GAZE_MODEL", &c.GazeModel)
	str("GAZE_DEVICE", &c.Device)
	if v, ok := lookup("GAZE_EXTENSIONS"); ok {
		c.Extensions = splitList(v)
	}
	str("GAZE_ENGINE", &c.Engine)
	if v, ok := lookup("GAZE_ENGINE_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("GAZE_ENGINE_TIMEOUT: %w", err))
		} else {
			c.EngineTimeout = d
		}
	}
	str("GAZE_INPUT_TYPE", &c.InputType)
	str("GAZE_INPUT_FILE", &c.InputFile)
	str("GAZE_CAMERA_DEVICE", &c.CameraDevice)
	boolean("GAZE_SHOW_FACE", &c.ShowFace)
	boolean("GAZE_PERF_COUNTS", &c.PerfCounts)
	if v, ok := lookup("GAZE_FACE_THRESHOLD"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("GAZE_FACE_THRESHOLD: %w", err))
		} else {
			c.FaceThreshold = f
		}
	}
	str("GAZE_PRECISION", &c.Precision)
	str("GAZE_SPEED", &c.Speed)
	str("GAZE_POINTER", &c.Pointer)
	str("GAZE_RECORD", &c.Record)
	integer("GAZE_RECORD_FPS", &c.RecordFPS)
	integer("GAZE_RECORD_WIDTH", &c.RecordWidth)
	integer("GAZE_RECORD_HEIGHT", &c.RecordHeight)
	str("GAZE_PREVIEW_ADDR", &c.PreviewAddr)
	str("GAZE_TELEMETRY_ADDR", &c.TelemetryAddr)
	str("GAZE_TELEMETRY_SECRET", &c.TelemetrySecret)
	str("GAZE_DB", &c.DB)
	str("GAZE_LOG_LEVEL", &c.LogLevel)
	str("GAZE_LOG_FILE", &c.LogFile)

	return errors.Join(errs...)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and reports every violation
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// Load builds the configuration: defaults, then environment, then flags.
// Flags given on the command line win over the environment.
func Load(args []string, lookup LookupFunc, fs *flag.FlagSet) (Config, error) {
	cfg := Default()
	if err := cfg.ApplyEnv(lookup); err != nil {
		return cfg, err
	}
	if fs == nil {
		fs = flag.NewFlagSet("gazepointer", flag.ContinueOnError)
	}
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() > 0 {
		return cfg, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
