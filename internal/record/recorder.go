// Package record writes annotated frames to a video file through ffmpeg.
package record

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"gazepointer/internal/overlay"
	"gazepointer/internal/pipeline"
)

// Options configures the recorder
type Options struct {
	Path       string
	FPS        int
	Width      int
	Height     int
	FFmpegPath string
}

func (o Options) withDefaults() Options {
	if o.FPS <= 0 {
		o.FPS = 10
	}
	if o.Width <= 0 {
		o.Width = 1280
	}
	if o.Height <= 0 {
		o.Height = 720
	}
	if o.FFmpegPath == "" {
		o.FFmpegPath = "ffmpeg"
	}
	return o
}

// ffmpegArgs reads JPEG frames from stdin at a fixed rate and encodes them
func ffmpegArgs(o Options) []string {
	return []string{
		"-y",
		"-loglevel", "error",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-framerate", fmt.Sprintf("%d", o.FPS),
		"-i", "-",
		"-s", fmt.Sprintf("%dx%d", o.Width, o.Height),
		"-pix_fmt", "yuv420p",
		o.Path,
	}
}

// Recorder annotates every frame result, resizes it to the fixed size and
// writes it as a JPEG to the encoder
type Recorder struct {
	opts Options
	log  logrus.FieldLogger

	mu     sync.Mutex
	w      io.WriteCloser
	wait   func() error
	frames int
	err    error
	closed bool
}

// New starts ffmpeg writing to opts.Path
func New(opts Options, logger logrus.FieldLogger) (*Recorder, error) {
	opts = opts.withDefaults()
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.Path == "" {
		return nil, errors.New("recording path is required")
	}

	args := ffmpegArgs(opts)
	cmd := exec.Command(opts.FFmpegPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("error creating stdin pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("error creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("error starting ffmpeg: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Warnf("[Recorder] ffmpeg: %s", scanner.Text())
		}
	}()

	logger.Infof("[Recorder] Recording to %s (ffmpeg %s)", opts.Path, strings.Join(args, " "))
	return NewWithWriter(stdin, cmd.Wait, opts, logger), nil
}

// NewWithWriter records into w. wait, when set, is called after w is closed.
func NewWithWriter(w io.WriteCloser, wait func() error, opts Options, logger logrus.FieldLogger) *Recorder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Recorder{
		opts: opts.withDefaults(),
		log:  logger,
		w:    w,
		wait: wait,
	}
}

// OnFrameResult writes one annotated frame. After the first write error the
// recorder stops writing and reports the error from Close.
func (r *Recorder) OnFrameResult(res *pipeline.FrameResult) {
	img := overlay.Annotate(res)
	if img == nil {
		return
	}
	fitted := overlay.Fit(img, r.opts.Width, r.opts.Height)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.err != nil {
		return
	}

	bw := bufio.NewWriterSize(r.w, 256*1024)
	err := imaging.Encode(bw, fitted, imaging.JPEG, imaging.JPEGQuality(90))
	if err == nil {
		err = bw.Flush()
	}
	if err != nil {
		r.err = fmt.Errorf("error writing frame %d: %w", res.Seq, err)
		r.log.WithError(err).Error("[Recorder] Recording stopped")
		return
	}
	r.frames++
}

// Frames returns the number of frames written
func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Close flushes the encoder and waits for it to exit
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return r.err
	}
	r.closed = true

	errs := []error{r.err, r.w.Close()}
	if r.wait != nil {
		if err := r.wait(); err != nil {
			errs = append(errs, fmt.Errorf("ffmpeg exited: %w", err))
		}
	}
	r.err = errors.Join(errs...)
	r.log.Infof("[Recorder] Wrote %d frames to %s", r.frames, r.opts.Path)
	return r.err
}
