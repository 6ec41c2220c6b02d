package frame

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

// maxPendingBytes bounds the buffer used to look for a complete JPEG
const maxPendingBytes = 16 << 20

func cameraArgs(o Options) []string {
	switch {
	case strings.HasPrefix(o.CameraDevice, "rtsp://"):
		return []string{
			"-rtsp_transport", "tcp",
			"-i", o.CameraDevice,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", fmt.Sprintf("%d", o.FPS),
			"-q:v", "5",
			"-",
		}
	case strings.HasPrefix(o.CameraDevice, "http://"), strings.HasPrefix(o.CameraDevice, "https://"):
		return []string{
			"-i", o.CameraDevice,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", fmt.Sprintf("%d", o.FPS),
			"-q:v", "5",
			"-",
		}
	default:
		// V4L2 device (USB camera)
		return []string{
			"-f", "v4l2",
			"-video_size", fmt.Sprintf("%dx%d", o.Width, o.Height),
			"-framerate", fmt.Sprintf("%d", o.FPS),
			"-i", o.CameraDevice,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-q:v", "5",
			"-",
		}
	}
}

// videoArgs decodes every frame of the file, as fast as the pipeline reads them
func videoArgs(path string) []string {
	return []string{
		"-i", path,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "2",
		"-",
	}
}

// streamSource decodes a concatenated MJPEG stream, typically ffmpeg's stdout
type streamSource struct {
	kind   Kind
	r      io.Reader
	closer func() error
	log    logrus.FieldLogger

	buf   []byte
	chunk []byte
	seq   uint64
	done  bool

	closeOnce sync.Once
	closeErr  error
}

func newStreamSource(kind Kind, r io.Reader, closer func() error, logger logrus.FieldLogger) *streamSource {
	return &streamSource{
		kind:   kind,
		r:      r,
		closer: closer,
		log:    logger,
		buf:    make([]byte, 0, 1024*1024),
		chunk:  make([]byte, 8192),
	}
}

func startFFmpeg(kind Kind, args []string, opts Options, logger logrus.FieldLogger) (*streamSource, error) {
	cmd := exec.Command(opts.FFmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("error creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("error creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("error starting ffmpeg: %w", err)
	}

	// Consume stderr, surfacing it at debug level
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Debugf("[FrameSource] ffmpeg: %s", scanner.Text())
		}
	}()

	closer := func() error {
		return stopFFmpeg(cmd)
	}

	logger.Infof("[FrameSource] Started %s capture (ffmpeg %s)", kind, strings.Join(args, " "))
	return newStreamSource(kind, stdout, closer, logger), nil
}

// stopFFmpeg kills a started ffmpeg and reaps it. The kill itself is not an
// error; any other failed exit is.
func stopFFmpeg(cmd *exec.Cmd) error {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	err := cmd.Wait()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() && ws.Signal() == syscall.SIGKILL {
			return nil
		}
	}
	return fmt.Errorf("ffmpeg exited: %w", err)
}

func (s *streamSource) Kind() Kind {
	return s.kind
}

// Next reads until one complete JPEG is buffered and decodes it. Undecodable
// frames are skipped.
func (s *streamSource) Next(ctx context.Context) (*Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if data := extractJPEGFrame(&s.buf); data != nil {
			img, err := imaging.Decode(bytes.NewReader(data))
			if err != nil {
				s.log.Debugf("[FrameSource] Dropping undecodable frame: %v", err)
				continue
			}
			s.seq++
			return &Frame{Image: imaging.Clone(img), Seq: s.seq, Timestamp: time.Now()}, nil
		}

		if s.done {
			return nil, ErrStreamExhausted
		}

		n, err := s.r.Read(s.chunk)
		s.buf = append(s.buf, s.chunk[:n]...)
		if err != nil {
			if err != io.EOF {
				s.log.Warnf("[FrameSource] Error reading frame: %v", err)
			}
			s.done = true
		}
		if len(s.buf) > maxPendingBytes {
			s.log.Warnf("[FrameSource] No complete frame in %d bytes, resetting buffer", len(s.buf))
			s.buf = s.buf[:0]
		}
	}
}

func (s *streamSource) Close() error {
	s.closeOnce.Do(func() {
		if s.closer != nil {
			s.closeErr = s.closer()
		}
		s.log.Debugf("[FrameSource] Closed %s source after %d frames", s.kind, s.seq)
	})
	return s.closeErr
}

// extractJPEGFrame extracts a complete JPEG frame from buffer
func extractJPEGFrame(buffer *[]byte) []byte {
	if len(*buffer) < 4 {
		return nil
	}

	// Find JPEG start marker (FFD8)
	startIdx := bytes.Index(*buffer, []byte{0xFF, 0xD8})
	if startIdx == -1 {
		return nil
	}

	// Find JPEG end marker (FFD9)
	endIdx := bytes.Index((*buffer)[startIdx+2:], []byte{0xFF, 0xD9})
	if endIdx == -1 {
		return nil
	}
	endIdx += startIdx + 4

	frame := make([]byte, endIdx-startIdx)
	copy(frame, (*buffer)[startIdx:endIdx])
	*buffer = (*buffer)[endIdx:]

	return frame
}
