package stream

import (
	"bufio"
	"bytes"
	"context"
	"image"
	"image/color"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gazepointer/internal/model"
	"gazepointer/internal/pipeline"
)

func faceResult() *pipeline.FrameResult {
	crop := imaging.New(40, 36, color.NRGBA{200, 120, 80, 255})
	return &pipeline.FrameResult{
		Seq:  1,
		Face: &model.FaceDetection{Box: model.BoundingBox{Rect: image.Rect(0, 0, 40, 36)}, Crop: crop},
		Gaze: &model.GazeVector{X: 0.1, Y: -0.2, Z: -0.97},
	}
}

func newTestPreview() *Preview {
	logger, _ := test.NewNullLogger()
	return NewPreview(0, logger)
}

func TestPreviewIgnoresResultsWithoutFace(t *testing.T) {
	p := newTestPreview()
	p.OnFrameResult(&pipeline.FrameResult{Skipped: &pipeline.Skipped{Stage: pipeline.StageFace, Reason: pipeline.ReasonNoFace}})
	frame, n := p.Current()
	assert.Nil(t, frame)
	assert.Zero(t, n)

	p.OnFrameResult(faceResult())
	frame, n = p.Current()
	require.NotEmpty(t, frame)
	assert.Equal(t, uint64(1), n)

	img, err := imaging.Decode(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 36), img.Bounds())
}

func TestSnapshot(t *testing.T) {
	p := newTestPreview()
	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + SnapshotPath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	p.OnFrameResult(faceResult())
	resp, err = http.Get(srv.URL + SnapshotPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	want, _ := p.Current()
	assert.Equal(t, want, body)
}

func TestStreamDeliversParts(t *testing.T) {
	p := newTestPreview()
	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + StreamPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return p.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	p.Publish([]byte("jpeg-one"))
	p.Publish([]byte("jpeg-two"))

	r := bufio.NewReader(resp.Body)
	assert.Equal(t, "jpeg-one", readPart(t, r))
	assert.Equal(t, "jpeg-two", readPart(t, r))

	p.Stop()
	_, err = r.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
	assert.Zero(t, p.ClientCount())
}

func TestServeShutsDownOnCancel(t *testing.T) {
	p := newTestPreview()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx, l) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + l.Addr().String() + SnapshotPath)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("preview server did not stop")
	}
}

func readPart(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	tp := textproto.NewReader(r)
	boundary, err := tp.ReadLine()
	require.NoError(t, err)
	require.Equal(t, "--frame", boundary)
	header, err := tp.ReadMIMEHeader()
	require.NoError(t, err)
	n, err := strconv.Atoi(header.Get("Content-Length"))
	require.NoError(t, err)

	body := make([]byte, n)
	_, err = io.ReadFull(r, body)
	require.NoError(t, err)
	_, err = tp.ReadLine() // trailing CRLF
	require.NoError(t, err)
	return string(body)
}
