// Package stream serves the face preview as an MJPEG stream over HTTP.
package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"gazepointer/internal/overlay"
	"gazepointer/internal/pipeline"
)

// Routes of the preview server
const (
	StreamPath   = "/preview/stream"
	SnapshotPath = "/preview/snapshot"
)

// clientBuffer is the number of frames queued per client before frames are
// dropped for it
const clientBuffer = 5

// Preview broadcasts the latest face crop, labeled with the gaze vector, to
// connected MJPEG clients. It never blocks the publisher.
type Preview struct {
	log     logrus.FieldLogger
	quality int

	clients   map[chan []byte]struct{}
	clientsMu sync.RWMutex

	current   []byte
	currentMu sync.RWMutex
	frames    uint64

	stopped bool
}

// NewPreview creates a preview with the given JPEG quality (1-100, 0 means 85)
func NewPreview(quality int, logger logrus.FieldLogger) *Preview {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Preview{
		log:     logger,
		quality: quality,
		clients: make(map[chan []byte]struct{}),
	}
}

// OnFrameResult encodes the face crop of a result and broadcasts it. Results
// without a face keep the previous image on screen.
func (p *Preview) OnFrameResult(res *pipeline.FrameResult) {
	img := overlay.FaceCrop(res)
	if img == nil {
		return
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.quality)); err != nil {
		p.log.WithError(err).Warn("[Preview] Failed to encode face crop")
		return
	}
	p.Publish(buf.Bytes())
}

// Publish stores a JPEG frame and sends it to every client that has room
func (p *Preview) Publish(frame []byte) {
	if len(frame) == 0 {
		return
	}

	p.currentMu.Lock()
	p.current = frame
	p.frames++
	p.currentMu.Unlock()

	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()
	for ch := range p.clients {
		select {
		case ch <- frame:
		default:
			// slow client, drop
		}
	}
}

// Current returns the latest frame and how many were published
func (p *Preview) Current() ([]byte, uint64) {
	p.currentMu.RLock()
	defer p.currentMu.RUnlock()
	return p.current, p.frames
}

// ClientCount returns the number of connected stream clients
func (p *Preview) ClientCount() int {
	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()
	return len(p.clients)
}

func (p *Preview) addClient() (chan []byte, bool) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if p.stopped {
		return nil, false
	}
	ch := make(chan []byte, clientBuffer)
	p.clients[ch] = struct{}{}
	return ch, true
}

func (p *Preview) removeClient(ch chan []byte) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if _, ok := p.clients[ch]; ok {
		delete(p.clients, ch)
		close(ch)
	}
}

// Stop disconnects every client
func (p *Preview) Stop() {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	p.stopped = true
	for ch := range p.clients {
		close(ch)
		delete(p.clients, ch)
	}
}

// ServeHTTP streams frames as multipart/x-mixed-replace until the client
// goes away or the preview stops
func (p *Preview) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, ok := p.addClient()
	if !ok {
		http.Error(w, "Preview stopped", http.StatusServiceUnavailable)
		return
	}
	defer p.removeClient(ch)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	p.log.WithField("remote", r.RemoteAddr).Debug("[Preview] Client connected")

	// start with the latest frame so the client is not blank until the next face
	if frame, _ := p.Current(); frame != nil {
		if err := writePart(w, frame); err != nil {
			return
		}
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			p.log.WithField("remote", r.RemoteAddr).Debug("[Preview] Client disconnected")
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}
			if err := writePart(w, frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writePart(w http.ResponseWriter, frame []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := fmt.Fprint(w, "\r\n")
	return err
}

// ServeSnapshot serves the latest frame as a single JPEG
func (p *Preview) ServeSnapshot(w http.ResponseWriter, r *http.Request) {
	frame, _ := p.Current()
	if frame == nil {
		http.Error(w, "No face detected yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(frame)))
	w.Write(frame)
}

// Handler returns the preview routes
func (p *Preview) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(StreamPath, p)
	mux.HandleFunc(SnapshotPath, p.ServeSnapshot)
	return mux
}

// Serve runs the preview server on l until ctx is cancelled
func (p *Preview) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           p.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(l)
	}()
	p.log.Infof("[Preview] Face preview at http://%s%s", l.Addr(), StreamPath)

	select {
	case err := <-errCh:
		p.Stop()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	p.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
