package stream

import (
	"context"
	"errors"
	"image"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

type fakeController struct {
	uriOK, playOK bool

	setCalls  atomic.Int64
	playCalls atomic.Int64
	stopCalls atomic.Int64
	lastURI   atomic.Value
}

func (c *fakeController) SetAVTransportURI(mediaURL string) bool {
	c.setCalls.Add(1)
	c.lastURI.Store(mediaURL)
	return c.uriOK
}

func (c *fakeController) Play() bool {
	c.playCalls.Add(1)
	return c.playOK
}

func (c *fakeController) Stop() bool {
	c.stopCalls.Add(1)
	return true
}

func freePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	return ln.Addr().(*net.TCPAddr).Port
}

func requireFFmpeg(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
}

func newTestSession(t *testing.T, mode Mode, stopOnControlFailure bool) *Session {
	t.Helper()

	s := NewSession(Config{
		Region:               image.Rect(0, 0, 640, 480),
		FPS:                  30,
		Port:                 freePort(t),
		Mode:                 mode,
		OutputDir:            t.TempDir(),
		StopOnControlFailure: stopOnControlFailure,
	}, testLogger(), nil)

	s.capturer.grab = stubGrabber(640, 480)

	return s
}

func TestSessionLifecycle(t *testing.T) {
	requireFFmpeg(t)

	s := newTestSession(t, ModeHLS, false)
	ctrl := &fakeController{uriOK: true, playOK: true}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Start(ctx, ctrl); err != nil {
		t.Fatal(err)
	}
	if s.State() != Streaming {
		t.Fatalf("state = %s, want streaming", s.State())
	}

	// The manifest the renderer was pointed at must exist and be
	// servable.
	if _, err := os.Stat(filepath.Join(s.cfg.OutputDir, PlaylistName)); err != nil {
		t.Errorf("manifest missing after start: %v", err)
	}

	uri, _ := ctrl.lastURI.Load().(string)
	resp, err := http.Get(uri)
	if err != nil {
		t.Fatalf("fetching %s: %v", uri, err)
	}
	resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/vnd.apple.mpegurl" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q", cc)
	}

	if ctrl.playCalls.Load() != 1 {
		t.Errorf("play calls = %d", ctrl.playCalls.Load())
	}

	s.Stop()

	if s.State() != Stopped {
		t.Errorf("state after stop = %s", s.State())
	}
	if ctrl.stopCalls.Load() == 0 {
		t.Error("renderer stop not issued")
	}

	// Teardown deletes generated output.
	leftovers, _ := filepath.Glob(filepath.Join(s.cfg.OutputDir, "*.ts"))
	manifests, _ := filepath.Glob(filepath.Join(s.cfg.OutputDir, "*.m3u8"))
	if len(leftovers)+len(manifests) != 0 {
		t.Errorf("output not cleaned: %v %v", leftovers, manifests)
	}
}

func TestSessionSecondStartRejected(t *testing.T) {
	requireFFmpeg(t)

	s := newTestSession(t, ModeHLS, false)
	ctrl := &fakeController{uriOK: true, playOK: true}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Start(ctx, ctrl); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	if err := s.Start(ctx, ctrl); !errors.Is(err, ErrSessionActive) {
		t.Errorf("second start = %v, want ErrSessionActive", err)
	}
}

func TestSessionControlFailureKeepsServing(t *testing.T) {
	requireFFmpeg(t)

	s := newTestSession(t, ModeHLS, false)
	ctrl := &fakeController{uriOK: false, playOK: false}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := s.Start(ctx, ctrl)
	if !errors.Is(err, ErrControlFailed) {
		t.Fatalf("Start = %v, want ErrControlFailed", err)
	}
	defer s.Stop()

	if s.State() != Failed {
		t.Errorf("state = %s, want failed", s.State())
	}

	// Pipeline stays up for a manual retry.
	if _, err := os.Stat(filepath.Join(s.cfg.OutputDir, PlaylistName)); err != nil {
		t.Errorf("pipeline should keep serving: %v", err)
	}
}

func TestSessionControlFailureTearsDownWhenConfigured(t *testing.T) {
	requireFFmpeg(t)

	s := newTestSession(t, ModeHLS, true)
	ctrl := &fakeController{uriOK: false, playOK: false}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Start(ctx, ctrl); !errors.Is(err, ErrControlFailed) {
		t.Fatalf("Start = %v, want ErrControlFailed", err)
	}

	if s.State() != Failed {
		t.Errorf("state = %s, want failed", s.State())
	}
	manifests, _ := filepath.Glob(filepath.Join(s.cfg.OutputDir, "*.m3u8"))
	if len(manifests) != 0 {
		t.Errorf("output should be cleaned after teardown: %v", manifests)
	}
}

func TestSessionStopIdempotentWithoutStart(t *testing.T) {
	s := newTestSession(t, ModeHLS, false)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	s.Stop()
	<-done

	if s.State() != Stopped {
		t.Errorf("state = %s, want stopped", s.State())
	}
}

func TestSessionStopDuringStart(t *testing.T) {
	// Occupy the port so the server fails to bind and Start takes its
	// error path while a concurrent Stop races the teardown.
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	s := NewSession(Config{
		Region:    image.Rect(0, 0, 640, 480),
		FPS:       30,
		Port:      ln.Addr().(*net.TCPAddr).Port,
		Mode:      ModeHLS,
		OutputDir: t.TempDir(),
	}, testLogger(), nil)
	s.capturer.grab = stubGrabber(640, 480)

	ctrl := &fakeController{uriOK: true, playOK: true}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Start(ctx, ctrl); err == nil {
		t.Error("start on an occupied port should fail")
	}
	<-stopped

	if st := s.State(); st != Stopped && st != Failed {
		t.Errorf("state = %s, want stopped or failed", st)
	}
}

func TestSessionStreamURL(t *testing.T) {
	hls := newTestSession(t, ModeHLS, false)
	if got := hls.StreamURL(); filepath.Ext(got) != ".m3u8" {
		t.Errorf("hls stream URL = %s", got)
	}

	ts := newTestSession(t, ModeMPEGTS, false)
	if got := ts.StreamURL(); filepath.Ext(got) != ".ts" {
		t.Errorf("mpegts stream URL = %s", got)
	}
}
