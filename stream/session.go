package stream

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ericyan/iputil"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"screenbeam"
)

// State is a session's position in its lifecycle.
type State int

const (
	Idle State = iota
	Starting
	Streaming
	Stopping
	Stopped
	// Failed is reached from Starting or Streaming; cleanup behaves
	// like Stopping but the outcome is user-visible as a failure.
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Streaming:
		return "streaming"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	}

	return "unknown"
}

var (
	// ErrSessionActive reports a start request while a session is
	// already running; one session is active at a time.
	ErrSessionActive = errors.New("stream session already active")
	// ErrStreamNotReady reports that the encoder produced no output
	// within the readiness window.
	ErrStreamNotReady = errors.New("stream output did not appear in time")
	// ErrControlFailed reports that the renderer rejected a control
	// action after the media pipeline came up.
	ErrControlFailed = errors.New("renderer control action failed")
)

// Readiness poll: a bounded number of short waits for the manifest or
// stream file to appear on disk.
const (
	outputPollInterval = 500 * time.Millisecond
	outputPollAttempts = 10

	serverShutdownTimeout = 3 * time.Second
)

// Config carries the immutable parameters of one stream session.
type Config struct {
	// Region is the captured screen region; empty selects the
	// primary display.
	Region image.Rectangle
	// FPS is the target frame rate.
	FPS int
	// Port is the segment server's listen port.
	Port int
	// Mode selects segmented-playlist or continuous-file output.
	Mode Mode
	// OutputDir is the shared segment directory. Empty picks a
	// directory under the system temp dir.
	OutputDir string
	// StopOnControlFailure tears the pipeline down when the renderer
	// rejects a control action. When false the stream keeps serving,
	// so the user can retry or the renderer can pull regardless.
	StopOnControlFailure bool
}

// Session sequences the capture, encode, and serve pipeline and hands
// the stream URL to a renderer controller. One session is active at a
// time; Stop is idempotent and safe from any goroutine.
type Session struct {
	ID  string
	cfg Config

	logger  *slog.Logger
	metrics *Metrics

	capturer *Capturer
	encoder  *Encoder
	server   *Server
	ctrl     screenbeam.Controller

	mu    sync.Mutex
	state State

	captureErr chan error
	stopCh     chan struct{}
	stopOnce   sync.Once
	stopped    chan struct{}
}

// NewSession builds a session from cfg. Zero-valued fields get
// defaults: 30 fps, port 5000, a temp output directory.
func NewSession(cfg Config, logger *slog.Logger, metrics *Metrics) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.Port == 0 {
		cfg.Port = 5000
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = filepath.Join(os.TempDir(), "screenbeam")
	}

	s := &Session{
		ID:         uuid.New().String(),
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		captureErr: make(chan error, 1),
		stopCh:     make(chan struct{}),
		stopped:    make(chan struct{}),
	}

	s.encoder = NewEncoder(cfg.OutputDir, cfg.Mode, cfg.FPS, logger)
	s.server = NewServer(cfg.OutputDir, cfg.Port, logger, metrics)
	s.capturer = NewCapturer(cfg.Region, cfg.FPS, &meteredSink{s.encoder, metrics}, logger)

	return s
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	s.logger.Info("session state", "id", s.ID, "state", state.String())
}

// Start brings up the pipeline server-first, so the renderer is never
// pointed at a URL that is not yet reachable, then waits for encoder
// output and issues the control actions. A control failure leaves the
// pipeline serving unless StopOnControlFailure is set; Start reports
// it as ErrControlFailed either way.
func (s *Session) Start(ctx context.Context, ctrl screenbeam.Controller) error {
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return ErrSessionActive
	}
	s.state = Starting
	s.ctrl = ctrl
	s.mu.Unlock()

	s.logger.Info("session starting",
		"id", s.ID,
		"mode", s.cfg.Mode.String(),
		"fps", s.cfg.FPS,
		"port", s.cfg.Port,
	)
	s.metrics.SetSessionActive(true)

	// The server and the encoder do not depend on each other; only the
	// capturer needs the encoder's stdin, and the renderer is pointed
	// at the server well after both are up.
	var g errgroup.Group
	g.Go(func() error {
		if err := s.server.Start(); err != nil {
			return fmt.Errorf("starting segment server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.encoder.Start(); err != nil {
			return fmt.Errorf("starting encoder: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return s.fail(err)
	}

	go func() {
		if err := s.capturer.Run(); err != nil {
			s.logger.Error("capture pipeline failed", "id", s.ID, "error", err)
			select {
			case s.captureErr <- err:
			default:
			}
		}
	}()

	if err := s.waitForOutput(ctx); err != nil {
		return s.fail(err)
	}

	streamURL := s.StreamURL()
	s.logger.Info("stream ready", "id", s.ID, "url", streamURL)

	if !ctrl.SetAVTransportURI(streamURL) || !ctrl.Play() {
		if s.cfg.StopOnControlFailure {
			return s.fail(ErrControlFailed)
		}

		// The stream stays servable: the renderer may have begun
		// pulling despite the failed report, or the user can retry.
		s.setState(Failed)
		go s.monitor()

		return ErrControlFailed
	}

	s.setState(Streaming)
	go s.monitor()

	return nil
}

// Stop tears the session down: best-effort renderer stop, then
// capture, encoder, and server, then file cleanup. Idempotent;
// concurrent callers block until teardown completes.
func (s *Session) Stop() {
	s.shutdown(Stopped)
}

// StreamURL returns the URL a renderer on the local subnet should
// pull from, using the default outbound interface address.
func (s *Session) StreamURL() string {
	host := "127.0.0.1"
	if addr, err := iputil.DefaultIPv4(); err == nil && addr != nil {
		host = addr.IP.String()
	}

	return fmt.Sprintf("http://%s:%d%s", host, s.cfg.Port, s.encoder.StreamPath())
}

// monitor watches for pipeline death while the session is live.
func (s *Session) monitor() {
	select {
	case <-s.encoder.Exited():
		s.logger.Error("encoder exited mid-session", "id", s.ID)
		s.shutdown(Failed)
	case err := <-s.captureErr:
		s.logger.Error("capture failed mid-session", "id", s.ID, "error", err)
		s.shutdown(Failed)
	case <-s.stopCh:
	}
}

// waitForOutput polls for the manifest or stream file the encoder is
// expected to produce.
func (s *Session) waitForOutput(ctx context.Context) error {
	path := s.encoder.OutputPath()

	for i := 0; i < outputPollAttempts; i++ {
		if _, err := os.Stat(path); err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.encoder.Exited():
			return ErrEncoderExited
		case <-time.After(outputPollInterval):
		}
	}

	return fmt.Errorf("%w: %s", ErrStreamNotReady, path)
}

func (s *Session) fail(err error) error {
	s.shutdown(Failed)

	return err
}

func (s *Session) shutdown(final State) {
	s.stopOnce.Do(func() {
		defer close(s.stopped)

		close(s.stopCh)
		s.setState(Stopping)

		// Snapshot under the lock: Start assigns the controller while a
		// concurrent Stop may already be tearing down.
		s.mu.Lock()
		ctrl := s.ctrl
		s.mu.Unlock()

		if ctrl != nil {
			// Best effort; the renderer may already be gone.
			ctrl.Stop()
		}

		s.capturer.Stop()

		if err := s.encoder.Stop(); err != nil {
			s.logger.Warn("encoder stop", "id", s.ID, "error", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Warn("server shutdown", "id", s.ID, "error", err)
		}

		s.metrics.SetSessionActive(false)
		s.setState(final)
	})

	<-s.stopped
}

// meteredSink counts frames on their way into the encoder.
type meteredSink struct {
	sink    screenbeam.FrameSink
	metrics *Metrics
}

func (m *meteredSink) Write(frame []byte) error {
	if err := m.sink.Write(frame); err != nil {
		return err
	}
	m.metrics.IncFrames()

	return nil
}
