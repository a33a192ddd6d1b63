package stream

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"
)

// Mode selects the encoder's output format.
type Mode int

const (
	// ModeHLS emits a rolling segmented playlist: short media
	// segments plus a periodically rewritten manifest.
	ModeHLS Mode = iota
	// ModeMPEGTS emits one continuously appended transport stream
	// file.
	ModeMPEGTS
)

func (m Mode) String() string {
	if m == ModeMPEGTS {
		return "mpegts"
	}

	return "hls"
}

// Well-known names inside the output directory.
const (
	PlaylistName   = "stream.m3u8"
	StreamFileName = "stream.ts"
	segmentPattern = "segment_%03d.ts"
)

// stopGracePeriod bounds how long Stop waits for the child to exit
// after a termination request before killing it.
const stopGracePeriod = 5 * time.Second

// ErrEncoderExited reports that the child encoder process is gone and
// the bridge no longer accepts frames. Fatal to the active session.
var ErrEncoderExited = errors.New("encoder process exited")

// Encoder owns an ffmpeg child process that consumes raw rgb24 frames
// on stdin and writes segmented or continuous stream output into the
// shared directory.
type Encoder struct {
	dir    string
	mode   Mode
	fps    int
	logger *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	exited chan struct{}
}

// NewEncoder returns an Encoder writing into dir.
func NewEncoder(dir string, mode Mode, fps int, logger *slog.Logger) *Encoder {
	if logger == nil {
		logger = slog.Default()
	}

	return &Encoder{
		dir:    dir,
		mode:   mode,
		fps:    fps,
		logger: logger,
		exited: make(chan struct{}),
	}
}

// Start cleans stale output from the directory and spawns the child
// process. Pre-existing segments are deleted first so stale content is
// never served to a renderer.
func (e *Encoder) Start() error {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	if err := CleanOutputDir(e.dir); err != nil {
		return fmt.Errorf("cleaning output dir: %w", err)
	}

	cmd := exec.Command("ffmpeg", e.args()...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("opening encoder stdin: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return fmt.Errorf("starting encoder: %w", err)
	}

	e.cmd = cmd
	e.stdin = stdin

	go func() {
		err := cmd.Wait()
		e.logger.Info("encoder process exited", "error", err)
		close(e.exited)
	}()

	e.logger.Info("encoder started", "mode", e.mode.String(), "dir", e.dir, "pid", cmd.Process.Pid)

	return nil
}

// Write delivers one raw frame to the child's input. It blocks when
// the child's input buffer is full; this is the pipeline's intended
// backpressure. Once the child has exited, Write reports
// ErrEncoderExited.
func (e *Encoder) Write(frame []byte) error {
	select {
	case <-e.exited:
		return ErrEncoderExited
	default:
	}

	if _, err := e.stdin.Write(frame); err != nil {
		return fmt.Errorf("%w: %v", ErrEncoderExited, err)
	}

	return nil
}

// Exited is closed once the child process has exited, expectedly or
// not.
func (e *Encoder) Exited() <-chan struct{} {
	return e.exited
}

// OutputPath returns the file whose existence marks the stream as
// servable: the playlist in segmented mode, the transport stream file
// otherwise.
func (e *Encoder) OutputPath() string {
	if e.mode == ModeMPEGTS {
		return filepath.Join(e.dir, StreamFileName)
	}

	return filepath.Join(e.dir, PlaylistName)
}

// StreamPath returns the URL path a renderer should request.
func (e *Encoder) StreamPath() string {
	if e.mode == ModeMPEGTS {
		return "/" + StreamFileName
	}

	return "/" + PlaylistName
}

// Stop closes the frame input, requests graceful termination, and
// kills the child if it outlives the grace period. The output
// directory is cleaned afterwards even when termination timed out.
func (e *Encoder) Stop() error {
	if e.cmd == nil {
		return nil
	}

	e.stdin.Close()
	e.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-e.exited:
	case <-time.After(stopGracePeriod):
		e.logger.Warn("encoder did not exit in time, killing", "pid", e.cmd.Process.Pid)
		e.cmd.Process.Kill()
		<-e.exited
	}

	return CleanOutputDir(e.dir)
}

// CleanOutputDir deletes segment and manifest files from dir.
func CleanOutputDir(dir string) error {
	for _, pattern := range []string{"*.ts", "*.m3u8"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return err
		}
		for _, m := range matches {
			if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}

	return nil
}

// args builds the ffmpeg invocation. The configuration trades
// compression efficiency for latency: zerolatency tuning, small
// buffers, fixed bitrate, and frequent key frames.
func (e *Encoder) args() []string {
	size := strconv.Itoa(OutputWidth) + "x" + strconv.Itoa(OutputHeight)
	fps := strconv.Itoa(e.fps)

	if e.mode == ModeMPEGTS {
		return []string{
			"-y",
			"-f", "rawvideo",
			"-pixel_format", "rgb24",
			"-video_size", size,
			"-framerate", fps,
			"-i", "pipe:0",
			"-c:v", "libx264",
			"-profile:v", "main",
			"-level", "3.1",
			"-preset", "veryfast",
			"-tune", "zerolatency",
			"-b:v", "2M",
			"-maxrate", "2M",
			"-bufsize", "1M",
			"-pix_fmt", "yuv420p",
			"-g", fps,
			"-sc_threshold", "0",
			"-threads", "0",
			"-f", "mpegts",
			filepath.Join(e.dir, StreamFileName),
		}
	}

	// Key frame every half second so renderers can join the rolling
	// window quickly.
	gop := e.fps / 2
	if gop < 1 {
		gop = 1
	}

	return []string{
		"-y",
		"-fflags", "+flush_packets+nobuffer",
		"-flags", "+low_delay",
		"-f", "rawvideo",
		"-pixel_format", "rgb24",
		"-video_size", size,
		"-framerate", fps,
		"-i", "pipe:0",
		"-c:v", "libx264",
		"-profile:v", "main",
		"-level", "3.1",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-b:v", "2M",
		"-maxrate", "2M",
		"-bufsize", "500k",
		"-pix_fmt", "yuv420p",
		"-g", strconv.Itoa(gop),
		"-sc_threshold", "0",
		"-threads", "0",
		"-max_delay", "0",
		"-muxdelay", "0",
		"-f", "hls",
		"-hls_time", "0.5",
		"-hls_list_size", "4",
		"-hls_flags", "delete_segments+omit_endlist+independent_segments",
		"-hls_segment_type", "mpegts",
		"-start_number", "0",
		"-hls_segment_filename", filepath.Join(e.dir, segmentPattern),
		filepath.Join(e.dir, PlaylistName),
	}
}
