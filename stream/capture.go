package stream

import (
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/kbinani/screenshot"
	"golang.org/x/image/draw"

	"screenbeam"
)

// Output frames are always rescaled to a fixed 720p RGB24 layout,
// decoupling the encoder contract from the captured region's native
// size.
const (
	OutputWidth  = 1280
	OutputHeight = 720
	FrameSize    = OutputWidth * OutputHeight * 3
)

// Grabber captures the current pixels of a screen region.
type Grabber func(region image.Rectangle) (*image.RGBA, error)

// Capturer produces a timed sequence of fixed-resolution raw frames
// from a display region and pushes them into a FrameSink. Writing to
// the sink is the pipeline's only backpressure point: a slow encoder
// throttles capture.
type Capturer struct {
	region image.Rectangle
	fps    int
	sink   screenbeam.FrameSink
	logger *slog.Logger

	grab Grabber

	stopOnce sync.Once
	stop     chan struct{}
}

// NewCapturer returns a Capturer for the given region at the target
// frame rate. An empty region selects the primary display.
func NewCapturer(region image.Rectangle, fps int, sink screenbeam.FrameSink, logger *slog.Logger) *Capturer {
	if logger == nil {
		logger = slog.Default()
	}
	if region.Empty() {
		region = screenshot.GetDisplayBounds(0)
	}

	return &Capturer{
		region: region,
		fps:    fps,
		sink:   sink,
		logger: logger,
		grab:   screenshot.CaptureRect,
		stop:   make(chan struct{}),
	}
}

// Run captures frames until Stop is called or the sink rejects a
// frame. Each iteration is paced independently: only the remainder of
// the frame period is slept, so a slow frame is never compensated by
// debt on later ones. A capture or sink failure ends the loop and is
// fatal to the owning session.
func (c *Capturer) Run() error {
	period := time.Second / time.Duration(c.fps)

	dst := image.NewRGBA(image.Rect(0, 0, OutputWidth, OutputHeight))
	frame := make([]byte, FrameSize)

	c.logger.Info("capture started",
		"region", c.region.String(),
		"fps", c.fps,
		"output", fmt.Sprintf("%dx%d", OutputWidth, OutputHeight),
	)

	for {
		select {
		case <-c.stop:
			return nil
		default:
		}

		start := time.Now()

		img, err := c.grab(c.region)
		if err != nil {
			c.logger.Error("capture failed", "error", err)
			return fmt.Errorf("capturing region: %w", err)
		}

		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
		packRGB(dst, frame)

		if err := c.sink.Write(frame); err != nil {
			return fmt.Errorf("delivering frame: %w", err)
		}

		if elapsed := time.Since(start); elapsed < period {
			time.Sleep(period - elapsed)
		}
	}
}

// Stop signals the capture loop to exit. It does not wait for the
// loop: a frame write blocked on the encoder unblocks only once the
// encoder's input is closed.
func (c *Capturer) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// packRGB copies the pixels of src into buf, dropping the alpha
// channel to produce the rgb24 layout the encoder expects.
func packRGB(src *image.RGBA, buf []byte) {
	i := 0
	for y := 0; y < OutputHeight; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+OutputWidth*4]
		for x := 0; x < OutputWidth*4; x += 4 {
			buf[i] = row[x]
			buf[i+1] = row[x+1]
			buf[i+2] = row[x+2]
			i += 3
		}
	}
}
