package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"screenbeam/internal/platform/config"
	"screenbeam/internal/platform/logger"
	"screenbeam/stream"
	"screenbeam/upnp"
)

func main() {
	_ = config.Load()

	var (
		port       = flag.Int("p", config.GetEnvInt("PORT", 5000), "segment server port")
		fps        = flag.Int("fps", config.GetEnvInt("FPS", 30), "target frame rate")
		mode       = flag.String("mode", config.GetEnv("MODE", "hls"), "output mode: hls or mpegts")
		region     = flag.String("region", "", "capture region as x,y,w,h (empty: primary display)")
		outputDir  = flag.String("o", config.GetEnv("OUTPUT_DIR", ""), "segment output directory")
		timeout    = flag.Int("t", config.GetEnvInt("DISCOVER_TIMEOUT", 5), "discovery timeout in seconds")
		devicePat  = flag.String("device", config.GetEnv("DEVICE", ""), "renderer name substring to stream to")
		list       = flag.Bool("list", false, "discover renderers, print them, and exit")
		stopOnCtrl = flag.Bool("stop-on-control-failure", config.GetEnvBool("STOP_ON_CONTROL_FAILURE", false),
			"tear the pipeline down when renderer control fails")
		logLevel  = flag.String("log-level", config.GetEnv("LOG_LEVEL", "info"), "log level")
		logFormat = flag.String("log-format", config.GetEnv("LOG_FORMAT", "text"), "log format: text or json")
		help      = flag.Bool("h", false, "show help")
	)
	flag.Parse()

	if *help {
		flag.Usage()
		os.Exit(0)
	}

	log := logger.New(*logLevel, *logFormat)

	scanTimeout := time.Duration(*timeout) * time.Second

	cache := upnp.NewCache()
	discoverer := upnp.NewDiscoverer(cache, log)

	if *list {
		devices, err := discoverer.Discover(scanTimeout, func(dev *upnp.Device, found []*upnp.Device) {
			fmt.Printf("%2d. %s\n", len(found), dev)
		})
		if err != nil {
			log.Error("discovery failed", "error", err)
		}
		if len(devices) == 0 {
			fmt.Println("no renderers found; make sure the TV is on and on the same network")
			os.Exit(1)
		}
		return
	}

	// Speculative scan fills the cache while the rest of the setup
	// runs; the selection scan below reads it for a head start. Both
	// write the same lock-guarded cache.
	go discoverer.Discover(scanTimeout, nil)

	captureRegion, err := parseRegion(*region)
	if err != nil {
		log.Error("invalid region", "region", *region, "error", err)
		os.Exit(1)
	}

	outputMode := stream.ModeHLS
	if *mode == "mpegts" {
		outputMode = stream.ModeMPEGTS
	} else if *mode != "hls" {
		log.Error("invalid mode", "mode", *mode)
		os.Exit(1)
	}

	dev := pickDevice(upnp.NewDiscoverer(cache, log), cache, *devicePat, scanTimeout)
	if dev == nil {
		log.Error("no matching renderer found", "pattern", *devicePat)
		os.Exit(1)
	}
	log.Info("selected renderer", "name", dev.Name, "location", dev.Location)

	ctrl := upnp.NewControlPoint(dev.Location, log)

	met := stream.NewMetrics()
	sess := stream.NewSession(stream.Config{
		Region:               captureRegion,
		FPS:                  *fps,
		Port:                 *port,
		Mode:                 outputMode,
		OutputDir:            *outputDir,
		StopOnControlFailure: *stopOnCtrl,
	}, log, met)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = sess.Start(ctx, ctrl)
	cancel()
	switch {
	case err == nil:
		log.Info("streaming", "url", sess.StreamURL(), "renderer", dev.Name)
	case errors.Is(err, stream.ErrControlFailed) && !*stopOnCtrl:
		// The renderer balked but the stream is up; it can still be
		// opened manually or the renderer may already be pulling.
		log.Warn("renderer control failed, stream still serving", "url", sess.StreamURL())
	default:
		log.Error("starting stream failed", "error", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Info("signal received, stopping stream", "signal", s.String())

	sess.Stop()
}

// pickDevice returns a renderer matching pattern: first from the
// shared cache for an immediate head start, then from a fresh scan
// whose arrivals are drained from a channel, then from the cache once
// more in case the speculative scan won the race.
func pickDevice(d *upnp.Discoverer, cache *upnp.Cache, pattern string, timeout time.Duration) *upnp.Device {
	if dev := matchDevice(cache.Snapshot(), pattern); dev != nil {
		return dev
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for dev := range d.Stream(ctx) {
		if deviceMatches(dev, pattern) {
			return dev
		}
	}

	return matchDevice(cache.Snapshot(), pattern)
}

func matchDevice(devices []*upnp.Device, pattern string) *upnp.Device {
	for _, dev := range devices {
		if deviceMatches(dev, pattern) {
			return dev
		}
	}

	return nil
}

func deviceMatches(dev *upnp.Device, pattern string) bool {
	if pattern == "" {
		return true
	}

	pattern = strings.ToLower(pattern)

	return strings.Contains(strings.ToLower(dev.Name), pattern) ||
		strings.Contains(strings.ToLower(dev.Location), pattern)
}

// parseRegion parses "x,y,w,h" into a rectangle. The empty string
// selects the primary display downstream.
func parseRegion(s string) (image.Rectangle, error) {
	if s == "" {
		return image.Rectangle{}, nil
	}

	var x, y, w, h int
	if _, err := fmt.Sscanf(s, "%d,%d,%d,%d", &x, &y, &w, &h); err != nil {
		return image.Rectangle{}, err
	}
	if w <= 0 || h <= 0 {
		return image.Rectangle{}, fmt.Errorf("region size must be positive: %dx%d", w, h)
	}

	return image.Rect(x, y, x+w, y+h), nil
}
