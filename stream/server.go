package stream

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// Content types and DLNA markers attached to stream responses. Some
// renderers refuse to treat the stream as live without the transfer
// mode header.
const (
	contentTypeMPEGTS   = "video/mp2t"
	contentTypePlaylist = "application/vnd.apple.mpegurl"

	dlnaContentFeatures = "DLNA.ORG_PN=MPEG_TS_SD_NA;DLNA.ORG_OP=01;DLNA.ORG_FLAGS=01700000000000000000000000000000"
)

// chunkSize is the read-and-forward block size for segment delivery.
// Small blocks with explicit flushes minimise time-to-first-byte on
// the freshest segment.
const chunkSize = 8192

// Server exposes the encoder's output directory over HTTP with the
// headers DLNA renderers expect.
type Server struct {
	dir     string
	port    int
	logger  *slog.Logger
	metrics *Metrics

	ln  net.Listener
	srv *http.Server
}

// NewServer returns a Server for the given output directory, bound to
// all interfaces on port.
func NewServer(dir string, port int, logger *slog.Logger, metrics *Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{dir: dir, port: port, logger: logger, metrics: metrics}
}

// Router builds the HTTP routes. Split out from Start for tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.dlnaHeaders)
	r.Use(s.logRequests)

	r.Get("/metrics", s.metrics.Handler().ServeHTTP)
	r.Get("/"+StreamFileName, s.serveTransportStream)
	r.Get("/{filename}", s.serveFile)

	return r
}

// Start binds the listener and begins serving. The listener is live
// when Start returns, so a renderer can be pointed at the URL
// immediately afterwards.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(s.port))
	if err != nil {
		return err
	}

	s.ln = ln
	s.srv = &http.Server{Handler: s.Router()}

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("segment server error", "error", err)
		}
	}()

	s.logger.Info("segment server listening", "addr", ln.Addr().String())

	return nil
}

// Shutdown stops the server, waiting for in-flight requests up to the
// context deadline. Safe to call when Start never ran.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}

	return s.srv.Shutdown(ctx)
}

// serveTransportStream serves the continuous-mode output file with
// DLNA content features attached. Registered independently of the
// generic per-file route.
func (s *Server) serveTransportStream(w http.ResponseWriter, r *http.Request) {
	f, err := os.Open(filepath.Join(s.dir, StreamFileName))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	s.metrics.IncSegmentRequests()

	h := w.Header()
	h.Set("Content-Type", contentTypeMPEGTS)
	h["contentFeatures.dlna.org"] = []string{dlnaContentFeatures}

	s.chunkedCopy(w, f)
}

// serveFile serves manifests and segments by name. A file that does
// not exist yet, because the encoder has not produced it, is an
// ordinary 404, not a fault.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	s.metrics.IncSegmentRequests()

	h := w.Header()
	switch filepath.Ext(name) {
	case ".m3u8":
		// The manifest is rewritten continuously; caching a stale
		// window stalls playback.
		h.Set("Content-Type", contentTypePlaylist)
		h.Set("Cache-Control", "no-cache")

		s.copyAll(w, f)
	case ".ts":
		h.Set("Content-Type", contentTypeMPEGTS)
		h.Set("Cache-Control", "no-cache")

		s.chunkedCopy(w, f)
	default:
		h.Set("Content-Type", "application/octet-stream")

		s.copyAll(w, f)
	}
}

// chunkedCopy streams f in small blocks, flushing after each, so the
// client sees bytes as soon as they are read.
func (s *Server) chunkedCopy(w http.ResponseWriter, f *os.File) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, chunkSize)

	for {
		n, err := f.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			s.metrics.AddBytesServed(n)
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) copyAll(w http.ResponseWriter, f *os.File) {
	buf := make([]byte, chunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			s.metrics.AddBytesServed(n)
		}
		if err != nil {
			return
		}
	}
}

// dlnaHeaders adds the cross-origin and DLNA transfer-mode headers
// every response must carry. The transfer-mode key is set directly to
// keep its mixed case; net/http would otherwise canonicalise it and
// some renderers match header names literally.
func (s *Server) dlnaHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h["transferMode.dlna.org"] = []string{"Streaming"}

		next.ServeHTTP(w, r)
	})
}

// logRequests records each request with its status and duration, and
// feeds the error counter.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrap := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrap, r)

		if wrap.status >= 400 {
			s.metrics.IncRequestErrors()
		}
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrap.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// statusWriter captures the response status for logging and metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
