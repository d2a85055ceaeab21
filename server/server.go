// Package server - HTTP detection service answering JPEG uploads with predictions.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"image"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/nvr-ai/chroma/config"
	"github.com/nvr-ai/chroma/images"
	"github.com/nvr-ai/chroma/inference"
	"github.com/nvr-ai/chroma/logging"
	"github.com/nvr-ai/chroma/overlay"
	"github.com/nvr-ai/chroma/palette"
	"github.com/nvr-ai/chroma/profiler"
	"github.com/nvr-ai/chroma/remote"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Metrics are the request counters served on /metrics.
type Metrics struct {
	Requests   uint64 `json:"requests"`
	Rejected   uint64 `json:"rejected"`
	Failed     uint64 `json:"failed"`
	Detections uint64 `json:"detections"`
	Clients    int    `json:"websocket_clients"`

	Timings map[string]profiler.OperationStats `json:"timings,omitempty"`
}

// Server answers detection requests with the configured engine.
type Server struct {
	engine    inference.Engine
	cfg       config.ServerConfig
	inputSize int
	palette   palette.Palette
	hub       *Hub
	profiler  *profiler.Profiler
	router    *mux.Router
	upgrader  websocket.Upgrader
	logger    logging.Logger

	requests   atomic.Uint64
	rejected   atomic.Uint64
	failed     atomic.Uint64
	detections atomic.Uint64
}

// New creates a server.
//
// Arguments:
//   - engine: The detection provider.
//   - cfg: The server configuration.
//   - inputSize: The network input side the engine reports boxes in, or 0 when the
//     engine already reports boxes in upload coordinates.
//   - logger: The logger, nil for none.
//
// Returns:
//   - *Server: The server.
func New(engine inference.Engine, cfg config.ServerConfig, inputSize int, logger logging.Logger) *Server {
	s := &Server{
		engine:    engine,
		cfg:       cfg,
		inputSize: inputSize,
		palette:   palette.Holds(),
		hub:       NewHub(logger),
		profiler:  profiler.New(0, logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logging.OrNop(logger),
	}
	if s.cfg.MaxUploadBytes <= 0 {
		s.cfg.MaxUploadBytes = 10 << 20
	}

	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.HandleFunc("/", s.handleDetect).Methods("POST")
	r.HandleFunc("/detect", s.handleDetect).Methods("POST")
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	r.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
	s.router = r

	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Profiler returns the request timing profiler.
func (s *Server) Profiler() *profiler.Profiler {
	return s.profiler
}

// Metrics returns the request counters and timings.
func (s *Server) Metrics() Metrics {
	return Metrics{
		Requests:   s.requests.Load(),
		Rejected:   s.rejected.Load(),
		Failed:     s.failed.Load(),
		Detections: s.detections.Load(),
		Clients:    s.hub.ClientCount(),
		Timings:    s.profiler.Snapshot().Operations,
	}
}

// ListenAndServe serves on cfg.Addr until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Infow("detection service listening", "addr", s.cfg.Addr, "threshold", s.cfg.Threshold)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server failed")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.Close()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	reqID := requestID(r)
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	data, err := s.readUpload(r)
	if err != nil {
		s.rejected.Add(1)
		sendErrorResponse(w, reqID, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	img, format, err := images.Decode(data)
	if err != nil {
		s.rejected.Add(1)
		sendErrorResponse(w, reqID, "invalid_image", "failed to decode image", http.StatusBadRequest)
		return
	}

	start := time.Now()
	dets, err := s.engine.Detect(r.Context(), img)
	s.profiler.Record("detect", time.Since(start))
	if err != nil {
		s.failed.Add(1)
		s.logger.Errorw("detection failed", "request_id", reqID, "error", err)
		sendErrorResponse(w, reqID, "processing_error", err.Error(), http.StatusInternalServerError)
		return
	}

	b := img.Bounds()
	dets = overlay.FrameTransform{Input: s.inputSize, Crop: image.Rect(0, 0, b.Dx(), b.Dy())}.Apply(dets)

	preds := make([]remote.Prediction, 0, len(dets))
	kept := dets[:0]
	for _, d := range dets {
		if float64(d.Confidence) <= s.cfg.Threshold {
			continue
		}
		p := remote.FromDetection(d)
		p.Color = s.palette.Classify(img, d.Box)
		preds = append(preds, p)
		kept = append(kept, d)
	}
	s.detections.Add(uint64(len(preds)))

	s.logger.Debugw("detection complete",
		"request_id", reqID, "format", string(format), "width", b.Dx(), "height", b.Dy(),
		"predictions", len(preds), "latency", time.Since(start))

	body, err := json.Marshal(preds)
	if err != nil {
		s.failed.Add(1)
		sendErrorResponse(w, reqID, "encoding_error", err.Error(), http.StatusInternalServerError)
		return
	}
	s.hub.Broadcast(body)

	w.Header().Set("X-Request-ID", reqID)
	if annotate := r.URL.Query().Get("annotate"); annotate == "1" || annotate == "true" {
		w.Header().Set("Content-Type", "image/jpeg")
		out := overlay.Annotate(img, kept, overlay.DefaultOptions())
		if err := imaging.Encode(w, out, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
			s.logger.Warnw("failed to write annotated frame", "request_id", reqID, "error", err)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// readUpload returns the multipart "file" field, or the raw body for other content
// types.
func (s *Server) readUpload(r *http.Request) ([]byte, error) {
	var data []byte
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
			return nil, errors.Wrap(err, "invalid multipart form")
		}
		file, _, err := r.FormFile(remote.FormField)
		if err != nil {
			return nil, errors.Errorf("missing %q form field", remote.FormField)
		}
		defer file.Close()

		if data, err = io.ReadAll(file); err != nil {
			return nil, errors.Wrap(err, "failed to read upload")
		}
	} else {
		var err error
		if data, err = io.ReadAll(r.Body); err != nil {
			return nil, errors.Wrap(err, "failed to read body")
		}
	}

	if len(data) == 0 {
		return nil, errors.New("empty upload")
	}
	return data, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Metrics())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}
	s.hub.Register(conn)
	defer s.hub.Unregister(conn)

	// Clients only listen; reading drives ping/pong and detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sendErrorResponse(w http.ResponseWriter, reqID, code, message string, status int) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message, RequestID: reqID})
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets websocket upgrades through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Infow("request",
			"method", r.Method, "path", r.URL.Path, "status", rec.status,
			"duration", time.Since(start), "remote", r.RemoteAddr)
	})
}
