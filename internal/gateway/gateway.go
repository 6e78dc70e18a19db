// Package gateway exposes the running system over HTTP. Page, frame and
// count requests become API.request actions and are answered by whatever
// rule responds; the MJPEG stream and health endpoints read providers
// directly.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/roach88/classwatch/internal/ir"
	"github.com/roach88/classwatch/internal/providers"
)

// Engine is the part of the rule engine the gateway drives.
type Engine interface {
	Invoke(ctx context.Context, provider, operation string, input ir.IRObject, flow string) (ir.ActionRecord, error)
	Query(ctx context.Context, provider, name string, input ir.IRObject) (ir.IRObject, error)
	Forget(flow string)
}

// Releaser drops the reply callback of a finished request.
type Releaser interface {
	Release(request string)
}

// RequestMetrics counts served responses.
type RequestMetrics interface {
	RequestServed(path string, status int)
}

// Defaults used when Config leaves a field zero.
const (
	DefaultReplyTimeout   = 2 * time.Second
	DefaultStreamInterval = 200 * time.Millisecond
	streamBoundary        = "frame"
)

// Config wires the gateway to the rest of the system.
type Config struct {
	Engine         Engine
	API            Releaser
	Metrics        RequestMetrics
	MetricsHandler http.Handler
	Logger         *slog.Logger

	ReplyTimeout   time.Duration
	StreamInterval time.Duration
	// RateLimit is requests per second across engine-routed routes; zero
	// disables limiting.
	RateLimit float64
}

// Server is the HTTP front of the system.
type Server struct {
	eng     Engine
	api     Releaser
	metrics RequestMetrics
	logger  *slog.Logger
	limiter *rate.Limiter

	replyTimeout   time.Duration
	streamInterval time.Duration

	mux *http.ServeMux
}

// New builds a Server and its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("gateway: engine is required")
	}
	s := &Server{
		eng:            cfg.Engine,
		api:            cfg.API,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		replyTimeout:   cfg.ReplyTimeout,
		streamInterval: cfg.StreamInterval,
		mux:            http.NewServeMux(),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.replyTimeout <= 0 {
		s.replyTimeout = DefaultReplyTimeout
	}
	if s.streamInterval <= 0 {
		s.streamInterval = DefaultStreamInterval
	}
	if cfg.RateLimit > 0 {
		burst := int(math.Ceil(cfg.RateLimit))
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	s.mux.HandleFunc("GET /{$}", s.routed)
	s.mux.HandleFunc("GET /frame.jpg", s.routed)
	s.mux.HandleFunc("GET /count", s.routed)
	s.mux.HandleFunc("GET /stream", s.stream)
	s.mux.HandleFunc("GET /healthz", s.healthz)
	if cfg.MetricsHandler != nil {
		s.mux.Handle("GET /metrics", cfg.MetricsHandler)
	}
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	if s.metrics != nil {
		s.metrics.RequestServed(routeLabel(r.URL.Path), rec.status)
	}
}

type reply struct {
	body        ir.IRObject
	contentType string
}

// routed turns the request into an API.request action and waits for a rule
// to respond.
func (s *Server) routed(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.replyTimeout)
	defer cancel()

	replies := make(chan reply, 1)
	callback := providers.ReplyRef(uuid.NewString(), func(_ string, body ir.IRObject, contentType string) {
		select {
		case replies <- reply{body: body, contentType: contentType}:
		default:
		}
	})

	done := make(chan error, 1)
	go func() {
		rec, err := s.eng.Invoke(ctx, "API", "request", ir.IRObject{
			"callback": callback,
			"path":     ir.IRString(r.URL.Path),
			"method":   ir.IRString(r.Method),
			"params":   queryParams(r),
		}, "")
		if err == nil {
			if id, ok := rec.Output.GetString("request"); ok && s.api != nil {
				s.api.Release(id)
			}
			s.eng.Forget(rec.Flow)
		}
		done <- err
	}()

	select {
	case rep := <-replies:
		s.write(w, r, rep)
		return
	case err := <-done:
		// The cascade finished; a reply delivered during it is already
		// buffered.
		select {
		case rep := <-replies:
			s.write(w, r, rep)
			return
		default:
		}
		if err != nil {
			s.logger.Error("request dispatch failed", "path", r.URL.Path, "err", err)
			http.Error(w, "request failed", http.StatusInternalServerError)
			return
		}
		http.Error(w, "no response", http.StatusServiceUnavailable)
	case <-ctx.Done():
		s.logger.Warn("request timed out", "path", r.URL.Path, "timeout", s.replyTimeout)
		http.Error(w, "timed out waiting for response", http.StatusGatewayTimeout)
	}
}

func (s *Server) write(w http.ResponseWriter, r *http.Request, rep reply) {
	data, err := encodeBody(rep.body, rep.contentType)
	if err != nil {
		s.logger.Error("encode response", "path", r.URL.Path, "err", err)
		http.Error(w, "bad response body", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", rep.contentType)
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("write response", "path", r.URL.Path, "err", err)
	}
}

// encodeBody picks the payload out of a respond body: raw bytes for images,
// the markup for HTML, display JSON for anything else.
func encodeBody(body ir.IRObject, contentType string) ([]byte, error) {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		data, ok := body.GetBytes("image")
		if !ok {
			return nil, errors.New("image response without image bytes")
		}
		return data, nil
	case strings.HasPrefix(contentType, "text/html"):
		html, ok := body.GetString("html")
		if !ok {
			return nil, errors.New("html response without html")
		}
		return []byte(html), nil
	default:
		return ir.MarshalIRValue(body)
	}
}

func queryParams(r *http.Request) ir.IRObject {
	params := ir.IRObject{}
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			params[k] = ir.IRString(vs[0])
		}
	}
	return params
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

// routeLabel bounds metric label cardinality to the known routes.
func routeLabel(path string) string {
	switch path {
	case "/", "/frame.jpg", "/count", "/stream", "/healthz", "/metrics":
		return path
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
