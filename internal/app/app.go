// Package app assembles the providers, rules, engine and HTTP gateway into
// a running system.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/classwatch/internal/cadence"
	"github.com/roach88/classwatch/internal/compiler"
	"github.com/roach88/classwatch/internal/concept"
	"github.com/roach88/classwatch/internal/config"
	"github.com/roach88/classwatch/internal/engine"
	"github.com/roach88/classwatch/internal/gateway"
	"github.com/roach88/classwatch/internal/ir"
	"github.com/roach88/classwatch/internal/metrics"
	"github.com/roach88/classwatch/internal/providers"
	"github.com/roach88/classwatch/internal/store"
	"github.com/roach88/classwatch/internal/syncs"
)

// Cadence keys driven by Serve.
const (
	KeyCapture = "capture"
	KeyDetect  = "detect"
)

const shutdownTimeout = 5 * time.Second

// System is a fully wired classwatch instance.
type System struct {
	Engine     *engine.Engine
	Camera     *providers.Camera
	Detector   *providers.Detector
	Associator *providers.Associator
	Renderer   *providers.Renderer
	Counter    *providers.Counter
	API        *providers.API
	Metrics    *metrics.Metrics
	Store      *store.Store

	cfg    config.Config
	logger *slog.Logger
}

// Option adjusts how New builds the system.
type Option func(*options)

type options struct {
	opener providers.Opener
	model  providers.Model
	rules  []compiler.RuleDef
	engine []engine.Option
}

// WithOpener replaces the camera source opener.
func WithOpener(o providers.Opener) Option {
	return func(opts *options) { opts.opener = o }
}

// WithModel replaces the detection model.
func WithModel(m providers.Model) Option {
	return func(opts *options) { opts.model = m }
}

// WithRules adds rule definitions; a rule named like a built-in replaces it.
func WithRules(defs []compiler.RuleDef) Option {
	return func(opts *options) { opts.rules = append(opts.rules, defs...) }
}

// WithEngineOptions passes extra options to the engine.
func WithEngineOptions(eo ...engine.Option) Option {
	return func(opts *options) { opts.engine = append(opts.engine, eo...) }
}

// New builds a System from cfg. The camera source is a directory of images
// when FramesDir is set, synthetic frames otherwise; the detection model is
// scripted from DetectionsFile when set and finds nothing otherwise.
func New(cfg config.Config, logger *slog.Logger, opts ...Option) (*System, error) {
	cfg.Normalize()
	if logger == nil {
		logger = slog.Default()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.opener == nil {
		o.opener = providers.SyntheticOpener
		if cfg.FramesDir != "" {
			o.opener = providers.DirOpener(cfg.FramesDir)
		}
	}
	if o.model == nil {
		if cfg.DetectionsFile != "" {
			m, err := providers.LoadScriptedModel(cfg.DetectionsFile)
			if err != nil {
				return nil, err
			}
			o.model = m
		} else {
			o.model = providers.NewScriptedModel()
		}
	}

	s := &System{cfg: cfg, logger: logger, Metrics: metrics.New()}

	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMaxSteps(cfg.MaxSteps),
		engine.WithObserver(s.Metrics),
	}
	if cfg.TraceDB != "" {
		st, err := store.Open(cfg.TraceDB)
		if err != nil {
			return nil, fmt.Errorf("open trace db: %w", err)
		}
		s.Store = st
		engineOpts = append(engineOpts, engine.WithRecorder(st))
	}
	s.Engine = engine.New(append(engineOpts, o.engine...)...)

	pl := providers.WithLogger(logger)
	s.Camera = providers.NewCamera(o.opener, pl)
	s.Detector = providers.NewDetector(o.model, pl)
	s.Associator = providers.NewAssociator(pl)
	s.Renderer = providers.NewRenderer(pl)
	s.Counter = providers.NewCounter()
	s.API = providers.NewAPI(pl)

	for _, p := range []concept.Provider{
		providers.NewTicker(),
		s.Camera,
		s.Detector,
		s.Associator,
		s.Renderer,
		s.Counter,
		s.API,
	} {
		if err := s.Engine.RegisterConcept(p); err != nil {
			s.Close()
			return nil, err
		}
	}

	if errs := compiler.Validate(o.rules, s.Specs()); len(errs) > 0 {
		s.Close()
		return nil, fmt.Errorf("invalid rules: %w", errors.Join(validationErrors(errs)...))
	}
	if err := syncs.Register(s.Engine, syncs.Options{Device: cfg.Device}, o.rules...); err != nil {
		s.Close()
		return nil, err
	}
	for _, w := range compiler.AnalyzeCycles(o.rules) {
		logger.Warn("rule cycle", "path", w.Path, "message", w.Message)
	}
	return s, nil
}

func validationErrors(errs []compiler.ValidationError) []error {
	out := make([]error, len(errs))
	for i, e := range errs {
		out[i] = e
	}
	return out
}

// Specs returns the specs of every registered provider.
func (s *System) Specs() []ir.ConceptSpec {
	registered := s.Engine.Providers()
	specs := make([]ir.ConceptSpec, 0, len(registered))
	for _, p := range registered {
		specs = append(specs, p.Spec())
	}
	return specs
}

// Handler builds the HTTP gateway for the system.
func (s *System) Handler() (http.Handler, error) {
	return gateway.New(gateway.Config{
		Engine:         s.Engine,
		API:            s.API,
		Metrics:        s.Metrics,
		MetricsHandler: s.Metrics.Handler(),
		Logger:         s.logger,
		ReplyTimeout:   s.cfg.ReplyTimeout,
		RateLimit:      s.cfg.RateLimit,
	})
}

// Serve runs the capture and detect cadences and the HTTP gateway until ctx
// ends or one of them fails.
func (s *System) Serve(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.serve(ctx, ln, handler)
}

func (s *System) serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	g, ctx := errgroup.WithContext(ctx)
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	g.Go(func() error {
		s.logger.Info("http listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return cadence.Loop{Key: KeyCapture, Period: s.cfg.CapturePeriod()}.Run(ctx, s.Engine, s.logger)
	})
	g.Go(func() error {
		return cadence.Loop{Key: KeyDetect, Period: s.cfg.DetectInterval}.Run(ctx, s.Engine, s.logger)
	})
	return g.Wait()
}

// Close releases the camera and the trace store.
func (s *System) Close() error {
	var errs []error
	if s.Camera != nil {
		errs = append(errs, s.Camera.Close())
	}
	if s.Store != nil {
		errs = append(errs, s.Store.Close())
	}
	return errors.Join(errs...)
}
