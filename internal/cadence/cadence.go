// Package cadence drives the Ticker provider on fixed periods.
package cadence

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/classwatch/internal/engine"
	"github.com/roach88/classwatch/internal/ir"
)

// Runner is the part of the engine a loop drives.
type Runner interface {
	Run(ctx context.Context, provider, operation string, input ir.IRObject, flow string) (engine.Result, error)
	Forget(flow string)
}

// Loop invokes Ticker.tick(Key) every Period, each tick in a new flow.
type Loop struct {
	Key    string
	Period time.Duration
	// Keep retains tick flows in the engine instead of forgetting them
	// once their cascade settles.
	Keep bool
}

// Run ticks until ctx ends. The first tick fires immediately. A failed tick
// is logged and the loop continues.
func (l Loop) Run(ctx context.Context, eng Runner, logger *slog.Logger) error {
	if l.Key == "" {
		return errors.New("cadence: loop key is required")
	}
	if l.Period <= 0 {
		return errors.New("cadence: loop period must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("key", l.Key)
	logger.Info("cadence started", "period", l.Period)

	ticker := time.NewTicker(l.Period)
	defer ticker.Stop()

	for {
		l.tick(ctx, eng, logger)
		select {
		case <-ctx.Done():
			logger.Info("cadence stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (l Loop) tick(ctx context.Context, eng Runner, logger *slog.Logger) {
	start := time.Now()
	res, err := eng.Run(ctx, "Ticker", "tick", ir.IRObject{"key": ir.IRString(l.Key)}, "")
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("tick failed", "err", err)
		}
		return
	}
	if !l.Keep {
		defer eng.Forget(res.Record.Flow)
	}

	stats := res.Cascade
	if stats.Err != nil {
		logger.Warn("tick cascade stopped", "flow", res.Record.Flow, "err", stats.Err)
	}
	logger.Debug("tick settled",
		"flow", res.Record.Flow,
		"passes", stats.Passes,
		"fired", stats.Fired,
		"failed", stats.Failed,
		"elapsed", time.Since(start))
}

// Every returns the period of n ticks per second.
func Every(perSecond float64) time.Duration {
	if perSecond <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / perSecond)
}
