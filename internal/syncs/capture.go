package syncs

import (
	"context"

	"github.com/roach88/classwatch/internal/engine"
	"github.com/roach88/classwatch/internal/ir"
)

// TickToCapture captures a frame on every "capture" tick. It fires only
// while the flow holds no capture newer than the tick.
func TickToCapture(device string) engine.Rule {
	return engine.Rule{
		Name: "TickToCapture",
		When: []engine.WhenPattern{{
			Provider:  "Ticker",
			Operation: "tick",
			Input:     map[string]engine.Term{"key": engine.Lit(ir.IRString("capture"))},
		}},
		Guard: func(_ context.Context, _ engine.Querier, f *engine.Frame) bool {
			tick, ok := f.Last("Ticker", "tick")
			if !ok {
				return false
			}
			capture, ok := f.Last("Camera", "capture")
			return !ok || capture.Seq < tick.Seq
		},
		Effect: func(*engine.Frame) []engine.Effect {
			return []engine.Effect{{
				Provider:  "Camera",
				Operation: "capture",
				Input:     ir.IRObject{"device": ir.IRString(device)},
			}}
		},
	}
}
