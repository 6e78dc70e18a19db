package engine

import (
	"context"

	"github.com/roach88/classwatch/internal/ir"
)

// evaluate runs the flow to its fixpoint.
//
// Each pass builds frames over one snapshot of the flow log and tries every
// rule in registration order. Effects whose canonical key is new to the flow
// are queued and drained before the next rule runs, so later guards see the
// provider state those effects produced. The records they append become
// visible to matching in the next pass. The loop ends after the first pass
// that queues nothing, or when the step quota stops the flow.
func (e *Engine) evaluate(ctx context.Context, flow string) CascadeStats {
	var stats CascadeStats
	queue := newWorkQueue()

	for {
		snapshot, ok := e.snapshot(flow)
		if !ok {
			break
		}
		stats.Passes++

		queued := 0
		for _, rule := range e.rules {
			frame := newFrame(flow, snapshot)
			if !frame.match(rule.When) {
				continue
			}
			if rule.Guard != nil && !rule.Guard(ctx, e, frame) {
				continue
			}

			for _, eff := range rule.Effect(frame) {
				if e.enqueue(flow, rule.Name, eff, queue, &stats) {
					queued++
				}
			}

			if err := e.drain(ctx, flow, queue, &stats); err != nil {
				stats.Err = err
				e.finish(flow, stats)
				return stats
			}
		}

		if queued == 0 {
			break
		}
		stats.Productive++
	}

	e.finish(flow, stats)
	return stats
}

// enqueue keys an effect and queues it if the key is new to the flow.
func (e *Engine) enqueue(flow, rule string, eff Effect, queue *workQueue, stats *CascadeStats) bool {
	eff.Provider = ir.NormalizeName(eff.Provider)
	eff.Operation = ir.NormalizeName(eff.Operation)

	key, err := ir.EffectKey(eff.Provider, eff.Operation, eff.Input)
	if err != nil {
		stats.Failed++
		rerr := newEffectError(ErrCodeInvalidEffect, flow, rule, "effect input has no canonical form", err)
		e.observer.EffectFailed(rule, rerr)
		e.logger.Warn("effect rejected",
			"flow", flow,
			"rule", rule,
			"provider", eff.Provider,
			"operation", eff.Operation,
			"error", err,
		)
		return false
	}

	e.mu.Lock()
	st, ok := e.flows[flow]
	fresh := ok && st.emitted.mark(key)
	e.mu.Unlock()

	if !ok {
		return false
	}
	if !fresh {
		stats.Deduplicated++
		e.observer.RuleDeduplicated(rule)
		e.logger.Debug("effect already emitted",
			"flow", flow,
			"rule", rule,
			"effect_key", ir.EffectHash(key),
		)
		return false
	}

	e.observer.RuleFired(rule)
	queue.push(pendingEffect{rule: rule, effect: eff, key: key})
	return true
}

// drain dispatches every queued effect in FIFO order. Dispatch failures are
// logged and counted; only an exceeded quota stops the cascade.
func (e *Engine) drain(ctx context.Context, flow string, queue *workQueue, stats *CascadeStats) error {
	for {
		p, ok := queue.pop()
		if !ok {
			return nil
		}

		rec, err := e.dispatch(ctx, p.effect.Provider, p.effect.Operation, p.effect.Input, flow, false)
		firing := ir.Firing{
			Rule:      p.rule,
			Flow:      flow,
			EffectKey: ir.EffectHash(p.key),
			RecordID:  rec.ID,
			Seq:       rec.Seq,
		}

		if err != nil {
			stats.Failed++
			firing.Error = err.Error()
			e.recordFiring(ctx, firing)

			if IsStepsExceededError(err) {
				e.observer.EffectFailed(p.rule, err)
				e.logger.Error("max steps quota exceeded",
					"flow", flow,
					"rule", p.rule,
					"limit", e.maxSteps,
					"dropped", queue.len(),
					"error", err,
				)
				return err
			}

			rerr := newEffectError(ErrCodeEffectFailed, flow, p.rule, "effect dispatch failed", err)
			e.observer.EffectFailed(p.rule, rerr)
			e.logger.Warn("effect failed",
				"flow", flow,
				"rule", p.rule,
				"provider", p.effect.Provider,
				"operation", p.effect.Operation,
				"effect_key", firing.EffectKey,
				"error", err,
			)
			continue
		}

		stats.Fired++
		e.recordFiring(ctx, firing)
		e.logger.Debug("rule fired",
			"flow", flow,
			"rule", p.rule,
			"provider", rec.Provider,
			"operation", rec.Operation,
			"record_id", rec.ID,
			"effect_key", firing.EffectKey,
		)
	}
}

func (e *Engine) recordFiring(ctx context.Context, f ir.Firing) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.RecordFiring(context.WithoutCancel(ctx), f); err != nil {
		e.logger.Warn("firing export failed", "flow", f.Flow, "rule", f.Rule, "error", err)
	}
}

func (e *Engine) finish(flow string, stats CascadeStats) {
	e.observer.CascadeFinished(flow, stats)
	e.logger.Debug("cascade finished",
		"flow", flow,
		"passes", stats.Passes,
		"fired", stats.Fired,
		"deduplicated", stats.Deduplicated,
		"failed", stats.Failed,
	)
}
