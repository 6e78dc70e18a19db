// Package engine implements the classwatch reactive rule engine.
//
// The engine owns a registry of providers, an ordered list of rules, and a
// per-flow append-only log of action records. Every append is followed by a
// fixpoint evaluation of the rules against the flow's log.
//
// ARCHITECTURE:
//
// Invocation:
// 1. Invoke dispatches the operation to its provider under the engine mutex
// 2. The resulting record is appended to the flow log (still under the mutex)
// 3. The mutex is released and the flow is evaluated to a fixpoint
//
// Fixpoint evaluation:
// Each pass snapshots the flow log. Rules are tried in registration order;
// a rule matches when every when-pattern matches the most recent record for
// its provider+operation and the optional guard agrees. Each effect the rule
// produces is keyed canonically (ir.EffectKey) and queued at most once per
// flow; the queue is drained after every rule. Passes repeat until one pass
// queues nothing.
//
// Termination:
// An effect key fires at most once per flow, so any rule set whose effects
// come from a finite set of keys reaches a fixpoint. The per-flow step quota
// bounds the rest.
//
// The evaluator never holds the mutex while matching, running guards or
// producing effects; only dispatch+append and emitted-set updates contend.
package engine
