package engine

// emittedSet records the canonical keys of effects already fired in one flow.
//
// An effect fires at most once per key per flow. This is what ends mutually
// triggering rules: once every key a rule set can produce has fired, a pass
// queues nothing and the flow is at its fixpoint.
//
// Example cycle:
//
//	Ticker.tick completes -> TickToCapture fires Camera.capture{device:"0"}
//	-> a rule reacting to capture fires Ticker.tick{key:"capture"} again
//	-> TickToCapture matches again, but Camera.capture{device:"0"} is
//	   already emitted: skipped, no new record, fixpoint reached
//
// The set is not synchronized; the engine guards it with its mutex.
type emittedSet map[string]struct{}

// mark adds key and reports whether it was new.
func (s emittedSet) mark(key string) bool {
	if _, seen := s[key]; seen {
		return false
	}
	s[key] = struct{}{}
	return true
}

