package engine

// pendingEffect is a fired, not yet dispatched effect.
type pendingEffect struct {
	rule   string
	effect Effect
	key    string
}

// workQueue is the per-flow FIFO of fired effects.
//
// Effects are queued by the evaluator and drained by the same goroutine,
// so cascades never recurse through Invoke and stack depth stays flat no
// matter how long the cascade runs.
type workQueue struct {
	items []pendingEffect
}

func newWorkQueue() *workQueue {
	return &workQueue{items: make([]pendingEffect, 0, 8)}
}

// push adds an effect to the back of the queue.
func (q *workQueue) push(p pendingEffect) {
	q.items = append(q.items, p)
}

// pop removes and returns the front effect.
func (q *workQueue) pop() (pendingEffect, bool) {
	if len(q.items) == 0 {
		return pendingEffect{}, false
	}

	p := q.items[0]

	// Zero the slot so the backing array does not retain effect inputs.
	q.items[0] = pendingEffect{}

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return p, true
}

// len returns the number of queued effects.
func (q *workQueue) len() int {
	return len(q.items)
}
