package providers

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DefaultRetention is how many frames, detections, associations and renders
// a provider keeps before evicting the oldest.
const DefaultRetention = 64

// Option configures a provider.
type Option func(*base)

// base is the configuration shared by the stateful providers.
type base struct {
	newID  func() string
	now    func() time.Time
	logger *slog.Logger
	retain int
}

func newBase(opts []Option) base {
	b := base{
		newID:  newUUIDv7,
		now:    time.Now,
		logger: slog.Default(),
		retain: DefaultRetention,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// WithIDs sets the handle generator. Default: UUIDv7 strings.
func WithIDs(gen func() string) Option {
	return func(b *base) {
		if gen != nil {
			b.newID = gen
		}
	}
}

// WithNow sets the wall clock.
func WithNow(now func() time.Time) Option {
	return func(b *base) {
		if now != nil {
			b.now = now
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *base) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithRetention bounds how many entries a provider keeps (0 keeps all).
func WithRetention(n int) Option {
	return func(b *base) {
		if n >= 0 {
			b.retain = n
		}
	}
}

func newUUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// fifoMap keeps entries in insertion order and evicts the oldest past limit.
// Not synchronized.
type fifoMap[V any] struct {
	limit int
	order []string
	items map[string]V
}

func newFIFOMap[V any](limit int) *fifoMap[V] {
	return &fifoMap[V]{limit: limit, items: make(map[string]V)}
}

func (l *fifoMap[V]) put(key string, v V) {
	if _, ok := l.items[key]; !ok {
		l.order = append(l.order, key)
	}
	l.items[key] = v
	for l.limit > 0 && len(l.order) > l.limit {
		delete(l.items, l.order[0])
		l.order = l.order[1:]
	}
}

func (l *fifoMap[V]) get(key string) (V, bool) {
	v, ok := l.items[key]
	return v, ok
}

func (l *fifoMap[V]) len() int {
	return len(l.items)
}
