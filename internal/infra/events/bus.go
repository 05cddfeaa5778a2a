// Package events is an in-process observer bus for local cache changes.
// Publishers do not know their subscribers; delivery is synchronous in the
// publisher's goroutine, in subscription order.
package events

import (
	"sort"
	"sync"

	"github.com/boddenberg/ledger-sync/internal/domain"

	"go.uber.org/zap"
)

// Bus fans a StateChange out to every subscriber.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]func(domain.StateChange)
	nextID int
	logger *zap.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		subs:   make(map[int]func(domain.StateChange)),
		logger: logger,
	}
}

// Subscribe registers fn and returns a func that removes it.
func (b *Bus) Subscribe(fn func(domain.StateChange)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers change to all current subscribers. A panicking subscriber
// is logged and does not stop delivery to the others.
func (b *Bus) Publish(change domain.StateChange) {
	b.mu.RLock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(domain.StateChange), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.subs[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		b.deliver(fn, change)
	}
}

func (b *Bus) deliver(fn func(domain.StateChange), change domain.StateChange) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("events: subscriber panicked",
				zap.String("key", change.Key),
				zap.String("op", string(change.Op)),
				zap.Any("panic", r),
			)
		}
	}()
	fn(change)
}
