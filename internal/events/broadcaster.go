package events

import (
	"context"
	"sync"
)

// Broadcaster carries serialized events between execution contexts that
// share no memory. Delivery is fire-and-forget.
type Broadcaster interface {
	Broadcast(ctx context.Context, payload []byte) error
	// Subscribe starts receiving payloads. The returned cancel func stops
	// the subscription; the channel may or may not be closed afterwards.
	Subscribe(ctx context.Context) (<-chan []byte, func(), error)
}

// Resubscriber is implemented by broadcasters whose transport can drop a
// subscription and restore it later. A receive on Resubscribed means
// payloads published in between may have been lost.
type Resubscriber interface {
	Resubscribed() <-chan struct{}
}

// resubscribeSignal coalesces reconnect notifications into one pending
// value so a busy reader never blocks the transport.
type resubscribeSignal struct {
	once sync.Once
	ch   chan struct{}
}

func (s *resubscribeSignal) channel() chan struct{} {
	s.once.Do(func() { s.ch = make(chan struct{}, 1) })
	return s.ch
}

func (s *resubscribeSignal) notify() {
	select {
	case s.channel() <- struct{}{}:
	default:
	}
}

const memoryBusBuffer = 1024

// MemoryBus is an in-process Broadcaster. Every subscriber stands in for a
// separate execution context; slow subscribers drop payloads once their
// buffer is full.
type MemoryBus struct {
	mu          sync.RWMutex
	nextID      int
	subscribers map[int]chan []byte
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subscribers: make(map[int]chan []byte)}
}

func (b *MemoryBus) Broadcast(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- append([]byte(nil), payload...):
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan []byte, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	ch := make(chan []byte, memoryBusBuffer)
	b.subscribers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
		})
	}
	return ch, cancel, nil
}
