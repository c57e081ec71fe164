package relay

import (
	"sync"

	"nostr-lanes/internal/metrics"
)

// broadcaster fans notifications out to every subscriber. A subscriber that
// falls behind loses notifications instead of stalling the relays.
type broadcaster struct {
	mu      sync.RWMutex
	clients map[chan Notification]*clientInfo
	buffer  int
	closed  bool
	metrics *metrics.Metrics
}

type clientInfo struct {
	closeOnce sync.Once
}

func newBroadcaster(buffer int, m *metrics.Metrics) *broadcaster {
	return &broadcaster{
		clients: make(map[chan Notification]*clientInfo),
		buffer:  buffer,
		metrics: m,
	}
}

// subscribe adds a client channel. The returned func removes and closes it.
func (b *broadcaster) subscribe() (<-chan Notification, func()) {
	ch := make(chan Notification, b.buffer)
	info := &clientInfo{}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.clients[ch] = info
	b.mu.Unlock()

	return ch, func() { b.unsubscribe(ch) }
}

func (b *broadcaster) unsubscribe(ch chan Notification) {
	b.mu.Lock()
	info, exists := b.clients[ch]
	delete(b.clients, ch)
	b.mu.Unlock()

	if exists {
		info.closeOnce.Do(func() { close(ch) })
	}
}

// publish delivers n to all clients without blocking.
func (b *broadcaster) publish(n Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.clients {
		select {
		case ch <- n:
		default:
			b.metrics.IncNotificationDropped()
		}
	}
}

// closeAll closes every client channel; later subscribers get a closed channel.
func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for ch, info := range b.clients {
		delete(b.clients, ch)
		info.closeOnce.Do(func() { close(ch) })
	}
}
