package lane

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"nostr-lanes/internal/types"
)

// Hub fans pipeline records out to every view.
type Hub struct {
	mu     sync.RWMutex
	views  map[string]*View
	logger *slog.Logger
}

// NewHub creates a hub over views.
func NewHub(logger *slog.Logger, views ...*View) *Hub {
	h := &Hub{views: make(map[string]*View), logger: logger}
	for _, v := range views {
		h.views[v.Name()] = v
	}
	return h
}

// View returns the view called name.
func (h *Hub) View(name string) (*View, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.views[name]
	return v, ok
}

// Names lists the views, sorted.
func (h *Hub) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.views))
	for name := range h.views {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run starts every view and feeds records to them until records is closed
// or ctx is done. Views stop when Run returns.
func (h *Hub) Run(ctx context.Context, records <-chan types.Record) error {
	viewCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	h.mu.RLock()
	views := make([]*View, 0, len(h.views))
	for _, v := range h.views {
		views = append(views, v)
	}
	h.mu.RUnlock()

	for _, v := range views {
		wg.Add(1)
		go func(v *View) {
			defer wg.Done()
			v.Run(viewCtx)
		}(v)
	}
	defer func() {
		cancel()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-records:
			if !ok {
				h.drain(views)
				return nil
			}
			for _, v := range views {
				if err := v.Apply(ctx, rec); err != nil {
					return err
				}
			}
		}
	}
}

// drain waits until every view has handled what was queued.
func (h *Hub) drain(views []*View) {
	for _, v := range views {
		if _, err := v.Snapshot(context.Background()); err != nil {
			h.logger.Debug("lane: drain failed", "view", v.Name(), "error", err)
		}
	}
}
