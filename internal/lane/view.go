package lane

import (
	"context"
	"errors"
	"log/slog"

	"nostr-lanes/internal/types"
)

// ErrViewStopped is returned by View calls after its loop has exited.
var ErrViewStopped = errors.New("lane: view stopped")

// ChangeFunc observes the operations each record caused.
type ChangeFunc func(view string, ops []Op)

// View owns a Lane and applies everything to it from a single goroutine.
type View struct {
	lane     *Lane
	inbox    chan func(*Lane)
	done     chan struct{}
	onChange ChangeFunc
	logger   *slog.Logger
}

// NewView creates a view. Run must be called for it to make progress.
func NewView(name, central string, buffer int, onChange ChangeFunc, logger *slog.Logger) *View {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &View{
		lane:     New(name, central),
		inbox:    make(chan func(*Lane), buffer),
		done:     make(chan struct{}),
		onChange: onChange,
		logger:   logger,
	}
}

// Name returns the lane name.
func (v *View) Name() string {
	return v.lane.Name()
}

// Run processes the inbox until ctx is done.
func (v *View) Run(ctx context.Context) {
	defer close(v.done)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-v.inbox:
			fn(v.lane)
		}
	}
}

func (v *View) send(ctx context.Context, fn func(*Lane)) error {
	select {
	case <-v.done:
		return ErrViewStopped
	default:
	}

	select {
	case v.inbox <- fn:
		return nil
	case <-v.done:
		return ErrViewStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply queues rec for the lane.
func (v *View) Apply(ctx context.Context, rec types.Record) error {
	return v.send(ctx, func(l *Lane) {
		ops := l.Apply(rec)
		if len(ops) > 0 && v.onChange != nil {
			v.onChange(l.Name(), ops)
		}
	})
}

// Snapshot is a consistent copy of a lane.
type Snapshot struct {
	Name    string
	Central string
	Notes   []Note
}

// Snapshot returns the lane as of now, after everything queued before it.
func (v *View) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	err := v.send(ctx, func(l *Lane) {
		reply <- Snapshot{Name: l.Name(), Central: l.Central(), Notes: l.Notes()}
	})
	if err != nil {
		return Snapshot{}, err
	}

	select {
	case s := <-reply:
		return s, nil
	case <-v.done:
		// the query may still have run right before the loop exited
		select {
		case s := <-reply:
			return s, nil
		default:
			return Snapshot{}, ErrViewStopped
		}
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}
