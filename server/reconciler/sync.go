package reconciler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/convsync/plugin/gateway"
)

// ErrStreamClosed is returned by Run when the backend closes the push stream.
var ErrStreamClosed = errors.New("push stream closed by backend")

// reloadQueueSize is the number of reload-triggering events Run buffers.
const reloadQueueSize = 16

// Run loads the store, then applies push events until ctx is done, Close is
// called or the stream ends.
//
// Events that need a reload are handled in arrival order on a worker
// goroutine, so newMessages for loaded conversations apply at once instead of
// waiting for the reload. A newMessages event for a conversation that is not
// loaded while a reload is pending is queued behind that reload, and later
// messages follow it while it waits. The polling
// backstop runs on its own goroutine.
func (r *Reconciler) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.cancelRun != nil {
		r.mu.Unlock()
		return errors.New("reconciler is already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancelRun = cancel
	r.mu.Unlock()

	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		r.mu.Lock()
		r.cancelRun = nil
		r.mu.Unlock()
	}()

	events, err := r.gw.Subscribe(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to subscribe to push events")
	}

	if err := r.Reload(ctx); err != nil {
		r.logger.Warn("initial reload failed", "error", err)
	}

	if r.syncInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.poll(ctx)
		}()
	}

	// pendingReloads and queuedMessages count events handed to the worker and
	// not yet handled.
	var pendingReloads, queuedMessages atomic.Int32
	deferred := make(chan gateway.Event, reloadQueueSize)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-deferred:
				_ = r.HandleEvent(ctx, ev)
				if triggersReload(ev) {
					pendingReloads.Add(-1)
				} else {
					queuedMessages.Add(-1)
				}
			}
		}
	}()

	r.logger.Info("reconciler started", "sync_interval", r.syncInterval)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Warn("push stream closed")
				return ErrStreamClosed
			}
			reload := triggersReload(ev)
			if !reload && queuedMessages.Load() == 0 && (pendingReloads.Load() == 0 || r.targetLoaded(ev)) {
				_ = r.HandleEvent(ctx, ev)
				continue
			}
			// Queued messages keep their order relative to later ones.
			if reload {
				pendingReloads.Add(1)
			} else {
				queuedMessages.Add(1)
			}
			select {
			case deferred <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// poll is the consistency backstop for missed push events.
func (r *Reconciler) poll(ctx context.Context) {
	ticker := time.NewTicker(r.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Reload(ctx); err != nil && !errors.Is(err, context.Canceled) && err != ErrClosed {
				r.logger.Warn("periodic reload failed", "error", err)
			}
		}
	}
}
