package shuttle

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shuttlegw/gateway/internal/metrics"
)

// Scheduler runs the N worker fibers of §4.4 that rotate over every
// configured shuttle, draining queued commands whenever a shuttle is
// FREE and its lock is free. Fast-path commands never touch this type —
// they dispatch straight from Dispatcher.Submit under the same lock.
type Scheduler struct {
	dispatcher   *Dispatcher
	handles      map[string]*Handle
	order        []string
	workers      int
	pollInterval time.Duration
	errorBackoff time.Duration
	logger       *slog.Logger
}

func NewScheduler(dispatcher *Dispatcher, handles map[string]*Handle, order []string, workers int, pollInterval time.Duration, logger *slog.Logger) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	return &Scheduler{
		dispatcher:   dispatcher,
		handles:      handles,
		order:        order,
		workers:      workers,
		pollInterval: pollInterval,
		errorBackoff: 5 * time.Second,
		logger:       logger,
	}
}

// Run spawns the configured worker count and blocks until ctx is
// cancelled or a worker returns a non-cancellation error.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.workers; i++ {
		workerID := i
		g.Go(func() error { return s.runWorker(ctx, workerID) })
	}
	return g.Wait()
}

func (s *Scheduler) runWorker(ctx context.Context, workerID int) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.rotation(ctx, workerID)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

// rotation walks every shuttle once, dispatching at most one queued
// command per shuttle, mirroring _command_processor_worker's loop body.
func (s *Scheduler) rotation(ctx context.Context, workerID int) {
	for _, id := range s.order {
		h := s.handles[id]

		if !h.mu.TryLock() {
			continue
		}

		if h.State.Status() != StatusFree {
			h.mu.Unlock()
			continue
		}

		item, found := h.queue.PopNonBlocking()
		if !found {
			h.mu.Unlock()
			continue
		}
		metrics.UpdateQueueSize(id, h.queue.Len())

		rec, exists := s.dispatcher.registry.Get(item.id)
		if !exists || rec.Status == RecordCancelled {
			h.mu.Unlock()
			continue
		}

		s.dispatcher.registry.MarkProcessing(item.id)
		start := time.Now()
		err := h.dispatch(ctx, item.cmd)
		h.mu.Unlock()
		metrics.ObserveCommandDuration(id, string(item.cmd.Type), time.Since(start).Seconds())

		if err != nil {
			if s.logger != nil {
				s.logger.Warn("command dispatch failed",
					slog.Int("worker", workerID),
					slog.String("shuttle_id", id),
					slog.String("command_id", item.id),
					slog.String("error", err.Error()))
			}
			s.dispatcher.registry.MarkFailed(item.id, err.Error())
			metrics.RecordCommand(id, string(item.cmd.Type), "failed")
			continue
		}
		s.dispatcher.registry.MarkCompleted(item.id)
		metrics.RecordCommand(id, string(item.cmd.Type), "completed")
	}
}
