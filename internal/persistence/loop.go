package persistence

import (
	"context"
	"log/slog"
	"time"

	"github.com/shuttlegw/gateway/internal/shuttle"
)

// StateSource is the subset of *shuttle.Dispatcher persistence needs, kept
// as an interface so the loop can be tested without a real Dispatcher.
type StateSource interface {
	GetAllStates() map[string]shuttle.Snapshot
	CommandRegistrySnapshot() map[string]*shuttle.Record
}

// Restore loads every persisted shuttle snapshot and applies it to the
// matching live State, and returns the last persisted command registry so
// the caller can decide what (if anything) to do with stale in-flight
// records left over from a previous process.
func Restore(ctx context.Context, store *Store, states map[string]*shuttle.State, logger *slog.Logger) (map[string]*shuttle.Record, error) {
	snapshots, err := store.LoadAllShuttleStates(ctx)
	if err != nil {
		return nil, err
	}
	for id, snap := range snapshots {
		state, ok := states[id]
		if !ok {
			continue
		}
		state.Restore(snap)
		if logger != nil {
			logger.Info("restored persisted shuttle state", slog.String("shuttle_id", id), slog.String("status", string(snap.Status)))
		}
	}

	registry, err := store.LoadCommandRegistry(ctx)
	if err != nil {
		return nil, err
	}
	return registry, nil
}

// RunSnapshotLoop periodically persists every shuttle's state and the
// command registry until ctx is cancelled, the supplemented analogue of the
// original's synchronous save_shuttle_state call after every dispatch —
// batched on a timer instead so Redis load doesn't scale with command rate.
func RunSnapshotLoop(ctx context.Context, store *Store, source StateSource, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			store.SaveAllShuttleStates(ctx, source.GetAllStates())
			if err := store.SaveCommandRegistry(ctx, source.CommandRegistrySnapshot()); err != nil && logger != nil {
				logger.Error("failed to persist command registry", slog.Any("error", err))
			}
		}
	}
}
