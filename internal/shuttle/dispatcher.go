package shuttle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/shuttlegw/gateway/internal/metrics"
)

// ErrQueueFull is returned by Submit when a shuttle's queue is at
// capacity, per §5's backpressure contract.
var ErrQueueFull = errors.New("shuttle: command queue full")

// ErrUnknownShuttle is returned by Submit for a shuttle ID absent from
// configuration.
var ErrUnknownShuttle = errors.New("shuttle: unknown shuttle id")

// highPriorityTypes are the command types that, per find_free_shuttle,
// may be dispatched to any configured shuttle regardless of its current
// status (not to be confused with the scheduler's fast-path threshold,
// which is about queue bypass rather than shuttle selection).
var highPriorityTypes = map[CommandType]bool{
	Home:      true,
	StatusCmd: true,
	Mrcd:      true,
}

var submissionSeq uint64

func nextSeq() uint64 { return atomic.AddUint64(&submissionSeq, 1) }

// Dispatcher is the surface described in §4.5/§2: the WMS adapter calls
// Submit/Cancel/FindFreeShuttle, and the status API calls GetState/
// GetAllStates.
type Dispatcher struct {
	handles        map[string]*Handle
	orderedIDs     []string
	stockToShuttle map[string][]string
	registry       *CommandRegistry
}

func NewDispatcher(handles map[string]*Handle, stockToShuttle map[string][]string, registry *CommandRegistry) *Dispatcher {
	ids := make([]string, 0, len(handles))
	for id := range handles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return &Dispatcher{handles: handles, orderedIDs: ids, stockToShuttle: stockToShuttle, registry: registry}
}

func generateCommandID(cmd Command) string {
	return fmt.Sprintf("%s_%s_%d", cmd.ShuttleID, cmd.Type, time.Now().UnixMilli())
}

// Submit implements §4.4: HOME and priority<=4 commands fast-path
// straight through the per-shuttle lock; everything else is enqueued,
// failing immediately if the queue is full.
func (d *Dispatcher) Submit(ctx context.Context, cmd Command) (string, error) {
	h, ok := d.handles[cmd.ShuttleID]
	if !ok {
		return "", ErrUnknownShuttle
	}

	id := generateCommandID(cmd)
	rec := &Record{ID: id, Command: cmd, Status: RecordQueued, Timestamp: time.Now()}
	d.registry.Put(rec)

	if cmd.IsFastPath() {
		start := time.Now()
		h.mu.Lock()
		d.registry.MarkProcessing(id)
		err := h.dispatch(ctx, cmd)
		h.mu.Unlock()
		metrics.ObserveCommandDuration(cmd.ShuttleID, string(cmd.Type), time.Since(start).Seconds())
		if err != nil {
			d.registry.MarkFailed(id, err.Error())
			metrics.RecordCommand(cmd.ShuttleID, string(cmd.Type), "failed")
			return id, err
		}
		d.registry.MarkCompleted(id)
		metrics.RecordCommand(cmd.ShuttleID, string(cmd.Type), "completed")
		return id, nil
	}

	item := &queuedItem{priority: cmd.Priority, seq: nextSeq(), id: id, cmd: cmd}
	h.mu.Lock()
	pushed := h.queue.TryPush(item)
	queueLen := h.queue.Len()
	h.mu.Unlock()
	if !pushed {
		d.registry.MarkFailed(id, "Queue full")
		metrics.RecordCommand(cmd.ShuttleID, string(cmd.Type), "rejected")
		return id, ErrQueueFull
	}
	metrics.UpdateQueueSize(cmd.ShuttleID, queueLen)
	return id, nil
}

// Cancel implements §4.4's cancellation rule: only a still-queued command
// can be cancelled.
func (d *Dispatcher) Cancel(id string) bool {
	rec, ok := d.registry.Get(id)
	if !ok || rec.Status != RecordQueued {
		return false
	}
	h, ok := d.handles[rec.Command.ShuttleID]
	if !ok {
		return false
	}
	h.mu.Lock()
	removed := h.queue.RemoveID(id)
	h.mu.Unlock()
	if !removed {
		return false
	}
	d.registry.MarkCancelled(id)
	return true
}

// FindFreeShuttle implements §4.5's find_free_shuttle. The open question
// about a `ShuttleCommand.HOME` attribute reference in the original is
// resolved here the way §9(b) says it must be: "HOME" is the CommandType
// value, not a struct attribute lookup.
func (d *Dispatcher) FindFreeShuttle(stockName, cellID string, cmdType CommandType, externalID string) (string, bool) {
	if cmdType == Home && externalID != "" {
		for _, id := range d.orderedIDs {
			if d.handles[id].State.ExternalID() == externalID {
				return id, true
			}
		}
		return "", false
	}

	candidates := d.stockToShuttle[stockName]
	if highPriorityTypes[cmdType] {
		for _, id := range candidates {
			if _, ok := d.handles[id]; ok {
				return id, true
			}
		}
		return "", false
	}

	for _, id := range candidates {
		h, ok := d.handles[id]
		if !ok {
			continue
		}
		if h.State.Status() == StatusFree {
			return id, true
		}
	}
	return "", false
}

func (d *Dispatcher) GetState(shuttleID string) (Snapshot, bool) {
	h, ok := d.handles[shuttleID]
	if !ok {
		return Snapshot{}, false
	}
	return h.State.Snapshot(), true
}

func (d *Dispatcher) GetAllStates() map[string]Snapshot {
	out := make(map[string]Snapshot, len(d.handles))
	for id, h := range d.handles {
		out[id] = h.State.Snapshot()
	}
	return out
}

// ClearWMSContext drops a shuttle's carried external_id/document_type
// after the WMS poller has reported the command's terminal status back.
func (d *Dispatcher) ClearWMSContext(shuttleID string) {
	if h, ok := d.handles[shuttleID]; ok {
		h.State.ClearWMSContext()
	}
}

func (d *Dispatcher) DeadLetters() []*Record {
	return d.registry.DeadLetters()
}

func (d *Dispatcher) CommandRegistry() *CommandRegistry {
	return d.registry
}

// CommandRegistrySnapshot satisfies persistence.StateSource.
func (d *Dispatcher) CommandRegistrySnapshot() map[string]*Record {
	return d.registry.Snapshot()
}
