package shuttle

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// RecordStatus is a command-registry record's lifecycle state.
type RecordStatus string

const (
	RecordQueued     RecordStatus = "queued"
	RecordProcessing RecordStatus = "processing"
	RecordCompleted  RecordStatus = "completed"
	RecordFailed     RecordStatus = "failed"
	RecordCancelled  RecordStatus = "cancelled"
)

// Record is the command-registry entry of §3, one per submitted command.
type Record struct {
	ID          string       `json:"id"`
	Command     Command      `json:"command"`
	Status      RecordStatus `json:"status"`
	Timestamp   time.Time    `json:"timestamp"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	CancelledAt *time.Time   `json:"cancelled_at,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// terminalHistorySize bounds how many completed/failed/cancelled records
// are retained for observability; the original's Python dict grows
// without bound for the life of the process.
const terminalHistorySize = 4096

// CommandRegistry tracks every submitted command's lifecycle. Active
// (queued/processing) records are kept precisely since the scheduler
// needs to consult them; terminal records move into a bounded LRU so
// memory doesn't grow forever, while still answering recent Get/Cancel
// queries and feeding the dead-letter view.
type CommandRegistry struct {
	mu         sync.Mutex
	active     map[string]*Record
	terminal   *lru.Cache[string, *Record]
	deadLetter []*Record
	maxRetries int
}

func NewCommandRegistry(maxRetries int) *CommandRegistry {
	cache, _ := lru.New[string, *Record](terminalHistorySize)
	return &CommandRegistry{active: make(map[string]*Record), terminal: cache, maxRetries: maxRetries}
}

func (r *CommandRegistry) Put(rec *Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[rec.ID] = rec
}

func (r *CommandRegistry) Get(id string) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.active[id]; ok {
		return rec, true
	}
	return r.terminal.Get(id)
}

func (r *CommandRegistry) MarkQueued(id string) { r.setStatus(id, RecordQueued) }

func (r *CommandRegistry) MarkProcessing(id string) { r.setStatus(id, RecordProcessing) }

func (r *CommandRegistry) setStatus(id string, status RecordStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.active[id]; ok {
		rec.Status = status
	}
}

func (r *CommandRegistry) MarkCompleted(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.active[id]
	if !ok {
		return
	}
	now := time.Now()
	rec.Status = RecordCompleted
	rec.CompletedAt = &now
	delete(r.active, id)
	r.terminal.Add(id, rec)
}

func (r *CommandRegistry) MarkFailed(id, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.active[id]
	if !ok {
		return
	}
	now := time.Now()
	rec.Status = RecordFailed
	rec.Error = errMsg
	rec.CompletedAt = &now
	delete(r.active, id)
	r.terminal.Add(id, rec)
	r.deadLetter = append(r.deadLetter, rec)
	if len(r.deadLetter) > terminalHistorySize {
		r.deadLetter = r.deadLetter[len(r.deadLetter)-terminalHistorySize:]
	}
}

func (r *CommandRegistry) MarkCancelled(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.active[id]
	if !ok {
		return
	}
	now := time.Now()
	rec.Status = RecordCancelled
	rec.CancelledAt = &now
	delete(r.active, id)
	r.terminal.Add(id, rec)
}

// DeadLetters returns the failed commands recorded so far, newest last,
// supplementing §4.4 with the original's dead_letter_queue.py concept:
// failures are observable instead of silently vanishing from the active
// registry.
func (r *CommandRegistry) DeadLetters() []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Record, len(r.deadLetter))
	copy(out, r.deadLetter)
	return out
}

// Snapshot returns every record — active and recently terminal — keyed by
// ID, for the persistence layer's periodic registry snapshot.
func (r *CommandRegistry) Snapshot() map[string]*Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*Record, len(r.active)+r.terminal.Len())
	for id, rec := range r.active {
		out[id] = rec
	}
	for _, id := range r.terminal.Keys() {
		if rec, ok := r.terminal.Peek(id); ok {
			out[id] = rec
		}
	}
	return out
}
