package shuttle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/shuttlegw/gateway/internal/metrics"
)

// Conn is a registered logical duplex link for one shuttle.
type Conn struct {
	ShuttleID     string
	Conn          net.Conn
	EstablishedAt time.Time
}

// dialWaiter is the in-flight marker used to deduplicate concurrent
// Acquire calls for the same shuttle ID, grounded on the session store's
// sync.Map.LoadOrStore rendezvous pattern (GetOrCreateSession in
// service/router_go/server/session_store.go) rather than the original's
// asyncio.Lock plus a polling "connecting" set.
type dialWaiter struct {
	done chan struct{}
	conn *Conn
	err  error
}

// Registry is the Connection Registry of §4.1: one logical link per
// shuttle, with at most one dial in flight per ID at any time.
type Registry struct {
	mu        sync.Mutex
	conns     map[string]*Conn
	inflight  sync.Map // shuttleID -> *dialWaiter
	logger    *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{conns: make(map[string]*Conn), logger: logger}
}

// Get returns the currently registered link for a shuttle, if any,
// without dialling.
func (r *Registry) Get(shuttleID string) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[shuttleID]
	return c, ok
}

func (r *Registry) IsConnected(shuttleID string) bool {
	_, ok := r.Get(shuttleID)
	return ok
}

// Register installs an already-established connection (the Listener's
// inbound-accept path), replacing and closing any prior link for the ID.
func (r *Registry) Register(shuttleID string, conn net.Conn) *Conn {
	c := &Conn{ShuttleID: shuttleID, Conn: conn, EstablishedAt: time.Now()}
	r.mu.Lock()
	old, hadOld := r.conns[shuttleID]
	r.conns[shuttleID] = c
	r.mu.Unlock()
	if hadOld && old.Conn != conn {
		old.Conn.Close()
	}
	metrics.UpdateShuttleConnection(shuttleID, true)
	return c
}

// Acquire returns the registered link for shuttleID, dialling it if
// absent. Concurrent callers for the same ID observe the single winner's
// result rather than each dialling independently (testable property #6).
func (r *Registry) Acquire(ctx context.Context, shuttleID, host string, port int, timeout time.Duration) (*Conn, error) {
	if c, ok := r.Get(shuttleID); ok {
		return c, nil
	}

	w := &dialWaiter{done: make(chan struct{})}
	actual, loaded := r.inflight.LoadOrStore(shuttleID, w)
	winner := actual.(*dialWaiter)
	if loaded {
		select {
		case <-winner.done:
			return winner.conn, winner.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	conn, err := r.dial(ctx, shuttleID, host, port, timeout)
	winner.conn, winner.err = conn, err
	if err == nil {
		r.mu.Lock()
		r.conns[shuttleID] = conn
		r.mu.Unlock()
		metrics.UpdateShuttleConnection(shuttleID, true)
	}
	r.inflight.Delete(shuttleID)
	close(winner.done)
	return conn, err
}

func (r *Registry) dial(ctx context.Context, shuttleID, host string, port int, timeout time.Duration) (*Conn, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	d := net.Dialer{Timeout: timeout}
	netConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("dial failed", slog.String("shuttle_id", shuttleID), slog.String("addr", addr), slog.String("error", err.Error()))
		}
		return nil, fmt.Errorf("%s: %w", classifyDialErr(err), err)
	}
	return &Conn{ShuttleID: shuttleID, Conn: netConn, EstablishedAt: time.Now()}, nil
}

// Close tears down and removes the link for shuttleID; a subsequent
// Acquire will redial.
func (r *Registry) Close(shuttleID string) error {
	r.mu.Lock()
	c, ok := r.conns[shuttleID]
	if ok {
		delete(r.conns, shuttleID)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	metrics.UpdateShuttleConnection(shuttleID, false)
	return c.Conn.Close()
}

// classifyDialErr maps a dial failure onto the transport error taxonomy
// of §7 (CONNECTION_TIMEOUT / CONNECTION_REFUSED / CONNECTION_ERROR).
func classifyDialErr(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "CONNECTION_TIMEOUT"
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return "CONNECTION_REFUSED"
	}
	return "CONNECTION_ERROR"
}
