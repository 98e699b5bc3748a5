package shuttle

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/shuttlegw/gateway/internal/config"
)

// Handle is the per-shuttle aggregate: its configuration, its State
// Engine, its command queue, and the serialization lock that §4.4 says
// guards both the queue and any direct outbound write on the link.
type Handle struct {
	ID     string
	Cfg    config.ShuttleConfig
	State  *State
	Engine *Engine

	mu    sync.Mutex
	queue *commandQueue

	registry *Registry
	breaker  *CircuitBreaker
	logger   *slog.Logger

	connectTimeout time.Duration
	writeTimeout   time.Duration
}

func NewHandle(id string, cfg config.ShuttleConfig, registry *Registry, gwCfg config.GatewayConfig, logger *slog.Logger) *Handle {
	state := NewState(id)
	h := &Handle{
		ID:             id,
		Cfg:            cfg,
		State:          state,
		Engine:         NewEngine(state, logger),
		queue:          newCommandQueue(gwCfg.CommandQueueMaxSize),
		registry:       registry,
		breaker:        NewCircuitBreaker(id, 3, 60*time.Second, logger),
		logger:         logger,
		connectTimeout: gwCfg.TCPConnectTimeout,
		writeTimeout:   gwCfg.TCPWriteTimeout,
	}
	h.Engine.SetSender(h.sendLine)
	return h
}

// sendLine writes a line to whatever connection is currently registered
// for this shuttle. It is called by the Engine from the reader fiber and
// deliberately does NOT take h.mu: §5 says the MRCD ack may interleave
// arbitrarily with scheduler writes, since MRCD is self-contained and
// both sides tolerate repeats.
func (h *Handle) sendLine(line string) error {
	conn, ok := h.registry.Get(h.ID)
	if !ok {
		return net.ErrClosed
	}
	return writeLine(conn.Conn, line, h.writeTimeout)
}

func writeLine(conn net.Conn, line string, timeout time.Duration) error {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	_, err := conn.Write([]byte(line))
	return err
}

// ensureConn implements §4.5's "ensure a connection via the Registry"
// step, dialling through the circuit breaker when no link is registered
// yet (including one the Listener already accepted inbound).
func (h *Handle) ensureConn(ctx context.Context) (*Conn, error) {
	if conn, ok := h.registry.Get(h.ID); ok {
		return conn, nil
	}
	if !h.breaker.Allow() {
		return nil, ErrCircuitOpen
	}
	ctx, cancel := context.WithTimeout(ctx, h.connectTimeout)
	defer cancel()
	conn, err := h.registry.Acquire(ctx, h.ID, h.Cfg.Host, h.Cfg.Port, h.connectTimeout)
	if err != nil {
		h.breaker.RecordFailure()
		h.State.SetError(classifyDialErr(err))
		return nil, err
	}
	h.breaker.RecordSuccess()
	return conn, nil
}

// dispatch implements §4.5's outbound write. Callers must hold h.mu.
func (h *Handle) dispatch(ctx context.Context, cmd Command) error {
	conn, err := h.ensureConn(ctx)
	if err != nil {
		return err
	}

	if err := writeLine(conn.Conn, cmd.ToWire(), h.writeTimeout); err != nil {
		h.State.SetError("SEND_ERROR: " + err.Error())
		h.registry.Close(h.ID)
		return err
	}

	h.State.MarkDispatched(cmd, time.Now())
	return nil
}
