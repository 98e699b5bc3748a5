package shuttle

import (
	"log/slog"
	"time"

	"github.com/shuttlegw/gateway/internal/metrics"
)

// Engine is the per-shuttle state engine of §4.3. It owns a State record
// and a narrow "send a line back" callback supplied at registration time,
// rather than a reference to the Listener itself — breaking the cyclic
// reference the original's listener/client pair has (listener calls into
// the client's message handler; the client calls back into the listener
// to send the MRCD ack).
type Engine struct {
	State  *State
	logger *slog.Logger
	send   func(line string) error
}

func NewEngine(state *State, logger *slog.Logger) *Engine {
	return &Engine{State: state, logger: logger}
}

// SetSender installs the callback used to write the MRCD acknowledgement.
// It is safe to call repeatedly as the underlying connection changes
// (reconnects, inbound takeover) since HandleLine always uses whatever is
// currently installed.
func (e *Engine) SetSender(send func(line string) error) {
	e.send = send
}

// HandleLine is the Listener's per-connection handler: it applies §4.3's
// rule table to a single inbound line and, unless the line is the literal
// MRCD token, writes the MRCD acknowledgement back.
func (e *Engine) HandleLine(line string) {
	now := time.Now()
	e.State.touch(line, now)

	msg := ParseMessage(line)
	e.State.Apply(msg, func(field, raw string, err error) {
		if e.logger != nil {
			e.logger.Warn("malformed shuttle field, keeping prior value",
				slog.String("shuttle_id", e.State.ShuttleID),
				slog.String("field", field),
				slog.String("raw", raw),
				slog.String("error", err.Error()))
		}
	})

	metrics.UpdateShuttleStatus(e.State.ShuttleID, string(e.State.Status()))
	if battery := e.State.BatteryLevel(); battery != "" {
		metrics.UpdateShuttleBattery(e.State.ShuttleID, battery)
	}

	if msg.Kind == KindMrcd {
		return
	}
	if e.send == nil {
		return
	}
	if err := e.send("MRCD\n"); err != nil && e.logger != nil {
		e.logger.Warn("failed to send MRCD ack",
			slog.String("shuttle_id", e.State.ShuttleID),
			slog.String("error", err.Error()))
	}
}
