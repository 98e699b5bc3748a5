package shuttle

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuttlegw/gateway/internal/config"
)

// testRig wires one Handle to a net.Pipe so outbound writes are
// observable without a real TCP listener, and wraps it with a Dispatcher.
type testRig struct {
	handle     *Handle
	registry   *CommandRegistry
	dispatcher *Dispatcher
	lines      chan string
	client     net.Conn
}

func newTestRig(t *testing.T, id string, maxQueue int) *testRig {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	connRegistry := NewRegistry(nil)
	connRegistry.Register(id, server)

	cfg := config.GatewayConfig{
		CommandQueueMaxSize: maxQueue,
		TCPConnectTimeout:   time.Second,
		TCPWriteTimeout:     time.Second,
	}
	h := NewHandle(id, config.ShuttleConfig{Host: "unused", Port: 1}, connRegistry, cfg, nil)
	handles := map[string]*Handle{id: h}
	cmdRegistry := NewCommandRegistry(3)
	d := NewDispatcher(handles, map[string][]string{"STOCK": {id}}, cmdRegistry)

	lines := make(chan string, 32)
	go func() {
		reader := bufio.NewReader(client)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- strings.TrimRight(line, "\n")
		}
	}()

	return &testRig{handle: h, registry: cmdRegistry, dispatcher: d, lines: lines, client: client}
}

func (r *testRig) expectLine(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-r.lines:
		assert.Equal(t, want, got)
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for line %q", want)
	}
}

func TestScenarioBFifoPadding(t *testing.T) {
	rig := newTestRig(t, "s1", 10)
	rig.handle.State.Restore(Snapshot{Status: StatusFree})

	_, err := rig.dispatcher.Submit(context.Background(), NewCommand("s1", Fifo, WithParams("7")))
	require.NoError(t, err)

	// FIFO is not a fast-path command, so it is queued; one scheduler
	// rotation over the FREE shuttle writes it.
	sched := NewScheduler(rig.dispatcher, map[string]*Handle{"s1": rig.handle}, []string{"s1"}, 1, 0, nil)
	sched.rotation(context.Background(), 0)
	rig.expectLine(t, "FIFO-007")
}

func TestScenarioDPreemptiveHome(t *testing.T) {
	rig := newTestRig(t, "s1", 10)
	rig.handle.State.Restore(Snapshot{Status: StatusBusy})

	// Queue a normal (non-fast-path) command while the shuttle is busy.
	id, err := rig.dispatcher.Submit(context.Background(), NewCommand("s1", PalletIn, WithParams("B2")))
	require.NoError(t, err)
	rec, ok := rig.registry.Get(id)
	require.True(t, ok)
	assert.Equal(t, RecordQueued, rec.Status)

	// HOME fast-paths straight to the link, ahead of the queued command.
	_, err = rig.dispatcher.Submit(context.Background(), NewCommand("s1", Home))
	require.NoError(t, err)
	rig.expectLine(t, "HOME")

	// The queued PALLET_IN is still sitting in the queue, not yet written.
	select {
	case line := <-rig.lines:
		t.Fatalf("unexpected line on link before shuttle went FREE: %q", line)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestScenarioEQueueFull(t *testing.T) {
	rig := newTestRig(t, "s1", 2)
	rig.handle.State.Restore(Snapshot{Status: StatusBusy})

	_, err := rig.dispatcher.Submit(context.Background(), NewCommand("s1", PalletIn, WithParams("A1")))
	require.NoError(t, err)
	_, err = rig.dispatcher.Submit(context.Background(), NewCommand("s1", PalletIn, WithParams("A2")))
	require.NoError(t, err)

	id, err := rig.dispatcher.Submit(context.Background(), NewCommand("s1", PalletIn, WithParams("A3")))
	require.ErrorIs(t, err, ErrQueueFull)
	rec, ok := rig.registry.Get(id)
	require.True(t, ok)
	assert.Equal(t, RecordFailed, rec.Status)
	assert.Equal(t, "Queue full", rec.Error)
}

func TestCancelQueuedCommand(t *testing.T) {
	rig := newTestRig(t, "s1", 10)
	rig.handle.State.Restore(Snapshot{Status: StatusBusy})

	id, err := rig.dispatcher.Submit(context.Background(), NewCommand("s1", PalletIn, WithParams("A1")))
	require.NoError(t, err)

	assert.True(t, rig.dispatcher.Cancel(id))
	rec, ok := rig.registry.Get(id)
	require.True(t, ok)
	assert.Equal(t, RecordCancelled, rec.Status)

	// Cancelling again fails: no longer queued.
	assert.False(t, rig.dispatcher.Cancel(id))
}

func TestCancelNonQueuedCommandFails(t *testing.T) {
	rig := newTestRig(t, "s1", 10)
	rig.handle.State.Restore(Snapshot{Status: StatusFree})

	id, err := rig.dispatcher.Submit(context.Background(), NewCommand("s1", Home))
	require.NoError(t, err)
	rig.expectLine(t, "HOME")

	assert.False(t, rig.dispatcher.Cancel(id))
}

func TestFindFreeShuttleHighPriorityIgnoresStatus(t *testing.T) {
	rig := newTestRig(t, "s1", 10)
	rig.handle.State.Restore(Snapshot{Status: StatusBusy})

	id, ok := rig.dispatcher.FindFreeShuttle("STOCK", "", StatusCmd, "")
	require.True(t, ok)
	assert.Equal(t, "s1", id)
}

func TestFindFreeShuttleNormalRequiresFree(t *testing.T) {
	rig := newTestRig(t, "s1", 10)
	rig.handle.State.Restore(Snapshot{Status: StatusBusy})

	_, ok := rig.dispatcher.FindFreeShuttle("STOCK", "", PalletIn, "")
	assert.False(t, ok)

	rig.handle.State.Restore(Snapshot{Status: StatusFree})
	id, ok := rig.dispatcher.FindFreeShuttle("STOCK", "", PalletIn, "")
	require.True(t, ok)
	assert.Equal(t, "s1", id)
}

func TestFindFreeShuttleHomeByExternalID(t *testing.T) {
	rig := newTestRig(t, "s1", 10)
	rig.handle.State.Restore(Snapshot{Status: StatusBusy, ExternalID: "EXT-9"})

	id, ok := rig.dispatcher.FindFreeShuttle("", "", Home, "EXT-9")
	require.True(t, ok)
	assert.Equal(t, "s1", id)

	_, ok = rig.dispatcher.FindFreeShuttle("", "", Home, "EXT-NOPE")
	assert.False(t, ok)
}
