package shuttle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSchedulerDispatchesInPriorityOrder(t *testing.T) {
	rig := newTestRig(t, "s1", 10)
	rig.handle.State.Restore(Snapshot{Status: StatusBusy})

	// Enqueue out of priority order while the shuttle is busy — the
	// scheduler is effectively paused since rotation() is only invoked
	// explicitly below, never via Run().
	_, err := rig.dispatcher.Submit(context.Background(), NewCommand("s1", Fifo, WithParams("1")))
	require.NoError(t, err)
	_, err = rig.dispatcher.Submit(context.Background(), NewCommand("s1", PalletIn, WithParams("A1")))
	require.NoError(t, err)
	_, err = rig.dispatcher.Submit(context.Background(), NewCommand("s1", PalletOut, WithParams("A2")))
	require.NoError(t, err)

	// Shuttle goes FREE; each rotation dispatches one command (leaving the
	// shuttle BUSY), and the test restores FREE before the next rotation.
	rig.handle.State.Restore(Snapshot{Status: StatusFree})

	sched := NewScheduler(rig.dispatcher, map[string]*Handle{"s1": rig.handle}, []string{"s1"}, 1, 0, nil)

	sched.rotation(context.Background(), 0)
	rig.expectLine(t, "PALLET_OUT-A2") // priority 5
	rig.handle.State.Restore(Snapshot{Status: StatusFree})

	sched.rotation(context.Background(), 0)
	rig.expectLine(t, "PALLET_IN-A1") // priority 6
	rig.handle.State.Restore(Snapshot{Status: StatusFree})

	sched.rotation(context.Background(), 0)
	rig.expectLine(t, "FIFO-001") // priority 9
}

func TestSchedulerSkipsBusyShuttle(t *testing.T) {
	rig := newTestRig(t, "s1", 10)
	rig.handle.State.Restore(Snapshot{Status: StatusBusy})

	_, err := rig.dispatcher.Submit(context.Background(), NewCommand("s1", PalletIn, WithParams("A1")))
	require.NoError(t, err)

	sched := NewScheduler(rig.dispatcher, map[string]*Handle{"s1": rig.handle}, []string{"s1"}, 1, 0, nil)
	sched.rotation(context.Background(), 0)

	select {
	case line := <-rig.lines:
		t.Fatalf("unexpected dispatch while shuttle busy: %q", line)
	default:
	}
}

func TestSchedulerSkipsCancelledItem(t *testing.T) {
	rig := newTestRig(t, "s1", 10)
	rig.handle.State.Restore(Snapshot{Status: StatusBusy})

	id, err := rig.dispatcher.Submit(context.Background(), NewCommand("s1", PalletIn, WithParams("A1")))
	require.NoError(t, err)
	require.True(t, rig.dispatcher.Cancel(id))

	rig.handle.State.Restore(Snapshot{Status: StatusFree})
	sched := NewScheduler(rig.dispatcher, map[string]*Handle{"s1": rig.handle}, []string{"s1"}, 1, 0, nil)
	sched.rotation(context.Background(), 0)

	select {
	case line := <-rig.lines:
		t.Fatalf("cancelled command must never dispatch, got %q", line)
	default:
	}
}
