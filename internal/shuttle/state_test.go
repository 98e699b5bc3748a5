package shuttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func applyLine(t *testing.T, s *State, line string) Message {
	t.Helper()
	msg := ParseMessage(line)
	s.touch(line, time.Now())
	s.Apply(msg, func(field, raw string, err error) {})
	return msg
}

func TestScenarioALoadingCycle(t *testing.T) {
	s := NewState("s1")
	applyLine(t, s, "PALLET_IN_STARTED")
	assert.Equal(t, StatusLoading, s.Status())

	applyLine(t, s, "PALLET_IN_DONE")
	snap := s.Snapshot()
	assert.Equal(t, StatusFree, snap.Status)
	assert.Nil(t, snap.CurrentCommand)
}

func TestScenarioCLowBattery(t *testing.T) {
	s := NewState("s1")
	applyLine(t, s, "BATTERY=<15%")
	snap := s.Snapshot()
	assert.Equal(t, "<15%", snap.BatteryLevel)
	assert.Equal(t, StatusLowBattery, snap.Status)
}

func TestBatteryAboveThresholdDoesNotChangeStatus(t *testing.T) {
	s := NewState("s1")
	s.Apply(Message{Kind: KindStarted, Raw: "HOME_STARTED"}, nil)
	require.Equal(t, StatusMoving, s.Status())
	applyLine(t, s, "BATTERY=85%")
	assert.Equal(t, StatusMoving, s.Status())
}

func TestMalformedBatteryPreservesPriorLevelDecision(t *testing.T) {
	s := NewState("s1")
	var warned bool
	s.Apply(ParseMessage("BATTERY=unreadable"), func(field, raw string, err error) { warned = true })
	assert.True(t, warned)
	assert.Equal(t, StatusUnknown, s.Status())
}

func TestMalformedWdhPreservesPriorValue(t *testing.T) {
	s := NewState("s1")
	s.Apply(ParseMessage("WDH=120"), nil)
	s.Apply(ParseMessage("WDH=notanumber"), func(field, raw string, err error) {})
	assert.Equal(t, 120, s.wdhHours)
}

func TestAbortSetsErrorAndClearsCommand(t *testing.T) {
	s := NewState("s1")
	cmd := NewCommand("s1", PalletIn)
	s.MarkDispatched(cmd, time.Now())
	applyLine(t, s, "PALLET_IN_ABORT")
	snap := s.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Equal(t, "PALLET_IN_ABORT", snap.ErrorCode)
	assert.Nil(t, snap.CurrentCommand)
}

func TestLocationParsesCell(t *testing.T) {
	s := NewState("s1")
	applyLine(t, s, "LOCATION=AISLE2,CELL:C04,TS=1")
	snap := s.Snapshot()
	assert.Equal(t, "C04", snap.CurrentCell)
	assert.Equal(t, StatusFree, snap.Status)
}

func TestStateRoundTrip(t *testing.T) {
	s := NewState("s1")
	applyLine(t, s, "PALLET_OUT_STARTED")
	applyLine(t, s, "BATTERY=45%")
	applyLine(t, s, "WDH=10")

	snap := s.Snapshot()

	restored := NewState("s1")
	restored.Restore(snap)
	assert.Equal(t, snap, restored.Snapshot())
}

func TestMarkDispatchedSetsBusyExceptForMrcd(t *testing.T) {
	s := NewState("s1")
	s.MarkDispatched(NewCommand("s1", PalletIn, WithParams("A1")), time.Now())
	assert.Equal(t, StatusBusy, s.Status())

	s2 := NewState("s2")
	s2.status = StatusFree
	s2.MarkDispatched(NewCommand("s2", Mrcd), time.Now())
	assert.Equal(t, StatusFree, s2.Status())
}
