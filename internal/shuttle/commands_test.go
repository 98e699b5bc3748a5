package shuttle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCommandDefaultPriorities(t *testing.T) {
	cases := map[CommandType]int{
		Home:      1,
		StatusCmd: 2,
		Battery:   3,
		Mrcd:      4,
		PalletOut: 5,
		PalletIn:  6,
		StackOut:  7,
		StackIn:   8,
		Fifo:      9,
		Filo:      10,
		Count:     11,
		Wdh:       12,
		Wlh:       13,
	}
	for cmdType, want := range cases {
		c := NewCommand("s1", cmdType)
		assert.Equal(t, want, c.Priority, "type=%s", cmdType)
	}
}

func TestToWireWithoutParams(t *testing.T) {
	c := NewCommand("s1", Home)
	assert.Equal(t, "HOME\n", c.ToWire())
}

func TestToWireFifoZeroPadded(t *testing.T) {
	c := NewCommand("s1", Fifo, WithParams("7"))
	assert.Equal(t, "FIFO-007\n", c.ToWire())
}

func TestToWireFiloNonNumericParamLiteral(t *testing.T) {
	c := NewCommand("s1", Filo, WithParams("abc"))
	assert.Equal(t, "FILO-abc\n", c.ToWire())
}

func TestToWirePalletInParam(t *testing.T) {
	c := NewCommand("s1", PalletIn, WithParams("A1"))
	assert.Equal(t, "PALLET_IN-A1\n", c.ToWire())
}

func TestIsFastPath(t *testing.T) {
	assert.True(t, NewCommand("s1", Home).IsFastPath())
	assert.True(t, NewCommand("s1", StatusCmd).IsFastPath())
	assert.True(t, NewCommand("s1", Battery).IsFastPath())
	assert.True(t, NewCommand("s1", Mrcd).IsFastPath())
	assert.False(t, NewCommand("s1", PalletIn).IsFastPath())
	assert.False(t, NewCommand("s1", Fifo).IsFastPath())
}
