package protocol

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{Vacuum(true), "V1\n"},
		{Vacuum(false), "V0\n"},
		{SetSpeed(0), "S0\n"},
		{SetSpeed(7), "S7\n"},
		{SetSpeed(100), "S100\n"},
		{Move(Forward), "F\n"},
		{Move(Backward), "B\n"},
		{Move(Left), "L\n"},
		{Move(Right), "R\n"},
		{Stop(), "X\n"},
	}
	for _, tt := range tests {
		t.Run(tt.cmd.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, string(Encode(tt.cmd)))
		})
	}
}

func TestEncode_SpeedRange(t *testing.T) {
	for n := MinSpeed; n <= MaxSpeed; n++ {
		assert.Equal(t, fmt.Sprintf("S%d\n", n), string(Encode(SetSpeed(n))))
	}
}

func TestAppendEncode(t *testing.T) {
	var b []byte
	b = AppendEncode(b, Move(Left))
	b = AppendEncode(b, Stop())
	assert.Equal(t, "L\nX\n", string(b))
}

func TestEncode_UnknownOpPanics(t *testing.T) {
	assert.Panics(t, func() { Encode(Command{Op: Op(99)}) })
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0, Clamp(-5))
	assert.Equal(t, 0, Clamp(0))
	assert.Equal(t, 42, Clamp(42))
	assert.Equal(t, 100, Clamp(100))
	assert.Equal(t, 100, Clamp(250))
}

func TestParseDirection(t *testing.T) {
	tests := map[string]Direction{
		"forward": Forward, "F": Forward, "up": Forward,
		"backward": Backward, "b": Backward, "DOWN": Backward,
		"left": Left, "l": Left,
		"right": Right, "R": Right,
	}
	for in, want := range tests {
		d, err := ParseDirection(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, d, in)
		assert.True(t, d.Valid())
	}

	_, err := ParseDirection("sideways")
	assert.Error(t, err)
	assert.False(t, Direction('Q').Valid())
}

func TestDirection_String(t *testing.T) {
	assert.Equal(t, "forward", Forward.String())
	assert.Equal(t, "right", Right.String())
	assert.Equal(t, "Direction(81)", Direction('Q').String())
}
