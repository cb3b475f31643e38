// Package protocol encodes robot commands into the line-based ASCII wire format.
//
// Every command is one line terminated by '\n'. The channel is one-way; the
// robot sends nothing back.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Speed bounds, in percent.
const (
	MinSpeed     = 0
	MaxSpeed     = 100
	DefaultSpeed = 50
)

// Terminator ends every command line.
const Terminator = '\n'

// Direction is a drive direction. Its value is the wire letter.
type Direction byte

const (
	Forward  Direction = 'F'
	Backward Direction = 'B'
	Left     Direction = 'L'
	Right    Direction = 'R'
)

// String returns the lower-case direction name.
func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("Direction(%d)", byte(d))
	}
}

// MarshalText encodes the direction name.
func (d Direction) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("protocol: invalid direction %d", byte(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText accepts anything ParseDirection does.
func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Valid reports whether d is one of the four drive directions.
func (d Direction) Valid() bool {
	switch d {
	case Forward, Backward, Left, Right:
		return true
	}
	return false
}

// ParseDirection accepts a direction name, its initial, or up/down.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "forward", "f", "up", "fwd":
		return Forward, nil
	case "backward", "back", "b", "down":
		return Backward, nil
	case "left", "l":
		return Left, nil
	case "right", "r":
		return Right, nil
	}
	return 0, fmt.Errorf("protocol: unknown direction %q", s)
}

// Op identifies a command.
type Op int

const (
	OpVacuumOn Op = iota
	OpVacuumOff
	OpSetSpeed
	OpMove
	OpStop
)

// Command is one robot instruction. Build it with the constructors below;
// Speed is only meaningful for OpSetSpeed and Direction only for OpMove.
type Command struct {
	Op        Op
	Speed     int
	Direction Direction
}

// Vacuum returns VacuumOn or VacuumOff.
func Vacuum(on bool) Command {
	if on {
		return Command{Op: OpVacuumOn}
	}
	return Command{Op: OpVacuumOff}
}

// SetSpeed returns a speed command. n must already be within [MinSpeed, MaxSpeed].
func SetSpeed(n int) Command { return Command{Op: OpSetSpeed, Speed: n} }

// Move returns a move command for d.
func Move(d Direction) Command { return Command{Op: OpMove, Direction: d} }

// Stop returns the stop command.
func Stop() Command { return Command{Op: OpStop} }

// Clamp limits n to [MinSpeed, MaxSpeed].
func Clamp(n int) int {
	if n < MinSpeed {
		return MinSpeed
	}
	if n > MaxSpeed {
		return MaxSpeed
	}
	return n
}

// Encode returns the wire bytes for c. Arguments are not re-validated.
func Encode(c Command) []byte {
	return AppendEncode(make([]byte, 0, 5), c)
}

// AppendEncode appends the wire bytes for c to dst.
func AppendEncode(dst []byte, c Command) []byte {
	switch c.Op {
	case OpVacuumOn:
		dst = append(dst, 'V', '1')
	case OpVacuumOff:
		dst = append(dst, 'V', '0')
	case OpSetSpeed:
		dst = append(dst, 'S')
		dst = strconv.AppendInt(dst, int64(c.Speed), 10)
	case OpMove:
		dst = append(dst, byte(c.Direction))
	case OpStop:
		dst = append(dst, 'X')
	default:
		panic(fmt.Sprintf("protocol: unknown op %d", c.Op))
	}
	return append(dst, Terminator)
}

// String returns the command line without its terminator, e.g. "S75".
func (c Command) String() string {
	b := Encode(c)
	return string(b[:len(b)-1])
}
