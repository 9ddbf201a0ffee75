package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestScreen(t *testing.T) *Screen {
	s, err := NewSimulationScreen(8, 4)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestScreenWriteU16PlacesCharacter(t *testing.T) {
	s := newTestScreen(t)
	// addr = col + row*width; col=2, row=1 -> addr=10. A zero high byte
	// isn't a recognized command, so runCommand is a no-op and the low
	// byte is written as the cell's character.
	require.NoError(t, s.WriteU16(10, uint16('X')))

	mainc, _, _, _ := s.term.GetContent(2, 1)
	require.Equal(t, 'X', mainc)
}

func TestScreenOutOfBoundsRow(t *testing.T) {
	s := newTestScreen(t)
	err := s.WriteU16(uint16(s.width*s.height), uint16('X'))
	require.Error(t, err)
	require.IsType(t, &OutOfBounds{}, err)
}

func TestScreenLen(t *testing.T) {
	s := newTestScreen(t)
	require.Equal(t, 32, s.Len())
}

func TestScreenReadsAlwaysZero(t *testing.T) {
	s := newTestScreen(t)
	require.NoError(t, s.WriteU16(0, uint16('A')))

	b, err := s.ReadU8(0)
	require.NoError(t, err)
	require.Equal(t, uint8(0), b)

	v, err := s.ReadU16(0)
	require.NoError(t, err)
	require.Equal(t, uint16(0), v)
}

func TestScreenClearCommand(t *testing.T) {
	s := newTestScreen(t)
	require.NoError(t, s.WriteU16(0, uint16('A')))
	// High byte screenCmdClear with a zero low byte: clears the whole
	// screen and moves the cursor back to the origin.
	require.NoError(t, s.WriteU16(1, uint16(screenCmdClear)<<8))

	mainc, _, _, _ := s.term.GetContent(0, 0)
	require.NotEqual(t, 'A', mainc)
}

func TestScreenClearLineOnlyAffectsThatRow(t *testing.T) {
	s := newTestScreen(t)
	require.NoError(t, s.WriteU16(3, uint16('A')))                 // col 3, row 0
	require.NoError(t, s.WriteU16(uint16(s.width+3), uint16('B'))) // col 3, row 1; cursorRow is now 1

	// screenCmdClearLine runs against the current cursorRow (1) before
	// the low byte (a space) is placed at this same cell.
	require.NoError(t, s.WriteU16(uint16(s.width+3), uint16(screenCmdClearLine)<<8|uint16(' ')))

	row0, _, _, _ := s.term.GetContent(3, 0)
	row1, _, _, _ := s.term.GetContent(3, 1)
	require.Equal(t, 'A', row0, "clearing line 1 must not touch row 0")
	require.Equal(t, ' ', row1)
}
