package vm

import "github.com/gdamore/tcell/v2"

const (
	screenCmdClear     = 0xFF
	screenCmdClearLine = 0xFE
)

// Screen is a write-biased Device: a 16-bit write at address A is
// interpreted as a command (high byte) plus a character (low byte) to
// place at the cell A maps to, per addr = col + row*width. Reads always
// succeed with 0.
type Screen struct {
	width, height int
	term          tcell.Screen
	cursorRow     int
}

// NewScreen attaches width x height character cells to a live terminal.
func NewScreen(width, height int, term tcell.Screen) *Screen {
	return &Screen{width: width, height: height, term: term}
}

// NewSimulationScreen builds a Screen backed by tcell's headless
// SimulationScreen, for use in tests and non-interactive drivers where no
// real terminal is attached.
func NewSimulationScreen(width, height int) (*Screen, error) {
	sim := tcell.NewSimulationScreen("")
	if err := sim.Init(); err != nil {
		return nil, err
	}
	sim.SetSize(width, height)
	return NewScreen(width, height, sim), nil
}

func (s *Screen) Len() int { return s.width * s.height }

func (s *Screen) ReadU8(addr uint16) (uint8, error)   { return 0, nil }
func (s *Screen) ReadU16(addr uint16) (uint16, error) { return 0, nil }

func (s *Screen) WriteU8(addr uint16, v uint8) error {
	return s.runCommand(v)
}

// WriteU16 runs the command in the high byte, then moves the cursor to the
// cell addr maps to and emits the low byte as a character.
func (s *Screen) WriteU16(addr uint16, v uint16) error {
	if err := s.runCommand(uint8(v >> 8)); err != nil {
		return err
	}

	col := int(addr) % s.width
	row := int(addr) / s.width
	if row >= s.height {
		return &OutOfBounds{Address: int(addr)}
	}

	ch := rune(uint8(v))
	s.term.SetContent(col, row, ch, nil, tcell.StyleDefault)
	s.term.ShowCursor(col, row)
	s.term.Show()
	s.cursorRow = row
	return nil
}

func (s *Screen) runCommand(cmd uint8) error {
	switch cmd {
	case screenCmdClear:
		s.term.Clear()
		s.term.ShowCursor(0, 0)
		s.term.Show()
	case screenCmdClearLine:
		s.clearLine(s.cursorRow)
		s.term.ShowCursor(0, s.cursorRow)
		s.term.Show()
	}
	return nil
}

func (s *Screen) clearLine(row int) {
	for col := 0; col < s.width; col++ {
		s.term.SetContent(col, row, ' ', nil, tcell.StyleDefault)
	}
}

// Close releases the underlying terminal, if any.
func (s *Screen) Close() {
	if s.term != nil {
		s.term.Fini()
	}
}
