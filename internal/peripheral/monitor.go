package peripheral

import (
	"context"
	"strings"
	"sync"

	"github.com/zclconf/go-cty/cty"
)

// MonitorType is the peripheral type name of a monitor.
const MonitorType = "monitor"

// Monitor is a fixed-size character display. Drawing is a world mutation, so
// the drawing methods run on the main loop.
type Monitor struct {
	width, height int

	mu      sync.Mutex
	cells   [][]rune
	cursorX int
	cursorY int
	methods MethodTable
}

// NewMonitor creates a blank monitor of the given size in characters.
func NewMonitor(width, height int) *Monitor {
	if width <= 0 {
		width = 51
	}
	if height <= 0 {
		height = 19
	}
	m := &Monitor{width: width, height: height, cursorX: 1, cursorY: 1}
	m.clear()
	m.methods = MethodTable{
		"write":        {MainThread: true, Fn: m.callWrite},
		"clear":        {MainThread: true, Fn: m.callClear},
		"setCursorPos": {MainThread: true, Fn: m.callSetCursorPos},
		"getCursorPos": {Fn: m.callGetCursorPos},
		"getSize":      {Fn: m.callGetSize},
		"getLine":      {Fn: m.callGetLine},
	}
	return m
}

func (m *Monitor) Type() string { return MonitorType }

func (m *Monitor) Methods() MethodTable { return m.methods }

func (m *Monitor) Equals(o Peripheral) bool { return Same(m, o) }

// Lines returns the current contents with trailing blanks trimmed.
func (m *Monitor) Lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, m.height)
	for y, row := range m.cells {
		out[y] = strings.TrimRight(string(row), " ")
	}
	return out
}

func (m *Monitor) clear() {
	m.cells = make([][]rune, m.height)
	for y := range m.cells {
		m.cells[y] = []rune(strings.Repeat(" ", m.width))
	}
}

// Write draws text at the cursor and advances it, clipping at the edge.
func (m *Monitor) Write(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cursorY < 1 || m.cursorY > m.height {
		m.cursorX += len([]rune(text))
		return
	}
	row := m.cells[m.cursorY-1]
	for _, r := range text {
		if m.cursorX >= 1 && m.cursorX <= m.width {
			row[m.cursorX-1] = r
		}
		m.cursorX++
	}
}

func (m *Monitor) callWrite(_ context.Context, call Call) ([]cty.Value, error) {
	text, err := StringArg(call.Args, 0)
	if err != nil {
		return nil, err
	}
	m.Write(text)
	return nil, nil
}

func (m *Monitor) callClear(context.Context, Call) ([]cty.Value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clear()
	return nil, nil
}

func (m *Monitor) callSetCursorPos(_ context.Context, call Call) ([]cty.Value, error) {
	x, err := IntArg(call.Args, 0)
	if err != nil {
		return nil, err
	}
	y, err := IntArg(call.Args, 1)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursorX, m.cursorY = x, y
	return nil, nil
}

func (m *Monitor) callGetCursorPos(context.Context, Call) ([]cty.Value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Values(cty.NumberIntVal(int64(m.cursorX)), cty.NumberIntVal(int64(m.cursorY))), nil
}

func (m *Monitor) callGetSize(context.Context, Call) ([]cty.Value, error) {
	return Values(cty.NumberIntVal(int64(m.width)), cty.NumberIntVal(int64(m.height))), nil
}

func (m *Monitor) callGetLine(_ context.Context, call Call) ([]cty.Value, error) {
	y, err := IntArg(call.Args, 0)
	if err != nil {
		return nil, err
	}
	lines := m.Lines()
	if y < 1 || y > len(lines) {
		return Values(cty.NullVal(cty.String)), nil
	}
	return Values(cty.StringVal(lines[y-1])), nil
}
