package chipset

import "sync"

// InterruptSink receives level changes for a numbered interrupt wire.
type InterruptSink interface {
	SetWire(id uint32, level bool)
}

// LineSet manages a block of numbered interrupt wires (for the GIC, the
// SPI inputs of an IRS) and hands out LineInterrupt handles that forward
// level changes to a sink. Redundant level writes are swallowed so that
// devices can drive their line unconditionally.
type LineSet struct {
	mu sync.Mutex

	sink  InterruptSink
	lines map[uint32]*lineState
}

// NewLineSet builds a LineSet that forwards assertions to the provided
// sink.
func NewLineSet(sink InterruptSink) *LineSet {
	if sink == nil {
		sink = noopInterruptSink{}
	}
	return &LineSet{
		sink:  sink,
		lines: make(map[uint32]*lineState),
	}
}

// AllocateLine returns a LineInterrupt handle for the given wire.
func (l *LineSet) AllocateLine(id uint32) LineInterrupt {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.lines[id]; !ok {
		l.lines[id] = &lineState{}
	}
	return &lineHandle{owner: l, id: id}
}

// Level reports the last level driven on the wire.
func (l *LineSet) Level(id uint32) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if state, ok := l.lines[id]; ok {
		return state.level
	}
	return false
}

type lineState struct {
	level bool
}

type lineHandle struct {
	owner *LineSet
	id    uint32
}

func (h *lineHandle) SetLevel(high bool) {
	h.owner.setLevel(h.id, high)
}

func (h *lineHandle) PulseInterrupt() {
	h.owner.pulse(h.id)
}

func (l *LineSet) setLevel(id uint32, high bool) {
	l.mu.Lock()
	state := l.lines[id]
	if state == nil {
		state = &lineState{}
		l.lines[id] = state
	}
	changed := state.level != high
	state.level = high
	l.mu.Unlock()

	if changed {
		l.sink.SetWire(id, high)
	}
}

func (l *LineSet) pulse(id uint32) {
	l.sink.SetWire(id, true)
	l.sink.SetWire(id, false)
}

type noopInterruptSink struct{}

func (noopInterruptSink) SetWire(uint32, bool) {}
