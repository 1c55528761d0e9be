package midifile

import (
	"cmp"
	"slices"
)

// DefaultTempo is 120 BPM in microseconds per quarter note.
const DefaultTempo = 500000

// TempoScope selects which tempo events apply to a track.
type TempoScope int

const (
	// TempoPerTrack applies a track's own tempo events to that track only.
	TempoPerTrack TempoScope = iota
	// TempoShared applies the tempo events of every track to all tracks,
	// the usual reading of format 1 files with a conductor track.
	TempoShared
)

func (s TempoScope) String() string {
	switch s {
	case TempoShared:
		return "shared"
	default:
		return "track"
	}
}

type tempoChange struct {
	tick         uint64
	usPerQuarter uint32
}

// timing converts absolute ticks into milliseconds.
type timing struct {
	division uint16
	changes  []tempoChange // sorted by tick
}

func newTiming(division uint16, changes []tempoChange) timing {
	sorted := slices.Clone(changes)
	slices.SortStableFunc(sorted, func(a, b tempoChange) int {
		return cmp.Compare(a.tick, b.tick)
	})
	return timing{division: division, changes: sorted}
}

// smpte reports whether the division is frames-per-second based, in which
// case ticks have a fixed length and tempo events are ignored.
func (t timing) smpte() bool {
	return t.division&0x8000 != 0
}

func (t timing) smpteTickMillis() float64 {
	fps := float64(-int8(byte(t.division >> 8)))
	if fps == 29 {
		fps = 29.97
	}
	perFrame := float64(t.division & 0xFF)
	if fps <= 0 || perFrame == 0 {
		return 0
	}
	return 1000.0 / (fps * perFrame)
}

// cursor walks the tempo map for monotonically increasing ticks.
func (t timing) cursor() *tempoCursor {
	return &tempoCursor{timing: t, tempo: DefaultTempo}
}

type tempoCursor struct {
	timing   timing
	next     int     // index of the first change not yet applied
	lastTick uint64  // tick of the last applied change
	baseUS   float64 // microseconds elapsed at lastTick
	tempo    uint32
}

// millis returns the offset of tick. Calls must not decrease tick.
func (c *tempoCursor) millis(tick uint64) float64 {
	if c.timing.smpte() {
		return float64(tick) * c.timing.smpteTickMillis()
	}
	div := float64(c.timing.division)
	if div == 0 {
		return 0
	}
	for c.next < len(c.timing.changes) && c.timing.changes[c.next].tick <= tick {
		ch := c.timing.changes[c.next]
		c.baseUS += float64(ch.tick-c.lastTick) * float64(c.tempo) / div
		c.lastTick = ch.tick
		c.tempo = ch.usPerQuarter
		c.next++
	}
	us := c.baseUS + float64(tick-c.lastTick)*float64(c.tempo)/div
	return us / 1000.0
}
