package instruments

import (
	"fmt"
	"slices"
)

// DefaultID is the instrument id carried by entries of the default bucket.
const DefaultID = -1

// MinOctave and MaxOctave bound the octaves a mapping line may name. MIDI
// keys only span key/12 = 0..10, so this leaves room for any octave offset.
const (
	MinOctave = -32
	MaxOctave = 32
)

// OctaveRange is a closed range of octaves, From..To inclusive.
type OctaveRange struct {
	From int
	To   int
}

// Single returns the range covering exactly one octave.
func Single(octave int) OctaveRange {
	return OctaveRange{From: octave, To: octave}
}

func (r OctaveRange) Contains(octave int) bool {
	return octave >= r.From && octave <= r.To
}

// Overlaps reports whether both ranges share at least one octave.
func (r OctaveRange) Overlaps(o OctaveRange) bool {
	return r.From <= o.To && o.From <= r.To
}

// Octaves lists every octave in the range in ascending order.
func (r OctaveRange) Octaves() []int {
	if r.To < r.From {
		return nil
	}
	out := make([]int, 0, r.To-r.From+1)
	for o := r.From; o <= r.To; o++ {
		out = append(out, o)
	}
	return out
}

func (r OctaveRange) String() string {
	if r.From == r.To {
		return fmt.Sprintf("%d", r.From)
	}
	return fmt.Sprintf("%d-%d", r.From, r.To)
}

// Entry is one resolved sound: the patch to trigger and its base volume.
type Entry struct {
	ID     int
	Patch  string
	Volume float64 // 0..1
}

// IsDefault reports whether the entry came from a default ("D") line.
func (e Entry) IsDefault() bool {
	return e.ID == DefaultID
}

type bucket map[OctaveRange]Entry

// lookup scans the bucket for a key covering octave. Loaded maps only hold
// single-octave keys, so the direct hit is tried first.
func (b bucket) lookup(octave int) (Entry, bool) {
	if e, ok := b[Single(octave)]; ok {
		return e, true
	}
	for r, e := range b {
		if r.Contains(octave) {
			return e, true
		}
	}
	return Entry{}, false
}

func (b bucket) overlapsAny(ranges []OctaveRange) bool {
	for key := range b {
		for _, r := range ranges {
			if key.Overlaps(r) {
				return true
			}
		}
	}
	return false
}

// Map is an immutable two-level instrument lookup: per-id buckets first,
// then the shared default bucket.
type Map struct {
	perID    map[int]bucket
	defaults bucket
}

// Resolve finds the entry for an instrument id at the given octave, falling
// back to the default bucket. ok is false when neither covers the octave.
func (m *Map) Resolve(id int, octave int) (Entry, bool) {
	if m == nil {
		return Entry{}, false
	}
	if b, ok := m.perID[id]; ok {
		if e, ok := b.lookup(octave); ok {
			return e, true
		}
	}
	return m.defaults.lookup(octave)
}

// InstrumentIDs returns the ids that have their own bucket.
func (m *Map) InstrumentIDs() []int {
	if m == nil {
		return nil
	}
	ids := make([]int, 0, len(m.perID))
	for id := range m.perID {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// DefaultCount is the number of octaves covered by the default bucket.
func (m *Map) DefaultCount() int {
	if m == nil {
		return 0
	}
	return len(m.defaults)
}
