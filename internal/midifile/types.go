package midifile

import (
	"errors"
	"time"
)

// NoteFrame is one note-on ready for playback.
type NoteFrame struct {
	Millis     float64 // offset from the start of the song
	Instrument int     // program of the channel, or PercussionInstrument
	Octave     int
	Key        int     // raw MIDI key the octave was derived from
	Velocity   float64 // 0..1
	Track      int     // source track index
	Index      int     // event index within the source track
}

// Offset returns Millis as a duration.
func (f NoteFrame) Offset() time.Duration {
	return time.Duration(f.Millis * float64(time.Millisecond))
}

// NoteTrack is the decoder output: either an ordered frame list or an error.
type NoteTrack struct {
	frames []NoteFrame
	err    error
}

var errUnknown = errors.New("unknown decode failure")

// NewTrack wraps frames that are already in playback order.
func NewTrack(frames []NoteFrame) NoteTrack {
	return NoteTrack{frames: frames}
}

// ErrorTrack returns a track in the error state.
func ErrorTrack(err error) NoteTrack {
	if err == nil {
		err = errUnknown
	}
	return NoteTrack{err: err}
}

func (t NoteTrack) IsError() bool { return t.err != nil }

func (t NoteTrack) Err() error { return t.err }

// Message is the human-readable failure, empty for a good track.
func (t NoteTrack) Message() string {
	if t.err == nil {
		return ""
	}
	return t.err.Error()
}

// Frames returns the frames in playback order. Callers must not modify them.
func (t NoteTrack) Frames() []NoteFrame { return t.frames }

func (t NoteTrack) Len() int { return len(t.frames) }

// Duration is the offset of the last frame.
func (t NoteTrack) Duration() time.Duration {
	if len(t.frames) == 0 {
		return 0
	}
	return t.frames[len(t.frames)-1].Offset()
}
