package midifile

import (
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/charmbracelet/log"
)

const (
	// DefaultOctaveOffset maps key 60 (middle C) to octave 4.
	DefaultOctaveOffset = 1
	// PercussionChannel is the zero-based General MIDI drum channel.
	PercussionChannel = 9
	// PercussionInstrument is the instrument id reported for drum notes.
	PercussionInstrument = 128

	maxVLQBytes = 4
)

var (
	ErrBadHeader     = errors.New("bad MIDI header")
	ErrTruncated     = errors.New("truncated chunk")
	ErrUnexpectedEOF = errors.New("unexpected end of data")
	ErrInvalidVLQ    = errors.New("invalid variable-length quantity")
	ErrRunningStatus = errors.New("data byte without running status")
	ErrBadEvent      = errors.New("unsupported event status")
)

type Option func(*decodeConfig)

type decodeConfig struct {
	octaveOffset int
	tempoScope   TempoScope
	logger       *log.Logger
}

func defaultDecodeConfig() decodeConfig {
	return decodeConfig{octaveOffset: DefaultOctaveOffset, tempoScope: TempoPerTrack}
}

// WithOctaveOffset sets the value subtracted from key/12 to get the octave.
func WithOctaveOffset(offset int) Option {
	return func(cfg *decodeConfig) {
		cfg.octaveOffset = offset
	}
}

func WithTempoScope(scope TempoScope) Option {
	return func(cfg *decodeConfig) {
		cfg.tempoScope = scope
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(cfg *decodeConfig) {
		cfg.logger = logger
	}
}

// Header is the content of the MThd chunk.
type Header struct {
	Format   uint16
	Tracks   uint16
	Division uint16
}

// rawNote is a note-on before tick-to-time conversion.
type rawNote struct {
	tick       uint64
	index      int
	instrument int
	key        byte
	velocity   byte
}

type decodedTrack struct {
	notes  []rawNote
	tempos []tempoChange
}

// Decode parses a standard MIDI file. It never fails outright: malformed
// input yields a NoteTrack in the error state.
func Decode(data []byte, opts ...Option) NoteTrack {
	cfg := defaultDecodeConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = log.Default()
	}

	frames, hdr, err := decode(data, cfg)
	if err != nil {
		logger.Error("midi decode failed", "err", err)
		return ErrorTrack(err)
	}
	logger.Debug("midi decoded", "format", hdr.Format, "tracks", hdr.Tracks, "division", hdr.Division, "frames", len(frames))
	return NewTrack(frames)
}

// DecodeReader reads r to the end and decodes it.
func DecodeReader(r io.Reader, opts ...Option) NoteTrack {
	data, err := io.ReadAll(r)
	if err != nil {
		return ErrorTrack(fmt.Errorf("read midi: %w", err))
	}
	return Decode(data, opts...)
}

func DecodeFile(path string, opts ...Option) NoteTrack {
	data, err := os.ReadFile(path)
	if err != nil {
		return ErrorTrack(fmt.Errorf("read midi: %w", err))
	}
	return Decode(data, opts...)
}

func decode(data []byte, cfg decodeConfig) ([]NoteFrame, Header, error) {
	hdr, rest, err := readHeader(data)
	if err != nil {
		return nil, hdr, err
	}

	tracks := make([]decodedTrack, 0, hdr.Tracks)
	for len(tracks) < int(hdr.Tracks) {
		if len(rest) == 0 {
			return nil, hdr, fmt.Errorf("%w: header declares %d tracks, found %d", ErrUnexpectedEOF, hdr.Tracks, len(tracks))
		}
		id, body, next, err := readChunk(rest)
		if err != nil {
			return nil, hdr, fmt.Errorf("track %d: %w", len(tracks), err)
		}
		rest = next
		if id != "MTrk" {
			continue
		}
		tr, err := readTrack(body)
		if err != nil {
			return nil, hdr, fmt.Errorf("track %d: %w", len(tracks), err)
		}
		tracks = append(tracks, tr)
	}

	var shared []tempoChange
	if cfg.tempoScope == TempoShared {
		for _, tr := range tracks {
			shared = append(shared, tr.tempos...)
		}
	}

	var frames []NoteFrame
	for ti, tr := range tracks {
		tempos := tr.tempos
		if cfg.tempoScope == TempoShared {
			tempos = shared
		}
		cur := newTiming(hdr.Division, tempos).cursor()
		for _, n := range tr.notes {
			frames = append(frames, NoteFrame{
				Millis:     cur.millis(n.tick),
				Instrument: n.instrument,
				Octave:     int(n.key)/12 - cfg.octaveOffset,
				Key:        int(n.key),
				Velocity:   float64(n.velocity) / 127.0,
				Track:      ti,
				Index:      n.index,
			})
		}
	}

	slices.SortStableFunc(frames, compareFrames)
	return frames, hdr, nil
}

// compareFrames orders by time, then source track, then event order.
func compareFrames(a, b NoteFrame) int {
	if c := cmp.Compare(a.Millis, b.Millis); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Track, b.Track); c != 0 {
		return c
	}
	return cmp.Compare(a.Index, b.Index)
}

func readHeader(data []byte) (Header, []byte, error) {
	var hdr Header
	if len(data) < 8 || string(data[0:4]) != "MThd" {
		return hdr, nil, fmt.Errorf("%w: missing MThd", ErrBadHeader)
	}
	size := binary.BigEndian.Uint32(data[4:8])
	if size < 6 {
		return hdr, nil, fmt.Errorf("%w: header length %d", ErrBadHeader, size)
	}
	if uint64(size) > uint64(len(data)-8) {
		return hdr, nil, fmt.Errorf("%w: header declares %d bytes, %d available", ErrTruncated, size, len(data)-8)
	}
	hdr.Format = binary.BigEndian.Uint16(data[8:10])
	hdr.Tracks = binary.BigEndian.Uint16(data[10:12])
	hdr.Division = binary.BigEndian.Uint16(data[12:14])
	if hdr.Division == 0 {
		return hdr, nil, fmt.Errorf("%w: zero division", ErrBadHeader)
	}
	return hdr, data[8+size:], nil
}

func readChunk(data []byte) (id string, body []byte, rest []byte, err error) {
	if len(data) < 8 {
		return "", nil, nil, fmt.Errorf("%w: %d bytes left for chunk header", ErrTruncated, len(data))
	}
	id = string(data[0:4])
	size := binary.BigEndian.Uint32(data[4:8])
	if uint64(size) > uint64(len(data)-8) {
		return "", nil, nil, fmt.Errorf("%w: %s declares %d bytes, %d available", ErrTruncated, id, size, len(data)-8)
	}
	return id, data[8 : 8+size], data[8+size:], nil
}

// readVLQ decodes a variable-length quantity and returns it with the number
// of bytes consumed.
func readVLQ(data []byte) (uint32, int, error) {
	var v uint32
	for i := 0; i < maxVLQBytes; i++ {
		if i >= len(data) {
			return 0, i, ErrUnexpectedEOF
		}
		b := data[i]
		v = v<<7 | uint32(b&0x7F)
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
	}
	return 0, maxVLQBytes, ErrInvalidVLQ
}

func readTrack(data []byte) (decodedTrack, error) {
	var (
		tr       decodedTrack
		pos      int
		tick     uint64
		running  byte
		programs [16]int
		index    int
	)
	fail := func(err error) (decodedTrack, error) {
		return decodedTrack{}, fmt.Errorf("byte %d: %w", pos, err)
	}

	for pos < len(data) {
		delta, n, err := readVLQ(data[pos:])
		if err != nil {
			return fail(err)
		}
		pos += n
		tick += uint64(delta)
		if pos >= len(data) {
			return fail(ErrUnexpectedEOF)
		}

		status := data[pos]
		if status < 0x80 {
			if running == 0 {
				return fail(ErrRunningStatus)
			}
			status = running
		} else {
			pos++
		}

		switch {
		case status == 0xFF:
			running = 0
			if pos >= len(data) {
				return fail(ErrUnexpectedEOF)
			}
			metaType := data[pos]
			pos++
			size, n, err := readVLQ(data[pos:])
			if err != nil {
				return fail(err)
			}
			pos += n
			if uint64(size) > uint64(len(data)-pos) {
				return fail(ErrUnexpectedEOF)
			}
			payload := data[pos : pos+int(size)]
			pos += int(size)
			switch metaType {
			case 0x51:
				if len(payload) >= 3 {
					us := uint32(payload[0])<<16 | uint32(payload[1])<<8 | uint32(payload[2])
					if us > 0 {
						tr.tempos = append(tr.tempos, tempoChange{tick: tick, usPerQuarter: us})
					}
				}
			case 0x2F:
				return tr, nil
			}

		case status == 0xF0 || status == 0xF7:
			running = 0
			size, n, err := readVLQ(data[pos:])
			if err != nil {
				return fail(err)
			}
			pos += n
			if uint64(size) > uint64(len(data)-pos) {
				return fail(ErrUnexpectedEOF)
			}
			pos += int(size)

		case status >= 0xF0:
			return fail(fmt.Errorf("%w 0x%02X", ErrBadEvent, status))

		default:
			running = status
			kind := status & 0xF0
			channel := int(status & 0x0F)
			size := 2
			if kind == 0xC0 || kind == 0xD0 {
				size = 1
			}
			if pos+size > len(data) {
				return fail(ErrUnexpectedEOF)
			}
			args := data[pos : pos+size]
			pos += size
			switch kind {
			case 0x90:
				if args[1]&0x7F == 0 {
					break
				}
				instrument := programs[channel]
				if channel == PercussionChannel {
					instrument = PercussionInstrument
				}
				tr.notes = append(tr.notes, rawNote{
					tick:       tick,
					index:      index,
					instrument: instrument,
					key:        args[0] & 0x7F,
					velocity:   args[1] & 0x7F,
				})
			case 0xC0:
				programs[channel] = int(args[0] & 0x7F)
			}
		}
		index++
	}
	return tr, nil
}
