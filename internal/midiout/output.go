package midiout

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

const (
	DefaultNoteLength = 250 * time.Millisecond
	drumChannel       = 9
)

// generalMIDI maps patch names to General MIDI programs.
var generalMIDI = map[string]uint8{
	"piano":        0,
	"harpsichord":  6,
	"celesta":      8,
	"glockenspiel": 9,
	"vibraphone":   11,
	"xylophone":    13,
	"bell":         14,
	"chime":        14,
	"organ":        19,
	"guitar":       24,
	"bass":         32,
	"strings":      48,
	"harp":         46,
	"choir":        52,
	"trumpet":      56,
	"flute":        73,
	"square":       80,
	"pulse":        80,
	"saw":          81,
	"triangle":     79,
	"sine":         79,
	"noise":        122,
	"pling":        108,
	"didgeridoo":   109,
}

// drumKeys maps percussion patch names to keys on the GM drum channel.
var drumKeys = map[string]uint8{
	"basedrum": 36,
	"kick":     36,
	"snare":    38,
	"clap":     39,
	"hat":      42,
	"click":    37,
	"cymbal":   49,
}

// ProgramFor returns the GM program for patch. Decimal patch names in 0..127
// are used as-is; unknown names fall back to the piano.
func ProgramFor(patch string) uint8 {
	name := strings.ToLower(patch)
	if p, ok := generalMIDI[name]; ok {
		return p
	}
	if n, err := strconv.Atoi(name); err == nil && n >= 0 && n <= 127 {
		return uint8(n)
	}
	return 0
}

type Options struct {
	Logger       *log.Logger
	Channel      uint8
	NoteLength   time.Duration
	OctaveOffset int
}

func DefaultOptions() Options {
	return Options{NoteLength: DefaultNoteLength, OctaveOffset: 1}
}

type Option func(*Options)

func WithLogger(logger *log.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

func WithChannel(ch uint8) Option {
	return func(o *Options) { o.Channel = ch & 0x0F }
}

// WithNoteLength sets the delay between a note-on and its note-off.
func WithNoteLength(d time.Duration) Option {
	return func(o *Options) { o.NoteLength = d }
}

func WithOctaveOffset(offset int) Option {
	return func(o *Options) { o.OctaveOffset = offset }
}

// Output emits patches as MIDI notes.
type Output struct {
	send   func(midi.Message) error
	port   drivers.Out
	opts   Options
	logger *log.Logger

	mu          sync.Mutex
	lastProgram int
	closing     bool // no new notes; pending note-offs still go out
	closed      bool
	pending     sync.WaitGroup
}

// New wraps a raw sender, such as the function returned by midi.SendTo.
func New(send func(midi.Message) error, opts ...Option) *Output {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Output{
		send:        send,
		opts:        o,
		logger:      logger.WithPrefix("midiout"),
		lastProgram: -1,
	}
}

// Open connects to the output port whose name contains portName, or the
// first port when portName is empty. A driver must be registered by the
// caller.
func Open(portName string, opts ...Option) (*Output, error) {
	var (
		port drivers.Out
		err  error
	)
	if portName == "" {
		port, err = midi.OutPort(0)
	} else {
		port, err = midi.FindOutPort(portName)
	}
	if err != nil {
		return nil, fmt.Errorf("open midi port %q: %w", portName, err)
	}
	send, err := midi.SendTo(port)
	if err != nil {
		return nil, fmt.Errorf("send to midi port %q: %w", port.String(), err)
	}
	out := New(send, opts...)
	out.port = port
	out.logger.Info("midi output open", "port", port.String())
	return out, nil
}

// Ports lists the names of the available output ports.
func Ports() ([]string, error) {
	outs, err := drivers.Outs()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(outs))
	for _, o := range outs {
		names = append(names, o.String())
	}
	return names, nil
}

// Emit plays the C of octave with the patch's program. Percussion patches go
// to the drum channel with a fixed key.
func (o *Output) Emit(patch string, octave int, volume float64) {
	vel := uint8(math.Round(min(max(volume, 0), 1) * 127))
	if vel == 0 {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closing {
		return
	}

	ch := o.opts.Channel
	key, drum := drumKeys[strings.ToLower(patch)]
	if drum {
		ch = drumChannel
	} else {
		key = uint8(min(max((octave+o.opts.OctaveOffset)*12, 0), 127))
		if prog := ProgramFor(patch); int(prog) != o.lastProgram {
			if o.sendMsg(midi.ProgramChange(ch, prog)) {
				o.lastProgram = int(prog)
			}
		}
	}
	if !o.sendMsg(midi.NoteOn(ch, key, vel)) {
		return
	}

	o.pending.Add(1)
	time.AfterFunc(o.opts.NoteLength, func() {
		defer o.pending.Done()
		o.mu.Lock()
		defer o.mu.Unlock()
		if !o.closed {
			o.sendMsg(midi.NoteOff(ch, key))
		}
	})
}

func (o *Output) sendMsg(msg midi.Message) bool {
	if err := o.send(msg); err != nil {
		o.logger.Warn("midi send failed", "msg", msg.String(), "err", err)
		return false
	}
	return true
}

// Close waits for outstanding note-offs, silences both channels and closes
// the port if Open created it.
func (o *Output) Close() error {
	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		return nil
	}
	o.closing = true
	o.mu.Unlock()

	o.pending.Wait()

	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	for _, ch := range []uint8{o.opts.Channel, drumChannel} {
		o.sendMsg(midi.ControlChange(ch, midi.AllNotesOff, midi.Off))
	}
	if o.port != nil {
		err := o.port.Close()
		midi.CloseDriver()
		return err
	}
	return nil
}
