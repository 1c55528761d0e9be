package patchplay

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/cbegin/patchplay-go/internal/clock"
	"github.com/cbegin/patchplay-go/internal/instruments"
	"github.com/cbegin/patchplay-go/internal/midifile"
	"github.com/cbegin/patchplay-go/internal/sequencer"
)

type (
	NoteTrack    = midifile.NoteTrack
	NoteFrame    = midifile.NoteFrame
	GlobalTrack  = sequencer.GlobalTrack
	Emitter      = sequencer.Emitter
	EmitterFunc  = sequencer.EmitterFunc
	Clock        = sequencer.Clock
	FinishReason = sequencer.FinishReason
	Entry        = instruments.Entry
	ParseResult  = instruments.ParseResult
	TempoScope   = midifile.TempoScope
)

const (
	FinishCompleted = sequencer.FinishCompleted
	FinishCancelled = sequencer.FinishCancelled
	TempoPerTrack   = midifile.TempoPerTrack
	TempoShared     = midifile.TempoShared
)

// ErrUnknownRequest is returned by Dispatch for an unrecognised kind.
var ErrUnknownRequest = errors.New("unknown request")

type Option func(*playerConfig)

type playerConfig struct {
	logger       *log.Logger
	clock        Clock
	octaveOffset int
	tempoScope   TempoScope
	masterVolume float64
	onFinish     func(*GlobalTrack, FinishReason)
}

func defaultPlayerConfig() playerConfig {
	return playerConfig{
		octaveOffset: midifile.DefaultOctaveOffset,
		tempoScope:   TempoPerTrack,
		masterVolume: 1,
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(cfg *playerConfig) {
		cfg.logger = logger
	}
}

// WithClock replaces the default wall-clock ticker. The caller keeps
// ownership of the clock.
func WithClock(c Clock) Option {
	return func(cfg *playerConfig) {
		cfg.clock = c
	}
}

func WithOctaveOffset(offset int) Option {
	return func(cfg *playerConfig) {
		cfg.octaveOffset = offset
	}
}

func WithTempoScope(scope TempoScope) Option {
	return func(cfg *playerConfig) {
		cfg.tempoScope = scope
	}
}

func WithMasterVolume(volume float64) Option {
	return func(cfg *playerConfig) {
		cfg.masterVolume = volume
	}
}

// WithOnFinish installs a callback run when a track completes or is
// cancelled. It runs on the clock's goroutine or the canceller's.
func WithOnFinish(fn func(*GlobalTrack, FinishReason)) Option {
	return func(cfg *playerConfig) {
		cfg.onFinish = fn
	}
}

// Player owns the instrument map and plays one MIDI file at a time through
// an Emitter.
type Player struct {
	mu      sync.Mutex
	cfg     playerConfig
	logger  *log.Logger
	store   *instruments.Store
	sched   *sequencer.Scheduler
	emitter Emitter
	ticker  *clock.Ticker // nil when the clock came from WithClock
	closed  bool
}

func NewPlayer(emitter Emitter, opts ...Option) *Player {
	cfg := defaultPlayerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = log.Default()
	}

	p := &Player{
		cfg:     cfg,
		logger:  logger,
		store:   instruments.NewStore(logger),
		emitter: emitter,
	}
	clk := cfg.clock
	if clk == nil {
		p.ticker = clock.NewTicker(clock.DefaultInterval)
		clk = p.ticker
	}
	seqOpts := []sequencer.Option{
		sequencer.WithLogger(logger),
		sequencer.WithMasterVolume(cfg.masterVolume),
	}
	if cfg.onFinish != nil {
		seqOpts = append(seqOpts, sequencer.WithOnFinish(cfg.onFinish))
	}
	p.sched = sequencer.New(p.store, emitter, clk, seqOpts...)
	return p
}

// LoadMap parses r and, on success, atomically replaces the instrument map.
// On failure the previous map stays in effect.
func (p *Player) LoadMap(r io.Reader) (*ParseResult, error) {
	return p.store.Load(r)
}

func (p *Player) LoadMapFile(path string) (*ParseResult, error) {
	return p.store.LoadFile(path)
}

// LoadDefaultMap installs the bundled General MIDI mapping.
func (p *Player) LoadDefaultMap() (*ParseResult, error) {
	return p.store.LoadDefault()
}

func (p *Player) Resolve(id, octave int) (Entry, bool) {
	return p.store.Resolve(id, octave)
}

func (p *Player) decodeOptions() []midifile.Option {
	return []midifile.Option{
		midifile.WithOctaveOffset(p.cfg.octaveOffset),
		midifile.WithTempoScope(p.cfg.tempoScope),
		midifile.WithLogger(p.logger),
	}
}

func (p *Player) Decode(data []byte) NoteTrack {
	return midifile.Decode(data, p.decodeOptions()...)
}

func (p *Player) DecodeFile(path string) NoteTrack {
	return midifile.DecodeFile(path, p.decodeOptions()...)
}

// Play replaces the active track with track. The previous track never emits
// again once Play returns.
func (p *Player) Play(track NoteTrack) (*GlobalTrack, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, errors.New("player is closed")
	}
	if p.store.Current() == nil {
		p.logger.Warn("playing without an instrument map, every note will be dropped")
	}
	return p.sched.Play(track)
}

func (p *Player) PlayBytes(data []byte) (*GlobalTrack, error) {
	return p.Play(p.Decode(data))
}

func (p *Player) PlayFile(path string) (*GlobalTrack, error) {
	gt, err := p.Play(p.DecodeFile(path))
	if err != nil {
		return nil, fmt.Errorf("play %s: %w", path, err)
	}
	return gt, nil
}

// Stop cancels the active track, if any.
func (p *Player) Stop() {
	p.sched.Stop()
}

// Active returns the playing track, or nil.
func (p *Player) Active() *GlobalTrack {
	return p.sched.Active()
}

// Wait blocks until the active track finishes or is cancelled.
func (p *Player) Wait() {
	if gt := p.sched.Active(); gt != nil {
		gt.Wait()
	}
}

// Close stops playback and releases the internal ticker.
func (p *Player) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.sched.Stop()
	if p.ticker != nil {
		p.ticker.Close()
	}
}

// RequestKind selects what Dispatch does.
type RequestKind int

const (
	// RequestReload loads Path as the instrument map, or the bundled map when
	// Path is empty.
	RequestReload RequestKind = iota
	// RequestPlay stops the current track, then plays Path if it is set.
	RequestPlay
	RequestStop
	// RequestTest emits one fixed sound without touching the scheduler.
	RequestTest
)

func (k RequestKind) String() string {
	switch k {
	case RequestReload:
		return "reload"
	case RequestPlay:
		return "play"
	case RequestStop:
		return "stop"
	case RequestTest:
		return "test"
	default:
		return fmt.Sprintf("RequestKind(%d)", int(k))
	}
}

type Request struct {
	Kind RequestKind
	Path string
}

const (
	testPatch  = "piano"
	testOctave = 1
)

// Dispatch runs a host command.
func (p *Player) Dispatch(req Request) error {
	p.logger.Debug("dispatch", "kind", req.Kind, "path", req.Path)
	switch req.Kind {
	case RequestReload:
		var err error
		if req.Path == "" {
			_, err = p.LoadDefaultMap()
		} else {
			_, err = p.LoadMapFile(req.Path)
		}
		return err
	case RequestPlay:
		p.Stop()
		if req.Path == "" {
			return nil
		}
		_, err := p.PlayFile(req.Path)
		return err
	case RequestStop:
		p.Stop()
		return nil
	case RequestTest:
		p.emitter.Emit(testPatch, testOctave, 1)
		return nil
	default:
		return fmt.Errorf("%w: %v", ErrUnknownRequest, req.Kind)
	}
}
