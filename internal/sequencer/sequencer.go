package sequencer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/cbegin/patchplay-go/internal/instruments"
	"github.com/cbegin/patchplay-go/internal/midifile"
)

// ErrTrackInvalid is returned by Play for a track in the error state.
var ErrTrackInvalid = errors.New("track is invalid")

// Resolver maps an instrument id and octave to a patch. *instruments.Store
// satisfies it, so every lookup sees the most recently published map.
type Resolver interface {
	Resolve(id, octave int) (instruments.Entry, bool)
}

// Emitter fires a single percussive sound. Implementations must not call back
// into the Scheduler.
type Emitter interface {
	Emit(patch string, octave int, volume float64)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(patch string, octave int, volume float64)

func (f EmitterFunc) Emit(patch string, octave int, volume float64) { f(patch, octave, volume) }

// FinishReason tells why a track stopped.
type FinishReason int

const (
	FinishCompleted FinishReason = iota
	FinishCancelled
)

func (r FinishReason) String() string {
	switch r {
	case FinishCompleted:
		return "completed"
	case FinishCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("FinishReason(%d)", int(r))
	}
}

type Options struct {
	Logger       *log.Logger
	OnFinish     func(*GlobalTrack, FinishReason)
	MasterVolume float64 // scales every emitted volume; 1 leaves it unchanged
}

func DefaultOptions() Options {
	return Options{MasterVolume: 1}
}

type Option func(*Options)

func WithLogger(logger *log.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithOnFinish registers a callback run once per track, after it has been
// unregistered from the clock.
func WithOnFinish(fn func(*GlobalTrack, FinishReason)) Option {
	return func(o *Options) {
		o.OnFinish = fn
	}
}

func WithMasterVolume(v float64) Option {
	return func(o *Options) {
		o.MasterVolume = max(v, 0)
	}
}

// Scheduler plays at most one GlobalTrack at a time.
type Scheduler struct {
	resolver Resolver
	emitter  Emitter
	clock    Clock
	opts     Options
	logger   *log.Logger

	nextID atomic.Uint64

	mu     sync.Mutex
	active *GlobalTrack
}

func New(resolver Resolver, emitter Emitter, clock Clock, opts ...Option) *Scheduler {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		resolver: resolver,
		emitter:  emitter,
		clock:    clock,
		opts:     o,
		logger:   logger.WithPrefix("sequencer"),
	}
}

// Play cancels the active track and starts track from time zero. When Play
// returns, the replaced track will not emit again.
func (s *Scheduler) Play(track midifile.NoteTrack) (*GlobalTrack, error) {
	if track.IsError() {
		s.logger.Error("refusing to play invalid track", "err", track.Err())
		return nil, fmt.Errorf("%w: %w", ErrTrackInvalid, track.Err())
	}

	gt := &GlobalTrack{
		id:     s.nextID.Add(1),
		sched:  s,
		frames: track.Frames(),
		done:   make(chan struct{}),
	}
	gt.active.Store(true)

	s.mu.Lock()
	old := s.active
	s.active = gt
	s.mu.Unlock()
	old.Cancel()

	s.logger.Info("playing", "track", gt.id, "frames", len(gt.frames), "duration", track.Duration())
	gt.attach(s.clock.Register(gt.Tick))
	return gt, nil
}

// Cancel stops gt. It is safe to call with nil or more than once.
func (s *Scheduler) Cancel(gt *GlobalTrack) {
	gt.Cancel()
}

// Stop cancels the active track, if any.
func (s *Scheduler) Stop() {
	s.Active().Cancel()
}

// Active returns the playing track or nil.
func (s *Scheduler) Active() *GlobalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Scheduler) detach(gt *GlobalTrack) {
	s.mu.Lock()
	if s.active == gt {
		s.active = nil
	}
	s.mu.Unlock()
}

func (s *Scheduler) emit(gt *GlobalTrack, f midifile.NoteFrame) {
	entry, ok := s.resolver.Resolve(f.Instrument, f.Octave)
	if !ok {
		gt.misses.Add(1)
		s.logger.Debug("no patch for frame", "track", gt.id, "instrument", f.Instrument, "octave", f.Octave)
		return
	}
	s.emitter.Emit(entry.Patch, f.Octave, entry.Volume*f.Velocity*s.opts.MasterVolume)
}

// GlobalTrack is one playback of a NoteTrack.
type GlobalTrack struct {
	id     uint64
	sched  *Scheduler
	frames []midifile.NoteFrame

	// mu is held for the whole of a tick; Cancel takes it to wait one out.
	mu     sync.Mutex
	cursor int
	active atomic.Bool

	played atomic.Int64
	misses atomic.Int64

	regMu      sync.Mutex
	handle     Handle
	registered bool
	released   bool

	reason FinishReason
	done   chan struct{}
}

func (gt *GlobalTrack) ID() uint64 { return gt.id }

func (gt *GlobalTrack) IsActive() bool { return gt.active.Load() }

// Progress returns how many frames have been consumed and the total.
func (gt *GlobalTrack) Progress() (played, total int) {
	return int(gt.played.Load()), len(gt.frames)
}

// Misses counts frames dropped because no patch resolved.
func (gt *GlobalTrack) Misses() int { return int(gt.misses.Load()) }

func (gt *GlobalTrack) Duration() time.Duration {
	if len(gt.frames) == 0 {
		return 0
	}
	return gt.frames[len(gt.frames)-1].Offset()
}

// Done is closed once the track has finished or been cancelled.
func (gt *GlobalTrack) Done() <-chan struct{} { return gt.done }

func (gt *GlobalTrack) Wait() { <-gt.done }

// Reason is valid after Done is closed.
func (gt *GlobalTrack) Reason() FinishReason {
	<-gt.done
	return gt.reason
}

// Tick emits every frame due at elapsed, measured from the start of the
// track. Ticks for the same track never overlap.
func (gt *GlobalTrack) Tick(elapsed time.Duration) {
	if gt.advance(elapsed) {
		gt.release(FinishCompleted)
	}
}

func (gt *GlobalTrack) advance(elapsed time.Duration) bool {
	gt.mu.Lock()
	defer gt.mu.Unlock()

	now := float64(elapsed) / float64(time.Millisecond)
	for gt.cursor < len(gt.frames) {
		if !gt.active.Load() {
			return false
		}
		f := gt.frames[gt.cursor]
		if f.Millis > now {
			return false
		}
		gt.cursor++
		gt.played.Add(1)
		gt.sched.emit(gt, f)
	}
	return gt.active.CompareAndSwap(true, false)
}

// Cancel marks the track inactive and waits for an in-flight tick to return.
func (gt *GlobalTrack) Cancel() {
	if gt == nil {
		return
	}
	wasActive := gt.active.Swap(false)
	gt.mu.Lock()
	// Empty section: only waits out a running tick.
	gt.mu.Unlock()
	if wasActive {
		gt.release(FinishCancelled)
	}
}

func (gt *GlobalTrack) attach(h Handle) {
	gt.regMu.Lock()
	if gt.released {
		gt.regMu.Unlock()
		gt.sched.clock.Unregister(h)
		return
	}
	gt.handle = h
	gt.registered = true
	gt.regMu.Unlock()
}

// release runs exactly once per track, by whoever flipped the active flag.
func (gt *GlobalTrack) release(reason FinishReason) {
	gt.regMu.Lock()
	gt.released = true
	h, ok := gt.handle, gt.registered
	gt.registered = false
	gt.regMu.Unlock()
	if ok {
		gt.sched.clock.Unregister(h)
	}
	gt.sched.detach(gt)

	gt.reason = reason
	close(gt.done)

	played, total := gt.Progress()
	gt.sched.logger.Info("track finished", "track", gt.id, "reason", reason, "played", played, "total", total, "misses", gt.Misses())
	if fn := gt.sched.opts.OnFinish; fn != nil {
		fn(gt, reason)
	}
}
