package audio

import (
	"hash/fnv"
	"math"
	"strings"
	"sync"
)

const twoPi = math.Pi * 2

// Waveform is the oscillator shape of a voice.
type Waveform int

const (
	WaveSine Waveform = iota
	WaveSquare
	WavePulse
	WaveTriangle
	WaveSaw
	WaveNoise
	WaveBell
	waveCount
)

var waveNames = map[string]Waveform{
	"sine":     WaveSine,
	"square":   WaveSquare,
	"pulse":    WavePulse,
	"triangle": WaveTriangle,
	"saw":      WaveSaw,
	"noise":    WaveNoise,
	"bell":     WaveBell,
}

func (w Waveform) String() string {
	for name, v := range waveNames {
		if v == w {
			return name
		}
	}
	return "unknown"
}

// WaveformFor picks the oscillator for a patch name. Unknown names always map
// to the same waveform.
func WaveformFor(patch string) Waveform {
	name := strings.ToLower(patch)
	if w, ok := waveNames[name]; ok {
		return w
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return Waveform(h.Sum32() % uint32(waveCount))
}

// NoteFrequency returns the frequency of the C in octave, where MIDI key
// (octave+offset)*12 is that C.
func NoteFrequency(octave, offset int) float64 {
	return midiToFreq((octave + offset) * 12)
}

func midiToFreq(note int) float64 {
	return 440 * math.Pow(2, float64(note-69)/12)
}

type MixerParams struct {
	Voices       int
	MasterGain   float64
	AttackSec    float64
	DecaySec     float64 // time for a voice to fall to -60 dB
	PulseDuty    float64
	OctaveOffset int
	Reverb       float64 // wet mix, 0 for a dry signal
}

func DefaultMixerParams() MixerParams {
	return MixerParams{
		Voices:       16,
		MasterGain:   0.3,
		AttackSec:    0.002,
		DecaySec:     0.6,
		PulseDuty:    0.25,
		OctaveOffset: 1,
	}
}

type voice struct {
	active    bool
	age       int
	wave      Waveform
	freq      float64
	phase     float64
	phase2    float64
	level     float64
	env       float64
	attacking bool
	noiseLFSR uint16
}

// Mixer turns emitted patches into one-shot percussive voices. It is both the
// scheduler's emitter and the audio stream's sample source.
type Mixer struct {
	mu         sync.Mutex
	sampleRate float64
	params     MixerParams
	voices     []voice
	decayCoef  float64
	attackStep float64
	dcPrevIn   float64
	dcPrevOut  float64
	bus        *Bus
}

func NewMixer(sampleRate int, params MixerParams) *Mixer {
	if params.Voices <= 0 {
		params.Voices = 16
	}
	if params.DecaySec <= 0 {
		params.DecaySec = DefaultMixerParams().DecaySec
	}
	sr := float64(sampleRate)
	m := &Mixer{
		sampleRate: sr,
		params:     params,
		voices:     make([]voice, params.Voices),
		// -60 dB after DecaySec.
		decayCoef:  math.Exp(-math.Log(1000) / (params.DecaySec * sr)),
		attackStep: 1,
		bus:        NewBus(sampleRate, params.Reverb),
	}
	if params.AttackSec > 0 {
		m.attackStep = 1 / (params.AttackSec * sr)
	}
	for i := range m.voices {
		m.voices[i].noiseLFSR = uint16(0xACE1 + i*97)
	}
	return m
}

// Emit starts a voice for patch at the C of octave.
func (m *Mixer) Emit(patch string, octave int, volume float64) {
	if volume <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v := &m.voices[m.stealVoice()]
	v.active = true
	v.age = 0
	v.wave = WaveformFor(patch)
	v.freq = min(NoteFrequency(octave, m.params.OctaveOffset), m.sampleRate/2)
	v.phase = 0
	v.phase2 = 0
	v.level = min(volume, 1)
	v.env = 0
	v.attacking = true
	if v.noiseLFSR == 0 {
		v.noiseLFSR = 0xACE1
	}
}

// Process fills dst with interleaved stereo frames.
func (m *Mixer) Process(dst []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i+1 < len(dst); i += 2 {
		s := float32(clamp(m.renderFrame(), -1, 1))
		dst[i] = s
		dst[i+1] = s
	}
}

func (m *Mixer) renderFrame() float64 {
	var out float64
	for i := range m.voices {
		v := &m.voices[i]
		if !v.active {
			continue
		}
		v.age++
		if v.attacking {
			v.env += m.attackStep
			if v.env >= 1 {
				v.env = 1
				v.attacking = false
			}
		} else {
			v.env *= m.decayCoef
			if v.env < 0.0001 {
				v.active = false
				continue
			}
		}
		out += m.renderWave(v) * v.env * v.level
	}
	return m.bus.Process(m.dcBlock(out * m.params.MasterGain))
}

func (m *Mixer) dcBlock(x float64) float64 {
	const r = 0.995
	y := x - m.dcPrevIn + r*m.dcPrevOut
	m.dcPrevIn = x
	m.dcPrevOut = y
	return y
}

// polyBLEP reduces aliasing at waveform discontinuities.
func polyBLEP(t, dt float64) float64 {
	if t < dt {
		t /= dt
		return t + t - t*t - 1
	}
	if t > 1-dt {
		t = (t - 1) / dt
		return t*t + t + t + 1
	}
	return 0
}

func (m *Mixer) renderWave(v *voice) float64 {
	dt := v.freq / m.sampleRate
	v.phase += dt
	if v.phase >= 1 {
		v.phase -= 1
	}
	switch v.wave {
	case WaveSine:
		return math.Sin(twoPi * v.phase)
	case WaveSquare:
		return pulse(v.phase, dt, 0.5)
	case WavePulse:
		return pulse(v.phase, dt, m.params.PulseDuty)
	case WaveTriangle:
		return 2*math.Abs(2*v.phase-1) - 1
	case WaveSaw:
		return 2*v.phase - 1 - polyBLEP(v.phase, dt)
	case WaveNoise:
		if v.phase < dt {
			bit := (v.noiseLFSR ^ (v.noiseLFSR >> 1)) & 1
			v.noiseLFSR = (v.noiseLFSR >> 1) | (bit << 15)
		}
		if v.noiseLFSR&1 == 1 {
			return 1
		}
		return -1
	case WaveBell:
		// Inharmonic second partial, fading faster than the fundamental.
		v.phase2 += dt * 2.76
		if v.phase2 >= 1 {
			v.phase2 -= 1
		}
		return 0.65*math.Sin(twoPi*v.phase) + 0.35*v.env*math.Sin(twoPi*v.phase2)
	default:
		return 0
	}
}

func pulse(phase, dt, duty float64) float64 {
	out := -1.0
	if phase < duty {
		out = 1
	}
	out += polyBLEP(phase, dt)
	out -= polyBLEP(math.Mod(phase-duty+1, 1), dt)
	return out
}

func (m *Mixer) stealVoice() int {
	oldest, oldestAge := 0, -1
	for i := range m.voices {
		if !m.voices[i].active {
			return i
		}
		if m.voices[i].age > oldestAge {
			oldest, oldestAge = i, m.voices[i].age
		}
	}
	return oldest
}

// ActiveVoices returns the number of voices still sounding.
func (m *Mixer) ActiveVoices() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for i := range m.voices {
		if m.voices[i].active {
			n++
		}
	}
	return n
}

func (m *Mixer) SetMasterGain(gain float64) {
	m.mu.Lock()
	m.params.MasterGain = max(gain, 0)
	m.mu.Unlock()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
