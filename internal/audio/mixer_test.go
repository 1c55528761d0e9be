package audio

import (
	"encoding/binary"
	"io"
	"math"
	"testing"
)

func energy(buf []float32) float64 {
	var e float64
	for _, s := range buf {
		e += math.Abs(float64(s))
	}
	return e
}

func TestMixerSilentWithoutVoices(t *testing.T) {
	m := NewMixer(48000, DefaultMixerParams())
	buf := make([]float32, 4096)
	m.Process(buf)
	if energy(buf) != 0 {
		t.Fatalf("expected silence")
	}
}

func TestMixerEmitProducesDecayingSound(t *testing.T) {
	params := DefaultMixerParams()
	params.DecaySec = 0.05
	m := NewMixer(48000, params)
	m.Emit("piano", 4, 0.8)
	if m.ActiveVoices() != 1 {
		t.Fatalf("expected one voice, got %d", m.ActiveVoices())
	}

	head := make([]float32, 48000/50*2)
	m.Process(head)
	if energy(head) == 0 {
		t.Fatalf("expected non-zero audio energy")
	}
	for _, s := range head {
		if s > 1 || s < -1 {
			t.Fatalf("sample out of range: %v", s)
		}
	}

	tail := make([]float32, 48000*2)
	m.Process(tail)
	if m.ActiveVoices() != 0 {
		t.Fatalf("voice should have decayed, %d still active", m.ActiveVoices())
	}
}

func TestMixerIgnoresSilentEmit(t *testing.T) {
	m := NewMixer(48000, DefaultMixerParams())
	m.Emit("bell", 4, 0)
	if m.ActiveVoices() != 0 {
		t.Fatalf("zero volume must not start a voice")
	}
}

func TestMixerStealsOldestVoice(t *testing.T) {
	params := DefaultMixerParams()
	params.Voices = 2
	m := NewMixer(48000, params)
	for _, patch := range []string{"sine", "square", "saw"} {
		m.Emit(patch, 4, 1)
		m.Process(make([]float32, 64))
	}
	if m.ActiveVoices() != 2 {
		t.Fatalf("voice cap not honoured: %d", m.ActiveVoices())
	}
	waves := map[Waveform]bool{}
	for _, v := range m.voices {
		waves[v.wave] = true
	}
	if waves[WaveSine] || !waves[WaveSquare] || !waves[WaveSaw] {
		t.Fatalf("expected the sine voice to be stolen, have %v", waves)
	}
}

func TestWaveformFor(t *testing.T) {
	cases := map[string]Waveform{
		"sine":  WaveSine,
		"BELL":  WaveBell,
		"pulse": WavePulse,
		"noise": WaveNoise,
	}
	for name, want := range cases {
		if got := WaveformFor(name); got != want {
			t.Fatalf("WaveformFor(%q) = %v, want %v", name, got, want)
		}
	}
	if WaveformFor("harpsichord") != WaveformFor("harpsichord") {
		t.Fatalf("unknown patches must map deterministically")
	}
	if w := WaveformFor("harpsichord"); w < 0 || w >= waveCount {
		t.Fatalf("hashed waveform out of range: %d", w)
	}
}

func TestNoteFrequency(t *testing.T) {
	if f := NoteFrequency(4, 1); math.Abs(f-261.6256) > 0.001 {
		t.Fatalf("octave 4 should be middle C, got %v", f)
	}
	if f := NoteFrequency(5, 1) / NoteFrequency(4, 1); math.Abs(f-2) > 1e-9 {
		t.Fatalf("octaves should double the frequency, ratio %v", f)
	}
}

type finiteSource struct {
	calls int
	limit int
}

func (s *finiteSource) Process(dst []float32) {
	s.calls++
	for i := range dst {
		dst[i] = 0.5
	}
}

func (s *finiteSource) Finished() bool { return s.calls >= s.limit }

func TestStreamReaderEncodesFloat32(t *testing.T) {
	src := &finiteSource{limit: 2}
	r := NewStreamReader(src)
	p := make([]byte, 8*4+3)
	n, err := r.Read(p)
	if err != nil || n != 32 {
		t.Fatalf("read = %d, %v", n, err)
	}
	if got := math.Float32frombits(binary.LittleEndian.Uint32(p[4:])); got != 0.5 {
		t.Fatalf("sample = %v, want 0.5", got)
	}
	if _, err := r.Read(p); err != io.EOF {
		t.Fatalf("expected EOF once the source finishes, got %v", err)
	}
	_ = r.Close()
	if n, err := r.Read(p); n != 0 || err != io.EOF {
		t.Fatalf("closed reader should return EOF")
	}
}
