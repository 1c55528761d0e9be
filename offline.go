package patchplay

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"time"

	"github.com/charmbracelet/log"

	intaudio "github.com/cbegin/patchplay-go/internal/audio"
	"github.com/cbegin/patchplay-go/internal/sequencer"
)

// renderStep is the tick length used for offline rendering.
const renderStep = 10 * time.Millisecond

// RenderSamples plays track against the current instrument map on a private
// clock and returns interleaved stereo samples, followed by tail of decay.
// It does not disturb the active track.
func (p *Player) RenderSamples(track NoteTrack, sampleRate int, tail time.Duration) ([]float32, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	params := intaudio.DefaultMixerParams()
	params.OctaveOffset = p.cfg.octaveOffset
	mixer := intaudio.NewMixer(sampleRate, params)
	clk := sequencer.NewManualClock()
	sched := sequencer.New(p.store, mixer, clk,
		sequencer.WithLogger(log.New(io.Discard)),
		sequencer.WithMasterVolume(p.cfg.masterVolume),
	)
	gt, err := sched.Play(track)
	if err != nil {
		return nil, err
	}

	stepFrames := int(float64(sampleRate) * renderStep.Seconds())
	var out []float32
	render := func() {
		buf := make([]float32, stepFrames*2)
		mixer.Process(buf)
		out = append(out, buf...)
	}

	clk.Advance(0)
	for gt.IsActive() {
		render()
		clk.Advance(renderStep)
	}
	for rendered := time.Duration(0); rendered <= tail; rendered += renderStep {
		render()
	}
	return out, nil
}

// RenderWAV renders track as a 32-bit float stereo WAV file.
func (p *Player) RenderWAV(track NoteTrack, sampleRate int, tail time.Duration) ([]byte, error) {
	samples, err := p.RenderSamples(track, sampleRate, tail)
	if err != nil {
		return nil, err
	}
	return EncodeWAVFloat32LE(samples, sampleRate, 2), nil
}

func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4
	chunkSize := 36 + dataSize
	out := make([]byte, 44+dataSize)
	copy(out[0:], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(chunkSize))
	copy(out[8:], "WAVE")
	copy(out[12:], "fmt ")
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3) // IEEE float
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], "data")
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}
