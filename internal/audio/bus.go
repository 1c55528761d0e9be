package audio

import "math"

// Bus is the master stage after the voices: an optional room reverb followed
// by a peak limiter.
type Bus struct {
	room    *room
	limiter limiter
}

// NewBus builds the master stage. wet is the reverb mix in [0, 1]; zero
// disables the reverb.
func NewBus(sampleRate int, wet float64) *Bus {
	b := &Bus{limiter: newLimiter(sampleRate, -1, 20, 1, 120)}
	if wet > 0 {
		b.room = newRoom(sampleRate, 0.6, 0.78, clamp(wet, 0, 1))
	}
	return b
}

func (b *Bus) Process(x float64) float64 {
	if b.room != nil {
		x = b.room.process(x)
	}
	return b.limiter.process(x)
}

func (b *Bus) Reset() {
	if b.room != nil {
		b.room.reset()
	}
	b.limiter.env = 0
}

// limiter is a feed-forward compressor with a fast attack and a high ratio.
type limiter struct {
	threshold float64
	ratio     float64
	attack    float64
	release   float64
	env       float64
}

func newLimiter(sampleRate int, thresholdDB, ratio, attackMs, releaseMs float64) limiter {
	sr := float64(sampleRate)
	return limiter{
		threshold: math.Pow(10, thresholdDB/20),
		ratio:     ratio,
		attack:    1 - math.Exp(-1/(attackMs*sr/1000)),
		release:   1 - math.Exp(-1/(releaseMs*sr/1000)),
	}
}

func (l *limiter) process(x float64) float64 {
	a := math.Abs(x)
	if a > l.env {
		l.env += l.attack * (a - l.env)
	} else {
		l.env += l.release * (a - l.env)
	}
	if l.env <= l.threshold {
		return x
	}
	return x * math.Pow(l.env/l.threshold, 1/l.ratio-1)
}

// room is a Schroeder reverb: four parallel combs into two allpasses.
type room struct {
	combs   [4]delayLine
	allpass [2]delayLine
	wet     float64
}

type delayLine struct {
	buf []float64
	pos int
	fb  float64
}

func newRoom(sampleRate int, size, feedback, wet float64) *room {
	base := max(int(float64(sampleRate)*size*0.05), 10)
	r := &room{wet: wet}
	for i, ratio := range [4]int{1000, 1117, 1271, 1437} {
		r.combs[i] = delayLine{buf: make([]float64, base*ratio/1000), fb: clamp(feedback, 0, 0.95)}
	}
	for i, ratio := range [2]int{347, 213} {
		r.allpass[i] = delayLine{buf: make([]float64, max(base*ratio/1000, 1)), fb: 0.5}
	}
	return r
}

func (r *room) process(x float64) float64 {
	var out float64
	for i := range r.combs {
		c := &r.combs[i]
		y := c.buf[c.pos]
		c.buf[c.pos] = x + y*c.fb
		c.pos = (c.pos + 1) % len(c.buf)
		out += y
	}
	out *= 0.25
	for i := range r.allpass {
		a := &r.allpass[i]
		y := a.buf[a.pos]
		a.buf[a.pos] = out + y*a.fb
		a.pos = (a.pos + 1) % len(a.buf)
		out = y - out
	}
	return x*(1-r.wet) + out*r.wet
}

func (r *room) reset() {
	for i := range r.combs {
		clear(r.combs[i].buf)
		r.combs[i].pos = 0
	}
	for i := range r.allpass {
		clear(r.allpass[i].buf)
		r.allpass[i].pos = 0
	}
}
