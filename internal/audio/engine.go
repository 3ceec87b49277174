// Package audio is the built-in reference engine: scheduled notes rendered
// as decaying sine voices through the ebiten audio context. Its clock is the
// number of samples actually rendered, so positions derived from Now() track
// what the listener hears.
package audio

import (
	"context"
	"math"
	"sync"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

const (
	// voiceGain keeps a handful of simultaneous voices clear of clipping.
	voiceGain = 0.18
	maxVoices = 32
)

type pendingNote struct {
	pitch int
	dur   float64
	when  float64
}

type voice struct {
	phaseInc  float64
	phase     float64
	remaining int
	total     int
}

// renderer holds the note queue and active voices. It is driven by the audio
// thread through Process and by the transport through the Engine methods;
// one mutex covers both.
type renderer struct {
	mu         sync.Mutex
	sampleRate int
	samples    int64
	epoch      int64
	pending    []pendingNote
	voices     []voice
}

func (r *renderer) now() float64 {
	return float64(r.samples-r.epoch) / float64(r.sampleRate)
}

func (r *renderer) Process(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	frames := len(dst) / 2
	for f := 0; f < frames; f++ {
		if len(r.pending) > 0 {
			r.startDueLocked()
		}
		var s float64
		for i := 0; i < len(r.voices); {
			v := &r.voices[i]
			if v.remaining <= 0 {
				r.voices[i] = r.voices[len(r.voices)-1]
				r.voices = r.voices[:len(r.voices)-1]
				continue
			}
			env := float64(v.remaining) / float64(v.total)
			s += math.Sin(v.phase) * voiceGain * env
			v.phase += v.phaseInc
			v.remaining--
			i++
		}
		dst[f*2] = float32(s)
		dst[f*2+1] = float32(s)
		r.samples++
	}
}

func (r *renderer) startDueLocked() {
	now := r.now()
	kept := r.pending[:0]
	for _, p := range r.pending {
		if p.when > now {
			kept = append(kept, p)
			continue
		}
		if len(r.voices) >= maxVoices {
			continue
		}
		total := int(p.dur * float64(r.sampleRate))
		if total < 1 {
			total = 1
		}
		freq := 440.0 * math.Pow(2, float64(p.pitch-69)/12.0)
		r.voices = append(r.voices, voice{
			phaseInc:  2 * math.Pi * freq / float64(r.sampleRate),
			remaining: total,
			total:     total,
		})
	}
	r.pending = kept
}

// Engine streams rendered voices through the shared ebiten audio context.
type Engine struct {
	mu     sync.Mutex
	r      *renderer
	player *ebitaudio.Player
	inited bool
}

func New(sampleRate int) *Engine {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	return &Engine{r: &renderer{sampleRate: sampleRate}}
}

// Init opens the audio context and starts the output stream. Idempotent.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inited {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	actx, err := sharedAudioContext(e.r.sampleRate)
	if err != nil {
		return err
	}
	pl, err := actx.NewPlayerF32(NewStreamReader(e.r))
	if err != nil {
		return err
	}
	e.player = pl
	e.player.Play()
	e.inited = true
	return nil
}

// Now returns seconds of audio rendered since the last StartTransport.
func (e *Engine) Now() float64 {
	e.r.mu.Lock()
	defer e.r.mu.Unlock()
	return e.r.now()
}

// PlayNote queues a note to start at an absolute engine-clock time.
func (e *Engine) PlayNote(pitch int, durationSec float64, when float64) {
	if pitch < 0 || pitch > 127 || durationSec <= 0 {
		return
	}
	e.r.mu.Lock()
	defer e.r.mu.Unlock()
	e.r.pending = append(e.r.pending, pendingNote{pitch: pitch, dur: durationSec, when: when})
}

// CancelScheduled drops queued notes that have not started sounding.
func (e *Engine) CancelScheduled() {
	e.r.mu.Lock()
	defer e.r.mu.Unlock()
	e.r.pending = e.r.pending[:0]
}

// StopAll silences voices that are currently sounding.
func (e *Engine) StopAll() {
	e.r.mu.Lock()
	defer e.r.mu.Unlock()
	e.r.voices = e.r.voices[:0]
}

// StartTransport resets the clock epoch and clears the queue for a fresh
// session. The output stream keeps running.
func (e *Engine) StartTransport() {
	e.r.mu.Lock()
	defer e.r.mu.Unlock()
	e.r.epoch = e.r.samples
	e.r.pending = e.r.pending[:0]
	e.r.voices = e.r.voices[:0]
}

// Render generates interleaved stereo frames directly, without opening an
// audio device. Used for offline rendering and tests.
func (e *Engine) Render(dst []float32) {
	e.r.Process(dst)
}

// Close stops the output stream.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.player != nil {
		e.player.Pause()
		err := e.player.Close()
		e.player = nil
		e.inited = false
		return err
	}
	return nil
}
