package scoreplay

import (
	"encoding/binary"
	"math"

	"github.com/cbegin/scoreplay-go/internal/audio"
	"github.com/cbegin/scoreplay-go/internal/schedule"
	"github.com/cbegin/scoreplay-go/internal/timeconv"
	"github.com/cbegin/scoreplay-go/score"
)

// RenderScore renders a whole score offline through the built-in synth,
// without opening an audio device. multiplier scales playback speed the same
// way the live transport does; values outside [0.5, 2.0] are clamped.
func RenderScore(sc *score.Score, sampleRate int, multiplier float64) []float32 {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	if multiplier < minMultiplier {
		multiplier = minMultiplier
	}
	if multiplier > maxMultiplier {
		multiplier = maxMultiplier
	}
	engine := audio.New(sampleRate)
	sched := schedule.New(engine)
	sched.ScheduleNotes(sc.Notes, sc.TempoBPM, 0, multiplier)

	seconds := timeconv.TicksToSeconds(float64(sc.DurationTicks()), sc.TempoBPM) / multiplier
	// Pad past the last note's end so the duration floor on short final
	// notes is not clipped.
	frames := int(seconds*float64(sampleRate)) + sampleRate/10
	out := make([]float32, frames*2)
	engine.Render(out)
	return out
}

// EncodeWAVFloat32LE wraps interleaved float32 samples in a WAV container.
func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4
	chunkSize := 36 + dataSize
	out := make([]byte, 44+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(chunkSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}
