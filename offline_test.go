package scoreplay

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/cbegin/scoreplay-go/score"
)

func sampleEnergy(samples []float32) float64 {
	var sum float64
	for _, s := range samples {
		sum += math.Abs(float64(s))
	}
	return sum
}

func TestRenderScoreProducesAudio(t *testing.T) {
	samples := RenderScore(score.CMajorScale(), 48000, 1)
	if sampleEnergy(samples) == 0 {
		t.Fatal("expected non-zero audio energy")
	}
}

func TestRenderScoreMultiplierShortensOutput(t *testing.T) {
	sc := score.CMajorScale()
	normal := RenderScore(sc, 48000, 1)
	fast := RenderScore(sc, 48000, 2)
	if len(fast) >= len(normal) {
		t.Fatalf("2x render has %d samples, want fewer than %d", len(fast), len(normal))
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 0.25}
	wav := EncodeWAVFloat32LE(samples, 48000, 2)
	if len(wav) != 44+len(samples)*4 {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(samples)*4)
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE markers")
	}
	if got := binary.LittleEndian.Uint32(wav[24:]); got != 48000 {
		t.Fatalf("sample rate = %d, want 48000", got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:]); got != 2 {
		t.Fatalf("channels = %d, want 2", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:]); got != uint32(len(samples)*4) {
		t.Fatalf("data size = %d, want %d", got, len(samples)*4)
	}
}
