package scoreplay

import (
	"context"
	"errors"
)

// Engine is the audio collaborator the transport commands. Implementations
// live in internal/audio (ebiten synth) and internal/midiengine (MIDI out);
// tests inject fakes.
type Engine interface {
	// Init prepares the engine for playback. It must be idempotent. It may
	// fail under host autoplay restrictions; such errors wrap
	// ErrNeedsInteraction.
	Init(ctx context.Context) error
	// Now returns the engine clock reading in seconds.
	Now() float64
	// PlayNote schedules a note at an absolute engine-clock time.
	PlayNote(pitch int, durationSec float64, when float64)
	// CancelScheduled drops every pending PlayNote command.
	CancelScheduled()
	// StopAll silences currently sounding notes.
	StopAll()
	// StartTransport resets the engine's internal clock and queue for a
	// fresh playback session.
	StartTransport()
}

// ErrNeedsInteraction marks engine init failures that a user gesture would
// resolve, so the UI can say so instead of showing a generic error.
var ErrNeedsInteraction = errors.New("audio engine requires user interaction")

// Status is the transport state. Exactly one value holds at a time; it is
// the single source of truth for which commands are legal.
type Status int

const (
	StatusStopped Status = iota
	StatusPlaying
	StatusPaused
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Snapshot is the read-only transport state published to the UI layer.
type Snapshot struct {
	Status             Status
	CurrentTick        int64
	TotalDurationTicks int64
	Err                error
}

// TransportEvent carries lifecycle events from Watch().
type TransportEvent struct {
	Kind int // EventPlaybackEnded, EventLoopCompleted, or EventStopped
	Tick int64
}

const (
	EventPlaybackEnded int = iota
	EventLoopCompleted
	EventStopped
)
