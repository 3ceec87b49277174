// Package schedule turns a note list into absolute-time play commands for an
// audio engine.
package schedule

import (
	"github.com/cbegin/scoreplay-go/internal/timeconv"
	"github.com/cbegin/scoreplay-go/score"
)

// Engine is the slice of the audio engine the scheduler needs. The scheduler
// holds no audio state itself; cancellation of pending commands is the
// engine's job.
type Engine interface {
	Now() float64
	PlayNote(pitch int, durationSec float64, when float64)
	CancelScheduled()
}

// MinNoteDuration floors scheduled durations so extremely short notes
// (ornaments, near-zero authored durations) stay audible.
const MinNoteDuration = 0.05

type Scheduler struct {
	engine Engine
}

func New(engine Engine) *Scheduler {
	return &Scheduler{engine: engine}
}

// ScheduleNotes issues one PlayNote per note at or after startTick. Offsets
// are relative to the engine clock at call time; the tempo multiplier scales
// both offsets and durations after the tick conversion. A multiplier <= 0 is
// treated as 1.
func (s *Scheduler) ScheduleNotes(notes []score.Note, tempoBPM float64, startTick int64, multiplier float64) {
	if multiplier <= 0 {
		multiplier = 1
	}
	now := s.engine.Now()
	for _, n := range notes {
		if n.StartTick < startTick {
			continue
		}
		offset := timeconv.TicksToSeconds(float64(n.StartTick-startTick), tempoBPM) / multiplier
		dur := timeconv.TicksToSeconds(float64(n.DurationTick), tempoBPM) / multiplier
		if dur < MinNoteDuration {
			dur = MinNoteDuration
		}
		s.engine.PlayNote(n.Pitch, dur, now+offset)
	}
}

// ClearSchedule cancels every pending command issued since the last
// ScheduleNotes or ClearSchedule. Safe to call with nothing scheduled.
func (s *Scheduler) ClearSchedule() {
	s.engine.CancelScheduled()
}
