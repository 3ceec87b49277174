// Package score holds the immutable note data the playback transport reads.
// A score is supplied once per practice session and never mutated by the
// transport; swapping scores goes through Transport.SetScore.
package score

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// Note is a single pitched event at 960 PPQ resolution.
type Note struct {
	ID           uuid.UUID `json:"id"`
	Pitch        int       `json:"pitch"`
	StartTick    int64     `json:"startTick"`
	DurationTick int64     `json:"durationTick"`
}

// NewNote validates and builds a note with a fresh identity.
func NewNote(pitch int, startTick, durationTick int64) (Note, error) {
	if pitch < 0 || pitch > 127 {
		return Note{}, fmt.Errorf("pitch %d out of MIDI range 0-127", pitch)
	}
	if startTick < 0 {
		return Note{}, fmt.Errorf("startTick %d must be >= 0", startTick)
	}
	if durationTick < 0 {
		return Note{}, fmt.Errorf("durationTick %d must be >= 0", durationTick)
	}
	return Note{
		ID:           uuid.New(),
		Pitch:        pitch,
		StartTick:    startTick,
		DurationTick: durationTick,
	}, nil
}

// EndTick returns the tick at which the note stops sounding.
func (n Note) EndTick() int64 {
	return n.StartTick + n.DurationTick
}

// Score is a titled note list with a nominal tempo. The nominal tempo is what
// the UI displays; effective playback speed is the transport's tempo
// multiplier applied on top of it.
type Score struct {
	Title    string  `json:"title"`
	TempoBPM float64 `json:"tempoBpm"`
	Notes    []Note  `json:"notes"`
}

// DurationTicks returns max(note end tick) over all notes, or 0 for an empty
// score.
func (s *Score) DurationTicks() int64 {
	var max int64
	for _, n := range s.Notes {
		if end := n.EndTick(); end > max {
			max = end
		}
	}
	return max
}

// FirstNoteTick returns the start tick of the earliest note. ok is false when
// the score has no notes.
func (s *Score) FirstNoteTick() (tick int64, ok bool) {
	if len(s.Notes) == 0 {
		return 0, false
	}
	first := s.Notes[0].StartTick
	for _, n := range s.Notes[1:] {
		if n.StartTick < first {
			first = n.StartTick
		}
	}
	return first, true
}

// Load reads a score from a JSON file.
func Load(path string) (*Score, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Score
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse score %s: %w", path, err)
	}
	if len(s.Notes) == 0 {
		return nil, errors.New("score has no notes")
	}
	for i, n := range s.Notes {
		if n.Pitch < 0 || n.Pitch > 127 || n.StartTick < 0 || n.DurationTick < 0 {
			return nil, fmt.Errorf("score note %d is invalid", i)
		}
	}
	return &s, nil
}

// Save writes the score as indented JSON.
func (s *Score) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// CMajorScale builds the demo score: one octave up and down in quarter
// notes.
func CMajorScale() *Score {
	pitches := []int{60, 62, 64, 65, 67, 69, 71, 72, 71, 69, 67, 65, 64, 62, 60}
	s := &Score{Title: "C major scale", TempoBPM: 120}
	for i, p := range pitches {
		n, _ := NewNote(p, int64(i)*960, 960)
		s.Notes = append(s.Notes, n)
	}
	return s
}
