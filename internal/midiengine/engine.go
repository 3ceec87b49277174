// Package midiengine adapts a MIDI output port to the transport's engine
// interface, for practicing against an external synth. Scheduled notes
// become timer-driven NoteOn/NoteOff pairs; the engine clock is wall time
// since the last transport start.
package midiengine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

const defaultVelocity = 96

type Engine struct {
	mu       sync.Mutex
	portName string
	channel  uint8
	send     func(msg midi.Message) error
	out      drivers.Out
	ownsPort bool
	epoch    time.Time
	inited   bool

	nextID    int
	pendingOn map[int]*time.Timer
	offTimers map[int]*time.Timer
	sounding  map[int]uint8 // off-timer id -> pitch
}

// New builds an engine that opens the named MIDI output port on Init. An
// empty name picks the first available port.
func New(portName string) *Engine {
	return &Engine{
		portName:  portName,
		pendingOn: map[int]*time.Timer{},
		offTimers: map[int]*time.Timer{},
		sounding:  map[int]uint8{},
	}
}

// NewWithSender bypasses port discovery and writes messages through send.
// Used by tests and by callers that manage ports themselves.
func NewWithSender(send func(msg midi.Message) error) *Engine {
	e := New("")
	e.send = send
	e.inited = true
	e.epoch = time.Now()
	return e
}

// ListPorts names the available MIDI output ports.
func ListPorts() []string {
	outs := midi.GetOutPorts()
	names := make([]string, len(outs))
	for i, out := range outs {
		names[i] = out.String()
	}
	return names
}

// Init opens the output port. Idempotent.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inited {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	out, err := findPort(e.portName)
	if err != nil {
		return err
	}
	send, err := midi.SendTo(out)
	if err != nil {
		return fmt.Errorf("open midi port %s: %w", out.String(), err)
	}
	e.out = out
	e.ownsPort = true
	e.send = send
	e.epoch = time.Now()
	e.inited = true
	return nil
}

func findPort(name string) (drivers.Out, error) {
	outs := midi.GetOutPorts()
	if len(outs) == 0 {
		return nil, fmt.Errorf("no midi output ports available")
	}
	if name == "" {
		return outs[0], nil
	}
	for _, out := range outs {
		if strings.Contains(strings.ToLower(out.String()), strings.ToLower(name)) {
			return out, nil
		}
	}
	return nil, fmt.Errorf("no midi output port matches %q", name)
}

// Now returns seconds since the last transport start.
func (e *Engine) Now() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return time.Since(e.epoch).Seconds()
}

// PlayNote arms a NoteOn timer at the absolute engine-clock time, and a
// NoteOff after the duration.
func (e *Engine) PlayNote(pitch int, durationSec float64, when float64) {
	if pitch < 0 || pitch > 127 || durationSec <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.send == nil {
		return
	}
	delay := time.Duration((when - time.Since(e.epoch).Seconds()) * float64(time.Second))
	if delay < 0 {
		delay = 0
	}
	id := e.nextID
	e.nextID++
	e.pendingOn[id] = time.AfterFunc(delay, func() {
		e.fireNoteOn(id, uint8(pitch), durationSec)
	})
}

func (e *Engine) fireNoteOn(id int, pitch uint8, durationSec float64) {
	e.mu.Lock()
	if _, ok := e.pendingOn[id]; !ok {
		// Cancelled while the timer was firing.
		e.mu.Unlock()
		return
	}
	delete(e.pendingOn, id)
	send := e.send
	offID := e.nextID
	e.nextID++
	e.sounding[offID] = pitch
	e.offTimers[offID] = time.AfterFunc(time.Duration(durationSec*float64(time.Second)), func() {
		e.fireNoteOff(offID)
	})
	e.mu.Unlock()
	_ = send(midi.NoteOn(e.channel, pitch, defaultVelocity))
}

func (e *Engine) fireNoteOff(id int) {
	e.mu.Lock()
	pitch, ok := e.sounding[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.sounding, id)
	delete(e.offTimers, id)
	send := e.send
	e.mu.Unlock()
	_ = send(midi.NoteOff(e.channel, pitch))
}

// CancelScheduled stops NoteOn timers that have not fired. Sounding notes
// keep their NoteOff timers so nothing hangs.
func (e *Engine) CancelScheduled() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, timer := range e.pendingOn {
		timer.Stop()
		delete(e.pendingOn, id)
	}
}

// StopAll sends an immediate NoteOff for every sounding note.
func (e *Engine) StopAll() {
	e.mu.Lock()
	send := e.send
	var pitches []uint8
	for id, pitch := range e.sounding {
		pitches = append(pitches, pitch)
		if timer, ok := e.offTimers[id]; ok {
			timer.Stop()
			delete(e.offTimers, id)
		}
		delete(e.sounding, id)
	}
	e.mu.Unlock()
	if send == nil {
		return
	}
	for _, p := range pitches {
		_ = send(midi.NoteOff(e.channel, p))
	}
}

// StartTransport resets the clock epoch and drops the pending queue.
func (e *Engine) StartTransport() {
	e.CancelScheduled()
	e.StopAll()
	e.mu.Lock()
	e.epoch = time.Now()
	e.mu.Unlock()
}

// Close silences everything and releases the MIDI driver.
func (e *Engine) Close() {
	e.CancelScheduled()
	e.StopAll()
	e.mu.Lock()
	owns := e.ownsPort
	e.inited = false
	e.send = nil
	e.mu.Unlock()
	if owns {
		midi.CloseDriver()
	}
}
