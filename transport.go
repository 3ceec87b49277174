// Package scoreplay drives score playback for practice sessions: a
// play/pause/stop/seek state machine over an injected audio engine, with a
// pinned start position, an optional loop region, and a tempo multiplier
// independent of the score's nominal tempo.
package scoreplay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cbegin/scoreplay-go/internal/schedule"
	"github.com/cbegin/scoreplay-go/internal/timeconv"
	"github.com/cbegin/scoreplay-go/score"
)

const (
	minMultiplier = 0.5
	maxMultiplier = 2.0
)

type Option func(*config)

type config struct {
	frameInterval  time.Duration
	uiSyncInterval time.Duration
	endBuffer      time.Duration
}

func defaultConfig() config {
	return config{
		frameInterval:  time.Second / 60,
		uiSyncInterval: 100 * time.Millisecond,
		endBuffer:      100 * time.Millisecond,
	}
}

// WithFrameInterval sets how often the position broadcaster runs while
// playing.
func WithFrameInterval(d time.Duration) Option {
	return func(cfg *config) {
		if d > 0 {
			cfg.frameInterval = d
		}
	}
}

// WithUISyncInterval sets the throttle for snapshot updates: positions are
// pushed to Updates() only when playback has advanced by this much
// wall-clock-equivalent time.
func WithUISyncInterval(d time.Duration) Option {
	return func(cfg *config) {
		if d > 0 {
			cfg.uiSyncInterval = d
		}
	}
}

// WithEndBuffer pads the natural-end timer past the last note's end.
func WithEndBuffer(d time.Duration) Option {
	return func(cfg *config) {
		if d >= 0 {
			cfg.endBuffer = d
		}
	}
}

// Transport owns all playback state for one score session. All commands are
// safe for concurrent use; internal frame callbacks carry a generation
// number so a callback queued before a cancel can never overwrite freshly
// reset state.
type Transport struct {
	mu     sync.Mutex
	engine Engine
	sched  *schedule.Scheduler
	cfg    config

	notes      []score.Note
	tempoBPM   float64
	totalTicks int64

	status      Status
	currentTick int64
	pinned      bool
	pinnedTick  int64
	loopSet     bool
	loopEndTick int64
	multiplier  float64
	lastErr     error

	// Per-play session state. gen increments at every cancel point; the
	// frame loop and end timer capture it and bail out if it moved on.
	gen         uint64
	startTick   int64
	anchor      float64
	uiTickDelta int64
	lastUITick  int64
	frameStop   chan struct{}
	endTimer    *time.Timer

	fastTick atomic.Int64
	updates  chan Snapshot

	done      chan struct{}
	eventCh   chan TransportEvent
	eventChMu sync.Mutex
}

// NewTransport builds a transport for the given engine and score. The score
// is read-only to the transport; swap it with SetScore.
func NewTransport(engine Engine, sc *score.Score, opts ...Option) (*Transport, error) {
	if engine == nil {
		return nil, errors.New("engine must not be nil")
	}
	if sc == nil {
		return nil, errors.New("score must not be nil")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	t := &Transport{
		engine:     engine,
		sched:      schedule.New(engine),
		cfg:        cfg,
		notes:      sc.Notes,
		tempoBPM:   sc.TempoBPM,
		totalTicks: sc.DurationTicks(),
		multiplier: 1,
		updates:    make(chan Snapshot, 1),
	}
	return t, nil
}

// Play starts or resumes playback. Legal from Stopped or Paused; a no-op
// while already Playing. The one-time engine init is awaited here; on init
// failure the transport is reset to Stopped at tick 0 and the error is
// surfaced in snapshots.
func (t *Transport) Play(ctx context.Context) error {
	t.mu.Lock()
	if t.status == StatusPlaying {
		t.mu.Unlock()
		return nil
	}
	// The start tick is resolved before engine init completes so a rapid
	// second command cannot make this play observe a stale position.
	start := t.resolveStartTickLocked()
	t.cancelPlaybackLocked()
	gen := t.gen
	t.mu.Unlock()

	if err := t.engine.Init(ctx); err != nil {
		t.failInit(err)
		if errors.Is(err, ErrNeedsInteraction) {
			return fmt.Errorf("playback blocked, interact with the app first: %w", err)
		}
		return fmt.Errorf("audio init: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen {
		// Another command ran while init was in flight; it owns the state.
		return nil
	}
	if t.done == nil {
		// Wait() observers stay blocked across pause/resume; the channel
		// closes only on a natural end, Stop, or ResetPlayback.
		t.done = make(chan struct{})
	}

	t.engine.StartTransport()
	t.sched.ScheduleNotes(t.notes, t.tempoBPM, start, t.multiplier)
	t.status = StatusPlaying
	t.lastErr = nil
	t.beginSessionLocked(gen, start)
	if !t.loopActiveLocked() {
		t.armEndTimerLocked(gen, start)
	}
	t.pushUILocked()
	return nil
}

// Pause freezes the current position. Legal only from Playing; a no-op
// otherwise.
func (t *Transport) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusPlaying {
		return
	}
	// Same elapsed-time formula the broadcaster uses, so pause and frame
	// positions never drift apart.
	tick := t.playingTickLocked()
	t.cancelPlaybackLocked()
	t.sched.ClearSchedule()
	t.currentTick = tick
	t.fastTick.Store(tick)
	t.status = StatusPaused
	t.pushUILocked()
}

// Stop halts playback and returns to the pinned start, or tick 0 when no pin
// is set. A no-op when already Stopped.
func (t *Transport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusStopped {
		return
	}
	t.stopLocked(EventStopped)
}

// SeekToTick relocates the position. Legal in any state; while Playing it
// halts audio and demotes to Paused. The pinned start is never touched:
// seek-and-resume must not relocate the user's saved return point.
func (t *Transport) SeekToTick(tick int64) {
	if tick < 0 {
		tick = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusPlaying {
		t.cancelPlaybackLocked()
		t.sched.ClearSchedule()
		t.engine.StopAll()
		t.status = StatusPaused
	}
	t.currentTick = tick
	t.fastTick.Store(tick)
	t.pushUILocked()
}

// SetPinnedStart pins the position Play and Stop resolve to. Only the
// explicit pin gesture mutates pin state.
func (t *Transport) SetPinnedStart(tick int64) {
	if tick < 0 {
		tick = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pinned = true
	t.pinnedTick = tick
	t.syncEndTimerLocked()
}

// UnpinStartTick clears the pinned start and, when Stopped, returns the
// position to tick 0.
func (t *Transport) UnpinStartTick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pinned = false
	t.pinnedTick = 0
	if t.status == StatusStopped {
		t.currentTick = 0
		t.fastTick.Store(0)
		t.pushUILocked()
	}
	t.syncEndTimerLocked()
}

// SetLoopEnd arms the loop region ending at tick. The implicit loop start is
// the pinned start, or 0 when no pin is set.
func (t *Transport) SetLoopEnd(tick int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loopSet = true
	t.loopEndTick = tick
	t.syncEndTimerLocked()
}

// ClearLoopEnd disarms the loop region.
func (t *Transport) ClearLoopEnd() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loopSet = false
	t.loopEndTick = 0
	t.syncEndTimerLocked()
}

// ResetPlayback is the unconditional hard reset used when the score changes:
// no pin, no loop, tick 0, Stopped. Legal from any state.
func (t *Transport) ResetPlayback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelPlaybackLocked()
	t.sched.ClearSchedule()
	t.engine.StopAll()
	t.pinned = false
	t.pinnedTick = 0
	t.loopSet = false
	t.loopEndTick = 0
	t.currentTick = 0
	t.fastTick.Store(0)
	t.status = StatusStopped
	t.lastErr = nil
	t.signalDoneLocked()
	t.pushUILocked()
}

// SetScore hard-resets the transport and installs a new score.
func (t *Transport) SetScore(sc *score.Score) {
	if sc == nil {
		return
	}
	t.ResetPlayback()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notes = sc.Notes
	t.tempoBPM = sc.TempoBPM
	t.totalTicks = sc.DurationTicks()
	t.pushUILocked()
}

// SetTempoMultiplier sets the practice-speed scalar, clamped to [0.5, 2.0].
// While Playing, the schedule and the natural-end timer are re-derived from
// the current position so the change applies immediately.
func (t *Transport) SetTempoMultiplier(m float64) {
	if m < minMultiplier {
		m = minMultiplier
	}
	if m > maxMultiplier {
		m = maxMultiplier
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusPlaying {
		t.multiplier = m
		return
	}
	tick := t.playingTickLocked()
	t.multiplier = m
	t.sched.ClearSchedule()
	t.sched.ScheduleNotes(t.notes, t.tempoBPM, tick, t.multiplier)
	t.rebaseLocked(tick)
	t.syncEndTimerLocked()
}

// TempoMultiplier returns the current practice-speed scalar.
func (t *Transport) TempoMultiplier() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.multiplier
}

// PinnedStart reports the pinned start tick, if one is set.
func (t *Transport) PinnedStart() (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pinnedTick, t.pinned
}

// LoopEnd reports the loop end tick, if a loop region is armed.
func (t *Transport) LoopEnd() (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loopEndTick, t.loopSet
}

// CurrentTick reads the fast position store. It is updated every broadcaster
// frame and is safe to read from any goroutine at any rate.
func (t *Transport) CurrentTick() int64 {
	return t.fastTick.Load()
}

// Snapshot returns the throttled UI state.
func (t *Transport) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Updates returns the throttled snapshot channel. The channel has capacity
// one and drops updates when the receiver lags; read CurrentTick for
// latency-sensitive consumers instead.
func (t *Transport) Updates() <-chan Snapshot {
	return t.updates
}

// Watch returns a channel receiving transport lifecycle events. The channel
// is buffered (cap 8); events are dropped rather than block playback. Only
// the most recent Watch channel receives events.
func (t *Transport) Watch() <-chan TransportEvent {
	ch := make(chan TransportEvent, 8)
	t.eventChMu.Lock()
	t.eventCh = ch
	t.eventChMu.Unlock()
	return ch
}

// Wait blocks until the current playback ends, is stopped, or is reset. It
// returns immediately if nothing is playing.
func (t *Transport) Wait() {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done != nil {
		<-done
	}
}

// resolveStartTickLocked picks the tick Play schedules from: the pinned
// start wins; at tick 0 the earliest note wins (skips leading silence);
// otherwise the current position.
func (t *Transport) resolveStartTickLocked() int64 {
	if t.pinned {
		return t.pinnedTick
	}
	if t.currentTick == 0 {
		if first, ok := firstNoteTick(t.notes); ok {
			return first
		}
	}
	return t.currentTick
}

// cancelPlaybackLocked invalidates all outstanding callbacks before any
// dependent state is rewritten. Every command that rewrites position or
// status calls this first.
func (t *Transport) cancelPlaybackLocked() {
	t.gen++
	if t.frameStop != nil {
		close(t.frameStop)
		t.frameStop = nil
	}
	if t.endTimer != nil {
		t.endTimer.Stop()
		t.endTimer = nil
	}
}

// playingTickLocked derives the current tick from the wall-clock anchor.
// Ticks are always recomputed from the anchor, never accumulated, so frame
// jitter cannot drift the position.
func (t *Transport) playingTickLocked() int64 {
	elapsed := t.engine.Now() - t.anchor
	if elapsed < 0 {
		elapsed = 0
	}
	delta := timeconv.SecondsToTicks(elapsed, t.tempoBPM) * t.multiplier
	return t.startTick + int64(delta)
}

func (t *Transport) loopStartLocked() int64 {
	if t.pinned {
		return t.pinnedTick
	}
	return 0
}

func (t *Transport) loopActiveLocked() bool {
	return t.loopSet && t.loopEndTick > t.loopStartLocked()
}

// syncEndTimerLocked reconciles the natural-end timer with the loop region
// after a live mutation. An active loop wraps instead of ending, so the timer
// is disarmed; otherwise the remaining duration is re-derived from the
// current position. A no-op unless Playing.
func (t *Transport) syncEndTimerLocked() {
	if t.status != StatusPlaying {
		return
	}
	if t.endTimer != nil {
		t.endTimer.Stop()
		t.endTimer = nil
	}
	if !t.loopActiveLocked() {
		t.armEndTimerLocked(t.gen, t.playingTickLocked())
	}
}

// rebaseLocked re-anchors tick derivation at the given tick and the engine's
// current clock.
func (t *Transport) rebaseLocked(tick int64) {
	t.startTick = tick
	t.anchor = t.engine.Now()
	t.currentTick = tick
	t.fastTick.Store(tick)
	t.lastUITick = tick
	t.uiTickDelta = int64(timeconv.SecondsToTicks(t.cfg.uiSyncInterval.Seconds(), t.tempoBPM) * t.multiplier)
}

func (t *Transport) stopLocked(eventKind int) {
	t.cancelPlaybackLocked()
	t.sched.ClearSchedule()
	t.engine.StopAll()
	tick := int64(0)
	if t.pinned {
		tick = t.pinnedTick
	}
	t.currentTick = tick
	t.fastTick.Store(tick)
	t.status = StatusStopped
	t.signalDoneLocked()
	t.pushUILocked()
	t.sendEvent(TransportEvent{Kind: eventKind, Tick: tick})
}

func (t *Transport) failInit(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelPlaybackLocked()
	t.status = StatusStopped
	t.currentTick = 0
	t.fastTick.Store(0)
	t.lastErr = err
	t.signalDoneLocked()
	t.pushUILocked()
}

func (t *Transport) signalDoneLocked() {
	if t.done != nil {
		close(t.done)
		t.done = nil
	}
}

func (t *Transport) snapshotLocked() Snapshot {
	return Snapshot{
		Status:             t.status,
		CurrentTick:        t.currentTick,
		TotalDurationTicks: t.totalTicks,
		Err:                t.lastErr,
	}
}

// pushUILocked publishes the current snapshot without blocking. The channel
// holds the latest value; a lagging receiver just misses intermediate
// positions.
func (t *Transport) pushUILocked() {
	snap := t.snapshotLocked()
	select {
	case t.updates <- snap:
	default:
		select {
		case <-t.updates:
		default:
		}
		select {
		case t.updates <- snap:
		default:
		}
	}
}

func (t *Transport) sendEvent(ev TransportEvent) {
	t.eventChMu.Lock()
	ch := t.eventCh
	t.eventChMu.Unlock()
	if ch != nil {
		select {
		case ch <- ev:
		default:
			// Channel full; drop event.
		}
	}
}

func firstNoteTick(notes []score.Note) (int64, bool) {
	if len(notes) == 0 {
		return 0, false
	}
	first := notes[0].StartTick
	for _, n := range notes[1:] {
		if n.StartTick < first {
			first = n.StartTick
		}
	}
	return first, true
}
