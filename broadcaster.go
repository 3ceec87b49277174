package scoreplay

import (
	"time"

	"github.com/cbegin/scoreplay-go/internal/timeconv"
)

// The position broadcaster is a per-frame callback active only while
// Playing. Each frame derives the tick from the engine clock and the anchor
// captured at Play, wraps the loop region, writes the fast position store,
// and occasionally syncs the throttled UI snapshot.

// beginSessionLocked anchors tick derivation at start and launches the frame
// loop. Exactly one loop runs per session: Play cancels any previous handle
// before calling this.
func (t *Transport) beginSessionLocked(gen uint64, start int64) {
	t.rebaseLocked(start)
	stop := make(chan struct{})
	t.frameStop = stop
	go t.frameLoop(gen, stop)
}

func (t *Transport) frameLoop(gen uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(t.cfg.frameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.frame(gen)
		}
	}
}

func (t *Transport) frame(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	// Stale-frame guard: a frame queued before a stop or natural end must
	// discard its value, not overwrite the just-reset position. Without
	// this, a resumed Play would resolve a start tick past the score's end
	// and schedule nothing.
	if t.gen != gen || t.status != StatusPlaying {
		return
	}
	candidate := t.playingTickLocked()
	if t.loopActiveLocked() && candidate >= t.loopEndTick {
		t.wrapLoopLocked()
		return
	}
	t.currentTick = candidate
	t.fastTick.Store(candidate)
	if candidate-t.lastUITick >= t.uiTickDelta {
		t.lastUITick = candidate
		t.pushUILocked()
	}
}

// wrapLoopLocked jumps back to the loop start as one atomic reschedule. The
// out-of-range candidate tick is never published, not even through the
// throttled path.
func (t *Transport) wrapLoopLocked() {
	start := t.loopStartLocked()
	t.sched.ClearSchedule()
	t.engine.StartTransport()
	t.sched.ScheduleNotes(t.notes, t.tempoBPM, start, t.multiplier)
	t.rebaseLocked(start)
	t.pushUILocked()
	t.sendEvent(TransportEvent{Kind: EventLoopCompleted, Tick: start})
}

// armEndTimerLocked schedules the natural end for the remaining duration
// from start to the last note's end, scaled by the tempo multiplier, plus a
// small buffer.
func (t *Transport) armEndTimerLocked(gen uint64, start int64) {
	remain := timeconv.TicksToSeconds(float64(t.totalTicks-start), t.tempoBPM) / t.multiplier
	if remain < 0 {
		remain = 0
	}
	d := time.Duration(remain*float64(time.Second)) + t.cfg.endBuffer
	t.endTimer = time.AfterFunc(d, func() {
		t.onNaturalEnd(gen)
	})
}

func (t *Transport) onNaturalEnd(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen || t.status != StatusPlaying {
		return
	}
	// Cancel the frame loop before any state is rewritten, same guard
	// discipline as the commands.
	t.cancelPlaybackLocked()
	t.sched.ClearSchedule()
	t.engine.StopAll()
	t.currentTick = 0
	t.fastTick.Store(0)
	t.status = StatusStopped
	// The pinned start survives a natural end; the next Play resolves to
	// the pin even though the displayed position rests at 0.
	t.signalDoneLocked()
	t.pushUILocked()
	t.sendEvent(TransportEvent{Kind: EventPlaybackEnded})
}
