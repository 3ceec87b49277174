package scoreplay

import (
	"testing"
	"time"
)

func currentGen(tr *Transport) uint64 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.gen
}

func drainUpdates(tr *Transport) {
	for {
		select {
		case <-tr.Updates():
		default:
			return
		}
	}
}

func TestFrameAdvancesFastPosition(t *testing.T) {
	eng := &fakeEngine{}
	tr := newTestTransport(t, eng, testScore(t, 120, [3]int64{60, 0, 3840}))
	mustPlay(t, tr)

	eng.advance(0.25)
	stepFrame(tr)
	if got := tr.CurrentTick(); got != 480 {
		t.Fatalf("tick after 0.25s = %d, want 480", got)
	}
	eng.advance(0.25)
	stepFrame(tr)
	if got := tr.CurrentTick(); got != 960 {
		t.Fatalf("tick after 0.5s = %d, want 960", got)
	}
}

func TestFrameAppliesTempoMultiplier(t *testing.T) {
	eng := &fakeEngine{}
	tr := newTestTransport(t, eng, testScore(t, 120, [3]int64{60, 0, 3840}))
	tr.SetTempoMultiplier(2)
	mustPlay(t, tr)

	eng.advance(0.25)
	stepFrame(tr)
	if got := tr.CurrentTick(); got != 960 {
		t.Fatalf("tick after 0.25s at 2x = %d, want 960", got)
	}
}

func TestStaleFrameDiscarded(t *testing.T) {
	eng := &fakeEngine{}
	tr := newTestTransport(t, eng, testScore(t, 120, [3]int64{60, 0, 960}, [3]int64{62, 960, 960}))
	mustPlay(t, tr)
	eng.advance(10) // far past the score's end
	stale := currentGen(tr)
	tr.Stop()

	// A frame queued before the stop must discard its computed value.
	tr.frame(stale)
	if got := tr.CurrentTick(); got != 0 {
		t.Fatalf("stale frame overwrote reset tick: %d, want 0", got)
	}

	// Replay must resolve a fresh start tick, not one past the score end.
	before := len(eng.playedNotes())
	mustPlay(t, tr)
	if got := len(eng.playedNotes()) - before; got != 2 {
		t.Fatalf("replay scheduled %d notes, want 2", got)
	}
}

func TestFrameAfterPauseIsDiscarded(t *testing.T) {
	eng := &fakeEngine{}
	tr := newTestTransport(t, eng, testScore(t, 120, [3]int64{60, 0, 3840}))
	mustPlay(t, tr)
	eng.advance(0.25)
	stale := currentGen(tr)
	tr.Pause()
	eng.advance(5)
	tr.frame(stale)
	if got := tr.Snapshot().CurrentTick; got != 480 {
		t.Fatalf("tick moved after pause: %d, want frozen 480", got)
	}
}

func TestLoopWraparound(t *testing.T) {
	eng := &fakeEngine{}
	tr := newTestTransport(t, eng, testScore(t, 120, [3]int64{60, 0, 960}, [3]int64{62, 960, 960}))
	tr.SetLoopEnd(1920)
	ch := tr.Watch()
	mustPlay(t, tr)

	eng.advance(1.1) // candidate tick 2112, past the loop end
	stepFrame(tr)

	if got := tr.CurrentTick(); got != 0 {
		t.Fatalf("tick after wrap = %d, want loop start 0", got)
	}
	if eng.transports != 2 {
		t.Fatalf("transports = %d, want 2 (play + wrap restart)", eng.transports)
	}
	select {
	case ev := <-ch:
		if ev.Kind != EventLoopCompleted || ev.Tick != 0 {
			t.Fatalf("event = %+v, want loop completed at 0", ev)
		}
	default:
		t.Fatal("expected a loop-completed event")
	}
	if got := tr.Snapshot().Status; got != StatusPlaying {
		t.Fatalf("status after wrap = %v, want playing", got)
	}
}

func TestLoopWrapsToPinnedStart(t *testing.T) {
	eng := &fakeEngine{}
	tr := newTestTransport(t, eng, testScore(t, 120,
		[3]int64{60, 0, 960}, [3]int64{62, 960, 960}, [3]int64{64, 1920, 960}))
	tr.SetPinnedStart(960)
	tr.SetLoopEnd(2880)
	mustPlay(t, tr)

	before := len(eng.playedNotes())
	eng.advance(1.05) // from 960: candidate 2976 >= 2880
	stepFrame(tr)

	if got := tr.CurrentTick(); got != 960 {
		t.Fatalf("tick after wrap = %d, want pinned 960", got)
	}
	wrapped := eng.playedNotes()[before:]
	if len(wrapped) != 2 || wrapped[0].pitch != 62 {
		t.Fatalf("wrap rescheduled %+v, want notes from tick 960", wrapped)
	}
}

func TestLoopNeverPublishesOutOfRangeTick(t *testing.T) {
	eng := &fakeEngine{}
	tr := newTestTransport(t, eng, testScore(t, 120, [3]int64{60, 0, 1920}))
	tr.SetLoopEnd(960)
	mustPlay(t, tr)
	drainUpdates(tr)

	eng.advance(3) // far past the loop end
	stepFrame(tr)
	if got := tr.CurrentTick(); got >= 960 {
		t.Fatalf("published tick %d, must stay below loop end 960", got)
	}
	select {
	case snap := <-tr.Updates():
		if snap.CurrentTick >= 960 {
			t.Fatalf("UI saw out-of-range tick %d", snap.CurrentTick)
		}
	default:
		t.Fatal("wrap must publish the loop-start tick to the UI")
	}
}

func TestUISyncThrottled(t *testing.T) {
	eng := &fakeEngine{}
	tr := newTestTransport(t, eng, testScore(t, 120, [3]int64{60, 0, 38400}))
	mustPlay(t, tr)
	drainUpdates(tr)

	// 100ms at 120 BPM is 192 ticks; 0.05s advances only 96.
	eng.advance(0.05)
	stepFrame(tr)
	select {
	case snap := <-tr.Updates():
		t.Fatalf("got throttled update %+v after a sub-threshold advance", snap)
	default:
	}
	if got := tr.CurrentTick(); got != 96 {
		t.Fatalf("fast store = %d, want 96 even when the UI is not synced", got)
	}

	eng.advance(0.1)
	stepFrame(tr)
	select {
	case snap := <-tr.Updates():
		if snap.CurrentTick != 288 {
			t.Fatalf("UI update tick = %d, want 288", snap.CurrentTick)
		}
	default:
		t.Fatal("expected a UI update past the throttle threshold")
	}
}

func TestNaturalEndStopsAndPreservesPin(t *testing.T) {
	eng := &fakeEngine{}
	tr := newTestTransport(t, eng, testScore(t, 120, [3]int64{60, 0, 960}, [3]int64{62, 960, 960}))
	tr.SetPinnedStart(960)
	ch := tr.Watch()
	mustPlay(t, tr)
	eng.advance(2)

	tr.onNaturalEnd(currentGen(tr))

	snap := tr.Snapshot()
	if snap.Status != StatusStopped || snap.CurrentTick != 0 {
		t.Fatalf("after natural end: %+v, want stopped at 0", snap)
	}
	if _, pinned := tr.PinnedStart(); !pinned {
		t.Fatal("pin must survive a natural end")
	}
	select {
	case ev := <-ch:
		if ev.Kind != EventPlaybackEnded {
			t.Fatalf("event kind = %d, want playback ended", ev.Kind)
		}
	default:
		t.Fatal("expected a playback-ended event")
	}

	// Replay resumes at the pin.
	before := len(eng.playedNotes())
	mustPlay(t, tr)
	resumed := eng.playedNotes()[before:]
	if len(resumed) != 1 || resumed[0].pitch != 62 {
		t.Fatalf("replay scheduled %+v, want only the note at the pin", resumed)
	}
}

func TestNaturalEndAfterStopIsIgnored(t *testing.T) {
	eng := &fakeEngine{}
	tr := newTestTransport(t, eng, testScore(t, 120, [3]int64{60, 0, 960}))
	mustPlay(t, tr)
	stale := currentGen(tr)
	tr.SetPinnedStart(480)
	tr.Stop() // tick now rests at the pin

	tr.onNaturalEnd(stale)
	if got := tr.Snapshot().CurrentTick; got != 480 {
		t.Fatalf("stale end timer rewrote tick to %d, want 480", got)
	}
}

func TestNaturalEndTimerFires(t *testing.T) {
	eng := &fakeEngine{}
	// One very short note so the real timer fires quickly.
	sc := testScore(t, 120, [3]int64{60, 0, 96})
	tr, err := NewTransport(eng, sc, WithFrameInterval(time.Hour), WithEndBuffer(10*time.Millisecond))
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	ch := tr.Watch()
	mustPlay(t, tr)

	select {
	case ev := <-ch:
		if ev.Kind != EventPlaybackEnded {
			t.Fatalf("event kind = %d, want playback ended", ev.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("natural-end timer never fired")
	}
	if got := tr.Snapshot().Status; got != StatusStopped {
		t.Fatalf("status = %v, want stopped", got)
	}
}

func TestNoEndTimerWhileLoopActive(t *testing.T) {
	eng := &fakeEngine{}
	tr := newTestTransport(t, eng, testScore(t, 120, [3]int64{60, 0, 960}))
	tr.SetLoopEnd(960)
	mustPlay(t, tr)
	tr.mu.Lock()
	armed := tr.endTimer != nil
	tr.mu.Unlock()
	if armed {
		t.Fatal("end timer must not arm while a loop region is active")
	}

	// Clearing the loop mid-play arms it.
	tr.ClearLoopEnd()
	tr.mu.Lock()
	armed = tr.endTimer != nil
	tr.mu.Unlock()
	if !armed {
		t.Fatal("clearing the loop while playing must arm the end timer")
	}
}

func TestSetLoopEndWhilePlayingDisarmsEndTimer(t *testing.T) {
	eng := &fakeEngine{}
	tr := newTestTransport(t, eng, testScore(t, 120, [3]int64{60, 0, 960}))
	mustPlay(t, tr)
	tr.mu.Lock()
	armed := tr.endTimer != nil
	tr.mu.Unlock()
	if !armed {
		t.Fatal("end timer must arm on a loopless play")
	}

	tr.SetLoopEnd(480)
	tr.mu.Lock()
	armed = tr.endTimer != nil
	tr.mu.Unlock()
	if armed {
		t.Fatal("arming a loop while playing must disarm the end timer")
	}

	// Reaching the loop end now wraps instead of stopping.
	eng.advance(1.5) // tick 1440 at 120 BPM, past the 480 loop end
	stepFrame(tr)
	if got := tr.Snapshot().Status; got != StatusPlaying {
		t.Fatalf("status = %v, want playing", got)
	}
	if got := tr.CurrentTick(); got != 0 {
		t.Fatalf("tick after wrap = %d, want 0", got)
	}
}

func TestPinMutationWhilePlayingSyncsEndTimer(t *testing.T) {
	eng := &fakeEngine{}
	tr := newTestTransport(t, eng, testScore(t, 120, [3]int64{60, 0, 960}))
	tr.SetLoopEnd(960)
	mustPlay(t, tr)

	// Pinning past the loop end deactivates the loop; without an end timer
	// the transport would advance past the score forever.
	tr.SetPinnedStart(2000)
	tr.mu.Lock()
	armed := tr.endTimer != nil
	tr.mu.Unlock()
	if !armed {
		t.Fatal("deactivating the loop via the pin must arm the end timer")
	}

	// Unpinning reactivates the loop, so the timer goes away again.
	tr.UnpinStartTick()
	tr.mu.Lock()
	armed = tr.endTimer != nil
	tr.mu.Unlock()
	if armed {
		t.Fatal("reactivating the loop must disarm the end timer")
	}
}
