package receiver

import (
	"testing"
	"time"

	"github.com/pulsewire/pulsewire/internal/audio"
	"github.com/pulsewire/pulsewire/internal/bufpool"
	"github.com/pulsewire/pulsewire/internal/pulseerr"
)

func newFreshSession(t *testing.T, latencyFloor int) (*Session, *bufpool.Pool) {
	t.Helper()
	pool := bufpool.New(64)
	sess, err := NewSession(1, SessionConfig{
		Mask:            audio.ChannelMono,
		FrameSamples:    2,
		SampleRate:      8000,
		ReorderCapacity: 8,
		LatencyFloor:    latencyFloor,
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	return sess, pool
}

func TestSessionStartsInCreatedState(t *testing.T) {
	sess, _ := newFreshSession(t, 0)
	if sess.state != StateCreated {
		t.Fatalf("expected initial state Created, got %v", sess.state)
	}
}

func TestSessionTouchTransitionsStalledBackToActive(t *testing.T) {
	sess, _ := newFreshSession(t, 0)
	sess.state = StateStalled
	sess.touch()
	if sess.state != StateActive {
		t.Fatalf("expected touch() to move a Stalled session to Active, got %v", sess.state)
	}
}

func TestSessionCloseMarksDestroyed(t *testing.T) {
	sess, _ := newFreshSession(t, 0)
	sess.Close()
	if sess.state != StateDestroyed {
		t.Fatalf("expected Close() to mark the session Destroyed, got %v", sess.state)
	}
}

func TestSessionAcceptSourceWithoutFECGoesStraightToReorderQueue(t *testing.T) {
	sess, pool := newFreshSession(t, 0)
	p := mkAudioPacket(pool, 1, 0, 0, []float32{0, 0})
	if err := sess.AcceptSource(p); err != nil {
		t.Fatalf("AcceptSource failed: %v", err)
	}
	if sess.reorder.Len() != 1 {
		t.Fatalf("expected packet to land in the reorder queue, len=%d", sess.reorder.Len())
	}
}

func TestSessionPullPlayoutReportsNotWarmedBeforeLatencyFloorIsMet(t *testing.T) {
	sess, pool := newFreshSession(t, 100) // large D: never warms from a single packet
	p := mkAudioPacket(pool, 1, 0, 0, []float32{1, 1})
	if err := sess.AcceptSource(p); err != nil {
		t.Fatalf("AcceptSource failed: %v", err)
	}

	f, err := sess.PullPlayout(2)
	if err != nil {
		t.Fatalf("PullPlayout failed: %v", err)
	}
	if sess.state == StateActive {
		t.Fatal("expected session to remain non-Active while still warming")
	}
	_ = f
}

func TestSessionAcceptSourceReturnsExhaustedWhenReorderQueueIsFull(t *testing.T) {
	pool := bufpool.New(64)
	sess, err := NewSession(1, SessionConfig{
		Mask:            audio.ChannelMono,
		FrameSamples:    2,
		SampleRate:      8000,
		ReorderCapacity: 1,
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	if err := sess.AcceptSource(mkAudioPacket(pool, 1, 0, 0, []float32{0, 0})); err != nil {
		t.Fatalf("first AcceptSource should fill the one-deep queue without error: %v", err)
	}

	err = sess.AcceptSource(mkAudioPacket(pool, 1, 2, 2, []float32{1, 1}))
	if err == nil {
		t.Fatal("expected an error once the reorder queue is full")
	}
	if cat, found := pulseerr.CategoryOf(err); !found || cat != pulseerr.Exhausted {
		t.Fatalf("expected a pulseerr.Exhausted-categorized error, got category %v (found=%v)", cat, found)
	}
}

func TestSessionWallClockMapsFirstPacketTimestampToItsArrivalTime(t *testing.T) {
	sess, _ := newFreshSession(t, 0)
	if got := sess.WallClock(0); !got.IsZero() {
		t.Fatalf("expected zero time before any packet observed, got %v", got)
	}

	sess.recordClockOrigin(1000)
	before := time.Now()
	wc := sess.WallClock(1000)
	if wc.Before(before.Add(-time.Second)) || wc.After(before.Add(time.Second)) {
		t.Fatalf("expected WallClock(originTS) to be near recordClockOrigin's call time, got %v vs %v", wc, before)
	}

	// One second of samples later (rate 8000) should map ~1s forward.
	wc2 := sess.WallClock(1000 + 8000)
	if d := wc2.Sub(wc); d < 900*time.Millisecond || d > 1100*time.Millisecond {
		t.Fatalf("expected ~1s advance for 8000 ticks at 8000Hz, got %v", d)
	}
}

func TestSessionIDIsStableAcrossCalls(t *testing.T) {
	sess, _ := newFreshSession(t, 0)
	id1 := sess.ID()
	id2 := sess.ID()
	if id1 == "" || id1 != id2 {
		t.Fatalf("expected a stable non-empty session id, got %q then %q", id1, id2)
	}
}
