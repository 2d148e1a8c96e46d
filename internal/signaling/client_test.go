package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/partywave/wavelength/internal/models"
	"github.com/partywave/wavelength/internal/store/memstore"
)

type recorder struct {
	mu      sync.Mutex
	signals []models.Signal
}

func (r *recorder) handle(signal models.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, signal)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.signals)
}

func (r *recorder) get(i int) models.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.signals[i]
}

func waitForCount(t *testing.T, r *recorder, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.count() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("received %d signals, want %d", r.count(), want)
}

func TestSubscribeDrainsBacklogAndNudges(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	roomID := uuid.New()

	alice := NewClient(st, "peer-alice", clockwork.NewFakeClock(), DefaultConfig())
	bob := NewClient(st, "peer-bob", clockwork.NewFakeClock(), DefaultConfig())

	// Queued before Bob subscribes; the initial drain must deliver it.
	to := "peer-bob"
	if err := alice.Send(ctx, roomID, &to, models.SignalOffer, json.RawMessage(`{"sdp":"x"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	rec := &recorder{}
	bob.Subscribe(roomID, rec.handle)
	defer bob.Unsubscribe()
	waitForCount(t, rec, 1)

	if got := rec.get(0); got.Type != models.SignalOffer || got.FromPeerID != "peer-alice" {
		t.Errorf("got signal %+v, want alice's offer", got)
	}

	// A later message arrives on the nudge instead of a poll tick.
	if err := alice.Send(ctx, roomID, &to, models.SignalICECandidate, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	bob.Nudge()
	waitForCount(t, rec, 2)
}

func TestConsumeExactlyOnce(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	roomID := uuid.New()
	clock := clockwork.NewFakeClock()

	alice := NewClient(st, "peer-alice", clock, DefaultConfig())
	bob := NewClient(st, "peer-bob", clockwork.NewFakeClock(), DefaultConfig())

	to := "peer-bob"
	if err := alice.Send(ctx, roomID, &to, models.SignalOffer, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	rec := &recorder{}
	bob.Subscribe(roomID, rec.handle)
	defer bob.Unsubscribe()
	waitForCount(t, rec, 1)

	// Repeated nudges must not redeliver the consumed message.
	bob.Nudge()
	time.Sleep(50 * time.Millisecond)
	if rec.count() != 1 {
		t.Errorf("received %d signals after renudge, want still 1", rec.count())
	}
}

func TestDirectedDelivery(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	roomID := uuid.New()

	alice := NewClient(st, "peer-alice", clockwork.NewFakeClock(), DefaultConfig())
	bob := NewClient(st, "peer-bob", clockwork.NewFakeClock(), DefaultConfig())
	carol := NewClient(st, "peer-carol", clockwork.NewFakeClock(), DefaultConfig())

	bobRec, carolRec := &recorder{}, &recorder{}
	bob.Subscribe(roomID, bobRec.handle)
	carol.Subscribe(roomID, carolRec.handle)
	defer bob.Unsubscribe()
	defer carol.Unsubscribe()

	toBob, toCarol := "peer-bob", "peer-carol"
	if err := alice.Send(ctx, roomID, &toBob, models.SignalOffer, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := alice.Send(ctx, roomID, &toCarol, models.SignalOffer, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	bob.Nudge()
	carol.Nudge()
	waitForCount(t, bobRec, 1)
	waitForCount(t, carolRec, 1)

	// Neither consumed the other's message.
	time.Sleep(50 * time.Millisecond)
	if bobRec.count() != 1 || carolRec.count() != 1 {
		t.Errorf("counts = %d/%d, want 1/1", bobRec.count(), carolRec.count())
	}
}
