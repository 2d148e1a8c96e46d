package bridge

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

type fakeFeed struct {
	changes chan Change
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{changes: make(chan Change, 16)}
}

func (f *fakeFeed) Changes() <-chan Change { return f.changes }

func (f *fakeFeed) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func waitForValue(t *testing.T, got *atomic.Int64, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got.Load() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("counter = %d, want %d", got.Load(), want)
}

func TestSubscribeRefetchesOnPush(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := newFakeFeed()
	b := New(feed, clockwork.NewFakeClock(), DefaultConfig())
	go b.Run(ctx)

	roomID := uuid.New()
	var calls atomic.Int64
	unsub := b.Subscribe(TableDials, roomID, func(context.Context) {
		calls.Add(1)
	})
	defer unsub()

	// Initial pass fires without any notification.
	waitForValue(t, &calls, 1)

	feed.changes <- Change{Table: TableDials, RoomID: roomID}
	waitForValue(t, &calls, 2)

	// Other table and other room are ignored.
	feed.changes <- Change{Table: TableRounds, RoomID: roomID}
	feed.changes <- Change{Table: TableDials, RoomID: uuid.New()}
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want still 2", calls.Load())
	}
}

func TestSubscribePollFallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := newFakeFeed()
	clock := clockwork.NewFakeClock()
	b := New(feed, clock, Config{PollInterval: 3 * time.Second})
	go b.Run(ctx)

	var calls atomic.Int64
	unsub := b.Subscribe(TableGameStates, uuid.New(), func(context.Context) {
		calls.Add(1)
	})
	defer unsub()
	waitForValue(t, &calls, 1)

	// No push arrives; the ticker still refetches.
	clock.Advance(3 * time.Second)
	waitForValue(t, &calls, 2)
}

func TestUnsubscribeStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := newFakeFeed()
	b := New(feed, clockwork.NewFakeClock(), DefaultConfig())
	go b.Run(ctx)

	roomID := uuid.New()
	var calls atomic.Int64
	unsub := b.Subscribe(TableRounds, roomID, func(context.Context) {
		calls.Add(1)
	})
	waitForValue(t, &calls, 1)

	unsub()
	unsub() // safe to call twice

	feed.changes <- Change{Table: TableRounds, RoomID: roomID}
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != 1 {
		t.Errorf("calls after unsubscribe = %d, want 1", calls.Load())
	}
}

func TestChangePayloadRoundTrip(t *testing.T) {
	roomID := uuid.New()
	payload := encodeChange(Change{Table: TableDials, RoomID: roomID})
	change, err := decodeChange(payload)
	if err != nil {
		t.Fatalf("decodeChange: %v", err)
	}
	if change.Table != TableDials || change.RoomID != roomID {
		t.Errorf("change = %+v", change)
	}

	if _, err := decodeChange("garbage"); err == nil {
		t.Error("malformed payload should fail")
	}
	if _, err := decodeChange("rounds:not-a-uuid"); err == nil {
		t.Error("bad uuid should fail")
	}
}

func TestLocalNotifierFeedsPollFeed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := NewPollFeed()
	notifier := NewLocalNotifier(feed)
	b := New(feed, clockwork.NewFakeClock(), DefaultConfig())
	go b.Run(ctx)

	roomID := uuid.New()
	var calls atomic.Int64
	unsub := b.Subscribe(TablePlayers, roomID, func(context.Context) {
		calls.Add(1)
	})
	defer unsub()
	waitForValue(t, &calls, 1)

	notifier.Notify(ctx, TablePlayers, roomID)
	waitForValue(t, &calls, 2)
}
