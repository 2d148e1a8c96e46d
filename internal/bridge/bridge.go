package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// PollInterval bounds staleness when push notifications are lost.
	PollInterval time.Duration
}

func DefaultConfig() Config {
	return Config{PollInterval: 3 * time.Second}
}

// Bridge fans a change feed out to per-(table, room) subscribers. Each
// subscriber refetches on an immediate initial pass, on every matching
// push notification, and on a poll ticker. Refetching is idempotent,
// so a duplicate or spurious notification costs one read and nothing
// else.
type Bridge struct {
	feed  Feed
	clock clockwork.Clock
	cfg   Config

	mu     sync.Mutex
	nextID int
	subs   map[int]*subscription
}

type subscription struct {
	table  string
	roomID uuid.UUID
	notify chan struct{}
	cancel context.CancelFunc
}

func New(feed Feed, clock clockwork.Clock, cfg Config) *Bridge {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Bridge{
		feed:  feed,
		clock: clock,
		cfg:   cfg,
		subs:  make(map[int]*subscription),
	}
}

// Run dispatches feed notifications to subscribers until ctx is done.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case change := <-b.feed.Changes():
			b.dispatch(change)
		}
	}
}

func (b *Bridge) dispatch(change Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if sub.table != change.Table || sub.roomID != change.RoomID {
			continue
		}
		select {
		case sub.notify <- struct{}{}:
		default:
			// A nudge is already pending; one refetch covers both.
		}
	}
}

// Subscribe registers onChange for one table in one room and returns
// a cancel function. onChange runs once immediately, then on every
// push notification and poll tick, always from a single goroutine per
// subscription.
func (b *Bridge) Subscribe(table string, roomID uuid.UUID, onChange func(ctx context.Context)) (cancel func()) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	sub := &subscription{
		table:  table,
		roomID: roomID,
		notify: make(chan struct{}, 1),
		cancel: cancelCtx,
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = sub
	b.mu.Unlock()

	go b.runSubscription(ctx, sub, onChange)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			sub.cancel()
		})
	}
}

func (b *Bridge) runSubscription(ctx context.Context, sub *subscription, onChange func(ctx context.Context)) {
	ticker := b.clock.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	onChange(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.notify:
			onChange(ctx)
		case <-ticker.Chan():
			onChange(ctx)
		}
	}
}

// logRefetchErr is shared by the typed watchers: a failed refetch is
// transient, the next tick retries.
func logRefetchErr(err error, table string) {
	if err != nil {
		log.Warn().Err(err).Str("table", table).Msg("failed to refetch after change")
	}
}
