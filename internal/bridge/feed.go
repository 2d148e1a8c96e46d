// Package bridge keeps local session state converged with the store.
// A push feed announces which table changed for which room; watchers
// refetch on push and on a poll ticker, so updates flow fast when push
// works and still arrive when it does not.
package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Table names carried in change notifications.
const (
	TableRooms      = "game_rooms"
	TablePlayers    = "players"
	TableGameStates = "game_state"
	TableRounds     = "rounds"
	TableDials      = "dial_updates"
	TableSignaling  = "signaling"
)

// Change identifies a mutated table scoped to one room. It carries no
// row data; consumers refetch, which keeps delivery loss harmless.
type Change struct {
	Table  string
	RoomID uuid.UUID
}

// Feed is a stream of change notifications. Delivery is best effort;
// the bridge's poll fallback covers gaps.
type Feed interface {
	// Run pumps notifications into Changes until ctx is done.
	Run(ctx context.Context) error
	Changes() <-chan Change
}

// Notifier publishes a change notification after a store mutation.
// The Postgres feed is fed by triggers and needs no publisher side;
// other feeds are fed through this.
type Notifier interface {
	Notify(ctx context.Context, table string, roomID uuid.UUID)
}

// NoopNotifier is the publisher used with trigger-driven feeds.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, string, uuid.UUID) {}

// PollFeed is a feed that never pushes; watchers run purely on their
// poll tickers. Used with in-memory storage where there is no shared
// push channel to receive from.
type PollFeed struct {
	changes chan Change
}

func NewPollFeed() *PollFeed {
	return &PollFeed{changes: make(chan Change, 64)}
}

func (f *PollFeed) Changes() <-chan Change { return f.changes }

func (f *PollFeed) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// LocalNotifier feeds a PollFeed directly, turning same-process
// mutations into immediate pushes. Used with in-memory storage.
type LocalNotifier struct {
	feed *PollFeed
}

func NewLocalNotifier(feed *PollFeed) *LocalNotifier {
	return &LocalNotifier{feed: feed}
}

func (n *LocalNotifier) Notify(ctx context.Context, table string, roomID uuid.UUID) {
	select {
	case n.feed.changes <- Change{Table: table, RoomID: roomID}:
	case <-ctx.Done():
	default:
	}
}

// encodeChange and decodeChange fix the wire form shared by the feeds:
// "table:room_id".
func encodeChange(c Change) string {
	return c.Table + ":" + c.RoomID.String()
}

func decodeChange(payload string) (Change, error) {
	table, id, ok := strings.Cut(payload, ":")
	if !ok {
		return Change{}, fmt.Errorf("malformed change payload %q", payload)
	}
	roomID, err := uuid.Parse(id)
	if err != nil {
		return Change{}, fmt.Errorf("malformed room id in change payload %q: %w", payload, err)
	}
	return Change{Table: table, RoomID: roomID}, nil
}
