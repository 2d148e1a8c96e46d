package bridge

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const natsSubjectPrefix = "wavelength.rooms."

func natsSubject(roomID uuid.UUID) string {
	return natsSubjectPrefix + roomID.String()
}

// NATSFeed receives change notifications over a NATS subject per room.
// Used when the store has no trigger-based push of its own; the
// mutation path publishes through NATSNotifier.
type NATSFeed struct {
	conn    *nats.Conn
	changes chan Change
}

// ConnectNATS dials the broker with unbounded reconnects; feed and
// notifier share the connection.
func ConnectNATS(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return conn, nil
}

func NewNATSFeed(conn *nats.Conn) *NATSFeed {
	return &NATSFeed{
		conn:    conn,
		changes: make(chan Change, 64),
	}
}

func (f *NATSFeed) Changes() <-chan Change {
	return f.changes
}

func (f *NATSFeed) Run(ctx context.Context) error {
	sub, err := f.conn.Subscribe(natsSubjectPrefix+">", func(msg *nats.Msg) {
		change, err := decodeChange(string(msg.Data))
		if err != nil {
			log.Error().Err(err).Msg("failed to decode change notification")
			return
		}
		select {
		case f.changes <- change:
		default:
			log.Warn().Str("table", change.Table).Msg("change feed backlog full, dropping notification")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to change subject: %w", err)
	}

	log.Info().Str("subject", natsSubjectPrefix+">").Msg("listening for change notifications")

	<-ctx.Done()
	log.Info().Msg("change feed shutting down")
	if err := sub.Unsubscribe(); err != nil {
		log.Warn().Err(err).Msg("failed to unsubscribe")
	}
	f.conn.Close()
	return nil
}

// NATSNotifier publishes change notifications for stores without
// trigger-driven push. Publish failures are logged, not returned; the
// mutation already committed and pollers will catch up.
type NATSNotifier struct {
	conn *nats.Conn
}

func NewNATSNotifier(conn *nats.Conn) *NATSNotifier {
	return &NATSNotifier{conn: conn}
}

func (n *NATSNotifier) Notify(ctx context.Context, table string, roomID uuid.UUID) {
	payload := encodeChange(Change{Table: table, RoomID: roomID})
	if err := n.conn.Publish(natsSubject(roomID), []byte(payload)); err != nil {
		log.Warn().Err(err).Str("table", table).Msg("failed to publish change notification")
	}
}
