package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type PGFeedConfig struct {
	DatabaseURL   string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel string        // Channel name to LISTEN on
	PingInterval  time.Duration // Keepalive for the listener connection
}

func DefaultPGFeedConfig() PGFeedConfig {
	return PGFeedConfig{
		NotifyChannel: "wavelength_changes",
		PingInterval:  90 * time.Second,
	}
}

// PGFeed receives change notifications raised by table triggers over
// LISTEN/NOTIFY. Payloads are "table:room_id".
type PGFeed struct {
	listener *pq.Listener
	cfg      PGFeedConfig
	changes  chan Change
}

func NewPGFeed(cfg PGFeedConfig) (*PGFeed, error) {
	if cfg.NotifyChannel == "" {
		cfg.NotifyChannel = DefaultPGFeedConfig().NotifyChannel
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPGFeedConfig().PingInterval
	}

	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().Str("channel", cfg.NotifyChannel).Msg("listening for change notifications")

	return &PGFeed{
		listener: l,
		cfg:      cfg,
		changes:  make(chan Change, 64),
	}, nil
}

func (f *PGFeed) Changes() <-chan Change {
	return f.changes
}

func (f *PGFeed) Run(ctx context.Context) error {
	pingTicker := time.NewTicker(f.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("change feed shutting down")
			return f.listener.Close()
		case note := <-f.listener.Notify:
			if note == nil {
				// nil notification means the connection was lost and
				// is being re-established; watchers poll over the gap.
				continue
			}
			change, err := decodeChange(note.Extra)
			if err != nil {
				log.Error().Err(err).Msg("failed to decode change notification")
				continue
			}
			f.deliver(ctx, change)
		case <-pingTicker.C:
			if err := f.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (f *PGFeed) deliver(ctx context.Context, change Change) {
	select {
	case f.changes <- change:
	case <-ctx.Done():
	default:
		// Consumer is behind; dropping is safe because notifications
		// carry no data and the poll fallback refetches.
		log.Warn().Str("table", change.Table).Msg("change feed backlog full, dropping notification")
	}
}
