// Package heartbeat publishes a retained liveness record on sys/heartbeat.
package heartbeat

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"overlaycode-go/bus"
	"overlaycode-go/types"
	"overlaycode-go/x/jsonx"
	"overlaycode-go/x/logx"
	"overlaycode-go/x/mathx"
	"overlaycode-go/x/timex"
)

var (
	topicConfigHeartbeat = bus.T("config", "heartbeat")
	TopicHeartbeat       = bus.T("sys", "heartbeat")
)

const (
	defaultInterval = 1 * time.Second
	minIntervalMS   = 100
	maxIntervalMS   = 3_600_000
)

type Service struct {
	log   zerolog.Logger
	start time.Time
	seq   uint64
}

func New() *Service { return &Service{log: logx.For("heartbeat")} }

func (s *Service) beat(conn *bus.Connection, now time.Time) {
	s.seq++
	hb := types.Heartbeat{
		UptimeMS: now.Sub(s.start).Milliseconds(),
		Seq:      s.seq,
		TS:       now.UnixMilli(),
	}
	conn.Publish(conn.NewMessage(TopicHeartbeat, hb, true))
	s.log.Debug().Uint64("seq", hb.Seq).Int64("uptime_ms", hb.UptimeMS).Msg("heartbeat")
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)

	s.start = time.Now()
	tick := time.NewTicker(defaultInterval)
	defer tick.Stop()
	s.beat(conn, s.start)

	// loop until context is cancelled, respond to tick and config changes
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("heartbeat service stopping")
			return
		case t := <-tick.C:
			s.beat(conn, t)
		case msg := <-cfgSub.Channel():
			var cfg types.HeartbeatConfig
			if err := jsonx.Decode(msg.Payload, &cfg); err != nil || cfg.IntervalMS <= 0 {
				s.log.Warn().Err(err).Interface("payload", msg.Payload).Msg("ignoring heartbeat config")
				continue
			}
			ms := mathx.Clamp(cfg.IntervalMS, minIntervalMS, maxIntervalMS)
			tick.Reset(timex.Ms(ms))
			s.log.Info().Int("interval_ms", ms).Msg("heartbeat interval set")
		}
	}
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}
