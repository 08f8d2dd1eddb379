// Package bridge exposes the local bus to one remote peer at a time over a
// framed stream: a Unix socket for local tools, TCP for a bench host.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"overlaycode-go/bus"
	"overlaycode-go/x/jsonx"
	"overlaycode-go/x/logx"
	"overlaycode-go/x/timex"
)

// -----------------------------------------------------------------------------
// Public entry point
// -----------------------------------------------------------------------------

// Start serves config/bridge until ctx ends. Each valid config replaces
// the running link; an invalid one leaves it alone.
func Start(ctx context.Context, conn *bus.Connection) {
	s := &Service{
		conn:       conn,
		stateTopic: bus.T("bridge", "state"),
		log:        logx.For("bridge"),
	}
	s.run(ctx)
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config is the JSON-encoded configuration expected on "config/bridge".
type Config struct {
	Transport TransportConfig `json:"transport"`
	// RequestTimeoutMS bounds a remote request's wait for a local reply.
	RequestTimeoutMS int `json:"request_timeout_ms,omitempty"`
	// PingMS is the keepalive period; 0 means 5 s.
	PingMS int `json:"ping_ms,omitempty"`
}

type TransportConfig struct {
	// "unix", "tcp" or a name registered via RegisterTransport.
	Type string `json:"type"`
	// Addr is the socket path for unix and host:port for tcp.
	Addr string `json:"addr,omitempty"`
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn       *bus.Connection
	stateTopic bus.Topic
	log        zerolog.Logger
}

// linkRun is one supervised transport; done closes once its listener is
// released.
type linkRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (r *linkRun) stop() {
	if r == nil {
		return
	}
	r.cancel()
	<-r.done
}

func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(bus.T("config", "bridge"))
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	var cur *linkRun
	defer func() { cur.stop() }()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			cfg, err := decodeConfig(msg.Payload)
			if err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			// The old link must let go of its socket before the new one binds.
			cur.stop()
			lctx, cancel := context.WithCancel(ctx)
			cur = &linkRun{cancel: cancel, done: make(chan struct{})}
			go func(r *linkRun) {
				defer close(r.done)
				s.runLink(lctx, cfg)
			}(cur)
		}
	}
}

// -----------------------------------------------------------------------------
// Link supervision
// -----------------------------------------------------------------------------

// runLink serves peers on one transport until ctx ends. A clean peer
// close resets the backoff; failures back off up to 5 s.
func (s *Service) runLink(ctx context.Context, cfg Config) {
	tr, err := newTransport(cfg.Transport)
	if err != nil {
		s.publishState("error", "transport_init_failed", err)
		return
	}
	defer tr.Close()
	s.publishState("listening", "awaiting_peer", nil)
	s.log.Info().Str("transport", tr.String()).Msg("bridge listening")

	bo := newBackoff(250*time.Millisecond, 5*time.Second)
	retry := func(status string, err error) bool {
		if ctx.Err() != nil {
			return false
		}
		delay := bo.next()
		s.publishState("degraded", status, fmt.Errorf("%w (retry in %s)", err, delay))
		return sleep(ctx, delay)
	}

	for ctx.Err() == nil {
		rwc, err := tr.Open(ctx)
		if err != nil {
			if !retry("open_failed_retrying", err) {
				return
			}
			continue
		}
		s.publishState("up", "link_established", nil)
		err = newLink(s.conn, rwc, cfg, s.log).serve(ctx)
		if err != nil {
			if !retry("link_lost_retrying", err) {
				return
			}
			continue
		}
		bo.reset()
		s.publishState("listening", "peer_closed", nil)
	}
}

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func decodeConfig(p any) (Config, error) {
	var cfg Config
	if p == nil {
		return cfg, errors.New("empty config")
	}
	if err := jsonx.Decode(p, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Transport.Type == "" {
		return cfg, errors.New("transport type missing")
	}
	return cfg, nil
}

func (s *Service) publishState(level, status string, err error) {
	payload := map[string]any{
		"level":  level,  // "idle", "listening", "up", "degraded", "error"
		"status": status, // short machine string
		"ts_ms":  timex.NowMs(),
	}
	if err != nil {
		payload["error"] = err.Error()
		s.log.Warn().Err(err).Str("status", status).Msg("bridge " + level)
	}
	s.conn.Publish(s.conn.NewMessage(s.stateTopic, payload, true))
}

// backoff doubles from min up to max between failed attempts.
type backoff struct {
	min, max, cur time.Duration
}

func newBackoff(lo, hi time.Duration) *backoff {
	return &backoff{min: lo, max: max(lo, hi), cur: lo}
}

func (b *backoff) next() time.Duration {
	d := b.cur
	b.cur = min(b.cur*2, b.max)
	return d
}

func (b *backoff) reset() { b.cur = b.min }

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
