// Package hal is the hardware service: it builds devices from config/hal,
// publishes their capabilities under hal/cap/<domain>/<kind>/<name>, and
// answers control requests. One goroutine owns all service state; measure
// workers and the GPIO IRQ worker feed it over channels.
package hal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"overlaycode-go/bus"
	"overlaycode-go/services/hal/internal/consts"
	"overlaycode-go/services/hal/internal/halerr"
	"overlaycode-go/services/hal/internal/util"
	"overlaycode-go/types"
	"overlaycode-go/x/jsonx"
	"overlaycode-go/x/logx"
	"overlaycode-go/x/mathx"
	"overlaycode-go/x/timex"
)

// -----------------------------------------------------------------------------
// Entry point
// -----------------------------------------------------------------------------

// Run blocks until ctx is cancelled. Devices are torn down before the
// final stopped state is published.
func Run(ctx context.Context, conn *bus.Connection, res Resources) {
	s := newService(conn, res)
	s.gpioW.Start(ctx)
	s.loop(ctx)
}

func newService(conn *bus.Connection, res Resources) *service {
	return &service{
		conn:     conn,
		res:      res,
		log:      logx.For("hal"),
		workers:  map[string]sampler{},
		devices:  map[string]*devEntry{},
		capToDev: map[capKey]string{},
		results:  make(chan Result, 32),
		gpioW:    newEdgeWorker(32, 32),
	}
}

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

type devEntry struct {
	typ       string
	adaptor   Adaptor
	caps      []capKey
	workerKey string
	period    time.Duration // 0: not sampled
	next      time.Time
	irqCancel func()
}

// capKey is the hal/cap/<domain>/<kind>/<name> part of a topic.
type capKey = types.CapabilityAddress

type service struct {
	conn *bus.Connection
	res  Resources
	log  zerolog.Logger

	workers  map[string]sampler
	devices  map[string]*devEntry
	capToDev map[capKey]string

	timer   *time.Timer
	results chan Result
	gpioW   edgeWatcher

	// configured flips once a config/hal document has been applied.
	configured bool
}

// -----------------------------------------------------------------------------
// Main loop
// -----------------------------------------------------------------------------

func (s *service) loop(ctx context.Context) {
	cfgSub := s.conn.Subscribe(bus.T(consts.TokConfig, consts.TokHAL))
	ctrlSub := s.conn.Subscribe(bus.T(consts.TokHAL, consts.TokCap, "+", "+", "+", consts.TokControl, "+"))
	defer s.conn.Unsubscribe(cfgSub)
	defer s.conn.Unsubscribe(ctrlSub)

	s.publishState("idle", "awaiting_config", nil)

	s.timer = time.NewTimer(time.Hour)
	defer s.timer.Stop()

	for {
		util.ResetAt(s.timer, s.earliestDue())

		select {
		case <-ctx.Done():
			for id := range s.devices {
				s.teardown(id)
			}
			s.publishState("stopped", "context_cancelled", nil)
			return

		case msg := <-cfgSub.Channel():
			var cfg types.HALConfig
			if err := jsonx.Decode(msg.Payload, &cfg); err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			// Devices that built are served even when others failed.
			err := s.applyConfig(ctx, cfg)
			s.configured = true
			if err != nil {
				s.log.Error().Err(err).Msg("apply config")
				s.publishState("error", "apply_config_failed", err)
				continue
			}
			s.publishState("ready", "configured", nil)

		case msg := <-ctrlSub.Channel():
			s.handleControl(ctx, msg)

		case <-s.timer.C:
			now := time.Now()
			for id, ent := range s.devices {
				if ent.period > 0 && !now.Before(ent.next) {
					s.submitMeasure(id, false)
					ent.next = now.Add(ent.period)
				}
			}

		case r := <-s.results:
			s.handleResult(r)

		case ev := <-s.gpioW.Events():
			s.handleGPIOEvent(ev)
		}
	}
}

// hal/cap/<domain>/<kind>/<name>/control/<verb>
func (s *service) handleControl(ctx context.Context, msg *bus.Message) {
	if len(msg.Topic) != 7 {
		return
	}
	domain, _ := msg.Topic[2].(string)
	kind, _ := msg.Topic[3].(string)
	name, _ := msg.Topic[4].(string)
	verb, _ := msg.Topic[6].(string)
	if domain == "" || kind == "" || name == "" || verb == "" {
		s.replyErr(msg, halerr.ErrInvalidCapAddr)
		return
	}
	if !s.configured {
		s.replyErr(msg, halerr.ErrNotReady)
		return
	}
	devID, ok := s.capToDev[capKey{Domain: domain, Kind: types.Kind(kind), Name: name}]
	if !ok {
		s.replyErr(msg, halerr.ErrUnknownCap)
		return
	}
	ent := s.devices[devID]
	if ent == nil || ent.adaptor == nil {
		s.replyErr(msg, halerr.ErrNoAdaptor)
		return
	}

	switch verb {
	case consts.CtrlReadNow:
		if s.submitMeasure(devID, true) {
			if ent.period > 0 {
				ent.next = time.Now().Add(ent.period)
			}
			s.replyOK(msg, nil)
		} else {
			s.replyErr(msg, halerr.ErrBusy)
		}
	case consts.CtrlSetRate:
		var p types.SetRate
		if err := jsonx.Decode(msg.Payload, &p); err != nil || p.PeriodMS <= 0 {
			s.replyErr(msg, halerr.ErrInvalidPeriod)
			return
		}
		if ent.workerKey == "" {
			s.replyErr(msg, halerr.ErrUnsupported)
			return
		}
		ms := mathx.Clamp(p.PeriodMS, consts.MinPeriodMS, consts.MaxPeriodMS)
		ent.period = timex.Ms(ms)
		ent.next = time.Now().Add(ent.period)
		s.replyOK(msg, types.SetRate{PeriodMS: ms})
	default:
		res, err := ent.adaptor.Control(ctx, types.Kind(kind), verb, msg.Payload)
		if err != nil {
			s.log.Debug().Err(err).Str("device", devID).Str("verb", verb).Msg("control failed")
			s.replyErr(msg, err)
			return
		}
		s.replyOK(msg, res)
		// Refresh the published value after a state change.
		s.submitMeasure(devID, true)
	}
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// applyConfig is additive: devices already running with the same type are
// left alone, devices missing from cfg are torn down. A device that fails
// to build is skipped and reported; the rest still come up.
func (s *service) applyConfig(ctx context.Context, cfg types.HALConfig) error {
	seen := map[string]struct{}{}
	var errs []error

	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		seen[d.ID] = struct{}{}

		if ent, exists := s.devices[d.ID]; exists {
			if ent.typ == d.Type {
				continue
			}
			s.teardown(d.ID)
		}
		if err := s.addDevice(ctx, d); err != nil {
			s.log.Warn().Err(err).Str("device", d.ID).Str("type", d.Type).Msg("device not built")
			errs = append(errs, fmt.Errorf("%s: %w", d.ID, err))
		}
	}

	for id := range s.devices {
		if _, ok := seen[id]; !ok {
			s.teardown(id)
		}
	}
	return errors.Join(errs...)
}

func (s *service) addDevice(ctx context.Context, d *types.HALDevice) error {
	b, err := lookupBuilder(d.Type)
	if err != nil {
		return err
	}
	out, err := b.Build(BuildInput{Ctx: ctx, Res: s.res, DeviceID: d.ID, Type: d.Type, Params: d.Params})
	if err != nil {
		return err
	}

	ent := &devEntry{typ: d.Type, adaptor: out.Adaptor, workerKey: out.WorkerKey, period: out.SampleEvery}
	if ent.workerKey != "" {
		if _, ok := s.workers[ent.workerKey]; !ok {
			w := newSampler(s.results)
			w.Start(ctx)
			s.workers[ent.workerKey] = w
		}
	}
	if ent.period > 0 {
		ent.next = time.Now().Add(200 * time.Millisecond)
	}

	now := timex.NowMs()
	for _, ci := range out.Adaptor.Capabilities() {
		key := capKey{Domain: ci.Domain, Kind: ci.Kind, Name: d.ID}
		if owner, taken := s.capToDev[key]; taken && owner != d.ID {
			continue
		}
		ent.caps = append(ent.caps, key)
		s.capToDev[key] = d.ID
		s.pubRet(capTopic(key, consts.TokInfo), ci.Info)
		s.pubRet(capTopic(key, consts.TokStatus), types.CapabilityStatus{Link: types.LinkUp, TS: now})
	}

	if rq := out.IRQ; rq != nil {
		cancel, err := s.gpioW.RegisterInput(d.ID, rq.Pin, rq.Edge, rq.DebounceMS, rq.Invert)
		if err != nil {
			s.log.Warn().Err(err).Str("device", d.ID).Msg("irq not armed")
		} else {
			ent.irqCancel = cancel
		}
	}

	s.devices[d.ID] = ent
	s.log.Info().Str("device", d.ID).Str("type", d.Type).Int("caps", len(ent.caps)).Msg("device up")
	return nil
}

func (s *service) teardown(id string) {
	ent, ok := s.devices[id]
	if !ok {
		return
	}
	now := timex.NowMs()
	for _, key := range ent.caps {
		s.pubRet(capTopic(key, consts.TokInfo), nil)
		s.pubRet(capTopic(key, consts.TokStatus), types.CapabilityStatus{Link: types.LinkDown, TS: now})
		delete(s.capToDev, key)
	}
	if ent.irqCancel != nil {
		ent.irqCancel()
	}
	if err := ent.adaptor.Close(); err != nil {
		s.log.Warn().Err(err).Str("device", id).Msg("close")
	}
	delete(s.devices, id)
	s.log.Info().Str("device", id).Msg("device down")
}

// -----------------------------------------------------------------------------
// Results and events
// -----------------------------------------------------------------------------

func (s *service) submitMeasure(devID string, prio bool) bool {
	ent, ok := s.devices[devID]
	if !ok {
		return false
	}
	w := s.workers[ent.workerKey]
	if w == nil {
		return false
	}
	return w.Submit(MeasureReq{ID: devID, Adaptor: ent.adaptor, Prio: prio})
}

func (s *service) earliestDue() time.Time {
	var min time.Time
	for _, ent := range s.devices {
		if ent.period > 0 && (min.IsZero() || ent.next.Before(min)) {
			min = ent.next
		}
	}
	return min
}

func (s *service) handleResult(r Result) {
	ent, ok := s.devices[r.ID]
	if !ok {
		return
	}
	now := timex.NowMs()

	if r.Err != nil {
		// Control-only adaptors decline sampling; that is not a fault.
		if errors.Is(r.Err, ErrUnsupported) {
			return
		}
		for _, key := range ent.caps {
			s.pubRet(capTopic(key, consts.TokStatus),
				types.CapabilityStatus{Link: types.LinkDegraded, TS: now, Error: halerr.Code(r.Err)})
		}
		return
	}
	for _, rd := range r.Sample {
		for _, key := range ent.caps {
			if key.Kind != rd.Kind {
				continue
			}
			s.conn.Publish(s.conn.NewMessage(capTopic(key, consts.TokValue), rd.Payload, false))
			s.pubRet(capTopic(key, consts.TokStatus), types.CapabilityStatus{Link: types.LinkUp, TS: now})
		}
	}
}

func (s *service) handleGPIOEvent(ev GPIOEvent) {
	ent, ok := s.devices[ev.DevID]
	if !ok {
		return
	}
	ts := ev.TS.UnixMilli()
	for _, key := range ent.caps {
		if key.Kind != types.KindGPIO {
			continue
		}
		s.conn.Publish(s.conn.NewMessage(capTopic(key, consts.TokEvent),
			types.GPIOEvent{Edge: ev.Edge.String(), Level: ev.Level, TS: ts}, false))
		s.pubRet(capTopic(key, consts.TokStatus), types.CapabilityStatus{Link: types.LinkUp, TS: ts})
	}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (s *service) publishState(level, status string, err error) {
	st := types.HALState{Level: level, Status: status, TS: timex.NowMs()}
	if err != nil {
		st.Error = err.Error()
	}
	s.pubRet(bus.T(consts.TokHAL, consts.TokState), st)
}

func (s *service) replyOK(req *bus.Message, result any) {
	s.conn.Reply(req, types.OKReply{OK: true, Result: result}, false)
}

func (s *service) replyErr(req *bus.Message, err error) {
	s.conn.Reply(req, types.ErrorReply{OK: false, Error: halerr.Code(err)}, false)
}

func (s *service) pubRet(t bus.Topic, p any) {
	s.conn.Publish(s.conn.NewMessage(t, p, true))
}

func capTopic(k capKey, rest ...bus.Token) bus.Topic {
	return bus.T(consts.TokHAL, consts.TokCap, k.Domain, string(k.Kind), k.Name).Append(rest...)
}
