package heartbeat

import (
	"context"
	"testing"
	"time"

	"overlaycode-go/bus"
	"overlaycode-go/types"
)

func next(t *testing.T, sub *bus.Subscription, d time.Duration) types.Heartbeat {
	t.Helper()
	select {
	case m := <-sub.Channel():
		if !m.Retained {
			t.Fatal("heartbeat must be retained")
		}
		return m.Payload.(types.Heartbeat)
	case <-time.After(d):
		t.Fatal("no heartbeat")
	}
	return types.Heartbeat{}
}

func TestHeartbeat_ImmediateThenConfiguredInterval(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("hb")
	sub := conn.Subscribe(TopicHeartbeat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := New().Start(ctx, conn); err != nil {
		t.Fatal(err)
	}

	first := next(t, sub, 200*time.Millisecond)
	if first.Seq != 1 || first.UptimeMS != 0 {
		t.Fatalf("first beat: %+v", first)
	}

	// Map payloads are what the config service publishes.
	conn.Publish(conn.NewMessage(bus.T("config", "heartbeat"), map[string]any{"interval_ms": 100.0}, true))
	second := next(t, sub, 400*time.Millisecond)
	third := next(t, sub, 400*time.Millisecond)
	if second.Seq != 2 || third.Seq != 3 || third.TS < second.TS {
		t.Fatalf("sequence: %+v %+v", second, third)
	}
}

func TestHeartbeat_BadConfigIgnored(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("hb")
	sub := conn.Subscribe(TopicHeartbeat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = New().Start(ctx, conn)
	_ = next(t, sub, 200*time.Millisecond)

	// Neither payload may shorten the 1 s default.
	conn.Publish(conn.NewMessage(bus.T("config", "heartbeat"), "nope", false))
	conn.Publish(conn.NewMessage(bus.T("config", "heartbeat"), types.HeartbeatConfig{IntervalMS: 0}, false))
	select {
	case m := <-sub.Channel():
		t.Fatalf("unexpected early beat: %+v", m.Payload)
	case <-time.After(300 * time.Millisecond):
	}
}
