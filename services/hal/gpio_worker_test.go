package hal

import (
	"context"
	"testing"
	"time"
)

// fake IRQ-capable pin

// fakeIRQPin fires its handler only on physical transitions that match
// the armed edge, as the sysfs edge attribute does.
type fakeIRQPin struct {
	fakePin
	h       func()
	edge    Edge
	cleared int
}

func (p *fakeIRQPin) SetIRQ(edge Edge, handler func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.h = handler
	p.edge = edge
	return nil
}

func (p *fakeIRQPin) ClearIRQ() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.h = nil
	p.cleared++
	return nil
}

func (p *fakeIRQPin) armed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.h != nil
}

// trigger drives the line to level and calls the handler when the
// physical transition matches the armed edge. Driving the same level
// again counts as a glitch pulse and fires on any armed edge.
func (p *fakeIRQPin) trigger(level bool) {
	p.mu.Lock()
	prev := p.level
	p.level = level
	h := p.h
	var fire bool
	switch {
	case prev == level:
		fire = p.edge != EdgeNone
	case level:
		fire = p.edge == EdgeRising || p.edge == EdgeBoth
	default:
		fire = p.edge == EdgeFalling || p.edge == EdgeBoth
	}
	p.mu.Unlock()
	if h != nil && fire {
		h()
	}
}

var _ IRQPin = (*fakeIRQPin)(nil)

func recvEvent(t *testing.T, ch <-chan GPIOEvent, d time.Duration) (GPIOEvent, bool) {
	t.Helper()
	select {
	case ev := <-ch:
		return ev, true
	case <-time.After(d):
		return GPIOEvent{}, false
	}
}

func TestGPIOWorker_RisingEdge_EventDelivered(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &fakeIRQPin{}
	p.level = false // initial level
	w := newEdgeWorker(16, 16)
	w.Start(ctx)

	cancelReg, err := w.RegisterInput("btn0", p, EdgeRising, 0, false)
	if err != nil {
		t.Fatalf("RegisterInput error: %v", err)
	}
	defer cancelReg()

	// Rising transition: false -> true
	p.trigger(true)

	ev, ok := recvEvent(t, w.Events(), 50*time.Millisecond)
	if !ok {
		t.Fatal("expected event, got timeout")
	}
	if ev.DevID != "btn0" || ev.Edge != EdgeRising || ev.Level != 1 {
		t.Fatalf("unexpected event: %+v", ev)
	}

	// Falling transition should be ignored for EdgeRising
	p.trigger(false)
	if _, ok := recvEvent(t, w.Events(), 10*time.Millisecond); ok {
		t.Fatal("did not expect an event for falling edge")
	}
}

func TestGPIOWorker_FallingEdge_WithDebounce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &fakeIRQPin{}
	p.level = false
	w := newEdgeWorker(16, 16)
	w.Start(ctx)

	cancelReg, err := w.RegisterInput("in", p, EdgeBoth, 10 /*ms debounce*/, false)
	if err != nil {
		t.Fatalf("RegisterInput error: %v", err)
	}
	defer cancelReg()

	// Rising -> expect event
	p.trigger(true)
	if _, ok := recvEvent(t, w.Events(), 50*time.Millisecond); !ok {
		t.Fatal("expected rising event")
	}

	// Quick falling within debounce -> expect drop
	p.trigger(false)
	if _, ok := recvEvent(t, w.Events(), 5*time.Millisecond); ok {
		t.Fatal("unexpected event within debounce window")
	}

	// The suppressed fall left the tracked level high, so a fall after
	// the window is a real edge.
	time.Sleep(12 * time.Millisecond)
	p.trigger(false)
	ev, ok := recvEvent(t, w.Events(), 20*time.Millisecond)
	if !ok || ev.Edge != EdgeFalling || ev.Level != 0 {
		t.Fatalf("expected falling event after debounce, got %+v ok=%v", ev, ok)
	}
}

func TestGPIOWorker_CancelStopsEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &fakeIRQPin{}
	w := newEdgeWorker(16, 16)
	w.Start(ctx)

	stop, err := w.RegisterInput("x", p, EdgeBoth, 0, false)
	if err != nil {
		t.Fatalf("RegisterInput error: %v", err)
	}
	stop() // unregister
	if p.armed() || p.cleared != 1 {
		t.Fatal("cancel did not clear the pin IRQ")
	}

	// Trigger after unregister: no events expected
	p.trigger(true)
	if _, ok := recvEvent(t, w.Events(), 10*time.Millisecond); ok {
		t.Fatal("unexpected event after cancel")
	}
}

func TestGPIOWorker_InvertAndStopClears(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := &fakeIRQPin{fakePin: fakePin{level: true}} // physical high = logical low
	w := newEdgeWorker(16, 16)
	w.Start(ctx)

	if _, err := w.RegisterInput("inv", p, EdgeRising, 0, true); err != nil {
		t.Fatal(err)
	}
	p.trigger(false) // logical rise
	ev, ok := recvEvent(t, w.Events(), 50*time.Millisecond)
	if !ok || ev.Edge != EdgeRising || ev.Level != 1 {
		t.Fatalf("inverted rise: %+v ok=%v", ev, ok)
	}

	cancel()
	<-w.done
	if p.armed() {
		t.Fatal("worker stop left IRQ armed")
	}
}

func TestGPIOWorker_InvertedEdgesArmPhysicalEdge(t *testing.T) {
	cases := []struct {
		name      string
		edge      Edge
		startHigh bool // physical level at registration
		armed     Edge
		drive     bool // physical level that makes the wanted logical edge
		wantLevel int
	}{
		{"rising", EdgeRising, true, EdgeFalling, false, 1},
		{"falling", EdgeFalling, false, EdgeRising, true, 0},
		{"both", EdgeBoth, true, EdgeBoth, false, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			p := &fakeIRQPin{fakePin: fakePin{level: tc.startHigh}}
			w := newEdgeWorker(16, 16)
			w.Start(ctx)

			stop, err := w.RegisterInput("inv", p, tc.edge, 0, true)
			if err != nil {
				t.Fatal(err)
			}
			defer stop()
			if p.edge != tc.armed {
				t.Fatalf("armed %v, want %v", p.edge, tc.armed)
			}

			p.trigger(tc.drive)
			ev, ok := recvEvent(t, w.Events(), 50*time.Millisecond)
			if !ok {
				t.Fatal("logical edge on inverted input produced no event")
			}
			if ev.Level != tc.wantLevel || (tc.edge != EdgeBoth && ev.Edge != tc.edge) {
				t.Fatalf("event %+v", ev)
			}

			// The opposite physical edge is not armed for single-edge watches.
			p.trigger(!tc.drive)
			if _, ok := recvEvent(t, w.Events(), 10*time.Millisecond); ok && tc.edge != EdgeBoth {
				t.Fatal("event for the masked edge")
			}
		})
	}
}

func TestPhysicalEdge(t *testing.T) {
	if physicalEdge(EdgeRising, false) != EdgeRising || physicalEdge(EdgeRising, true) != EdgeFalling ||
		physicalEdge(EdgeFalling, true) != EdgeRising || physicalEdge(EdgeBoth, true) != EdgeBoth {
		t.Fatal("edge mapping")
	}
}

func TestGPIOWorker_ISRDropCounter(t *testing.T) {
	// Not started, so the raw queue is never drained.
	p := &fakeIRQPin{}
	p.level = false
	w := newEdgeWorker(1, 0)

	_, err := w.RegisterInput("y", p, EdgeBoth, 0, false)
	if err != nil {
		t.Fatalf("RegisterInput error: %v", err)
	}

	p.trigger(true)  // fills the queue
	p.trigger(false) // dropped

	if got := w.ISRDrops(); got == 0 {
		t.Fatalf("expected at least 1 ISR drop, got %d", got)
	}
}

func TestEdgeWatch_Filter(t *testing.T) {
	t0 := time.Unix(100, 0)
	wh := &edgeWatch{edge: EdgeFalling, debounce: 20 * time.Millisecond, invert: true, level: false}

	// Inverted: raw low is a logical rise, which the mask hides but the
	// level still tracks.
	if e, ok := wh.filter(false, t0); ok || e != EdgeRising || !wh.level {
		t.Fatalf("masked rise: %v %v level=%v", e, ok, wh.level)
	}
	if _, ok := wh.filter(true, t0.Add(5*time.Millisecond)); ok || !wh.level {
		t.Fatal("bounce inside debounce window accepted")
	}
	if e, ok := wh.filter(true, t0.Add(25*time.Millisecond)); !ok || e != EdgeFalling {
		t.Fatalf("fall after window: %v %v", e, ok)
	}
	if _, ok := wh.filter(true, t0.Add(60*time.Millisecond)); ok {
		t.Fatal("repeated level reported as an edge")
	}
}
