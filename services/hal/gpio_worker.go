package hal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"overlaycode-go/services/hal/internal/util"
	"overlaycode-go/x/timex"
)

// GPIOEvent is one debounced edge, Level already inverted where asked.
type GPIOEvent struct {
	DevID string
	Level int
	Edge  Edge
	TS    time.Time
}

// edgeWorker owns every watched input. Pin callbacks run on the sysfs
// poll goroutine, so they only sample the line and enqueue; debounce and
// edge filtering happen on the worker goroutine.
type edgeWorker struct {
	raw    chan rawEdge
	events chan GPIOEvent
	done   chan struct{}

	mu      sync.RWMutex
	watches map[string]*edgeWatch

	drops atomic.Uint32
}

type rawEdge struct {
	devID string
	level bool
	at    time.Time
}

type edgeWatch struct {
	w        *edgeWorker
	devID    string
	pin      IRQPin
	edge     Edge
	debounce time.Duration
	invert   bool

	// Worker goroutine only.
	level bool
	last  time.Time
}

func newEdgeWorker(rawBuf, eventBuf int) *edgeWorker {
	return &edgeWorker{
		raw:     make(chan rawEdge, max(rawBuf, 1)),
		events:  make(chan GPIOEvent, max(eventBuf, 1)),
		done:    make(chan struct{}),
		watches: map[string]*edgeWatch{},
	}
}

func (w *edgeWorker) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		defer w.clearAll()
		for {
			select {
			case <-ctx.Done():
				return
			case r := <-w.raw:
				w.dispatch(r)
			}
		}
	}()
}

func (w *edgeWorker) Events() <-chan GPIOEvent { return w.events }

// ISRDrops counts callbacks lost to a full queue or a failed line read.
func (w *edgeWorker) ISRDrops() uint32 { return w.drops.Load() }

// RegisterInput arms pin and returns the function that disarms it. EdgeNone
// registers nothing.
func (w *edgeWorker) RegisterInput(devID string, pin IRQPin, edge Edge, debounceMS int, invert bool) (func(), error) {
	if edge == EdgeNone {
		return func() {}, nil
	}
	lvl, err := pin.Get()
	if err != nil {
		return nil, err
	}
	wh := &edgeWatch{
		w: w, devID: devID, pin: pin, edge: edge,
		debounce: timex.Ms(debounceMS),
		invert:   invert,
		level:    lvl != invert,
	}
	if err := pin.SetIRQ(physicalEdge(edge, invert), wh.sample); err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.watches[devID] = wh
	w.mu.Unlock()
	return wh.unregister, nil
}

// physicalEdge maps a logical edge onto the line edge the kernel must arm.
// filter keeps applying the logical mask.
func physicalEdge(e Edge, invert bool) Edge {
	if !invert {
		return e
	}
	switch e {
	case EdgeRising:
		return EdgeFalling
	case EdgeFalling:
		return EdgeRising
	}
	return e
}

// sample reads the line at callback time; it may have moved again by the
// time the worker runs.
func (wh *edgeWatch) sample() {
	l, err := wh.pin.Get()
	if err != nil {
		wh.w.drops.Add(1)
		return
	}
	select {
	case wh.w.raw <- rawEdge{devID: wh.devID, level: l, at: time.Now()}:
	default:
		wh.w.drops.Add(1)
	}
}

// unregister is a no-op once a newer watch owns the device id.
func (wh *edgeWatch) unregister() {
	wh.w.mu.Lock()
	owned := wh.w.watches[wh.devID] == wh
	if owned {
		delete(wh.w.watches, wh.devID)
	}
	wh.w.mu.Unlock()
	if owned {
		_ = wh.pin.ClearIRQ()
	}
}

// filter applies inversion, debounce and the edge mask. A suppressed
// bounce leaves the remembered level untouched.
func (wh *edgeWatch) filter(raw bool, at time.Time) (Edge, bool) {
	lvl := raw != wh.invert
	if !wh.last.IsZero() && at.Sub(wh.last) < wh.debounce {
		return EdgeNone, false
	}
	if lvl == wh.level {
		return EdgeNone, false
	}
	e := EdgeFalling
	if lvl {
		e = EdgeRising
	}
	wh.level, wh.last = lvl, at
	return e, wh.edge == EdgeBoth || wh.edge == e
}

func (w *edgeWorker) dispatch(r rawEdge) {
	w.mu.RLock()
	wh := w.watches[r.devID]
	w.mu.RUnlock()
	if wh == nil {
		return
	}
	e, ok := wh.filter(r.level, r.at)
	if !ok {
		return
	}
	select {
	case w.events <- GPIOEvent{DevID: r.devID, Level: util.BoolToInt(e == EdgeRising), Edge: e, TS: r.at}:
	default:
		// HAL loop is behind; the next edge carries the current level.
	}
}

func (w *edgeWorker) clearAll() {
	w.mu.Lock()
	all := w.watches
	w.watches = map[string]*edgeWatch{}
	w.mu.Unlock()
	for _, wh := range all {
		_ = wh.pin.ClearIRQ()
	}
}
