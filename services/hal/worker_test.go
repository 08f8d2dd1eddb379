package hal

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"overlaycode-go/types"
)

// fakeAdaptor returns ErrNotReady for the first collectsTill Collect calls,
// then a two-register MMIO sample.
type fakeAdaptor struct {
	id           string
	after        time.Duration
	collectsTill int32
	triggerErr   error
	triggers     atomic.Int32
	collects     atomic.Int32
}

func (f *fakeAdaptor) ID() string              { return f.id }
func (f *fakeAdaptor) Capabilities() []CapInfo { return nil }
func (f *fakeAdaptor) Close() error            { return nil }
func (f *fakeAdaptor) Trigger(ctx context.Context) (time.Duration, error) {
	f.triggers.Add(1)
	return f.after, f.triggerErr
}
func (f *fakeAdaptor) Collect(ctx context.Context) (Sample, error) {
	if f.collects.Add(1) <= f.collectsTill {
		return nil, ErrNotReady
	}
	ts := time.Now().UnixMilli()
	return Sample{{Kind: types.KindMMIO, Payload: types.MMIOSample{
		Regs: []types.MMIOValue{{Offset: 0, Value: 1}, {Offset: 4, Value: 2}},
		TS:   ts,
	}, TsMs: ts}}, nil
}
func (f *fakeAdaptor) Control(context.Context, types.Kind, string, any) (any, error) {
	return nil, ErrUnsupported
}

func startWorker(t *testing.T, cfg WorkerConfig) (*measureWorker, chan Result) {
	t.Helper()
	sink := make(chan Result, 4)
	w := NewWorker(cfg, sink)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	w.Start(ctx)
	return w, sink
}

func TestWorker_SuccessWithRetries(t *testing.T) {
	w, results := startWorker(t, WorkerConfig{
		TriggerTimeout: 50 * time.Millisecond,
		CollectTimeout: 50 * time.Millisecond,
		RetryBackoff:   2 * time.Millisecond,
		MaxRetries:     5,
	})

	ad := &fakeAdaptor{id: "dev1", after: time.Millisecond, collectsTill: 2}
	if ok := w.Submit(MeasureReq{ID: ad.id, Adaptor: ad}); !ok {
		t.Fatal("submit failed")
	}

	select {
	case r := <-results:
		if r.Err != nil {
			t.Fatalf("unexpected error: %v", r.Err)
		}
		if len(r.Sample) != 1 || r.Sample[0].Kind != types.KindMMIO {
			t.Fatalf("bad sample: %#v", r.Sample)
		}
		s := r.Sample[0].Payload.(types.MMIOSample)
		if len(s.Regs) != 2 || s.Regs[1].Value != 2 {
			t.Fatalf("bad regs: %+v", s.Regs)
		}
	case <-time.After(300 * time.Millisecond):
		t.Fatal("timeout waiting for result")
	}
	if got := ad.collects.Load(); got != 3 {
		t.Fatalf("collects=%d, want 3", got)
	}
}

func TestWorker_RetryLimitFailure(t *testing.T) {
	w, results := startWorker(t, WorkerConfig{RetryBackoff: time.Millisecond, MaxRetries: 2})

	ad := &fakeAdaptor{id: "dev2", after: time.Millisecond, collectsTill: 10}
	if ok := w.Submit(MeasureReq{ID: ad.id, Adaptor: ad}); !ok {
		t.Fatal("submit failed")
	}

	select {
	case r := <-results:
		if !errors.Is(r.Err, ErrNotReady) {
			t.Fatalf("expected ErrNotReady after exhausting retries, got %v", r.Err)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for failure result")
	}
}

func TestWorker_TriggerError(t *testing.T) {
	w, results := startWorker(t, WorkerConfig{})
	boom := errors.New("boom")
	ad := &fakeAdaptor{id: "dev4", triggerErr: boom}
	w.Submit(MeasureReq{ID: ad.id, Adaptor: ad})

	select {
	case r := <-results:
		if !errors.Is(r.Err, boom) || r.ID != "dev4" {
			t.Fatalf("got %+v", r)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for trigger failure")
	}
	if ad.collects.Load() != 0 {
		t.Fatal("collect ran after failed trigger")
	}
}

func TestWorker_CoalescingAndReadNowDesire(t *testing.T) {
	w, results := startWorker(t, WorkerConfig{
		RetryBackoff: time.Millisecond,
		MaxRetries:   1, // force a quick collect failure
	})

	// Fails its first cycle: ErrNotReady twice with one retry allowed.
	ad := &fakeAdaptor{id: "dev3", after: 5 * time.Millisecond, collectsTill: 2}

	if ok := w.Submit(MeasureReq{ID: ad.id, Adaptor: ad}); !ok {
		t.Fatal("submit failed")
	}
	// While pending, a priority request sets the desire flag.
	_ = w.Submit(MeasureReq{ID: ad.id, Adaptor: ad, Prio: true})

	select {
	case r := <-results:
		if r.Err == nil {
			t.Fatal("expected error on first cycle")
		}
	case <-time.After(300 * time.Millisecond):
		t.Fatal("timeout waiting for first failure")
	}

	// The third collect succeeds on the desire-driven re-trigger.
	select {
	case r := <-results:
		if r.Err != nil {
			t.Fatalf("unexpected second error: %v", r.Err)
		}
	case <-time.After(300 * time.Millisecond):
		t.Fatal("timeout waiting for success after desire re-trigger")
	}
	if n := ad.triggers.Load(); n != 2 {
		t.Fatalf("expected 2 triggers, got %d", n)
	}
}
