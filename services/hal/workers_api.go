package hal

import "context"

// sampler runs Trigger/Collect for the devices sharing one WorkerKey. A
// full queue makes Submit return false and the tick is skipped.
type sampler interface {
	Submit(MeasureReq) bool
	Start(ctx context.Context)
}

func newSampler(sink chan<- Result) sampler {
	return NewWorker(WorkerConfig{}, sink)
}

// edgeWatcher turns pin interrupts into debounced GPIOEvents.
type edgeWatcher interface {
	Start(ctx context.Context)
	Events() <-chan GPIOEvent
	RegisterInput(devID string, pin IRQPin, edge Edge, debounceMS int, invert bool) (func(), error)
	ISRDrops() uint32
}
