package hal

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"overlaycode-go/services/hal/internal/halerr"
)

// BuildInput carries one hal.devices entry to its builder.
type BuildInput struct {
	Ctx      context.Context
	Res      Resources
	DeviceID string
	Type     string
	Params   any
}

// BuildOutput tells the service how to drive the new adaptor.
type BuildOutput struct {
	Adaptor     Adaptor
	WorkerKey   string        // adaptors sharing a key share a sampler
	SampleEvery time.Duration // 0 for devices that only answer controls
	IRQ         *IRQRequest
}

// IRQRequest asks the service to watch a pin for edges on behalf of DevID.
type IRQRequest struct {
	DevID      string
	Pin        IRQPin
	Edge       Edge
	DebounceMS int
	Invert     bool
}

type Builder interface {
	Build(in BuildInput) (BuildOutput, error)
}

type BuilderFunc func(in BuildInput) (BuildOutput, error)

func (f BuilderFunc) Build(in BuildInput) (BuildOutput, error) { return f(in) }

// Device types register from init in their adaptor files.
var builders = struct {
	sync.RWMutex
	m map[string]Builder
}{m: map[string]Builder{}}

// RegisterBuilder panics on an empty or duplicate type so wiring mistakes
// surface at start-up.
func RegisterBuilder(deviceType string, b Builder) {
	builders.Lock()
	defer builders.Unlock()
	if deviceType == "" {
		panic("hal: empty device type")
	}
	if _, dup := builders.m[deviceType]; dup {
		panic(fmt.Sprintf("hal: duplicate builder for %q", deviceType))
	}
	builders.m[deviceType] = b
}

// lookupBuilder fails with unknown_device_type and names the known types.
func lookupBuilder(deviceType string) (Builder, error) {
	builders.RLock()
	defer builders.RUnlock()
	if b, ok := builders.m[deviceType]; ok {
		return b, nil
	}
	known := make([]string, 0, len(builders.m))
	for t := range builders.m {
		known = append(known, t)
	}
	slices.Sort(known)
	return nil, fmt.Errorf("%w: %q (known: %v)", halerr.ErrUnknownType, deviceType, known)
}
