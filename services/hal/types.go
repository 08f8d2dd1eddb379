// services/hal/types.go
package hal

import (
	"context"
	"time"

	"overlaycode-go/drivers/gpio"
	"overlaycode-go/services/hal/internal/halerr"
	"overlaycode-go/types"
)

// Reading is one datum for one capability kind.
type Reading struct {
	Kind    types.Kind
	Payload any // JSON-serialisable
	TsMs    int64
}

// Sample is a batch of readings collected together.
type Sample []Reading

// CapInfo describes one capability's retained info document.
type CapInfo struct {
	Domain string
	Kind   types.Kind
	Info   types.Info
}

// Adaptor owns a concrete device/driver and exposes generic hooks.
// Adaptors must NOT touch the bus or spawn goroutines.
type Adaptor interface {
	ID() string
	// Static capability descriptions (published as retained).
	Capabilities() []CapInfo
	// Trigger a measurement and return suggested wait until Collect.
	Trigger(ctx context.Context) (collectAfter time.Duration, err error)
	// Collect attempts to fetch a measurement batch; may return ErrNotReady.
	Collect(ctx context.Context) (Sample, error)
	// Control runs a verb. Return (nil, ErrUnsupported) for unknown verbs.
	Control(ctx context.Context, kind types.Kind, method string, payload any) (result any, err error)
	// Close releases hardware; called on teardown.
	Close() error
}

// WorkerConfig centralises timings and limits.
type WorkerConfig struct {
	TriggerTimeout time.Duration
	CollectTimeout time.Duration
	RetryBackoff   time.Duration
	MaxRetries     int
	InputQueueSize int
}

// MeasureReq asks the worker to trigger/collect for a given adaptor.
type MeasureReq struct {
	ID      string
	Adaptor Adaptor
	Prio    bool // true for read_now
}

// Result emitted by the worker.
type Result struct {
	ID     string
	Sample Sample
	Err    error
}

// ErrNotReady signals the worker to retry Collect after backoff.
var ErrNotReady = errNotReady{}

type errNotReady struct{}

func (errNotReady) Error() string { return "not ready" }

// ErrUnsupported for adaptor Control pass-through.
var ErrUnsupported = halerr.ErrUnsupported

// ---- GPIO abstractions ----

type (
	Pull = gpio.Pull
	Edge = gpio.Edge
)

const (
	PullNone = gpio.PullNone
	PullUp   = gpio.PullUp
	PullDown = gpio.PullDown

	EdgeNone    = gpio.EdgeNone
	EdgeRising  = gpio.EdgeRising
	EdgeFalling = gpio.EdgeFalling
	EdgeBoth    = gpio.EdgeBoth
)

// GPIOPin is satisfied by *gpio.Pin. Every access can fail on sysfs.
type GPIOPin interface {
	ConfigureInput(pull Pull) error
	ConfigureOutput(initial bool) error
	Set(level bool) error
	Get() (bool, error)
	Toggle() error
	Number() int
}

// IRQPin extends GPIOPin with interrupts.
type IRQPin interface {
	GPIOPin
	SetIRQ(edge Edge, handler func()) error
	ClearIRQ() error
}

// PinFactory hands out pins above the reserved range.
type PinFactory interface {
	ByNumber(n int) (GPIOPin, error)
	ByUserIndex(i int) (GPIOPin, error)
	Release(n int) error
}

// ---- MMIO / fabric abstractions ----

// Window is satisfied by *mmio.Window.
type Window interface {
	Read32(off uint64) (uint32, error)
	Write32(off uint64, v uint32) error
	ReadWords(off uint64, dst []uint32) error
	Base() uint64
	Length() uint64
	Close() error
}

type WindowOpener interface {
	Open(base, length uint64) (Window, error)
}

// Fabric is satisfied by *overlay.Manager.
type Fabric interface {
	Download(ctx context.Context, name string, partial bool) (types.PLState, error)
	State() types.PLState
	LookupIP(name string) (types.IP, error)
	IsLoaded(name string) bool
	GPIOIndex(name string) (int, error)
}

// Resources is everything builders may draw on. Nil members disable the
// device types that need them.
type Resources struct {
	Pins    PinFactory
	Windows WindowOpener
	Fabric  Fabric
}
