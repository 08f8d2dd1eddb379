package types

// ------------------------
// Capability addressing & kinds
// ------------------------

type Kind string

const (
	KindOverlay Kind = "overlay"
	KindGPIO    Kind = "gpio"
	KindMMIO    Kind = "mmio"
	KindI2C     Kind = "i2c"
)

// Domains group kinds in the topic tree.
const (
	DomainFabric = "fabric"
	DomainIO     = "io"
	DomainBus    = "bus"
)

// CapabilityAddress identifies a public capability on the bus:
// hal/cap/<domain>/<kind>/<name>.
type CapabilityAddress struct {
	Domain string `json:"domain"`
	Kind   Kind   `json:"kind"`
	Name   string `json:"name"`
}
