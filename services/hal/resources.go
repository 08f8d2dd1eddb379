// services/hal/resources.go
package hal

import (
	"overlaycode-go/drivers/gpio"
	"overlaycode-go/drivers/mmio"
)

// SysfsPins serves pins from a sysfs GPIO controller.
type SysfsPins struct {
	C *gpio.Controller
}

func (p SysfsPins) ByNumber(n int) (GPIOPin, error) {
	pin, err := p.C.Pin(n)
	if err != nil {
		return nil, err
	}
	return pin, nil
}

// ByUserIndex counts from the first pin above the reserved range.
func (p SysfsPins) ByUserIndex(i int) (GPIOPin, error) {
	n, err := p.C.UserPin(i)
	if err != nil {
		return nil, err
	}
	return p.ByNumber(n)
}

func (p SysfsPins) Release(n int) error { return p.C.Release(n) }

// DevMem opens windows through an mmio device node; "" means /dev/mem.
type DevMem struct {
	Device string
}

func (d DevMem) Open(base, length uint64) (Window, error) {
	w, err := mmio.Open(mmio.Config{Device: d.Device, Base: base, Length: length})
	if err != nil {
		return nil, err
	}
	return w, nil
}

var (
	_ IRQPin     = (*gpio.Pin)(nil)
	_ Window     = (*mmio.Window)(nil)
	_ PinFactory = SysfsPins{}
)
