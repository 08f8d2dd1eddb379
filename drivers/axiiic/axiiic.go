// Package axiiic drives a Xilinx AXI IIC controller in dynamic mode.
//
// Device implements tinygo.org/x/drivers.I2C, so any driver written
// against that interface can run on an I²C bus that lives in the fabric.
// A write followed by a read uses a repeated start; the bus is not
// released between the two phases.
package axiiic

import (
	"sync"
	"time"

	"tinygo.org/x/drivers"

	"overlaycode-go/errcode"
)

var _ drivers.I2C = (*Device)(nil)

// Register map (byte offsets).
const (
	regISR        = 0x020
	regSOFTR      = 0x040
	regCR         = 0x100
	regSR         = 0x104
	regTXFIFO     = 0x108
	regRXFIFO     = 0x10C
	regRXFIFOPIRQ = 0x120
)

const (
	softReset = 0xA

	crEnable      = 0x01
	crTXFIFOReset = 0x02

	srBusBusy     = 0x04
	srTXFIFOFull  = 0x10
	srRXFIFOEmpty = 0x40
	srTXFIFOEmpty = 0x80

	isrArbLost = 0x01
	isrTXError = 0x02 // no acknowledge

	txStart = 0x100
	txStop  = 0x200

	maxRead = 255 // dynamic-mode byte count field
)

// Registers is the word access a controller needs; *mmio.Window has it.
type Registers interface {
	Read32(off uint64) (uint32, error)
	Write32(off uint64, v uint32) error
}

type Config struct {
	// Timeout bounds each wait on the controller. Default 50 ms.
	Timeout time.Duration
	// Poll is the status polling interval. Default 50 µs.
	Poll time.Duration
}

// Device is one controller. Transactions are serialised.
type Device struct {
	mu   sync.Mutex
	regs Registers
	cfg  Config
}

// New resets and enables the controller.
func New(regs Registers, cfg Config) (*Device, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 50 * time.Millisecond
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 50 * time.Microsecond
	}
	d := &Device{regs: regs, cfg: cfg}
	if err := d.reset(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Device) reset() error {
	steps := []struct {
		off uint64
		v   uint32
	}{
		{regSOFTR, softReset},
		{regRXFIFOPIRQ, 0x0F},
		{regCR, crEnable | crTXFIFOReset},
		{regCR, crEnable},
	}
	for _, s := range steps {
		if err := d.regs.Write32(s.off, s.v); err != nil {
			return errcode.Wrap(errcode.Error, "axiiic.reset", err)
		}
	}
	return nil
}

// Tx writes w to addr, then reads len(r) bytes. Either may be empty.
func (d *Device) Tx(addr uint16, w, r []byte) error {
	if addr > 0x7F {
		return errcode.New(errcode.InvalidParams, "axiiic.tx", "10-bit addresses not supported")
	}
	if len(r) > maxRead {
		return errcode.New(errcode.InvalidParams, "axiiic.tx", "read longer than 255 bytes")
	}
	if len(w) == 0 && len(r) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.waitClear(srBusBusy, "axiiic.idle"); err != nil {
		return errcode.Wrap(errcode.BusBusy, "axiiic.tx", err)
	}
	// Clear latched error bits; ISR is toggle-on-write.
	if isr, err := d.regs.Read32(regISR); err == nil && isr&(isrArbLost|isrTXError) != 0 {
		_ = d.regs.Write32(regISR, isr&(isrArbLost|isrTXError))
	}

	a := uint32(addr) << 1
	if len(w) > 0 {
		if err := d.push(txStart | a); err != nil {
			return err
		}
		for i, b := range w {
			v := uint32(b)
			if i == len(w)-1 && len(r) == 0 {
				v |= txStop
			}
			if err := d.push(v); err != nil {
				return err
			}
		}
	}
	if len(r) > 0 {
		if err := d.push(txStart | a | 1); err != nil {
			return err
		}
		if err := d.push(txStop | uint32(len(r))); err != nil {
			return err
		}
		for i := range r {
			if err := d.waitClear(srRXFIFOEmpty, "axiiic.read"); err != nil {
				return d.fault(err)
			}
			v, err := d.regs.Read32(regRXFIFO)
			if err != nil {
				return errcode.Wrap(errcode.Error, "axiiic.read", err)
			}
			r[i] = byte(v)
		}
	} else if err := d.waitSet(srTXFIFOEmpty, "axiiic.write"); err != nil {
		return d.fault(err)
	}
	return d.checkAck()
}

func (d *Device) push(v uint32) error {
	if err := d.waitClear(srTXFIFOFull, "axiiic.push"); err != nil {
		return d.fault(err)
	}
	if err := d.regs.Write32(regTXFIFO, v); err != nil {
		return errcode.Wrap(errcode.Error, "axiiic.push", err)
	}
	return d.checkAck()
}

// checkAck turns a latched no-ack or arbitration loss into an error and
// resets the controller so the next transaction starts clean.
func (d *Device) checkAck() error {
	isr, err := d.regs.Read32(regISR)
	if err != nil {
		return errcode.Wrap(errcode.Error, "axiiic.isr", err)
	}
	switch {
	case isr&isrTXError != 0:
		_ = d.reset()
		return errcode.New(errcode.NoAck, "axiiic.tx", "")
	case isr&isrArbLost != 0:
		_ = d.reset()
		return errcode.New(errcode.BusBusy, "axiiic.tx", "arbitration lost")
	}
	return nil
}

// fault prefers an ack error over the timeout that it caused.
func (d *Device) fault(timeout error) error {
	if err := d.checkAck(); err != nil {
		return err
	}
	_ = d.reset()
	return timeout
}

func (d *Device) waitSet(bit uint32, op string) error {
	return d.wait(op, func(sr uint32) bool { return sr&bit != 0 })
}

func (d *Device) waitClear(bit uint32, op string) error {
	return d.wait(op, func(sr uint32) bool { return sr&bit == 0 })
}

func (d *Device) wait(op string, done func(uint32) bool) error {
	deadline := time.Now().Add(d.cfg.Timeout)
	for {
		sr, err := d.regs.Read32(regSR)
		if err != nil {
			return errcode.Wrap(errcode.Error, op, err)
		}
		if done(sr) {
			return nil
		}
		if time.Now().After(deadline) {
			return errcode.New(errcode.Timeout, op, "")
		}
		time.Sleep(d.cfg.Poll)
	}
}
