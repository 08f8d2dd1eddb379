package gpio

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"overlaycode-go/errcode"
)

// Pin is one exported sysfs line.
type Pin struct {
	number int
	dir    string
	log    zerolog.Logger

	// armMu serialises SetIRQ and ClearIRQ; mu guards irq.
	armMu sync.Mutex
	mu    sync.Mutex
	irq   *irqWatch
}

func (p *Pin) Number() int { return p.number }

// ConfigureInput sets the line direction to input. sysfs has no pull
// control, so only PullNone is accepted.
func (p *Pin) ConfigureInput(pull Pull) error {
	if pull != PullNone {
		return errcode.New(errcode.Unsupported, "gpio.configure_input", "sysfs lines have no pull control")
	}
	return p.attr("direction", "in")
}

// ConfigureOutput sets the line to output with a glitch-free initial level.
func (p *Pin) ConfigureOutput(initial bool) error {
	v := "low"
	if initial {
		v = "high"
	}
	return p.attr("direction", v)
}

func (p *Pin) Set(level bool) error {
	v := "0"
	if level {
		v = "1"
	}
	return p.attr("value", v)
}

func (p *Pin) Get() (bool, error) {
	s, err := readString(filepath.Join(p.dir, "value"))
	if err != nil {
		return false, errcode.Wrap(errcode.Error, "gpio.get", err)
	}
	return s == "1", nil
}

func (p *Pin) Toggle() error {
	v, err := p.Get()
	if err != nil {
		return err
	}
	return p.Set(!v)
}

// Direction reports "in" or "out".
func (p *Pin) Direction() (string, error) {
	return readString(filepath.Join(p.dir, "direction"))
}

// SetIRQ arms edge detection and calls handler from a private goroutine on
// every edge the kernel reports. A second call replaces the first.
func (p *Pin) SetIRQ(edge Edge, handler func()) error {
	p.armMu.Lock()
	defer p.armMu.Unlock()
	if err := p.clearIRQ(); err != nil || edge == EdgeNone {
		return err
	}
	if err := p.attr("edge", edge.String()); err != nil {
		return err
	}
	f, err := os.Open(filepath.Join(p.dir, "value"))
	if err != nil {
		return errcode.Wrap(errcode.Error, "gpio.set_irq", err)
	}
	w := newIRQWatch(f, handler, p.log.With().Int("pin", p.number).Logger())
	p.mu.Lock()
	p.irq = w
	p.mu.Unlock()
	go w.run()
	return nil
}

// ClearIRQ stops edge delivery and disarms the line.
func (p *Pin) ClearIRQ() error {
	p.armMu.Lock()
	defer p.armMu.Unlock()
	return p.clearIRQ()
}

func (p *Pin) clearIRQ() error {
	p.mu.Lock()
	w := p.irq
	p.irq = nil
	p.mu.Unlock()
	if w == nil {
		return nil
	}
	w.stop()
	return p.attr("edge", EdgeNone.String())
}

func (p *Pin) attr(name, v string) error {
	if err := writeString(filepath.Join(p.dir, name), v); err != nil {
		return errcode.Wrap(errcode.Error, "gpio."+name, err)
	}
	return nil
}
