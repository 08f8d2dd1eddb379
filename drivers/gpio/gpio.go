// Package gpio drives Linux sysfs GPIO lines for the programmable-logic
// pins of a Zynq board.
//
// User pins are numbered from the PS GPIO chip base plus
// consts.GPIOMinUserPin; lower numbers are the reserved MIO pins and are
// refused.
package gpio

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rs/zerolog"

	"overlaycode-go/consts"
	"overlaycode-go/errcode"
	"overlaycode-go/x/logx"
)

const (
	DefaultRoot = "/sys/class/gpio"
	psChipLabel = "zynq_gpio"
)

type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// Edge selection for IRQ.
type Edge uint8

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	case EdgeBoth:
		return "both"
	default:
		return "none"
	}
}

type Config struct {
	// Root defaults to DefaultRoot.
	Root string
	// ExportTimeout bounds the wait for gpioN/ to appear after export.
	// Default 1 s.
	ExportTimeout time.Duration
}

// Controller hands out pins and remembers which ones it exported.
type Controller struct {
	root    string
	timeout time.Duration
	log     zerolog.Logger

	mu       sync.Mutex
	base     int
	haveBase bool
	exported mapset.Set[int]
	pins     map[int]*Pin
}

func NewController(cfg Config) *Controller {
	if cfg.Root == "" {
		cfg.Root = DefaultRoot
	}
	if cfg.ExportTimeout <= 0 {
		cfg.ExportTimeout = time.Second
	}
	return &Controller{
		root:     cfg.Root,
		timeout:  cfg.ExportTimeout,
		log:      logx.For("gpio"),
		exported: mapset.NewSet[int](),
		pins:     map[int]*Pin{},
	}
}

// Base returns the number of the first line of the PS GPIO chip.
func (c *Controller) Base() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseLocked()
}

func (c *Controller) baseLocked() (int, error) {
	if c.haveBase {
		return c.base, nil
	}
	chips, err := filepath.Glob(filepath.Join(c.root, "gpiochip*"))
	if err != nil {
		return 0, err
	}
	var bases []int
	for _, chip := range chips {
		b, err := readInt(filepath.Join(chip, "base"))
		if err != nil {
			continue
		}
		if label, _ := readString(filepath.Join(chip, "label")); label == psChipLabel {
			c.base, c.haveBase = b, true
			return b, nil
		}
		bases = append(bases, b)
	}
	if len(bases) == 0 {
		return 0, errcode.New(errcode.UnknownPin, "gpio.base", "no gpiochip under "+c.root)
	}
	sort.Ints(bases)
	c.base, c.haveBase = bases[0], true
	return c.base, nil
}

// UserPin maps a user index (0 = first PL pin) to a sysfs line number.
func (c *Controller) UserPin(index int) (int, error) {
	if index < 0 {
		return 0, errcode.New(errcode.InvalidParams, "gpio.user_pin", "negative index")
	}
	base, err := c.Base()
	if err != nil {
		return 0, err
	}
	return base + consts.GPIOMinUserPin + index, nil
}

// Pin returns the line with the given sysfs number, exporting it if needed.
// Repeated calls return the same *Pin.
func (c *Controller) Pin(number int) (*Pin, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	base, err := c.baseLocked()
	if err != nil {
		return nil, err
	}
	if number < base+consts.GPIOMinUserPin {
		return nil, errcode.New(errcode.PinReserved, "gpio.pin", "pin "+strconv.Itoa(number)+" is below the user range")
	}
	if p, ok := c.pins[number]; ok {
		return p, nil
	}

	dir := filepath.Join(c.root, "gpio"+strconv.Itoa(number))
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if err := writeString(filepath.Join(c.root, "export"), strconv.Itoa(number)); err != nil {
			return nil, errcode.Wrap(errcode.UnknownPin, "gpio.export", err)
		}
		if err := waitFor(dir, c.timeout); err != nil {
			return nil, errcode.Wrap(errcode.Timeout, "gpio.export", err)
		}
		c.exported.Add(number)
		c.log.Debug().Int("pin", number).Msg("exported")
	}

	p := &Pin{number: number, dir: dir, log: c.log}
	c.pins[number] = p
	return p, nil
}

// Release stops IRQ delivery for a pin and unexports it if this controller
// exported it.
func (c *Controller) Release(number int) error {
	c.mu.Lock()
	p := c.pins[number]
	delete(c.pins, number)
	owned := c.exported.Contains(number)
	c.exported.Remove(number)
	c.mu.Unlock()

	if p != nil {
		_ = p.ClearIRQ()
	}
	if !owned {
		return nil
	}
	return writeString(filepath.Join(c.root, "unexport"), strconv.Itoa(number))
}

// Exported lists the pins this controller exported, ascending.
func (c *Controller) Exported() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.exported.ToSlice()
	sort.Ints(s)
	return s
}

// Close releases every pin handed out.
func (c *Controller) Close() error {
	c.mu.Lock()
	numbers := make([]int, 0, len(c.pins))
	for n := range c.pins {
		numbers = append(numbers, n)
	}
	c.mu.Unlock()

	var errs []error
	for _, n := range numbers {
		if err := c.Release(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ---- file helpers ----

func readString(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func readInt(path string) (int, error) {
	s, err := readString(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(s)
}

// writeString opens with O_TRUNC: sysfs ignores it, plain files need it.
func writeString(path, s string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(s)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	return werr
}

func waitFor(path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		_, err := os.Stat(path)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(10 * time.Millisecond)
	}
}
