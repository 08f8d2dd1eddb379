package types

// ------------------------
// GPIO
// ------------------------

type GPIOIRQ struct {
	Edge       string `json:"edge"` // "rising","falling","both","none"
	DebounceMS int    `json:"debounce_ms,omitempty"`
}

// GPIOParams selects a pin by user index (offset past the reserved range),
// by absolute sysfs number or by a GPIO name from the loaded overlay.
type GPIOParams struct {
	Name    string   `json:"name,omitempty"`
	Index   *int     `json:"index,omitempty"`
	Pin     *int     `json:"pin,omitempty"`
	Mode    string   `json:"mode"`           // "input" | "output"
	Pull    string   `json:"pull,omitempty"` // only "none" is honoured by sysfs
	Initial *bool    `json:"initial,omitempty"`
	Invert  bool     `json:"invert,omitempty"`
	IRQ     *GPIOIRQ `json:"irq,omitempty"`
}

type GPIOInfo struct {
	Pin    int    `json:"pin"`
	Mode   string `json:"mode"`
	Invert bool   `json:"invert"`
	Pull   string `json:"pull,omitempty"`
}

type GPIOValue struct {
	Level int `json:"level"`
}

type GPIOSet struct {
	Level bool `json:"level"`
}

type GPIOEvent struct {
	Edge  string `json:"edge"`
	Level int    `json:"level"`
	TS    int64  `json:"ts_ms"`
}
