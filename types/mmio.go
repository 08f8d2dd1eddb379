package types

// ------------------------
// MMIO
// ------------------------

// MMIOParams maps a window either by IP name from the loaded overlay or
// by explicit physical base and length.
type MMIOParams struct {
	IP       string   `json:"ip,omitempty"`
	Base     uint64   `json:"base,omitempty"`
	Length   uint64   `json:"length,omitempty"`
	Watch    []uint32 `json:"watch,omitempty"` // register offsets to sample
	SampleMS int      `json:"sample_ms,omitempty"`
}

type MMIOInfo struct {
	IP     string   `json:"ip,omitempty"`
	Base   uint64   `json:"base"`
	Length uint64   `json:"length"`
	Watch  []uint32 `json:"watch,omitempty"`
}

type MMIORead struct {
	Offset uint32 `json:"offset"`
	Count  int    `json:"count,omitempty"`
}

type MMIOWrite struct {
	Offset uint32 `json:"offset"`
	Value  uint32 `json:"value"`
}

// MMIOValue is one sampled register.
type MMIOValue struct {
	Offset uint32 `json:"offset"`
	Value  uint32 `json:"value"`
}

// MMIOSample is published on .../value after each sampling pass.
type MMIOSample struct {
	Regs []MMIOValue `json:"regs"`
	TS   int64       `json:"ts_ms"`
}
