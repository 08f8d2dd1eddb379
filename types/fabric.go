package types

// ------------------------
// Overlay / programmable logic
// ------------------------

// IP is one addressable block from an overlay descriptor.
type IP struct {
	Name   string `json:"name"`
	Path   string `json:"path,omitempty"` // hierarchical cell path
	Type   string `json:"type,omitempty"` // VLNV when known
	Base   uint64 `json:"base"`
	Range  uint64 `json:"range"`
	Region string `json:"region,omitempty"` // partial region that loaded it
}

// GPIOLine maps a descriptor slice to a user GPIO index.
type GPIOLine struct {
	Name  string `json:"name"`
	Index int    `json:"index"`
}

// PLState is the retained view of what the fabric currently holds.
type PLState struct {
	Bitstream string     `json:"bitstream"`
	Partial   bool       `json:"partial"`
	TS        int64      `json:"ts_ms"`
	Regions   []string   `json:"regions,omitempty"`
	IPs       []IP       `json:"ips"`
	GPIO      []GPIOLine `json:"gpio,omitempty"`
}

type OverlayParams struct {
	Bitstream   string `json:"bitstream,omitempty"` // default consts.BootBitstream
	Partial     bool   `json:"partial,omitempty"`
	LoadOnStart bool   `json:"load_on_start,omitempty"`
}

type OverlayInfo struct {
	Bitstream   string `json:"bitstream"`
	LoadOnStart bool   `json:"load_on_start"`
}

// OverlayDownload is the payload of the download verb.
type OverlayDownload struct {
	Bitstream string `json:"bitstream"`
	Partial   bool   `json:"partial,omitempty"`
}
