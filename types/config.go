package types

// Paths lets a board config move the kernel interfaces; empty fields keep
// the built-in constants.
type Paths struct {
	BitstreamDir string `json:"bitstream_dir,omitempty"`
	ConfigDevice string `json:"config_device,omitempty"`
	PartialFlag  string `json:"partial_flag,omitempty"`
	MMIODevice   string `json:"mmio_device,omitempty"`
	GPIORoot     string `json:"gpio_root,omitempty"`
}

// HeartbeatConfig is supplied on "config/heartbeat".
type HeartbeatConfig struct {
	IntervalMS int `json:"interval_ms"`
}

// Heartbeat is published retained on "sys/heartbeat".
type Heartbeat struct {
	UptimeMS int64  `json:"uptime_ms"`
	Seq      uint64 `json:"seq"`
	TS       int64  `json:"ts_ms"`
}
