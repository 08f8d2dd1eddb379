// Package consts holds the topic tokens and verbs of the HAL's bus API.
package consts

// Top-level topics
const (
	TokConfig  = "config"
	TokHAL     = "hal"
	TokCap     = "cap"
	TokState   = "state"
	TokInfo    = "info"
	TokStatus  = "status"
	TokValue   = "value"
	TokControl = "control"
	TokEvent   = "event"
)

// Control verbs handled by the service itself rather than an adaptor.
const (
	CtrlReadNow = "read_now"
	CtrlSetRate = "set_rate"
)

// Sampling period bounds for set_rate and sample_ms.
const (
	MinPeriodMS = 50
	MaxPeriodMS = 3_600_000
)

// Device types accepted in config/hal.
const (
	TypeOverlay = "overlay"
	TypeGPIO    = "gpio"
	TypeMMIO    = "mmio"
	TypeAXIIIC  = "axi_iic"
)
