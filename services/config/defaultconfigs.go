package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: board name (same value placed in ctx under CtxDeviceKey)
// Val: raw JSON for that board. Each top-level key becomes config/<key>.
// -----------------------------------------------------------------------------

const cfgPynqZ1 = `{
  "paths": {
    "gpio_root": "/sys/class/gpio"
  },
  "heartbeat": {
    "interval_ms": 2000
  },
  "bridge": {
    "transport": {"type": "unix", "addr": "/run/overlayd.sock"}
  },
  "hal": {
    "devices": [
      {"id": "pl", "type": "overlay", "params": {"bitstream": "base.bit", "load_on_start": true}},
      {"id": "leds", "type": "mmio", "params": {"ip": "leds_gpio", "watch": [0], "sample_ms": 1000}},
      {"id": "btns", "type": "mmio", "params": {"ip": "btns_gpio", "watch": [0], "sample_ms": 200}},
      {"id": "switches", "type": "mmio", "params": {"ip": "switches_gpio", "watch": [0], "sample_ms": 200}}
    ]
  }
}`

const cfgPynqZ2 = `{
  "paths": {
    "gpio_root": "/sys/class/gpio"
  },
  "heartbeat": {
    "interval_ms": 2000
  },
  "bridge": {
    "transport": {"type": "unix", "addr": "/run/overlayd.sock"}
  },
  "hal": {
    "devices": [
      {"id": "pl", "type": "overlay", "params": {"bitstream": "base.bit", "load_on_start": true}},
      {"id": "leds", "type": "mmio", "params": {"ip": "leds_gpio", "watch": [0], "sample_ms": 1000}},
      {"id": "btns", "type": "mmio", "params": {"ip": "btns_gpio", "watch": [0], "sample_ms": 200}},
      {"id": "rpi_gpio", "type": "mmio", "params": {"ip": "rpi_gpio", "watch": [0, 8]}},
      {"id": "iic", "type": "axi_iic", "params": {"ip": "iic_subsystem", "timeout_ms": 50}},
      {"id": "user0", "type": "gpio", "params": {"index": 0, "mode": "input", "irq": {"edge": "both", "debounce_ms": 20}}}
    ]
  }
}`

var embeddedConfigs = map[string][]byte{
	"pynq-z1": []byte(cfgPynqZ1),
	"pynq-z2": []byte(cfgPynqZ2),
}
