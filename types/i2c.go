package types

// ------------------------
// AXI IIC
// ------------------------

type I2CParams struct {
	IP        string `json:"ip,omitempty"`
	Base      uint64 `json:"base,omitempty"`
	Length    uint64 `json:"length,omitempty"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
}

type I2CInfo struct {
	Controller string `json:"controller"`
	Base       uint64 `json:"base"`
}

// I2CTx writes Write then reads ReadLen bytes from Addr.
type I2CTx struct {
	Addr    uint16 `json:"addr"`
	Write   []byte `json:"write,omitempty"`
	ReadLen int    `json:"read_len,omitempty"`
}

type I2CResult struct {
	Read []byte `json:"read"`
}
