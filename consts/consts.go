// Package consts holds the fixed board parameters shared by the overlay,
// GPIO and MMIO layers: reserved pin boundary, bitstream locations, kernel
// device nodes and the MMIO word geometry.
//
// Values are set once at start-up and never mutated afterwards.
package consts

import (
	"os"
	"path/filepath"
	"strings"
)

// GPIO
const (
	// GPIOMinUserPin is the lowest GPIO index exposed to users. Indices
	// below it belong to the PS MIO pins and are reserved.
	GPIOMinUserPin = 54
)

// Overlay
const (
	BitstreamDirName   = "bitstream"
	BootBitstreamName  = "base.bit"
	BootDescriptorName = "base.tcl"

	// PartialBitstreamFlag tells the devcfg driver whether the next image
	// written to ConfigDevice is a partial reconfiguration.
	PartialBitstreamFlag = "/sys/devices/soc0/amba/f8007000.devcfg/is_partial_bitstream"
	ConfigDevice         = "/dev/xdevcfg"

	// SearchPathEnv overrides the bitstream search directory.
	SearchPathEnv = "OVERLAY_BITSTREAM_PATH"
)

// MMIO
const (
	MMIODevice     = "/dev/mem"
	MMIOWordLength = 4
	MMIOWordMask   = ^uint32(MMIOWordLength - 1)
)

var (
	// BitstreamSearchPath always ends in a path separator.
	BitstreamSearchPath = defaultSearchPath()
	BootBitstream       = BitstreamSearchPath + BootBitstreamName
	BootDescriptor      = BitstreamSearchPath + BootDescriptorName
)

func defaultSearchPath() string {
	if p := os.Getenv(SearchPathEnv); p != "" {
		return withSlash(p)
	}
	return withSlash(filepath.Join(executableDir(), BitstreamDirName))
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	if real, err := filepath.EvalSymlinks(exe); err == nil {
		exe = real
	}
	return filepath.Dir(exe)
}

func withSlash(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}
