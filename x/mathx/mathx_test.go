package mathx

import "testing"

func TestAlign(t *testing.T) {
	if AlignDown[uint64](0x41200ABC, 0x1000) != 0x41200000 {
		t.Fatal("AlignDown page")
	}
	if AlignUp[uint64](0x1001, 0x1000) != 0x2000 {
		t.Fatal("AlignUp page")
	}
	if AlignUp[uint64](0x2000, 0x1000) != 0x2000 {
		t.Fatal("AlignUp exact")
	}
	if !IsAligned[uint32](8, 4) || IsAligned[uint32](6, 4) {
		t.Fatal("IsAligned")
	}
	if !IsPow2[uint](4096) || IsPow2[uint](0) || IsPow2[uint](12) {
		t.Fatal("IsPow2")
	}
}

func TestClamp(t *testing.T) {
	if Clamp(5, 10, 0) != 5 || Clamp(-1, 0, 10) != 0 || Clamp(11, 0, 10) != 10 {
		t.Fatal("Clamp")
	}
	if Clamp(20, 50, 3_600_000) != 50 {
		t.Fatal("Clamp period floor")
	}
}

func TestFits(t *testing.T) {
	if !Fits[uint64](0xFFFC, 4, 0x10000) || Fits[uint64](0xFFFC, 8, 0x10000) {
		t.Fatal("Fits edge")
	}
	if Fits[uint64](^uint64(0)-1, 4, ^uint64(0)) {
		t.Fatal("Fits overflow")
	}
}
