package timex

import (
	"testing"
	"time"
)

func TestMs(t *testing.T) {
	if Ms(250) != 250*time.Millisecond || Ms(0) != 0 {
		t.Fatal("Ms")
	}
}

func TestNowMs(t *testing.T) {
	before := time.Now().UnixMilli()
	got := NowMs()
	if got < before || got > time.Now().UnixMilli() {
		t.Fatalf("NowMs %d outside [%d, now]", got, before)
	}
}
