package overlay

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"overlaycode-go/types"
)

// PL tracks what the programmable logic currently holds. A full image
// replaces everything; a partial image merges its IPs over the current
// set and is remembered as a loaded region.
type PL struct {
	mu        sync.RWMutex
	bitstream string
	partial   bool
	ts        time.Time
	ips       map[string]types.IP
	gpio      map[string]int
	regions   mapset.Set[string]
}

func NewPL() *PL {
	return &PL{
		ips:     map[string]types.IP{},
		gpio:    map[string]int{},
		regions: mapset.NewThreadUnsafeSet[string](),
	}
}

// Apply records a completed download.
func (p *PL) Apply(name string, partial bool, ts time.Time, d *Descriptor) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !partial {
		p.ips = map[string]types.IP{}
		p.gpio = map[string]int{}
		p.regions.Clear()
	}
	region := ""
	if partial {
		region = regionName(name)
		p.regions.Add(region)
	}
	for k, ip := range d.IPs {
		ip.Region = region
		p.ips[k] = ip
	}
	for k, v := range d.GPIO {
		p.gpio[k] = v
	}
	p.bitstream = name
	p.partial = partial
	p.ts = ts
}

// Empty reports whether no full image has been recorded yet.
func (p *PL) Empty() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bitstream == ""
}

// Loaded matches either the last image or a loaded partial region.
func (p *PL) Loaded(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if name == "" {
		return false
	}
	return filepath.Base(name) == p.bitstream || p.regions.Contains(regionName(name))
}

func (p *PL) IP(name string) (types.IP, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ip, ok := p.ips[name]
	return ip, ok
}

func (p *PL) GPIOIndex(name string) (int, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	i, ok := p.gpio[name]
	return i, ok
}

// IPNames is a copy; callers may mutate it.
func (p *PL) IPNames() mapset.Set[string] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := mapset.NewThreadUnsafeSetWithSize[string](len(p.ips))
	for k := range p.ips {
		s.Add(k)
	}
	return s
}

// Snapshot orders IPs by base address and GPIO lines by index.
func (p *PL) Snapshot() types.PLState {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st := types.PLState{
		Bitstream: p.bitstream,
		Partial:   p.partial,
		IPs:       make([]types.IP, 0, len(p.ips)),
	}
	if !p.ts.IsZero() {
		st.TS = p.ts.UnixMilli()
	}
	for _, ip := range p.ips {
		st.IPs = append(st.IPs, ip)
	}
	sort.Slice(st.IPs, func(i, j int) bool { return st.IPs[i].Base < st.IPs[j].Base })
	for n, i := range p.gpio {
		st.GPIO = append(st.GPIO, types.GPIOLine{Name: n, Index: i})
	}
	sort.Slice(st.GPIO, func(i, j int) bool { return st.GPIO[i].Index < st.GPIO[j].Index })
	st.Regions = p.regions.ToSlice()
	sort.Strings(st.Regions)
	return st
}

func regionName(name string) string {
	b := filepath.Base(name)
	return strings.TrimSuffix(b, filepath.Ext(b))
}
