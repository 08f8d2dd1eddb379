package overlay

import (
	"bufio"
	"errors"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"overlaycode-go/errcode"
	"overlaycode-go/types"
)

// Descriptor is what the block-design script tells us about an image.
type Descriptor struct {
	IPs   map[string]types.IP // by cell name
	Cells map[string]string   // cell path -> VLNV
	GPIO  map[string]int      // xlslice cell -> user GPIO index
}

func newDescriptor() *Descriptor {
	return &Descriptor{
		IPs:   map[string]types.IP{},
		Cells: map[string]string{},
		GPIO:  map[string]int{},
	}
}

// GPIOLines returns the GPIO map ordered by index.
func (d *Descriptor) GPIOLines() []types.GPIOLine {
	out := make([]types.GPIOLine, 0, len(d.GPIO))
	for n, i := range d.GPIO {
		out = append(out, types.GPIOLine{Name: n, Index: i})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// ParseDescriptorFile parses the script at path. A missing file yields an
// empty descriptor and an error matching os.ErrNotExist.
func ParseDescriptorFile(path string) (*Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return newDescriptor(), err
	}
	defer f.Close()
	return ParseDescriptor(f)
}

// ParseDescriptor scans a Vivado block-design Tcl script. Only three
// command shapes matter:
//
//	create_bd_addr_seg -range R -offset O [...] [get_bd_addr_segs cell/if/seg] NAME
//	set var [ create_bd_cell -type ip -vlnv VLNV name ]
//	set_property -dict [ list CONFIG.DIN_FROM {N} ... ] $var
//
// Everything else is ignored.
func ParseDescriptor(r io.Reader) (*Descriptor, error) {
	d := newDescriptor()
	vars := map[string]string{}
	dinFrom := map[string]int{}

	lines, err := logicalLines(r)
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidPayload, "overlay.descriptor", err)
	}
	for n, line := range lines {
		raw, err := shlex.Split(line)
		if err != nil {
			return nil, &errcode.E{C: errcode.InvalidPayload, Op: "overlay.descriptor",
				Msg: "line " + strconv.Itoa(n+1), Err: err}
		}
		toks := unbracket(raw)
		if len(toks) == 0 {
			continue
		}
		switch {
		case indexOf(toks, "create_bd_addr_seg") >= 0:
			ip, ok := parseAddrSeg(toks)
			if ok {
				d.IPs[ip.Name] = ip
			}
		case indexOf(toks, "create_bd_cell") >= 0:
			path, vlnv := parseCell(toks)
			if path == "" {
				continue
			}
			if vlnv != "" {
				d.Cells[path] = vlnv
			}
			if toks[0] == "set" && len(toks) > 1 {
				vars[toks[1]] = path
			}
		case toks[0] == "set_property":
			cell, idx, ok := parseDinFrom(toks, vars)
			if ok {
				dinFrom[cell] = idx
			}
		}
	}

	for name, ip := range d.IPs {
		if v, ok := d.Cells[ip.Path]; ok {
			ip.Type = v
			d.IPs[name] = ip
		}
	}
	for cell, idx := range dinFrom {
		if strings.Contains(d.Cells[cell], ":xlslice:") {
			d.GPIO[leaf(cell)] = idx
		}
	}
	return d, nil
}

// logicalLines joins backslash continuations.
func logicalLines(r io.Reader) ([]string, error) {
	var out []string
	var cur strings.Builder
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for sc.Scan() {
		ln := strings.TrimRight(sc.Text(), " \t\r")
		if strings.HasSuffix(ln, `\`) {
			cur.WriteString(strings.TrimSuffix(ln, `\`))
			cur.WriteByte(' ')
			continue
		}
		cur.WriteString(ln)
		out = append(out, cur.String())
		cur.Reset()
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out, sc.Err()
}

// unbracket drops Tcl command-substitution brackets, which shlex keeps
// glued to neighbouring words.
func unbracket(in []string) []string {
	out := in[:0]
	for _, t := range in {
		t = strings.TrimLeft(t, "[")
		t = strings.TrimRight(t, "]")
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseAddrSeg(toks []string) (types.IP, bool) {
	var ip types.IP
	var err error
	rng, ok1 := flag(toks, "-range")
	off, ok2 := flag(toks, "-offset")
	if !ok1 || !ok2 {
		return ip, false
	}
	if ip.Range, err = parseSize(rng); err != nil {
		return ip, false
	}
	if ip.Base, err = strconv.ParseUint(off, 0, 64); err != nil {
		return ip, false
	}
	seg, ok := flag(toks, "get_bd_addr_segs")
	if !ok {
		return ip, false
	}
	// cell path / interface / segment
	parts := strings.Split(seg, "/")
	if len(parts) < 3 {
		return ip, false
	}
	ip.Path = strings.Join(parts[:len(parts)-2], "/")
	ip.Name = leaf(ip.Path)
	return ip, true
}

func parseCell(toks []string) (path, vlnv string) {
	i := indexOf(toks, "create_bd_cell")
	for j := i + 1; j < len(toks); j++ {
		switch toks[j] {
		case "-type", "-vlnv", "-name":
			if j+1 < len(toks) && toks[j] == "-vlnv" {
				vlnv = toks[j+1]
			}
			j++
		default:
			if strings.HasPrefix(toks[j], "-") {
				continue
			}
			return toks[j], vlnv
		}
	}
	return "", vlnv
}

func parseDinFrom(toks []string, vars map[string]string) (string, int, bool) {
	v, ok := flag(toks, "CONFIG.DIN_FROM")
	if !ok {
		return "", 0, false
	}
	idx, err := strconv.Atoi(strings.Trim(v, "{}"))
	if err != nil {
		return "", 0, false
	}
	var cell string
	if c, ok := flag(toks, "get_bd_cells"); ok {
		cell = c
	} else if last := toks[len(toks)-1]; strings.HasPrefix(last, "$") {
		cell = vars[strings.TrimPrefix(last, "$")]
	}
	return cell, idx, cell != ""
}

// parseSize accepts plain or 0x numbers and Vivado's K/M/G suffixes.
func parseSize(s string) (uint64, error) {
	mult := uint64(1)
	switch {
	case strings.HasSuffix(s, "K"):
		mult = 1 << 10
	case strings.HasSuffix(s, "M"):
		mult = 1 << 20
	case strings.HasSuffix(s, "G"):
		mult = 1 << 30
	}
	if mult != 1 {
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errors.New("zero range")
	}
	if n > math.MaxUint64/mult {
		return 0, errors.New("range overflows 64 bits")
	}
	return n * mult, nil
}

func flag(toks []string, name string) (string, bool) {
	if i := indexOf(toks, name); i >= 0 && i+1 < len(toks) {
		return toks[i+1], true
	}
	return "", false
}

func indexOf(toks []string, s string) int {
	for i, t := range toks {
		if t == s {
			return i
		}
	}
	return -1
}

func leaf(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
