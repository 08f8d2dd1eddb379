package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"overlaycode-go/consts"
	"overlaycode-go/drivers/gpio"
	"overlaycode-go/drivers/mmio"
	"overlaycode-go/errcode"
	"overlaycode-go/types"
)

// fabric is the part of overlay.Manager the shell drives.
type fabric interface {
	Download(ctx context.Context, name string, partial bool) (types.PLState, error)
	State() types.PLState
	LookupIP(name string) (types.IP, error)
}

type shell struct {
	out     io.Writer
	fab     fabric
	gpio    *gpio.Controller
	memDev  string
	timeout time.Duration
}

var errExit = errors.New("exit")

// exec runs one command line. It returns errExit for "exit"; other errors
// are already printed.
func (s *shell) exec(line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		fmt.Fprintln(s.out, "parse error:", err)
		return nil
	}
	if len(args) == 0 {
		return nil
	}

	command, args := args[0], args[1:]
	switch command {
	case "peek":
		err = s.peek(args)
	case "poke":
		err = s.poke(args)
	case "download", "dl":
		err = s.download(args)
	case "state":
		s.printState(s.fab.State())
	case "ips":
		s.printIPs(s.fab.State().IPs)
	case "gpio":
		err = s.gpioCmd(args)
	case "help":
		fmt.Fprintln(s.out, "commands: peek <addr|ip> [offset] [count], poke <addr|ip> [offset] <value>,")
		fmt.Fprintln(s.out, "  download <name> [partial], state, ips, gpio get <index>, gpio set <index> <0|1>, exit")
	case "exit", "quit":
		return errExit
	default:
		fmt.Fprintf(s.out, "unknown command: %s\n", command)
	}
	if err != nil {
		fmt.Fprintln(s.out, "error:", err)
	}
	return nil
}

func parseUint(str string) (uint64, error) {
	return strconv.ParseUint(str, 0, 64)
}

// target resolves "<addr>" or "<ip> <offset>" to a physical address and
// returns the unconsumed args.
func (s *shell) target(args []string) (uint64, []string, error) {
	if len(args) == 0 {
		return 0, nil, errcode.New(errcode.InvalidParams, "target", "missing address")
	}
	if addr, err := parseUint(args[0]); err == nil {
		return addr, args[1:], nil
	}
	ip, err := s.fab.LookupIP(args[0])
	if err != nil {
		return 0, nil, err
	}
	args = args[1:]
	addr := ip.Base
	if len(args) > 0 {
		off, err := parseUint(args[0])
		if err != nil {
			return 0, nil, errcode.Wrap(errcode.InvalidParams, "target", err)
		}
		if off >= ip.Range {
			return 0, nil, errcode.New(errcode.OutOfRange, "target", "offset beyond "+ip.Name)
		}
		addr += off
		args = args[1:]
	}
	return addr, args, nil
}

func (s *shell) window(addr uint64, words int) (*mmio.Window, error) {
	if uint32(addr)&^consts.MMIOWordMask != 0 {
		return nil, errcode.New(errcode.Misaligned, "mmio", fmt.Sprintf("0x%x is not word aligned", addr))
	}
	return mmio.Open(mmio.Config{Device: s.memDev, Base: addr, Length: uint64(words) * consts.MMIOWordLength})
}

func (s *shell) peek(args []string) error {
	addr, rest, err := s.target(args)
	if err != nil {
		return err
	}
	count := 1
	if len(rest) > 0 {
		n, err := strconv.Atoi(rest[0])
		if err != nil || n <= 0 {
			return errcode.New(errcode.InvalidParams, "peek", "count must be positive")
		}
		count = n
	}
	w, err := s.window(addr, count)
	if err != nil {
		return err
	}
	defer w.Close()

	buf := make([]uint32, count)
	if err := w.ReadWords(0, buf); err != nil {
		return err
	}
	for i, v := range buf {
		fmt.Fprintf(s.out, "0x%08x: 0x%08x\n", addr+uint64(i*consts.MMIOWordLength), v)
	}
	return nil
}

func (s *shell) poke(args []string) error {
	addr, rest, err := s.target(args)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return errcode.New(errcode.InvalidParams, "poke", "want exactly one value")
	}
	v, err := strconv.ParseUint(rest[0], 0, 32)
	if err != nil {
		return errcode.Wrap(errcode.InvalidParams, "poke", err)
	}
	w, err := s.window(addr, 1)
	if err != nil {
		return err
	}
	defer w.Close()
	return w.Write32(0, uint32(v))
}

func (s *shell) download(args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return errcode.New(errcode.InvalidParams, "download", "usage: download <name> [partial]")
	}
	partial := len(args) == 2 && args[1] == "partial"
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	st, err := s.fab.Download(ctx, args[0], partial)
	if err != nil {
		return err
	}
	s.printState(st)
	return nil
}

func (s *shell) gpioCmd(args []string) error {
	if s.gpio == nil {
		return errcode.New(errcode.Unsupported, "gpio", "no gpio controller")
	}
	if len(args) < 2 {
		return errcode.New(errcode.InvalidParams, "gpio", "usage: gpio get|set <index> [0|1]")
	}
	idx, err := strconv.Atoi(args[1])
	if err != nil {
		return errcode.Wrap(errcode.InvalidParams, "gpio", err)
	}
	n, err := s.gpio.UserPin(idx)
	if err != nil {
		return err
	}
	pin, err := s.gpio.Pin(n)
	if err != nil {
		return err
	}

	switch args[0] {
	case "get":
		// sysfs reads back the driven level of an output, so the direction
		// is left as found.
		v, err := pin.Get()
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "gpio %d (pin %d) = %d\n", idx, n, boolInt(v))
	case "set":
		if len(args) != 3 || (args[2] != "0" && args[2] != "1") {
			return errcode.New(errcode.InvalidParams, "gpio", "set needs 0 or 1")
		}
		return pin.ConfigureOutput(args[2] == "1")
	default:
		return errcode.New(errcode.InvalidParams, "gpio", "unknown gpio verb "+args[0])
	}
	return nil
}

func (s *shell) printState(st types.PLState) {
	if st.Bitstream == "" {
		fmt.Fprintln(s.out, "no overlay loaded")
		return
	}
	fmt.Fprintf(s.out, "bitstream %s partial=%v loaded %s\n",
		st.Bitstream, st.Partial, time.UnixMilli(st.TS).Format(time.DateTime))
	if len(st.Regions) > 0 {
		fmt.Fprintf(s.out, "regions: %s\n", strings.Join(st.Regions, ", "))
	}
	fmt.Fprintf(s.out, "%d ips, %d gpio lines\n", len(st.IPs), len(st.GPIO))
}

func (s *shell) printIPs(ips []types.IP) {
	sort.Slice(ips, func(i, j int) bool { return ips[i].Base < ips[j].Base })
	for _, ip := range ips {
		fmt.Fprintf(s.out, "0x%08x %8x %-24s %s\n", ip.Base, ip.Range, ip.Name, ip.Type)
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
