// overlayctl is an interactive shell over the overlay, MMIO and GPIO
// drivers. It talks to the hardware directly, not through the daemon.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/chzyer/readline"

	"overlaycode-go/consts"
	"overlaycode-go/drivers/bitstream"
	"overlaycode-go/drivers/gpio"
	"overlaycode-go/overlay"
	"overlaycode-go/x/logx"
)

func main() {
	search := flag.String("search", consts.BitstreamSearchPath, "bitstream directory")
	memDev := flag.String("mem", consts.MMIODevice, "physical memory device")
	cfgDev := flag.String("xdevcfg", consts.ConfigDevice, "bitstream programming device")
	flagPath := flag.String("partial-flag", consts.PartialBitstreamFlag, "partial bitstream sysfs attribute")
	gpioRoot := flag.String("gpio-root", gpio.DefaultRoot, "sysfs gpio root")
	level := flag.String("log-level", "warn", "log level")
	flag.Parse()

	logx.Setup(os.Stderr, logx.ParseLevel(*level), true)

	ctl := gpio.NewController(gpio.Config{Root: *gpioRoot})
	defer ctl.Close()

	sh := &shell{
		out:     os.Stdout,
		fab:     overlay.NewManager(*search, bitstream.NewProgrammer(*cfgDev, *flagPath)),
		gpio:    ctl,
		memDev:  *memDev,
		timeout: 30 * time.Second,
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "overlay> ",
		EOFPrompt:       "exit",
		InterruptPrompt: "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("download"),
			readline.PcItem("exit"),
			readline.PcItem("gpio", readline.PcItem("get"), readline.PcItem("set")),
			readline.PcItem("help"),
			readline.PcItem("ips"),
			readline.PcItem("peek"),
			readline.PcItem("poke"),
			readline.PcItem("state"),
		),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	lastCommand := ""
	for {
		if st := sh.fab.State(); st.Bitstream != "" {
			rl.SetPrompt(fmt.Sprintf("overlay (%s)> ", st.Bitstream))
		}

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			}
			continue
		} else if err == io.EOF {
			break
		}

		// Enter repeats the previous command, handy for polling a register.
		if line == "" {
			line = lastCommand
		} else {
			lastCommand = line
		}

		if errors.Is(sh.exec(line), errExit) {
			return
		}
	}
}
