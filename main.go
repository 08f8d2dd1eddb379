// overlayd runs the overlay hardware service. The board config decides
// which GPIO lines, MMIO windows and overlays are served on the in-process
// bus; the process stops on SIGINT or SIGTERM.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"overlaycode-go/bus"
	"overlaycode-go/consts"
	"overlaycode-go/drivers/bitstream"
	"overlaycode-go/drivers/gpio"
	"overlaycode-go/overlay"
	"overlaycode-go/services/bridge"
	"overlaycode-go/services/config"
	"overlaycode-go/services/hal"
	"overlaycode-go/services/heartbeat"
	"overlaycode-go/types"
	"overlaycode-go/x/logx"
	"overlaycode-go/x/strx"
)

func main() {
	board := flag.String("board", "pynq-z2", "embedded board config ("+strings.Join(config.Boards(), ", ")+")")
	file := flag.String("config", "", "JSON config file; overrides -board")
	level := flag.String("log-level", "info", "trace, debug, info, warn or error")
	pretty := flag.Bool("pretty", false, "human-readable console logs")
	flag.Parse()

	logx.Setup(os.Stderr, logx.ParseLevel(*level), *pretty)
	log := logx.For("main")

	doc, err := config.Load(*board, *file)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	paths, err := doc.Paths()
	if err != nil {
		log.Fatal().Err(err).Msg("paths")
	}
	paths = withDefaults(paths)
	log.Info().
		Str("board", *board).
		Str("bitstreams", paths.BitstreamDir).
		Str("xdevcfg", paths.ConfigDevice).
		Str("mem", paths.MMIODevice).
		Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pins := gpio.NewController(gpio.Config{Root: paths.GPIORoot})
	defer func() {
		if err := pins.Close(); err != nil {
			log.Warn().Err(err).Msg("unexport")
		}
	}()
	res := hal.Resources{
		Pins:    hal.SysfsPins{C: pins},
		Windows: hal.DevMem{Device: paths.MMIODevice},
		Fabric:  overlay.NewManager(paths.BitstreamDir, bitstream.NewProgrammer(paths.ConfigDevice, paths.PartialFlag)),
	}

	b := bus.NewBus(8)

	cfgSvc := config.NewConfigService()
	cfgSvc.Doc = doc

	halDone := make(chan struct{})
	go func() {
		defer close(halDone)
		hal.Run(ctx, b.NewConnection("hal"), res)
	}()
	_ = heartbeat.New().Start(ctx, b.NewConnection("heartbeat"))
	go bridge.Start(ctx, b.NewConnection("bridge"))
	cfgSvc.Start(ctx, b.NewConnection("config"))

	go watchState(ctx, b.NewConnection("main"))

	<-ctx.Done()
	log.Info().Msg("shutting down")
	select {
	case <-halDone:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("hal did not stop in time")
	}
}

// withDefaults fills unset paths from the board constants.
func withDefaults(p types.Paths) types.Paths {
	p.BitstreamDir = strx.Coalesce(p.BitstreamDir, consts.BitstreamSearchPath)
	p.ConfigDevice = strx.Coalesce(p.ConfigDevice, consts.ConfigDevice)
	p.PartialFlag = strx.Coalesce(p.PartialFlag, consts.PartialBitstreamFlag)
	p.MMIODevice = strx.Coalesce(p.MMIODevice, consts.MMIODevice)
	p.GPIORoot = strx.Coalesce(p.GPIORoot, gpio.DefaultRoot)
	return p
}

// watchState logs HAL state transitions.
func watchState(ctx context.Context, conn *bus.Connection) {
	log := logx.For("main")
	sub := conn.Subscribe(bus.T("hal", "state"))
	defer conn.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-sub.Channel():
			st, ok := m.Payload.(types.HALState)
			if !ok {
				continue
			}
			ev := log.Info()
			if st.Level == "error" {
				ev = log.Error().Str("error", st.Error)
			}
			ev.Str("state", st.Level).Str("status", st.Status).Msg("hal state")
		}
	}
}
