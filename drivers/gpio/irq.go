package gpio

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// pollSliceMs bounds how long run blocks before checking for stop.
const pollSliceMs = 100

// irqWatch waits for POLLPRI on a sysfs value file. sysfs signals an
// edge as POLLPRI|POLLERR; the value must be re-read from offset 0 to
// re-arm the notification.
type irqWatch struct {
	f       *os.File
	handler func()
	log     zerolog.Logger
	done    chan struct{}
	exited  chan struct{}
}

func newIRQWatch(f *os.File, handler func(), log zerolog.Logger) *irqWatch {
	return &irqWatch{
		f:       f,
		handler: handler,
		log:     log,
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
}

func (w *irqWatch) run() {
	defer close(w.exited)
	defer w.f.Close()

	buf := make([]byte, 8)
	// Consume the current value so the first poll waits for a real edge.
	w.rearm(buf)

	fds := []unix.PollFd{{Fd: int32(w.f.Fd()), Events: unix.POLLPRI | unix.POLLERR}}
	for {
		select {
		case <-w.done:
			return
		default:
		}
		n, err := unix.Poll(fds, pollSliceMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			w.log.Warn().Err(err).Msg("irq poll failed")
			return
		}
		if n == 0 || fds[0].Revents&unix.POLLPRI == 0 {
			continue
		}
		w.rearm(buf)
		w.handler()
	}
}

func (w *irqWatch) rearm(buf []byte) {
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return
	}
	_, _ = w.f.Read(buf)
}

func (w *irqWatch) stop() {
	close(w.done)
	<-w.exited
}
