package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"overlaycode-go/bus"
	"overlaycode-go/x/timex"
)

// -----------------------------------------------------------------------------
// Framing
// -----------------------------------------------------------------------------

const (
	framePing  byte = 0x01
	framePong  byte = 0x02
	framePub   byte = 0x10 // either direction: Wire{Topic, Payload, Retained}
	frameSub   byte = 0x11 // peer to bridge: Wire{Topic}
	frameUnsub byte = 0x12 // peer to bridge: Wire{Topic}
	frameAck   byte = 0x13 // bridge to peer: Wire{ID, Payload | Error}
	frameReq   byte = 0x14 // peer to bridge: Wire{ID, Topic, Payload}
	frameClose byte = 0x7f
)

// Frame is a length-prefixed frame: type, then a big-endian 16-bit length.
type Frame struct {
	Type    byte
	Payload []byte
}

// Wire is the JSON body of every non-control frame.
type Wire struct {
	ID       uint32 `json:"id,omitempty"`
	Topic    []any  `json:"topic,omitempty"`
	Payload  any    `json:"payload,omitempty"`
	Retained bool   `json:"retained,omitempty"`
	Error    string `json:"error,omitempty"`
}

type framedReader struct{ r io.Reader }

type framedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newFramedReader(r io.Reader) *framedReader { return &framedReader{r: r} }
func newFramedWriter(w io.Writer) *framedWriter { return &framedWriter{w: w} }

func (fr *framedReader) ReadFrame() (Frame, error) {
	var hdr [3]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		return Frame{}, err
	}
	typ := hdr[0]
	n := int(hdr[1])<<8 | int(hdr[2])
	var buf []byte
	if n > 0 {
		buf = make([]byte, n)
		if _, err := io.ReadFull(fr.r, buf); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Type: typ, Payload: buf}, nil
}

// WriteFrame is safe for concurrent use; header and body go out together.
func (fw *framedWriter) WriteFrame(f Frame) error {
	if len(f.Payload) > 0xFFFF {
		return fmt.Errorf("frame too large: %d", len(f.Payload))
	}
	buf := make([]byte, 0, 3+len(f.Payload))
	buf = append(buf, f.Type, byte(len(f.Payload)>>8), byte(len(f.Payload)&0xFF))
	buf = append(buf, f.Payload...)

	fw.mu.Lock()
	defer fw.mu.Unlock()
	_, err := fw.w.Write(buf)
	return err
}

func (fw *framedWriter) writeWire(typ byte, w Wire) error {
	b, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return fw.WriteFrame(Frame{Type: typ, Payload: b})
}

// -----------------------------------------------------------------------------
// Link
// -----------------------------------------------------------------------------

// link routes one peer's frames onto the bus and forwards the topics the
// peer subscribed to.
type link struct {
	conn   *bus.Connection
	rwc    io.ReadWriteCloser
	wr     *framedWriter
	log    zerolog.Logger
	reqTO  time.Duration
	pingTO time.Duration

	mu   sync.Mutex
	subs map[string]*bus.Subscription // by topic string
	wg   sync.WaitGroup
}

func newLink(conn *bus.Connection, rwc io.ReadWriteCloser, cfg Config, log zerolog.Logger) *link {
	l := &link{
		conn:   conn,
		rwc:    rwc,
		wr:     newFramedWriter(rwc),
		log:    log,
		reqTO:  timex.Ms(cfg.RequestTimeoutMS),
		pingTO: timex.Ms(cfg.PingMS),
		subs:   map[string]*bus.Subscription{},
	}
	if l.reqTO <= 0 {
		l.reqTO = 5 * time.Second
	}
	if l.pingTO <= 0 {
		l.pingTO = 5 * time.Second
	}
	return l
}

// serve owns the link lifetime. It returns nil when the peer closes
// cleanly and the read error otherwise.
func (l *link) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	readerDone := make(chan struct{})
	defer func() {
		cancel()
		// Closing the stream unblocks the reader and any stuck writer.
		_ = l.rwc.Close()
		<-readerDone
		l.dropSubs()
		l.wg.Wait()
	}()

	rd := newFramedReader(l.rwc)
	errCh := make(chan error, 1)
	go func() {
		defer close(readerDone)
		defer close(errCh)
		for {
			f, err := rd.ReadFrame()
			if err != nil {
				errCh <- err
				return
			}
			if f.Type == frameClose {
				return
			}
			if err := l.handle(ctx, f); err != nil {
				errCh <- err
				return
			}
		}
	}()

	tick := time.NewTicker(l.pingTO)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			// Best-effort close; a peer that stopped reading must not hold us.
			if d, ok := l.rwc.(interface{ SetWriteDeadline(time.Time) error }); ok {
				_ = d.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
			}
			_ = l.wr.WriteFrame(Frame{Type: frameClose})
			return nil
		case err := <-errCh:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case <-tick.C:
			if err := l.wr.WriteFrame(Frame{Type: framePing}); err != nil {
				return err
			}
		}
	}
}

func (l *link) handle(ctx context.Context, f Frame) error {
	switch f.Type {
	case framePing:
		return l.wr.WriteFrame(Frame{Type: framePong})
	case framePong:
		return nil
	}

	var w Wire
	if err := json.Unmarshal(f.Payload, &w); err != nil {
		l.log.Warn().Err(err).Uint8("frame", f.Type).Msg("bad frame body")
		return nil
	}
	topic := toTopic(w.Topic)

	switch f.Type {
	case framePub:
		if len(topic) == 0 || hasWildcard(topic) {
			return nil
		}
		l.conn.Publish(l.conn.NewMessage(topic, w.Payload, w.Retained))
	case frameSub:
		if len(topic) > 0 {
			l.subscribe(ctx, topic)
		}
	case frameUnsub:
		l.unsubscribe(topic)
	case frameReq:
		if len(topic) == 0 || hasWildcard(topic) {
			return l.wr.writeWire(frameAck, Wire{ID: w.ID, Error: "invalid_topic"})
		}
		l.wg.Add(1)
		go l.request(ctx, w.ID, topic, w.Payload)
	default:
		l.log.Debug().Uint8("frame", f.Type).Msg("unknown frame ignored")
	}
	return nil
}

func (l *link) subscribe(ctx context.Context, topic bus.Topic) {
	key := topic.String()
	l.mu.Lock()
	if _, ok := l.subs[key]; ok {
		l.mu.Unlock()
		return
	}
	sub := l.conn.Subscribe(topic)
	l.subs[key] = sub
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-sub.Channel():
				if !ok {
					return
				}
				err := l.wr.writeWire(framePub, Wire{Topic: []any(m.Topic), Payload: m.Payload, Retained: m.Retained})
				if err != nil {
					l.log.Debug().Err(err).Str("topic", m.Topic.String()).Msg("forward failed")
					return
				}
			}
		}
	}()
}

func (l *link) unsubscribe(topic bus.Topic) {
	key := topic.String()
	l.mu.Lock()
	sub, ok := l.subs[key]
	delete(l.subs, key)
	l.mu.Unlock()
	if ok {
		l.conn.Unsubscribe(sub)
	}
}

func (l *link) dropSubs() {
	l.mu.Lock()
	subs := l.subs
	l.subs = map[string]*bus.Subscription{}
	l.mu.Unlock()
	for _, sub := range subs {
		l.conn.Unsubscribe(sub)
	}
}

func (l *link) request(ctx context.Context, id uint32, topic bus.Topic, payload any) {
	defer l.wg.Done()
	ctx, cancel := context.WithTimeout(ctx, l.reqTO)
	defer cancel()

	reply := Wire{ID: id}
	r, err := l.conn.RequestWait(ctx, l.conn.NewMessage(topic, payload, false))
	if err != nil {
		reply.Error = err.Error()
	} else {
		reply.Payload = r.Payload
	}
	if err := l.wr.writeWire(frameAck, reply); err != nil {
		l.log.Debug().Err(err).Uint32("id", id).Msg("reply not delivered")
	}
}

// toTopic maps JSON tokens back to bus tokens. Whole numbers become ints
// so they match topics built with int tokens.
func toTopic(parts []any) bus.Topic {
	t := make(bus.Topic, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			t = append(t, v)
		case float64:
			if v == math.Trunc(v) {
				t = append(t, int(v))
			} else {
				t = append(t, v)
			}
		case bool:
			t = append(t, v)
		default:
			// Objects and arrays are not comparable tokens.
			return nil
		}
	}
	return t
}

func hasWildcard(t bus.Topic) bool {
	for _, tok := range t {
		if tok == "+" || tok == "#" {
			return true
		}
	}
	return false
}
