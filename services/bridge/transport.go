package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
)

// Transport hands out peer streams. Open blocks until a peer arrives or
// ctx ends.
type Transport interface {
	Open(ctx context.Context) (io.ReadWriteCloser, error)
	Close() error
	String() string
}

type transportFactory func(TransportConfig) (Transport, error)

var (
	regMu    sync.RWMutex
	registry = map[string]transportFactory{}
)

// RegisterTransport allows external packages to add transports.
func RegisterTransport(name string, f transportFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func newTransport(cfg TransportConfig) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Type]
	regMu.RUnlock()
	if ok {
		return f(cfg)
	}
	switch cfg.Type {
	case "unix", "tcp":
		if cfg.Addr == "" {
			return nil, fmt.Errorf("%s transport requires addr", cfg.Type)
		}
		return &listenTransport{network: cfg.Type, addr: cfg.Addr}, nil
	default:
		return nil, fmt.Errorf("unknown transport type: %q", cfg.Type)
	}
}

// listenTransport accepts peers on a socket, one Open per peer.
type listenTransport struct {
	network, addr string

	mu sync.Mutex
	ln net.Listener
}

func (t *listenTransport) listener() (net.Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln != nil {
		return t.ln, nil
	}
	if t.network == "unix" {
		// A socket left by a previous run blocks bind.
		if err := os.Remove(t.addr); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	ln, err := net.Listen(t.network, t.addr)
	if err != nil {
		return nil, err
	}
	t.ln = ln
	return ln, nil
}

func (t *listenTransport) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	ln, err := t.listener()
	if err != nil {
		return nil, err
	}
	accepted := make(chan struct{})
	defer close(accepted)
	go func() {
		select {
		case <-ctx.Done():
			_ = t.Close()
		case <-accepted:
		}
	}()
	c, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		t.mu.Lock()
		if t.ln == ln {
			t.ln = nil
			_ = ln.Close()
		}
		t.mu.Unlock()
		return nil, err
	}
	return c, nil
}

func (t *listenTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln == nil {
		return nil
	}
	err := t.ln.Close()
	t.ln = nil
	return err
}

// Addr reports the bound address, which differs from the configured one
// for tcp port 0.
func (t *listenTransport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln == nil {
		return nil
	}
	return t.ln.Addr()
}

func (t *listenTransport) String() string { return t.network + ":" + t.addr }
