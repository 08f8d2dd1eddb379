// Package config resolves the board configuration and publishes it on the
// bus, one retained message per top-level key.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog"

	"overlaycode-go/bus"
	"overlaycode-go/errcode"
	"overlaycode-go/types"
	"overlaycode-go/x/logx"
)

const (
	serviceName  = "config"
	configPrefix = "config"
	CtxDeviceKey = "device" // context key used for the board name
)

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(board string) ([]byte, bool) {
	b, ok := embeddedConfigs[board]
	return b, ok
}

// Boards lists the embedded board names.
func Boards() []string {
	out := make([]string, 0, len(embeddedConfigs))
	for k := range embeddedConfigs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Document is a decoded configuration: top-level key to JSON value.
type Document map[string]any

// Load returns the config for board, or the file at path when path is
// set. The file wins so a board can be tried with a local override.
func Load(board, path string) (Document, error) {
	var raw []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errcode.Wrap(errcode.InvalidParams, "config.load", err)
		}
		raw = b
	} else {
		if board == "" {
			return nil, errcode.New(errcode.InvalidParams, "config.load", "missing board name")
		}
		b, ok := EmbeddedConfigLookup(board)
		if !ok || len(b) == 0 {
			return nil, errcode.New(errcode.InvalidParams, "config.load", "no embedded config for board: "+board)
		}
		raw = b
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errcode.Wrap(errcode.InvalidPayload, "config.load", err)
	}
	if doc == nil {
		return nil, errcode.New(errcode.InvalidPayload, "config.load", "config is not a JSON object")
	}
	return doc, nil
}

// Paths decodes the optional "paths" section.
func (d Document) Paths() (types.Paths, error) {
	var p types.Paths
	v, ok := d["paths"]
	if !ok {
		return p, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("paths: %w", err)
	}
	return p, nil
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string
	// File, when set, replaces the embedded board config.
	File string
	// Doc, when set, is published as is.
	Doc Document

	log zerolog.Logger
}

func NewConfigService() *ConfigService {
	return &ConfigService{Name: serviceName, log: logx.For(serviceName)}
}

// publishConfig publishes every top-level key as a retained message.
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) error {
	doc := s.Doc
	if doc == nil {
		board, _ := ctx.Value(CtxDeviceKey).(string)
		var err error
		if doc, err = Load(board, s.File); err != nil {
			return err
		}
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, k), doc[k], true))
	}
	s.log.Info().Strs("keys", keys).Msg("config published")
	return nil
}

// Start launches the config publisher in a goroutine.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		if err := s.publishConfig(ctx, conn); err != nil {
			s.log.Error().Err(err).Msg("config not published")
		}
	}()
}
