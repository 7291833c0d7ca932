// Package config loads urbictl client settings from TOML or YAML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/danmuck/urbilink/internal/client"
	"github.com/danmuck/urbilink/internal/logging"
	"github.com/danmuck/urbilink/internal/protocol/frame"
	"github.com/danmuck/urbilink/internal/transport"
)

const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

var (
	ErrUnknownFormat    = errors.New("config: unknown file format")
	ErrUnknownKeys      = errors.New("config: unknown keys")
	ErrAddressRequired  = errors.New("config: address required")
	ErrInvalidTransport = errors.New("config: invalid transport")
	ErrInvalidBuffer    = errors.New("config: buffer size must be positive")
	ErrInvalidPing      = errors.New("config: ping interval must not be negative")
	ErrInvalidLogLevel  = errors.New("config: invalid log level")
)

// ClientConfig is everything urbictl needs to connect one client.
type ClientConfig struct {
	Address        string
	Transport      string
	BufferSize     int
	PingInterval   time.Duration
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	MaxSendBytes   int
	TLS            transport.TLSConfig
	MetricsAddr    string
	LogLevel       string
}

func DefaultClientConfig() ClientConfig {
	tc := transport.DefaultConfig()
	return ClientConfig{
		Address:        "127.0.0.1",
		Transport:      TransportTCP,
		BufferSize:     frame.DefaultLimits().BufferSize,
		ConnectTimeout: tc.ConnectTimeout,
		WriteTimeout:   tc.WriteTimeout,
		MaxSendBytes:   tc.MaxSendBytes,
		LogLevel:       "info",
	}
}

type fileTLS struct {
	Enabled            bool   `toml:"enabled" yaml:"enabled"`
	CAFile             string `toml:"ca_file" yaml:"ca_file"`
	CertFile           string `toml:"cert_file" yaml:"cert_file"`
	KeyFile            string `toml:"key_file" yaml:"key_file"`
	ServerName         string `toml:"server_name" yaml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	Mutual             bool   `toml:"mutual" yaml:"mutual"`
}

type fileConfig struct {
	Address        string  `toml:"address" yaml:"address"`
	Transport      string  `toml:"transport" yaml:"transport"`
	BufferSize     int     `toml:"buffer_size" yaml:"buffer_size"`
	PingInterval   string  `toml:"ping_interval" yaml:"ping_interval"`
	ConnectTimeout string  `toml:"connect_timeout" yaml:"connect_timeout"`
	WriteTimeout   string  `toml:"write_timeout" yaml:"write_timeout"`
	MaxSendBytes   int     `toml:"max_send_bytes" yaml:"max_send_bytes"`
	MetricsAddr    string  `toml:"metrics_addr" yaml:"metrics_addr"`
	LogLevel       string  `toml:"log_level" yaml:"log_level"`
	TLS            fileTLS `toml:"tls" yaml:"tls"`
}

// definedFunc reports whether a dotted key path was present in the file.
type definedFunc func(key ...string) bool

// LoadClientConfig reads path and overlays it on DefaultClientConfig.
// The format follows the extension: .toml, .yaml or .yml.
func LoadClientConfig(path string) (ClientConfig, error) {
	var (
		raw     fileConfig
		defined definedFunc
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		defined, err = decodeTOML(path, &raw)
	case ".yaml", ".yml":
		defined, err = decodeYAML(path, &raw)
	default:
		return ClientConfig{}, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
	if err != nil {
		return ClientConfig{}, err
	}

	cfg, err := apply(DefaultClientConfig(), raw, defined)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return ClientConfig{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func decodeTOML(path string, raw *fileConfig) (definedFunc, error) {
	meta, err := toml.DecodeFile(path, raw)
	if err != nil {
		return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownKeys, strings.Join(keys, ", "))
	}
	return meta.IsDefined, nil
}

func decodeYAML(path string, raw *fileConfig) (definedFunc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}

	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return func(key ...string) bool {
		node := tree
		for i, k := range key {
			v, ok := node[k]
			if !ok {
				return false
			}
			if i == len(key)-1 {
				return true
			}
			if node, ok = v.(map[string]any); !ok {
				return false
			}
		}
		return false
	}, nil
}

func apply(cfg ClientConfig, raw fileConfig, defined definedFunc) (ClientConfig, error) {
	if defined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if defined("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if defined("buffer_size") {
		cfg.BufferSize = raw.BufferSize
	}
	if defined("max_send_bytes") {
		cfg.MaxSendBytes = raw.MaxSendBytes
	}
	if defined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if defined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"ping_interval", raw.PingInterval, &cfg.PingInterval},
		{"connect_timeout", raw.ConnectTimeout, &cfg.ConnectTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.WriteTimeout},
	}
	for _, d := range durations {
		if !defined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return ClientConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if defined("tls") {
		cfg.TLS = transport.TLSConfig{
			Enabled:            raw.TLS.Enabled,
			CAFile:             strings.TrimSpace(raw.TLS.CAFile),
			CertFile:           strings.TrimSpace(raw.TLS.CertFile),
			KeyFile:            strings.TrimSpace(raw.TLS.KeyFile),
			ServerName:         strings.TrimSpace(raw.TLS.ServerName),
			InsecureSkipVerify: raw.TLS.InsecureSkipVerify,
			Mutual:             raw.TLS.Mutual,
		}
	}
	return cfg, nil
}

func (c ClientConfig) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return ErrAddressRequired
	}
	switch c.Transport {
	case TransportTCP, TransportWebSocket:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTransport, c.Transport)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBuffer, c.BufferSize)
	}
	if c.PingInterval < 0 {
		return ErrInvalidPing
	}
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
	return c.TransportConfig().Validate()
}

func (c ClientConfig) TransportConfig() transport.Config {
	tc := transport.DefaultConfig()
	tc.ConnectTimeout = c.ConnectTimeout
	tc.HandshakeTimeout = c.ConnectTimeout
	tc.WriteTimeout = c.WriteTimeout
	tc.MaxSendBytes = c.MaxSendBytes
	tc.TLS = c.TLS
	return tc
}

// EngineConfig is the protocol engine half of the settings.
func (c ClientConfig) EngineConfig() client.Config {
	cc := client.DefaultConfig()
	cc.Host = c.Address
	cc.Limits = frame.Limits{BufferSize: c.BufferSize}
	cc.PingInterval = c.PingInterval
	return cc
}

// Target is the dial string for transport.Dial. WebSocket addresses
// without a scheme get ws:// or wss:// depending on TLS.
func (c ClientConfig) Target() string {
	if c.Transport != TransportWebSocket || strings.Contains(c.Address, "://") {
		return c.Address
	}
	if c.TLS.Enabled {
		return "wss://" + c.Address
	}
	return "ws://" + c.Address
}
