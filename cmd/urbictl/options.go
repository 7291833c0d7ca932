package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/danmuck/urbilink/internal/config"
	"github.com/danmuck/urbilink/internal/logging"
)

type options struct {
	configPath  string
	addr        string
	websocket   bool
	ping        time.Duration
	metricsAddr string
	logLevel    string
}

func (o *options) bind(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVarP(&o.configPath, "config", "c", "", "TOML or YAML config file")
	f.StringVarP(&o.addr, "addr", "a", "", "server address (host[:port] or ws:// url)")
	f.BoolVar(&o.websocket, "ws", false, "use the websocket transport")
	f.DurationVar(&o.ping, "ping", 0, "keepalive interval (0 disables)")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")
	f.StringVar(&o.logLevel, "log-level", "", "trace, debug, info, warn, error or off")
}

// resolve loads the config file and lets explicitly set flags win.
func (o *options) resolve(cmd *cobra.Command) (config.ClientConfig, error) {
	cfg := config.DefaultClientConfig()
	if o.configPath != "" {
		loaded, err := config.LoadClientConfig(o.configPath)
		if err != nil {
			return config.ClientConfig{}, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Address = o.addr
	}
	if flags.Changed("ws") {
		cfg.Transport = config.TransportTCP
		if o.websocket {
			cfg.Transport = config.TransportWebSocket
		}
	}
	if flags.Changed("ping") {
		cfg.PingInterval = o.ping
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = o.metricsAddr
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return config.ClientConfig{}, fmt.Errorf("invalid options: %w", err)
	}
	logging.SetLevel(cfg.LogLevel)
	return cfg, nil
}
