package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/arloliu/go-hislip/hislipclient"
	"github.com/arloliu/go-hislip/logger"
)

// config is the resolved configuration of a hislipctl invocation.
type config struct {
	Host             string
	Port             int
	SubAddress       string
	VendorID         string
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	AsyncTimeout     time.Duration
	MaxMessageSize   uint64
	LogLevel         string
}

func defaultConfig() config {
	return config{
		Port:             4880,
		SubAddress:       "hislip0",
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		ReadTimeout:      10 * time.Second,
		AsyncTimeout:     5 * time.Second,
		LogLevel:         "warn",
	}
}

type fileConfig struct {
	Host             string `toml:"host"`
	Port             int    `toml:"port"`
	SubAddress       string `toml:"sub_address"`
	VendorID         string `toml:"vendor_id"`
	ConnectTimeout   string `toml:"connect_timeout"`
	HandshakeTimeout string `toml:"handshake_timeout"`
	ReadTimeout      string `toml:"read_timeout"`
	AsyncTimeout     string `toml:"async_timeout"`
	MaxMessageSize   uint64 `toml:"max_message_size"`
	LogLevel         string `toml:"log_level"`
}

// loadConfig overlays the keys defined in the TOML file at path on cfg.
func loadConfig(path string, cfg config) (config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config{}, fmt.Errorf("load hislipctl config: %w", err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return config{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}

	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("sub_address") {
		cfg.SubAddress = strings.TrimSpace(raw.SubAddress)
	}
	if meta.IsDefined("vendor_id") {
		cfg.VendorID = strings.TrimSpace(raw.VendorID)
	}
	if meta.IsDefined("max_message_size") {
		cfg.MaxMessageSize = raw.MaxMessageSize
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = raw.LogLevel
	}

	durations := []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.ConnectTimeout},
		{"handshake_timeout", raw.HandshakeTimeout, &cfg.HandshakeTimeout},
		{"read_timeout", raw.ReadTimeout, &cfg.ReadTimeout},
		{"async_timeout", raw.AsyncTimeout, &cfg.AsyncTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}

		v, err := time.ParseDuration(strings.TrimSpace(d.value))
		if err != nil {
			return config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	return cfg, nil
}

// connectionConfig converts cfg into the session configuration.
func (cfg config) connectionConfig() (*hislipclient.ConnectionConfig, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	opts := []hislipclient.ConnOption{
		hislipclient.WithSubAddress(cfg.SubAddress),
		hislipclient.WithConnectTimeout(cfg.ConnectTimeout),
		hislipclient.WithHandshakeTimeout(cfg.HandshakeTimeout),
		hislipclient.WithReadTimeout(cfg.ReadTimeout),
		hislipclient.WithAsyncTimeout(cfg.AsyncTimeout),
		hislipclient.WithLogger(logger.NewSlog(level, false, logger.WithConsole(true), logger.WithOutput(os.Stderr))),
	}
	if cfg.VendorID != "" {
		opts = append(opts, hislipclient.WithVendorID(cfg.VendorID))
	}
	if cfg.MaxMessageSize > 0 {
		opts = append(opts, hislipclient.WithMaxMessageSize(cfg.MaxMessageSize))
	}

	return hislipclient.NewConnectionConfig(cfg.Host, cfg.Port, opts...)
}
