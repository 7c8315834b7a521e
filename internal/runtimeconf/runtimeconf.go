// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package runtimeconf loads geocluedbusd's own bootstrap options: the
// system bus name to claim, the state directory, and the log level. This
// is deliberately separate from internal/policy's ConfigStore, which
// parses the domain geoclue.conf/conf.d layering — runtimeconf is the
// daemon's own flags, the GeoClue-domain equivalent of a grpc.addr or
// metrics.path. Options layer file-then-env on top of struct-tag
// defaults via fig.
package runtimeconf

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/kkyr/fig"
)

const envPrefix = "GEOCLUED"

// Config is geocluedbusd's bootstrap configuration.
type Config struct {
	BusName     string `fig:"bus_name" default:"org.freedesktop.GeoClue2"`
	ConfigPath  string `fig:"config_path" default:"/etc/geoclue/geoclue.conf"`
	ConfigDDir  string `fig:"config_d_dir" default:"/etc/geoclue/conf.d"`
	StateDir    string `fig:"state_dir" default:"/var/lib/geoclue"`
	LogLevel    string `fig:"log_level" default:"info"`
	MetricsAddr string `fig:"metrics_addr"`
}

// Load reads path (if given), then overlays GEOCLUED_-prefixed
// environment variables, both on top of the struct-tag defaults. An
// empty path is not an error: the daemon runs on defaults plus env
// overrides alone.
func Load(path string) (*Config, error) {
	cfg := new(Config)
	opts := []fig.Option{fig.UseEnv(envPrefix)}
	if path == "" {
		opts = append(opts, fig.AllowNoFile())
	} else {
		opts = append(opts, fig.Dirs(filepath.Dir(path)), fig.File(filepath.Base(path)))
	}
	if err := fig.Load(cfg, opts...); err != nil {
		return nil, fmt.Errorf("runtimeconf: load config: %w", err)
	}
	return cfg, nil
}

// SlogLevel parses the configured log level string, defaulting to Info on
// an unrecognized value.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
