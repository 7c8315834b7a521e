// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

//go:build linux

// Package main implements geocluedbusd, the GeoClue2 location broker
// daemon: it claims org.freedesktop.GeoClue2 on the system bus and wires
// the ConfigStore, PeerTracker, LocationManager, ClientManager and
// AgentRegistry together behind the bus surface. Bootstrap is flag
// parsing, cascaded config discovery, a level-aware logger
// re-initialization once the real log level is known, and a
// signal.NotifyContext shutdown.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/geoclued/geoclue/internal/agent"
	"github.com/geoclued/geoclue/internal/bus"
	"github.com/geoclued/geoclue/internal/client"
	httpclient "github.com/geoclued/geoclue/internal/http"
	"github.com/geoclued/geoclue/internal/logger"
	"github.com/geoclued/geoclue/internal/manager"
	"github.com/geoclued/geoclue/internal/peer"
	"github.com/geoclued/geoclue/internal/policy"
	"github.com/geoclued/geoclue/internal/runtimeconf"
	"github.com/geoclued/geoclue/internal/source"
	"github.com/geoclued/geoclue/internal/source/compass"
	"github.com/geoclued/geoclue/internal/source/gnss"
	"github.com/geoclued/geoclue/internal/source/ip"
	"github.com/geoclued/geoclue/internal/source/nmea"
	"github.com/geoclued/geoclue/internal/source/static"
	"github.com/geoclued/geoclue/internal/source/wifi"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	log := logger.New(slog.LevelInfo)

	confPath := flag.String("config", "", "path to geocluedbusd's own bootstrap config")
	flag.Parse()

	rc, err := runtimeconf.Load(*confPath)
	if err != nil {
		log.Error("failed to load runtime config", logger.Err(err))
		os.Exit(1)
	}
	log = logger.New(rc.SlogLevel())
	log.Info("starting geocluedbusd", "version", version, "commit", commit, "date", date)

	store, err := policy.Load(rc.ConfigPath, rc.ConfigDDir, log)
	if err != nil {
		log.Error("failed to load policy configuration", logger.Err(err))
		os.Exit(1)
	}
	store.DebugDump(log)

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		log.Error("failed to connect to the system bus", logger.Err(err))
		os.Exit(1)
	}
	defer conn.Close()

	peers := peer.New(conn, log)
	go peers.Run(ctx)

	clients := client.NewManager(log)
	agents := agent.New(conn, log, allowedAgentList(store))

	sources := buildSources(store, rc, log)

	mgr, err := manager.New(sources, log)
	if err != nil {
		log.Error("failed to construct location manager", logger.Err(err))
		os.Exit(1)
	}
	if err := mgr.Start(ctx); err != nil {
		log.Error("failed to start location manager", logger.Err(err))
		os.Exit(1)
	}

	surface := bus.New(conn, log, mgr, clients, agents, peers, store)
	if err := surface.ExportManager(rc.BusName); err != nil {
		log.Error("failed to export manager on the bus", logger.Err(err))
		os.Exit(1)
	}

	if rc.MetricsAddr != "" {
		go serveMetrics(rc.MetricsAddr, log)
	}

	log.Info("geocluedbusd ready", "bus_name", rc.BusName, "sources", len(sources))
	<-ctx.Done()
	log.Info("shutting down geocluedbusd")
	if err := mgr.Stop(); err != nil {
		log.Warn("failed to stop location manager cleanly", logger.Err(err))
	}
}

// buildSources constructs every location source enabled in store's
// ConfigStore, wiring each provider's configured endpoint/device.
func buildSources(store *policy.Store, rc *runtimeconf.Config, log *logger.Logger) []source.Source {
	var sources []source.Source
	hc := httpclient.New(log)

	if store.Sources.GNSSEnabled {
		sources = append(sources, gnss.New("", log))
	}
	if store.Sources.NMEAEnabled {
		sources = append(sources, nmea.New(store.Sources.NMEASocket, log))
	}
	if store.Sources.StaticEnabled {
		sources = append(sources, static.New(filepath.Join(rc.StateDir, "static-location.conf"), log))
	}
	if store.Sources.CompassEnabled {
		sources = append(sources, compass.New(filepath.Join(rc.StateDir, "compass-heading"), log))
	}
	if store.Sources.IPEnabled {
		sources = append(sources, ip.New(ip.Method(store.Sources.IPMethod), store.Sources.IPURL, store.Sources.IPAccuracy, hc, log))
	}
	if store.Sources.WiFiEnabled || store.Sources.ThreeGEnabled || store.Sources.CDMAEnabled {
		var submit wifi.Submission
		if store.Sources.WiFiSubmitData {
			submit = wifi.Submission{URL: store.Sources.WiFiSubmitURL, Nick: store.Sources.WiFiSubmitNick}
		}
		wifiSrc, err := wifi.New(store.Sources.WiFiURL, submit, hc, log)
		if err != nil {
			log.Warn("disabling wifi source, construction failed", logger.Err(err))
		} else {
			sources = append(sources, wifiSrc)
		}
	}
	return sources
}

func allowedAgentList(store *policy.Store) []string {
	ids := make([]string, 0, len(store.AllowedAgents))
	for id := range store.AllowedAgents {
		ids = append(ids, id)
	}
	return ids
}

func serveMetrics(addr string, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("metrics server stopped", logger.Err(err))
	}
}
