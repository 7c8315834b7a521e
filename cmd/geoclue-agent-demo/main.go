// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

//go:build linux

// Package main implements geoclue-agent-demo, a consent agent that
// auto-authorizes every request at its configured maximum accuracy level
// instead of prompting a user, mirroring the GNOME project's own demo
// agent (original_source/demo/agent.c), which holds the application alive
// on the bus and answers authorization requests without any interactive
// UI. It exports org.freedesktop.GeoClue2.Agent on its own unique bus
// name and registers itself with the daemon's Manager.AddAgent.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"

	"github.com/geoclued/geoclue/internal/geofix"
	"github.com/geoclued/geoclue/internal/logger"
)

const (
	agentPath      = dbus.ObjectPath("/org/freedesktop/GeoClue2/Agent")
	agentInterface = "org.freedesktop.GeoClue2.Agent"
	managerPath    = dbus.ObjectPath("/org/freedesktop/GeoClue2/Manager")
	managerIface   = "org.freedesktop.GeoClue2.Manager"
	busName        = "org.freedesktop.GeoClue2"
)

var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	desktopID := flag.String("desktop-id", "geoclue-agent-demo", "desktop id this agent registers under")
	maxLevel := flag.Uint("max-level", uint(geofix.AccuracyExact), "maximum accuracy level this agent ever grants")
	flag.Parse()

	log := logger.New(slog.LevelInfo)
	log.Info("starting geoclue-agent-demo", "version", version, "desktop_id", *desktopID)

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		log.Error("failed to connect to the system bus", logger.Err(err))
		os.Exit(1)
	}
	defer conn.Close()

	a := &demoAgent{maxLevel: geofix.AccuracyLevel(*maxLevel), log: log}

	node := &introspect.Node{
		Name: string(agentPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name: agentInterface,
				Methods: []introspect.Method{
					{
						Name: "AuthorizeApp",
						Args: []introspect.Arg{
							{Name: "desktop_id", Type: "s", Direction: "in"},
							{Name: "req_accuracy_level", Type: "u", Direction: "in"},
							{Name: "authorized", Type: "b", Direction: "out"},
							{Name: "level", Type: "u", Direction: "out"},
						},
					},
				},
				Properties: []introspect.Property{
					{Name: "MaxAccuracyLevel", Type: "u", Access: "read"},
				},
			},
		},
	}

	if err := conn.Export(a, agentPath, agentInterface); err != nil {
		log.Error("failed to export agent object", logger.Err(err))
		os.Exit(1)
	}
	if err := conn.Export(introspect.NewIntrospectable(node), agentPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		log.Error("failed to export agent introspection", logger.Err(err))
		os.Exit(1)
	}
	if _, err := prop.Export(conn, agentPath, map[string]map[string]*prop.Prop{
		agentInterface: {
			"MaxAccuracyLevel": {Value: uint32(a.maxLevel)},
		},
	}); err != nil {
		log.Error("failed to export agent properties", logger.Err(err))
		os.Exit(1)
	}

	if err := registerWithManager(conn, *desktopID); err != nil {
		log.Error("failed to register with geocluedbusd", logger.Err(err))
		os.Exit(1)
	}

	log.Info("geoclue-agent-demo ready, auto-authorizing at configured max level", "max_level", a.maxLevel)
	<-ctx.Done()
	log.Info("shutting down geoclue-agent-demo")
}

// registerWithManager calls the running daemon's AddAgent(desktop-id),
// which only succeeds for uid-0 processes or desktop ids present in the
// ConfigStore's agent whitelist.
func registerWithManager(conn *dbus.Conn, desktopID string) error {
	obj := conn.Object(busName, managerPath)
	return obj.Call(managerIface+".AddAgent", 0, desktopID).Err
}

// demoAgent implements org.freedesktop.GeoClue2.Agent by granting every
// request up to maxLevel without any interactive prompt.
type demoAgent struct {
	maxLevel geofix.AccuracyLevel
	log      *logger.Logger
}

// AuthorizeApp always allows, clamping the granted level to maxLevel.
func (a *demoAgent) AuthorizeApp(desktopID string, requested uint32) (bool, uint32, *dbus.Error) {
	level := geofix.AccuracyLevel(requested)
	if level > a.maxLevel {
		level = a.maxLevel
	}
	a.log.Info("authorizing app", "desktop_id", desktopID, "requested", requested, "granted", level)
	return true, uint32(level), nil
}
