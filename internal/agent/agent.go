// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package agent implements the AgentRegistry: one consent agent per uid,
// dispatched over D-Bus to authorize an application's location request.
// This is the server side of the exchange: it calls OUT to a registered
// agent object rather than registering as a client of one.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/geoclued/geoclue/internal/geofix"
	"github.com/geoclued/geoclue/internal/logger"
	"github.com/geoclued/geoclue/internal/metrics"
)

const (
	authorizeTimeout = 30 * time.Second
	agentInterface   = "org.freedesktop.GeoClue2.Agent"
	agentMethod      = agentInterface + ".AuthorizeApp"
)

// Registration is one uid's registered consent agent. MaxAccuracy is the
// ceiling the agent itself permits (its MaxAccuracyLevel property); a
// grant is never allowed to exceed it.
type Registration struct {
	UID          uint32
	PeerName     string
	ObjectPath   dbus.ObjectPath
	RegisteredAt time.Time
	MaxAccuracy  geofix.AccuracyLevel
}

// Registry holds at most one Registration per uid. Registering a second
// agent for an already-registered uid evicts the previous one: last
// registration wins.
type Registry struct {
	conn *dbus.Conn
	log  *logger.Logger

	mu            sync.Mutex
	byUID         map[uint32]Registration
	allowedAgents map[string]struct{}
}

// New returns an empty AgentRegistry. allowedDesktopIDs restricts which
// desktop ids may register an agent (the ConfigStore's agent whitelist).
func New(conn *dbus.Conn, log *logger.Logger, allowedDesktopIDs []string) *Registry {
	allowed := make(map[string]struct{}, len(allowedDesktopIDs))
	for _, id := range allowedDesktopIDs {
		allowed[id] = struct{}{}
	}
	return &Registry{conn: conn, log: log, byUID: make(map[uint32]Registration), allowedAgents: allowed}
}

// IsAllowed reports whether desktopID may register as an agent.
func (r *Registry) IsAllowed(desktopID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.allowedAgents[desktopID]
	return ok
}

// Register records peerName's agent object for uid, evicting and logging a
// warning about any previous registration for that uid. maxAccuracy is the
// agent's own MaxAccuracyLevel ceiling, read by the bus surface at
// registration time.
func (r *Registry) Register(uid uint32, peerName string, objectPath dbus.ObjectPath, maxAccuracy geofix.AccuracyLevel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byUID[uid]; ok {
		r.log.Warn("agent: evicting previous registration for uid",
			"uid", uid, "previous_peer", prev.PeerName, "new_peer", peerName)
		metrics.AgentRegistrationsTotal.WithLabelValues("evicted").Inc()
	}
	r.byUID[uid] = Registration{UID: uid, PeerName: peerName, ObjectPath: objectPath, RegisteredAt: time.Now(), MaxAccuracy: maxAccuracy}
	metrics.AgentRegistrationsTotal.WithLabelValues("registered").Inc()
}

// Unregister removes uid's registration, e.g. on peer vanish.
func (r *Registry) Unregister(uid uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byUID, uid)
}

// Lookup returns uid's registration, if any.
func (r *Registry) Lookup(uid uint32) (Registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.byUID[uid]
	return reg, ok
}

// AuthorizeApp asks uid's registered agent whether desktopID may access
// location data at the given requested accuracy level, blocking up to
// authorizeTimeout. Returns (false, _, ErrNoAgent) if uid has no
// registered agent; callers map that to AccessDenied.
func (r *Registry) AuthorizeApp(ctx context.Context, uid uint32, desktopID string, requested geofix.AccuracyLevel) (allowed bool, maxLevel geofix.AccuracyLevel, err error) {
	reg, ok := r.Lookup(uid)
	if !ok {
		return false, geofix.AccuracyNone, ErrNoAgent
	}
	// The agent's advertised ceiling always binds, including a ceiling of
	// None (an agent that grants no accuracy at all).
	if requested > reg.MaxAccuracy {
		requested = reg.MaxAccuracy
	}

	callCtx, cancel := context.WithTimeout(ctx, authorizeTimeout)
	defer cancel()

	obj := r.conn.Object(reg.PeerName, reg.ObjectPath)
	call := obj.CallWithContext(callCtx, agentMethod, 0, desktopID, uint32(requested))
	if call.Err != nil {
		return false, geofix.AccuracyNone, fmt.Errorf("agent: AuthorizeApp call failed: %w", call.Err)
	}

	var grantedAllowed bool
	var grantedLevel uint32
	if err := call.Store(&grantedAllowed, &grantedLevel); err != nil {
		return false, geofix.AccuracyNone, fmt.Errorf("agent: decode AuthorizeApp reply: %w", err)
	}

	return grantedAllowed, clampGrant(reg, requested, geofix.AccuracyLevel(grantedLevel)), nil
}

// clampGrant bounds an agent's granted level: it can grant neither more
// than was asked nor more than its own registered ceiling permits.
func clampGrant(reg Registration, requested, granted geofix.AccuracyLevel) geofix.AccuracyLevel {
	if granted > requested {
		granted = requested
	}
	if granted > reg.MaxAccuracy {
		granted = reg.MaxAccuracy
	}
	return granted
}

// ErrNoAgent is returned by AuthorizeApp when the requesting uid has no
// registered consent agent.
var ErrNoAgent = fmt.Errorf("agent: no agent registered for uid")
