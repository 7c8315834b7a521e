// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package peer resolves D-Bus caller identities (AppIdentity) and tracks
// peer lifetime on the system bus, calling back when a tracked unique name
// vanishes. It watches an arbitrary set of tracked unique bus names via
// org.freedesktop.DBus's NameOwnerChanged signal, resubscribing on
// disconnect.
package peer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/geoclued/geoclue/internal/logger"
)

const (
	dbusInterface = "org.freedesktop.DBus"
	dbusMember    = "NameOwnerChanged"

	busReconnectDelay   = 5 * time.Second
	reconnectDelay      = 2 * time.Second
	subscribeRetryDelay = 10 * time.Second
	signalBufferSize    = 32
)

// SandboxKind classifies the confinement an application process runs
// under, derived from its /proc/<pid>/cgroup and /proc/<pid>/root layout.
type SandboxKind int

const (
	SandboxNone SandboxKind = iota
	SandboxFlatpak
	SandboxSnap
)

// AppIdentity is the immutable identity a PeerTracker derives once for a
// bus caller: its uid, pid and sandbox confinement. Tracker.Identity does
// not fill in DesktopID; it stays nil unless the caller sets it.
type AppIdentity struct {
	DesktopID    *string
	UID          uint32
	PID          uint32
	Sandbox      SandboxKind
	SandboxAppID *string
}

// Tracker resolves bus peer identities and notifies subscribers when a
// tracked peer's unique name vanishes from the bus.
type Tracker struct {
	conn *dbus.Conn
	log  *logger.Logger

	mu        sync.Mutex
	onVanish  map[string][]func()
}

// New wraps an already-connected system bus connection.
func New(conn *dbus.Conn, log *logger.Logger) *Tracker {
	return &Tracker{conn: conn, log: log, onVanish: make(map[string][]func())}
}

// Identity resolves the AppIdentity of the caller owning uniqueName by
// reading its process credentials over the bus and, where possible,
// /proc/<pid>/cgroup for sandbox confinement.
func (t *Tracker) Identity(uniqueName string) (AppIdentity, error) {
	var pid uint32
	if err := t.conn.BusObject().Call("org.freedesktop.DBus.GetConnectionUnixProcessID", 0, uniqueName).Store(&pid); err != nil {
		return AppIdentity{}, fmt.Errorf("peer: resolve pid for %s: %w", uniqueName, err)
	}
	var uid uint32
	if err := t.conn.BusObject().Call("org.freedesktop.DBus.GetConnectionUnixUser", 0, uniqueName).Store(&uid); err != nil {
		return AppIdentity{}, fmt.Errorf("peer: resolve uid for %s: %w", uniqueName, err)
	}

	identity := AppIdentity{UID: uid, PID: pid}
	identity.Sandbox, identity.SandboxAppID = sandboxOf(pid)
	return identity, nil
}

// sandboxOf inspects /proc/<pid>/cgroup for flatpak/snap confinement
// markers. Best-effort: an unresolvable pid simply yields SandboxNone.
func sandboxOf(pid uint32) (SandboxKind, *string) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cgroup", pid))
	if err != nil {
		return SandboxNone, nil
	}
	content := string(data)
	switch {
	case strings.Contains(content, "flatpak"):
		id := flatpakAppID(pid)
		return SandboxFlatpak, id
	case strings.Contains(content, "snap"):
		return SandboxSnap, nil
	default:
		return SandboxNone, nil
	}
}

func flatpakAppID(pid uint32) *string {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/root/.flatpak-info", pid))
	if err != nil {
		return nil
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "name=") {
			id := strings.TrimPrefix(line, "name=")
			return &id
		}
	}
	return nil
}

// NotifyVanish registers fn to run when uniqueName disappears from the
// bus (its owner field in NameOwnerChanged transitions to empty).
func (t *Tracker) NotifyVanish(uniqueName string, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onVanish[uniqueName] = append(t.onVanish[uniqueName], fn)
}

// Forget drops any pending vanish callbacks for uniqueName, so a later
// vanish of that name runs none of them.
func (t *Tracker) Forget(uniqueName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.onVanish, uniqueName)
}

// Run subscribes to NameOwnerChanged and dispatches vanish callbacks until
// ctx is cancelled, resubscribing after a signal-channel failure.
func (t *Tracker) Run(ctx context.Context) {
	for {
		if err := t.conn.AddMatchSignal(
			dbus.WithMatchInterface(dbusInterface),
			dbus.WithMatchMember(dbusMember),
		); err != nil {
			t.log.Error("peer: failed to subscribe to NameOwnerChanged", logger.Err(err))
			select {
			case <-time.After(subscribeRetryDelay):
				continue
			case <-ctx.Done():
				return
			}
		}

		sigCh := make(chan *dbus.Signal, signalBufferSize)
		t.conn.Signal(sigCh)
		t.log.Debug("peer: subscribed to dbus signal", slog.String("interface", dbusInterface), slog.String("member", dbusMember))

		t.handleSignals(ctx, sigCh)
		t.conn.RemoveSignal(sigCh)

		select {
		case <-ctx.Done():
			return
		default:
			time.Sleep(reconnectDelay)
		}
	}
}

func (t *Tracker) handleSignals(ctx context.Context, sigCh chan *dbus.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-sigCh:
			if !ok {
				return
			}
			t.processNameOwnerChanged(sig)
		}
	}
}

func (t *Tracker) processNameOwnerChanged(sig *dbus.Signal) {
	if sig.Name != dbusInterface+"."+dbusMember || len(sig.Body) != 3 {
		return
	}
	name, _ := sig.Body[0].(string)
	newOwner, _ := sig.Body[2].(string)
	if newOwner != "" {
		return // name acquired, not vanished
	}

	t.mu.Lock()
	callbacks := t.onVanish[name]
	delete(t.onVanish, name)
	t.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}
