// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package client

import (
	"log/slog"
	"testing"
	"time"

	"github.com/geoclued/geoclue/internal/geofix"
	"github.com/geoclued/geoclue/internal/logger"
	"github.com/geoclued/geoclue/internal/peer"
)

func testLogger() *logger.Logger { return logger.New(slog.LevelError) }

func TestClient_StartStop(t *testing.T) {
	c := New("c1", peer.AppIdentity{UID: 1000}, true)

	if c.State() != StateCreated {
		t.Fatalf("expected Created, got %v", c.State())
	}
	if err := c.Stop(); err != ErrNotStarted {
		t.Fatalf("expected ErrNotStarted stopping a never-started client, got %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c.State() != StateStarted || !c.Active() {
		t.Fatalf("expected Started/Active after Start")
	}
	if err := c.Start(); err != ErrAlreadyStarted {
		t.Fatalf("expected ErrAlreadyStarted on double Start, got %v", err)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.State() != StateStopped {
		t.Fatalf("expected Stopped")
	}
	// Stopped is terminal-reusable: restarting a live (non-vanished) client succeeds.
	if err := c.Start(); err != nil {
		t.Fatalf("expected restart from Stopped to succeed, got %v", err)
	}
}

func TestClient_Deliver_AccuracyCap(t *testing.T) {
	c := New("c1", peer.AppIdentity{UID: 1000}, true)
	c.SetRequestedAccuracy(geofix.AccuracyCity)
	_ = c.Start()

	street := geofix.Fix{Latitude: 1, Longitude: 1, Accuracy: 80, Timestamp: time.Now()}
	if c.Deliver(street) {
		t.Fatal("expected a street-accuracy fix to be withheld from a city-limited client")
	}

	city := geofix.Fix{Latitude: 1, Longitude: 1, Accuracy: 12000, Timestamp: time.Now()}
	if !c.Deliver(city) {
		t.Fatal("expected a city-accuracy fix to be delivered")
	}
	got, ok := c.LastEmitted()
	if !ok || got.Level() != geofix.AccuracyCity {
		t.Fatalf("expected a City-level fix, got %v (accuracy=%v)", got.Level(), got.Accuracy)
	}
}

func TestClient_Deliver_MonotoneTimestamps(t *testing.T) {
	c := New("c1", peer.AppIdentity{UID: 1000}, true)
	c.SetRequestedAccuracy(geofix.AccuracyExact)
	_ = c.Start()

	base := time.Now()
	newer := geofix.Fix{Latitude: 1, Longitude: 1, Accuracy: 8, Timestamp: base.Add(time.Second)}
	if !c.Deliver(newer) {
		t.Fatal("expected first fix delivered")
	}

	older := geofix.Fix{Latitude: 2, Longitude: 2, Accuracy: 8, Timestamp: base}
	if c.Deliver(older) {
		t.Fatal("expected a fix older than the last emitted one to be suppressed")
	}
}

func TestClient_Deliver_ThresholdFiltering(t *testing.T) {
	c := New("c1", peer.AppIdentity{UID: 1000}, true)
	c.SetRequestedAccuracy(geofix.AccuracyExact)
	c.SetThresholds(50, 0)
	_ = c.Start()

	base := time.Now()
	first := geofix.Fix{Latitude: 48.8583, Longitude: 2.2945, Accuracy: 8, Timestamp: base}
	if !c.Deliver(first) {
		t.Fatalf("expected first fix delivered")
	}

	near := geofix.Fix{Latitude: 48.8584, Longitude: 2.2945, Accuracy: 8, Timestamp: base.Add(time.Second)}
	if c.Deliver(near) {
		t.Fatalf("expected nearby fix (~11m) to be suppressed by a 50m distance threshold")
	}

	c.SetThresholds(0, 0)
	if !c.Deliver(near) {
		t.Fatalf("expected fix delivered once thresholds are disabled")
	}
}

func TestManager_GetOrCreateDefault_ReturnsSameClient(t *testing.T) {
	m := NewManager(testLogger())
	identity := peer.AppIdentity{UID: 1000}

	c1, created1 := m.GetOrCreateDefault(identity, ":1.1")
	if !created1 {
		t.Fatalf("expected first GetClient call to create a client")
	}
	c2, created2 := m.GetOrCreateDefault(identity, ":1.1")
	if created2 {
		t.Fatalf("expected second GetClient call to return the existing client")
	}
	if c1.ID != c2.ID {
		t.Fatalf("expected same client id, got %v and %v", c1.ID, c2.ID)
	}
	if c1.AutoDelete() {
		t.Fatalf("GetClient clients must not auto-delete")
	}
}

func TestManager_OnPeerVanished_RespectsAutoDelete(t *testing.T) {
	m := NewManager(testLogger())
	identity := peer.AppIdentity{UID: 1000}

	persistent := m.Create(identity, ":1.2", false)
	ephemeral := m.Create(identity, ":1.2", true)
	_ = persistent.Start()
	_ = ephemeral.Start()

	m.OnPeerVanished(":1.2")

	if _, ok := m.Get(ephemeral.ID); ok {
		t.Fatalf("expected auto_delete client to be removed on peer vanish")
	}
	got, ok := m.Get(persistent.ID)
	if !ok {
		t.Fatalf("expected non-auto_delete client to remain resolvable")
	}
	if got.State() != StateStopped {
		t.Fatalf("expected persistent client to be stopped on peer vanish")
	}
	if err := got.Start(); err == nil {
		t.Fatalf("expected Start on an orphaned client to fail")
	}
}
