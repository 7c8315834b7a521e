// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package manager

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/geoclued/geoclue/internal/geofix"
	"github.com/geoclued/geoclue/internal/logger"
	"github.com/geoclued/geoclue/internal/source"
)

// fakeSource is a source.Source stub recording start/stop calls so demand
// accounting can be asserted without real provider I/O.
type fakeSource struct {
	kind     source.Kind
	max      geofix.AccuracyLevel
	started  bool
	startErr error
	starts   int
}

func (f *fakeSource) Kind() source.Kind                 { return f.kind }
func (f *fakeSource) MaxAccuracy() geofix.AccuracyLevel { return f.max }
func (f *fakeSource) Updates() <-chan geofix.Fix        { return make(chan geofix.Fix) }
func (f *fakeSource) CurrentFix() (geofix.Fix, bool)    { return geofix.Fix{}, false }
func (f *fakeSource) Start(context.Context) (source.StartResult, error) {
	f.starts++
	if f.startErr != nil {
		return source.StartResult{}, f.startErr
	}
	f.started = true
	return source.StartResult{}, nil
}
func (f *fakeSource) Stop(context.Context) (source.StopResult, error) {
	f.started = false
	return source.StopResult{}, nil
}

func testLogger() *logger.Logger { return logger.New(slog.LevelError) }

func newTestManager(t *testing.T, sources ...source.Source) *Manager {
	t.Helper()
	m, err := New(sources, testLogger())
	if err != nil {
		t.Fatalf("failed to create manager: %s", err)
	}
	return m
}

func TestCandidatesForLevel(t *testing.T) {
	t.Run("exact demands only gnss-grade sources", func(t *testing.T) {
		kinds := candidatesForLevel(geofix.AccuracyExact)
		if len(kinds) != 2 || kinds[0] != source.KindGNSS {
			t.Fatalf("unexpected candidates for exact: %v", kinds)
		}
	})
	t.Run("street prefers wifi before falling back to gnss", func(t *testing.T) {
		kinds := candidatesForLevel(geofix.AccuracyStreet)
		if kinds[0] != source.KindWiFi {
			t.Fatalf("expected wifi first for street, got %v", kinds)
		}
	})
	t.Run("city prefers ip, the weakest adequate source", func(t *testing.T) {
		kinds := candidatesForLevel(geofix.AccuracyCity)
		if kinds[0] != source.KindIP {
			t.Fatalf("expected ip first for city, got %v", kinds)
		}
	})
	t.Run("none demands nothing", func(t *testing.T) {
		if kinds := candidatesForLevel(geofix.AccuracyNone); kinds != nil {
			t.Fatalf("expected no candidates for none, got %v", kinds)
		}
	})
}

func TestManager_DemandAccounting(t *testing.T) {
	gnssSrc := &fakeSource{kind: source.KindGNSS, max: geofix.AccuracyExact}
	ipSrc := &fakeSource{kind: source.KindIP, max: geofix.AccuracyCity}
	m := newTestManager(t, gnssSrc, ipSrc)

	exact := m.AddDemand(geofix.AccuracyExact, 0)
	if !gnssSrc.started {
		t.Fatal("expected gnss to start for an exact demand")
	}
	if ipSrc.started {
		t.Fatal("expected ip to stay stopped while only exact is demanded")
	}

	city := m.AddDemand(geofix.AccuracyCity, 0)
	if !ipSrc.started {
		t.Fatal("expected ip to start for a city demand")
	}

	m.RemoveDemand(exact)
	if gnssSrc.started {
		t.Fatal("expected gnss to stop once the exact demand is gone")
	}
	if !ipSrc.started {
		t.Fatal("expected ip to keep running for the remaining city demand")
	}

	m.RemoveDemand(city)
	if ipSrc.started {
		t.Fatal("expected all sources stopped with no live demand")
	}
	if m.InUse() {
		t.Fatal("expected manager not in use with no live demand")
	}
}

func TestManager_DemandFallbackOnStartFailure(t *testing.T) {
	wifiSrc := &fakeSource{kind: source.KindWiFi, max: geofix.AccuracyStreet, startErr: errors.New("scan failed")}
	gnssSrc := &fakeSource{kind: source.KindGNSS, max: geofix.AccuracyExact}
	m := newTestManager(t, wifiSrc, gnssSrc)

	m.AddDemand(geofix.AccuracyStreet, 0)

	if wifiSrc.started {
		t.Fatal("expected failed wifi source to be marked unavailable")
	}
	if !gnssSrc.started {
		t.Fatal("expected demand to fall back to the next candidate after a start failure")
	}
	if !m.HasActiveFor(geofix.AccuracyStreet) {
		t.Fatal("expected the street demand to be satisfiable via the fallback")
	}
}

func TestManager_RemoveDemand_UnknownIDIgnored(t *testing.T) {
	m := newTestManager(t)
	m.RemoveDemand(DemandID(42))
}

func TestManager_Publish(t *testing.T) {
	t.Run("smaller radius replaces current best", func(t *testing.T) {
		m := newTestManager(t)
		ch, unsub := m.Subscribe(4)
		defer unsub()

		now := m.clock.Now()
		m.publish(geofix.Fix{Latitude: 1, Longitude: 1, Accuracy: 100, Timestamp: now}, source.KindWiFi)
		m.publish(geofix.Fix{Latitude: 2, Longitude: 2, Accuracy: 10, Timestamp: now}, source.KindGNSS)

		best, ok := m.CurrentFix()
		if !ok || best.Accuracy != 10 {
			t.Fatalf("expected best accuracy 10, got %+v (ok=%v)", best, ok)
		}

		select {
		case <-ch:
		default:
			t.Error("expected a broadcast on subscribe channel")
		}
	})

	t.Run("smaller radius wins despite older timestamp", func(t *testing.T) {
		m := newTestManager(t)
		now := m.clock.Now()
		m.publish(geofix.Fix{Latitude: 1, Longitude: 1, Accuracy: 80, Timestamp: now}, source.KindWiFi)
		m.publish(geofix.Fix{Latitude: 2, Longitude: 2, Accuracy: 15000, Timestamp: now.Add(time.Second)}, source.KindIP)

		best, _ := m.CurrentFix()
		if best.Accuracy != 80 {
			t.Errorf("expected the wifi fix to stay selected, got accuracy %v", best.Accuracy)
		}
	})

	t.Run("equal accuracy tie-breaks on newer timestamp", func(t *testing.T) {
		m := newTestManager(t)
		now := m.clock.Now()
		m.publish(geofix.Fix{Latitude: 1, Longitude: 1, Accuracy: 50, Timestamp: now}, source.KindWiFi)
		m.publish(geofix.Fix{Latitude: 2, Longitude: 2, Accuracy: 50, Timestamp: now.Add(-time.Second)}, source.KindWiFi)

		best, _ := m.CurrentFix()
		if best.Latitude != 1 {
			t.Error("expected the older equal-accuracy fix to be rejected")
		}
	})

	t.Run("equal accuracy and timestamp tie-breaks on source priority", func(t *testing.T) {
		m := newTestManager(t)
		now := m.clock.Now()
		m.publish(geofix.Fix{Latitude: 1, Longitude: 1, Accuracy: 50, Timestamp: now}, source.KindNMEA)
		m.publish(geofix.Fix{Latitude: 2, Longitude: 2, Accuracy: 50, Timestamp: now}, source.KindWiFi)

		best, _ := m.CurrentFix()
		if best.Latitude != 1 {
			t.Error("expected the higher-priority nmea fix to stay selected")
		}
	})

	t.Run("near-duplicate broadcast is suppressed", func(t *testing.T) {
		m := newTestManager(t)
		ch, unsub := m.Subscribe(4)
		defer unsub()

		now := m.clock.Now()
		m.publish(geofix.Fix{Latitude: 1, Longitude: 1, Accuracy: 10, Timestamp: now}, source.KindGNSS)
		m.publish(geofix.Fix{Latitude: 1, Longitude: 1, Accuracy: 10, Timestamp: now.Add(time.Second)}, source.KindGNSS)

		received := 0
	drain:
		for {
			select {
			case <-ch:
				received++
			default:
				break drain
			}
		}
		if received != 1 {
			t.Errorf("expected exactly one broadcast, got %d", received)
		}
	})

	t.Run("stale fix is discarded", func(t *testing.T) {
		m := newTestManager(t)
		old := m.clock.Now().Add(-time.Minute)
		m.publish(geofix.Fix{Latitude: 1, Longitude: 1, Accuracy: 10, Timestamp: old}, source.KindGNSS)

		if _, ok := m.CurrentFix(); ok {
			t.Error("expected stale fix to be discarded")
		}
	})

	t.Run("time thresholds widen the staleness window", func(t *testing.T) {
		m := newTestManager(t)
		m.AddDemand(geofix.AccuracyExact, time.Minute)

		old := m.clock.Now().Add(-90 * time.Second)
		m.publish(geofix.Fix{Latitude: 1, Longitude: 1, Accuracy: 10, Timestamp: old}, source.KindGNSS)

		if _, ok := m.CurrentFix(); !ok {
			t.Error("expected a 90s-old fix to survive a 2x60s staleness window")
		}
	})
}

func TestManager_AvailableAccuracyLevel(t *testing.T) {
	m := newTestManager(t,
		&fakeSource{kind: source.KindIP, max: geofix.AccuracyCity},
		&fakeSource{kind: source.KindGNSS, max: geofix.AccuracyExact},
	)
	if got := m.AvailableAccuracyLevel(); got != geofix.AccuracyExact {
		t.Errorf("expected best available accuracy Exact, got %v", got)
	}
}

func TestManager_InUse(t *testing.T) {
	m := newTestManager(t)
	if m.InUse() {
		t.Error("expected a fresh manager to report not in use")
	}
	m.active[source.KindGNSS] = true
	if !m.InUse() {
		t.Error("expected manager to report in use once a source is active")
	}
	m.active = map[source.Kind]bool{source.KindCompass: true}
	if m.InUse() {
		t.Error("expected the always-on compass not to count as in use")
	}
}
