// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package manager implements the LocationManager: demand-counted source
// lifecycle and fix arbitration. It starts and stops providers as client
// demand rises and falls, and ranks fixes by accuracy, staleness, and
// source priority rather than accuracy alone.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-co-op/gocron/v2"
	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"

	"github.com/geoclued/geoclue/internal/geofix"
	"github.com/geoclued/geoclue/internal/logger"
	"github.com/geoclued/geoclue/internal/metrics"
	"github.com/geoclued/geoclue/internal/source"
)

const (
	initialBackoff = 60 * time.Second
	maxBackoff     = 5 * time.Minute
	staleAfter     = 30 * time.Second
	sweepInterval  = 5 * time.Second
)

// DemandID is the handle returned by AddDemand. RemoveDemand releases
// exactly the registration it names, so a client changing its requested
// accuracy between Start and Stop cannot corrupt the counters.
type DemandID uint64

// demand is one client's registered need: the accuracy level it asked for
// and the time threshold it filters with, which widens the manager's
// staleness window.
type demand struct {
	level         geofix.AccuracyLevel
	timeThreshold time.Duration
}

// Manager owns every registered Source, starting and stopping them as
// demand for their accuracy rises and falls, and holds the single current
// best fix broadcast to subscribers.
type Manager struct {
	mu         sync.Mutex
	sources    []source.Source
	byKind     map[source.Kind]source.Source
	demands    map[DemandID]demand
	nextDemand DemandID
	active     map[source.Kind]bool

	clock clockwork.Clock
	log   *logger.Logger

	unavailable *ttlcache.Cache[source.Kind, struct{}]
	backoffs    map[source.Kind]*backoff.ExponentialBackOff

	best        geofix.Fix
	currentKind source.Kind
	haveFix     bool
	heading     *float64

	subscribers map[chan geofix.Fix]struct{}

	scheduler gocron.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
}

// New constructs a Manager over the given sources. Start must be called
// before any demand registration takes effect.
func New(sources []source.Source, log *logger.Logger) (*Manager, error) {
	byKind := make(map[source.Kind]source.Source, len(sources))
	for _, s := range sources {
		byKind[s.Kind()] = s
	}

	m := &Manager{
		sources:     sources,
		byKind:      byKind,
		demands:     make(map[DemandID]demand),
		active:      make(map[source.Kind]bool),
		clock:       clockwork.NewRealClock(),
		log:         log,
		unavailable: ttlcache.New[source.Kind, struct{}](),
		backoffs:    make(map[source.Kind]*backoff.ExponentialBackOff),
		subscribers: make(map[chan geofix.Fix]struct{}),
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("manager: create scheduler: %w", err)
	}
	m.scheduler = scheduler
	return m, nil
}

// Start begins the manager's background sweep (stale-fix and
// backoff-expiry recheck) and source fan-in. Call Stop to release
// resources.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)
	go m.unavailable.Start()

	for _, s := range m.sources {
		go m.fanIn(m.ctx, s)
	}

	// Compass is a heading-only augmentation with no accuracy tier of its
	// own, so it never appears in the demand cover and must be started
	// unconditionally rather than waiting for client demand.
	if s, ok := m.byKind[source.KindCompass]; ok {
		m.mu.Lock()
		m.active[source.KindCompass] = true
		m.mu.Unlock()
		m.startWithBackoff(s)
	}

	_, err := m.scheduler.NewJob(
		gocron.DurationJob(sweepInterval),
		gocron.NewTask(m.sweep),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("manager: schedule sweep job: %w", err)
	}
	m.scheduler.Start()
	return nil
}

// Stop cancels every started source and halts the sweep scheduler.
func (m *Manager) Stop() error {
	if m.cancel != nil {
		m.cancel()
	}
	m.unavailable.Stop()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	m.mu.Lock()
	for _, s := range m.sources {
		_, _ = s.Stop(stopCtx)
	}
	m.mu.Unlock()

	return m.scheduler.Shutdown()
}

// AddDemand registers one client's need for fixes at the given level and
// recomputes the minimal source cover. The returned DemandID must be
// passed to RemoveDemand when the client stops.
func (m *Manager) AddDemand(level geofix.AccuracyLevel, timeThreshold time.Duration) DemandID {
	m.mu.Lock()
	m.nextDemand++
	id := m.nextDemand
	m.demands[id] = demand{level: level, timeThreshold: timeThreshold}
	m.mu.Unlock()
	m.reconcile()
	return id
}

// RemoveDemand releases a registration, stopping any source no longer in
// the demand cover. Unknown ids are ignored.
func (m *Manager) RemoveDemand(id DemandID) {
	m.mu.Lock()
	_, ok := m.demands[id]
	delete(m.demands, id)
	m.mu.Unlock()
	if ok {
		m.reconcile()
	}
}

// candidatesForLevel returns the source kinds able to produce a fix at or
// coarser than level, weakest first, so the cover computation prefers the
// least precise (and least power-hungry) source that still satisfies the
// client. A level of None demands nothing.
func candidatesForLevel(level geofix.AccuracyLevel) []source.Kind {
	switch {
	case level >= geofix.AccuracyExact:
		return []source.Kind{source.KindGNSS, source.KindNMEA}
	case level >= geofix.AccuracyStreet:
		return []source.Kind{source.KindWiFi, source.KindGNSS, source.KindNMEA}
	case level >= geofix.AccuracyNeighborhood:
		return []source.Kind{source.KindStatic, source.KindWiFi, source.KindGNSS, source.KindNMEA}
	case level >= geofix.AccuracyCountry:
		return []source.Kind{source.KindIP, source.KindCDMA, source.Kind3G, source.KindStatic, source.KindWiFi, source.KindGNSS, source.KindNMEA}
	default:
		return nil
	}
}

// coverLocked computes the minimal set of kinds that must run to satisfy
// every live demand: for each demand, the weakest registered kind not in a
// backoff window.
func (m *Manager) coverLocked() map[source.Kind]bool {
	want := make(map[source.Kind]bool)
	for _, d := range m.demands {
		for _, k := range candidatesForLevel(d.level) {
			if _, registered := m.byKind[k]; !registered {
				continue
			}
			if m.unavailable.Has(k) {
				continue
			}
			want[k] = true
			break
		}
	}
	return want
}

// reconcile recomputes the demand cover and diffs it against the running
// set: newly covered kinds are started, newly idle ones stopped. A start
// failure marks its kind unavailable and triggers one more pass so the
// next-weakest candidate can take over.
func (m *Manager) reconcile() {
	for pass := 0; pass < len(source.Kinds()); pass++ {
		m.mu.Lock()
		want := m.coverLocked()
		var toStart, toStop []source.Source
		for _, s := range m.sources {
			k := s.Kind()
			if k == source.KindCompass {
				continue // always-on, not demand-gated; see Start
			}
			switch {
			case want[k] && !m.active[k]:
				m.active[k] = true
				toStart = append(toStart, s)
			case !want[k] && m.active[k]:
				m.active[k] = false
				toStop = append(toStop, s)
			}
		}
		m.mu.Unlock()

		for _, s := range toStop {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if _, err := s.Stop(stopCtx); err != nil {
				m.log.Warn("manager: stop source failed", slog.String("kind", string(s.Kind())), logger.Err(err))
			}
			cancel()
			metrics.SourcesActive.WithLabelValues(string(s.Kind())).Set(0)
		}

		failed := false
		for _, s := range toStart {
			if !m.startWithBackoff(s) {
				m.mu.Lock()
				m.active[s.Kind()] = false
				m.mu.Unlock()
				failed = true
			}
		}
		if !failed {
			return
		}
	}
}

// startWithBackoff starts s, recording an exponential-backoff
// "unavailable until" window on failure so the cover computation skips it
// until the entry expires. Reports whether the source came up.
func (m *Manager) startWithBackoff(s source.Source) bool {
	ctx := m.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := s.Start(startCtx)
	if err == nil {
		m.mu.Lock()
		delete(m.backoffs, s.Kind())
		m.mu.Unlock()
		metrics.SourceStartsTotal.WithLabelValues(string(s.Kind()), "success").Inc()
		metrics.SourcesActive.WithLabelValues(string(s.Kind())).Set(1)
		return true
	}

	m.log.Warn("manager: source start failed", slog.String("kind", string(s.Kind())), logger.Err(err))
	metrics.SourceStartsTotal.WithLabelValues(string(s.Kind()), "failure").Inc()

	if result.PermanentlyDisabled {
		m.unavailable.Set(s.Kind(), struct{}{}, ttlcache.NoTTL)
		metrics.SourceUnavailableSeconds.WithLabelValues(string(s.Kind())).Set(-1)
		return false
	}

	// The per-kind backoff survives across failures so successive retry
	// windows grow from 60s toward the 5m cap; a successful start resets it.
	m.mu.Lock()
	b, ok := m.backoffs[s.Kind()]
	if !ok {
		b = backoff.NewExponentialBackOff()
		b.InitialInterval = initialBackoff
		b.MaxInterval = maxBackoff
		b.MaxElapsedTime = 0
		m.backoffs[s.Kind()] = b
	}
	wait := b.NextBackOff()
	m.mu.Unlock()

	m.unavailable.Set(s.Kind(), struct{}{}, wait)
	metrics.SourceUnavailableSeconds.WithLabelValues(string(s.Kind())).Set(wait.Seconds())
	return false
}

// HasActiveFor reports whether some running source can satisfy level, the
// check backing the NotAvailable error on Client.Start.
func (m *Manager) HasActiveFor(level geofix.AccuracyLevel) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range candidatesForLevel(level) {
		if m.active[k] {
			return true
		}
	}
	return false
}

// fanIn forwards s's fix updates into the manager's arbitration pipeline
// until ctx is cancelled. Compass updates carry no position, only a
// heading, so they bypass arbitration and instead update the overlay
// publish merges onto whichever position fix wins next.
func (m *Manager) fanIn(ctx context.Context, s source.Source) {
	isHeading := s.Kind() == source.KindCompass
	for {
		select {
		case <-ctx.Done():
			return
		case fix, ok := <-s.Updates():
			if !ok {
				return
			}
			if isHeading {
				m.updateHeading(fix.Heading)
				continue
			}
			m.publish(fix, s.Kind())
		}
	}
}

// updateHeading records the latest compass reading, applied to every
// subsequent position fix that doesn't already carry its own heading.
func (m *Manager) updateHeading(heading *float64) {
	m.mu.Lock()
	m.heading = heading
	m.mu.Unlock()
}

// staleWindowLocked is the discard horizon for incoming fixes: at least
// staleAfter, widened to twice the largest time threshold any live demand
// filters with, so slow-cadence clients still see their provider's fixes.
func (m *Manager) staleWindowLocked() time.Duration {
	window := staleAfter
	for _, d := range m.demands {
		if w := 2 * d.timeThreshold; w > window {
			window = w
		}
	}
	return window
}

// publish runs a new fix through the selection pipeline: discard stale,
// prefer smaller accuracy radius, tie-break by recency then source
// priority, and suppress a broadcast that would be a near-duplicate of the
// current best.
func (m *Manager) publish(fix geofix.Fix, kind source.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.clock.Now().Sub(fix.Timestamp) > m.staleWindowLocked() {
		metrics.FixesDiscardedTotal.WithLabelValues(string(kind), metrics.ReasonStale).Inc()
		return
	}

	if fix.Heading == nil {
		fix.Heading = m.heading
	}

	if m.haveFix {
		if m.best.Accuracy < fix.Accuracy {
			metrics.FixesDiscardedTotal.WithLabelValues(string(kind), metrics.ReasonWorseAccuracy).Inc()
			return
		}
		if m.best.Accuracy == fix.Accuracy {
			if fix.Timestamp.Before(m.best.Timestamp) {
				metrics.FixesDiscardedTotal.WithLabelValues(string(kind), metrics.ReasonOlderTimestamp).Inc()
				return
			}
			if fix.Timestamp.Equal(m.best.Timestamp) && source.Priority(kind) > source.Priority(m.currentKind) {
				metrics.FixesDiscardedTotal.WithLabelValues(string(kind), metrics.ReasonLowerPriority).Inc()
				return
			}
		}
		if fix.NearlyEqual(m.best) {
			m.best = fix
			m.currentKind = kind
			return
		}
	}

	m.best = fix
	m.currentKind = kind
	m.haveFix = true
	metrics.FixesPublishedTotal.WithLabelValues(string(kind)).Inc()

	for ch := range m.subscribers {
		select {
		case ch <- fix:
		default:
		}
	}
}

// sweep re-evaluates staleness (dropping a current fix that has aged past
// the discard horizon so a subsequent equal-or-worse fix is no longer
// rejected) and re-runs the cover computation so kinds whose backoff
// window just expired get another start attempt.
func (m *Manager) sweep() {
	m.mu.Lock()
	if m.haveFix && m.clock.Now().Sub(m.best.Timestamp) > m.staleWindowLocked() {
		m.haveFix = false
	}
	m.mu.Unlock()
	m.reconcile()
}

// Subscribe returns a channel receiving every broadcast fix and an
// unsubscribe function.
func (m *Manager) Subscribe(buffer int) (<-chan geofix.Fix, func()) {
	ch := make(chan geofix.Fix, buffer)
	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	if m.haveFix {
		select {
		case ch <- m.best:
		default:
		}
	}
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		delete(m.subscribers, ch)
		m.mu.Unlock()
		close(ch)
	}
}

// CurrentFix returns the current best fix, if any.
func (m *Manager) CurrentFix() (geofix.Fix, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.best, m.haveFix
}

// AvailableAccuracyLevel returns the best accuracy any registered source
// could achieve, regardless of whether it is currently running, matching
// the Manager.AvailableAccuracyLevel bus property.
func (m *Manager) AvailableAccuracyLevel() geofix.AccuracyLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	best := geofix.AccuracyNone
	for _, s := range m.sources {
		if s.MaxAccuracy() > best {
			best = s.MaxAccuracy()
		}
	}
	return best
}

// InUse reports whether any source is currently started, i.e. at least one
// client has live demand.
func (m *Manager) InUse() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for kind, active := range m.active {
		if active && kind != source.KindCompass {
			return true
		}
	}
	return false
}
