// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package gnss implements a Modem-GNSS location source backed by gpsd,
// consuming its streaming TPV reports over a long-lived watch session.
package gnss

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/stratoberry/go-gpsd"

	"github.com/geoclued/geoclue/internal/geofix"
	"github.com/geoclued/geoclue/internal/logger"
	"github.com/geoclued/geoclue/internal/source"
)

// Source is a Modem-GNSS provider. It is Exact while gpsd reports a 3D fix
// and unavailable otherwise.
type Source struct {
	addr string
	log  *logger.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	current geofix.Fix
	haveFix bool

	updates chan geofix.Fix
}

// New returns a GNSS source dialing gpsd at addr ("host:port"; empty
// defaults to "localhost:2947").
func New(addr string, log *logger.Logger) *Source {
	if addr == "" {
		addr = net.JoinHostPort("localhost", "2947")
	}
	return &Source{
		addr:    addr,
		log:     log,
		updates: make(chan geofix.Fix, 8),
	}
}

func (s *Source) Kind() source.Kind { return source.KindGNSS }

func (s *Source) MaxAccuracy() geofix.AccuracyLevel { return geofix.AccuracyExact }

func (s *Source) Updates() <-chan geofix.Fix { return s.updates }

func (s *Source) CurrentFix() (geofix.Fix, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.haveFix
}

func (s *Source) Start(ctx context.Context) (source.StartResult, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return source.StartResult{}, nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true
	s.mu.Unlock()

	go s.run(runCtx)
	return source.StartResult{}, nil
}

func (s *Source) Stop(context.Context) (source.StopResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return source.StopResult{}, nil
	}
	s.started = false
	s.haveFix = false
	if s.cancel != nil {
		s.cancel()
	}
	return source.StopResult{}, nil
}

func (s *Source) run(ctx context.Context) {
	session, err := gpsd.Dial(s.addr)
	if err != nil {
		s.log.Warn("gnss: failed to dial gpsd", logger.Err(err))
		return
	}
	defer func() { _ = session.Close() }()

	session.AddFilter("TPV", func(r interface{}) {
		tpv, ok := r.(*gpsd.TPVReport)
		if !ok || tpv.Mode < gpsd.Mode3D {
			return
		}

		fix := geofix.Fix{
			Latitude:  tpv.Lat,
			Longitude: tpv.Lon,
			Accuracy:  10, // Exact tier: locked 3D GNSS fix
			Timestamp: time.Now(),
			Monotonic: time.Now(),
		}
		if tpv.Alt != 0 {
			alt := tpv.Alt
			fix.Altitude = &alt
		}
		if tpv.Speed != 0 {
			sp := tpv.Speed
			fix.Speed = &sp
		}
		if tpv.Track != 0 {
			hd := tpv.Track
			fix.Heading = &hd
		}

		s.mu.Lock()
		s.current = fix
		s.haveFix = true
		s.mu.Unlock()

		select {
		case s.updates <- fix:
		default:
		}
	})

	done := session.Watch()
	select {
	case <-ctx.Done():
	case <-done:
	}
}
