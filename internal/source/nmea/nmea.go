// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package nmea implements the Network-NMEA location source: a raw NMEA
// 0183-shaped TPV feed read over the gpsd wire protocol, kept open as a
// stream rather than polled one-shot.
package nmea

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/geoclued/geoclue/internal/geofix"
	"github.com/geoclued/geoclue/internal/logger"
	"github.com/geoclued/geoclue/internal/source"
)

const (
	fallbackAccuracy3DFix = 10.0
	// A 2D fix without an error estimate is a diluted position; report it
	// at neighborhood precision rather than street.
	fallbackAccuracy2DFix = 500.0
	fallbackAccuracyNoFix = 1e6
	dialTimeout           = 5 * time.Second
)

type tpvReport struct {
	Class string  `json:"class"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Alt   float64 `json:"alt"`
	Mode  int     `json:"mode"`
	Epx   float64 `json:"epx"`
	Epy   float64 `json:"epy"`
	Eph   float64 `json:"eph"`
}

// Source is a Network-NMEA provider reading a TPV JSON stream over TCP or a
// unix socket.
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

// New returns an NMEA source reading from addr ("host:port", or an absolute
// unix socket path).
func New(addr string, log *logger.Logger) *Source {
	return &Source{addr: addr, log: log, updates: make(chan geofix.Fix, 8)}
}

func (s *Source) Kind() source.Kind { return source.KindNMEA }

// MaxAccuracy is Exact: a quality NMEA fix is a full GNSS position.
// Dilution is reflected per-fix via the reported horizontal accuracy, not
// by lowering the source's ceiling.
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
	dialer := &net.Dialer{Timeout: dialTimeout}
	network := "tcp"
	if strings.HasPrefix(s.addr, "/") {
		network = "unix"
	}
	conn, err := dialer.DialContext(ctx, network, s.addr)
	if err != nil {
		s.log.Warn("nmea: failed to dial feed", logger.Err(err))
		return
	}
	defer func() { _ = conn.Close() }()

	if _, err = fmt.Fprint(conn, `?WATCH={"enable":true,"json":true}`+"\n"); err != nil {
		s.log.Warn("nmea: failed to start watch", logger.Err(err))
		return
	}

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var tpv tpvReport
		if err := json.Unmarshal(scanner.Bytes(), &tpv); err != nil || tpv.Class != "TPV" {
			continue
		}
		if tpv.Mode < 2 {
			continue
		}

		fix := geofix.Fix{
			Latitude:  tpv.Lat,
			Longitude: tpv.Lon,
			Accuracy:  horizontalAccuracy(tpv),
			Timestamp: time.Now(),
			Monotonic: time.Now(),
		}
		if tpv.Alt != 0 {
			alt := tpv.Alt
			fix.Altitude = &alt
		}

		s.mu.Lock()
		s.current = fix
		s.haveFix = true
		s.mu.Unlock()

		select {
		case s.updates <- fix:
		case <-ctx.Done():
			return
		default:
		}
	}
}

func horizontalAccuracy(tpv tpvReport) float64 {
	switch {
	case tpv.Eph > 0:
		return tpv.Eph
	case tpv.Epx > 0 && tpv.Epy > 0:
		return math.Hypot(tpv.Epx, tpv.Epy)
	case tpv.Mode >= 3:
		return fallbackAccuracy3DFix
	case tpv.Mode == 2:
		return fallbackAccuracy2DFix
	default:
		return fallbackAccuracyNoFix
	}
}
