// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package static implements the Static location source: an operator- or
// image-provided "lat,lon[,accuracy]" hint file, periodically re-read.
package static

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/geoclued/geoclue/internal/geofix"
	"github.com/geoclued/geoclue/internal/logger"
	"github.com/geoclued/geoclue/internal/source"
)

const (
	defaultAccuracy = 3000.0 // zip-code tier
	period          = 2 * time.Minute
)

var errNoCoordinates = fmt.Errorf("static: no valid coordinates found in hint file")

// Source reads a "lat,lon[,accuracy]" hint file.
type Source struct {
	path string
	log  *logger.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	current geofix.Fix
	haveFix bool

	updates chan geofix.Fix
}

// New returns a Static source reading from path.
func New(path string, log *logger.Logger) *Source {
	return &Source{path: path, log: log, updates: make(chan geofix.Fix, 1)}
}

func (s *Source) Kind() source.Kind { return source.KindStatic }

func (s *Source) MaxAccuracy() geofix.AccuracyLevel { return geofix.AccuracyNeighborhood }

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
	firstRun := true
	for {
		if !firstRun {
			select {
			case <-ctx.Done():
				return
			case <-time.After(period):
			}
		}
		firstRun = false

		fix, err := s.readFile()
		if err != nil {
			s.log.Debug("static: read failed", logger.Err(err))
			continue
		}

		s.mu.Lock()
		changed := !s.haveFix || !fix.NearlyEqual(s.current)
		s.current = fix
		s.haveFix = true
		s.mu.Unlock()

		if !changed {
			continue
		}
		select {
		case s.updates <- fix:
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (s *Source) readFile() (geofix.Fix, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return geofix.Fix{}, fmt.Errorf("static: read %q: %w", s.path, err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 2 {
			continue
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
		if err != nil {
			continue
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			continue
		}
		accuracy := defaultAccuracy
		if len(fields) >= 3 {
			if a, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64); err == nil {
				accuracy = a
			}
		}
		return geofix.Fix{
			Latitude:  lat,
			Longitude: lon,
			Accuracy:  accuracy,
			Timestamp: time.Now(),
			Monotonic: time.Now(),
		}, nil
	}
	return geofix.Fix{}, errNoCoordinates
}
