// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package compass implements the Compass heading-only augmentation source.
// No example repo in the retrieval pack binds a magnetometer or any other
// heading hardware, so this polls a plain heading file once a second, in the
// same polling shape as the static source, rather than inventing an
// unsupported hardware dependency (see DESIGN.md).
package compass

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

const period = 1 * time.Second

// Source reads a heading-in-degrees value from a file, typically a sysfs
// node exposed by a kernel iio-subsystem magnetometer driver.
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

// New returns a Compass source reading a heading value from path.
func New(path string, log *logger.Logger) *Source {
	return &Source{path: path, log: log, updates: make(chan geofix.Fix, 1)}
}

func (s *Source) Kind() source.Kind { return source.KindCompass }

// MaxAccuracy is None: compass readings carry no position, only heading.
func (s *Source) MaxAccuracy() geofix.AccuracyLevel { return geofix.AccuracyNone }

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
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		heading, err := s.readHeading()
		if err != nil {
			s.log.Debug("compass: read failed", logger.Err(err))
		} else {
			fix := geofix.Fix{Heading: &heading, Timestamp: time.Now(), Monotonic: time.Now()}
			s.mu.Lock()
			s.current = fix
			s.haveFix = true
			s.mu.Unlock()
			select {
			case s.updates <- fix:
			default:
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Source) readHeading() (float64, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return 0, fmt.Errorf("compass: read %q: %w", s.path, err)
	}
	heading, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("compass: parse heading: %w", err)
	}
	return heading, nil
}
