// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package ip implements the IP location source, dispatching to one of
// three query methods exactly as the original GeoClue daemon's gclue-ip.c
// did: beacon/ichnaea-style geolocate, a Google Maps "locate me" page
// scrape, or reallyfreegeoip's JSON API.
package ip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	stdhttp "net/http"
	"net/url"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/geoclued/geoclue/internal/geofix"
	httpclient "github.com/geoclued/geoclue/internal/http"
	"github.com/geoclued/geoclue/internal/logger"
	"github.com/geoclued/geoclue/internal/source"
)

// Method selects which upstream IP geolocation service to query, matching
// the original daemon's ip_method config values.
type Method string

const (
	MethodIchnaea        Method = "ichnaea"
	MethodGMaps          Method = "gmaps"
	MethodReallyFreeGeoIP Method = "reallyfreegeoip"
)

const (
	beaconEndpoint          = "https://api.beacondb.net/v1/geolocate"
	gmapsEndpoint           = "https://maps.googleapis.com/maps/api/js/LocationService.GetLocation"
	reallyFreeGeoIPEndpoint = "https://reallyfreegeoip.org/json/"

	reallyFreeGeoIPAccuracy = 20000.0
	gmapsScale              = 1e7

	lookupTimeout = 20 * time.Second
	period        = 10 * time.Minute
)

var gmapsCenterPattern = regexp.MustCompile(`center=\[null,([0-9.\-]+),([0-9.\-]+)],.*?zoom=(\d+)`)

// Source is the IP geolocation provider.
type Source struct {
	method   Method
	endpoint string
	accuracy float64 // zero means "use the method default"
	http     *httpclient.Client
	log      *logger.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	current geofix.Fix
	haveFix bool

	updates chan geofix.Fix
}

// New returns an IP source using the given method. endpoint overrides the
// method's default upstream URL when non-empty. accuracyOverride, when
// positive, takes precedence over the method's default accuracy radius; for
// gmaps an override above 1e7 m is ignored and the zoom-derived radius is
// used instead.
func New(method Method, endpoint string, accuracyOverride float64, http *httpclient.Client, log *logger.Logger) *Source {
	return &Source{
		method:   method,
		endpoint: endpoint,
		accuracy: accuracyOverride,
		http:     http,
		log:      log,
		updates:  make(chan geofix.Fix, 4),
	}
}

func (s *Source) Kind() source.Kind { return source.KindIP }

// MaxAccuracy mirrors gclue_ip_get_available_accuracy_level: City when the
// network is reachable, None when it is not (approximated here as City
// always, since reachability is determined per-lookup).
func (s *Source) MaxAccuracy() geofix.AccuracyLevel { return geofix.AccuracyCity }

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
	for {
		fix, err := s.locate(ctx)
		if err != nil {
			s.log.Debug("ip: locate failed", logger.Err(err))
		} else {
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

		select {
		case <-ctx.Done():
			return
		case <-time.After(period):
		}
	}
}

func (s *Source) locate(ctx context.Context) (geofix.Fix, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	switch s.method {
	case MethodGMaps:
		return s.locateGMaps(ctx)
	case MethodReallyFreeGeoIP:
		return s.locateReallyFreeGeoIP(ctx)
	default:
		return s.locateIchnaea(ctx)
	}
}

func (s *Source) locateIchnaea(ctx context.Context) (geofix.Fix, error) {
	endpoint := s.endpoint
	if endpoint == "" {
		endpoint = beaconEndpoint
	}

	var result struct {
		Location struct {
			Latitude  float64 `json:"lat"`
			Longitude float64 `json:"lng"`
		} `json:"location"`
		Accuracy float64 `json:"accuracy"`
	}
	req := struct {
		ConsiderIP bool `json:"considerIp"`
	}{ConsiderIP: true}

	body, err := jsonBody(req)
	if err != nil {
		return geofix.Fix{}, err
	}
	if _, err := s.http.PostWithTimeout(ctx, endpoint, &result, body, map[string]string{"Content-Type": "application/json"}, lookupTimeout); err != nil {
		return geofix.Fix{}, fmt.Errorf("ip: ichnaea query: %w", err)
	}

	accuracy := result.Accuracy
	if s.accuracy > 0 {
		accuracy = s.accuracy
	}
	return s.buildFix(result.Location.Latitude, result.Location.Longitude, accuracy)
}

func (s *Source) locateReallyFreeGeoIP(ctx context.Context) (geofix.Fix, error) {
	endpoint := s.endpoint
	if endpoint == "" {
		endpoint = reallyFreeGeoIPEndpoint
	}

	var result struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}
	if _, err := s.http.GetWithTimeout(ctx, endpoint, &result, nil, nil, lookupTimeout); err != nil {
		return geofix.Fix{}, fmt.Errorf("ip: reallyfreegeoip query: %w", err)
	}

	accuracy := reallyFreeGeoIPAccuracy
	if s.accuracy > 0 {
		accuracy = s.accuracy
	}
	return s.buildFix(result.Latitude, result.Longitude, accuracy)
}

func (s *Source) locateGMaps(ctx context.Context) (geofix.Fix, error) {
	endpoint := s.endpoint
	if endpoint == "" {
		endpoint = gmapsEndpoint
	}

	reqURL, err := url.Parse(endpoint)
	if err != nil {
		return geofix.Fix{}, fmt.Errorf("ip: gmaps invalid endpoint: %w", err)
	}
	reqURL.RawQuery = url.Values{"sensor": {"true"}}.Encode()

	req, err := stdhttp.NewRequestWithContext(ctx, stdhttp.MethodGet, reqURL.String(), nil)
	if err != nil {
		return geofix.Fix{}, fmt.Errorf("ip: gmaps build request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return geofix.Fix{}, fmt.Errorf("ip: gmaps query: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	rawBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return geofix.Fix{}, fmt.Errorf("ip: gmaps read body: %w", err)
	}
	raw := string(rawBytes)

	matches := gmapsCenterPattern.FindStringSubmatch(raw)
	if matches == nil {
		return geofix.Fix{}, fmt.Errorf("ip: gmaps response did not contain a center")
	}
	lat, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return geofix.Fix{}, fmt.Errorf("ip: gmaps invalid latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(matches[2], 64)
	if err != nil {
		return geofix.Fix{}, fmt.Errorf("ip: gmaps invalid longitude: %w", err)
	}
	zoom, err := strconv.Atoi(matches[3])
	if err != nil {
		return geofix.Fix{}, fmt.Errorf("ip: gmaps invalid zoom: %w", err)
	}

	accuracy := accuracyFromZoom(zoom)
	if s.accuracy > 0 && s.accuracy <= gmapsScale {
		accuracy = s.accuracy
	}
	return s.buildFix(lat, lon, accuracy)
}

// accuracyFromZoom approximates gclue-ip.c's zoom-to-accuracy derivation:
// each zoom step roughly halves the visible ground distance.
func accuracyFromZoom(zoom int) float64 {
	const baseAccuracy = 20037508.0 // half the earth's circumference, meters
	if zoom <= 0 {
		return baseAccuracy
	}
	accuracy := baseAccuracy
	for i := 0; i < zoom; i++ {
		accuracy /= 2
	}
	return accuracy
}

func jsonBody(v any) (*bytes.Buffer, error) {
	buf := bytes.NewBuffer(nil)
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		return nil, fmt.Errorf("ip: encode request body: %w", err)
	}
	return buf, nil
}

func (s *Source) buildFix(lat, lon, accuracy float64) (geofix.Fix, error) {
	fix := geofix.Fix{
		Latitude:  lat,
		Longitude: lon,
		Accuracy:  accuracy,
		Timestamp: time.Now(),
		Monotonic: time.Now(),
	}
	if !fix.Valid() {
		return geofix.Fix{}, fmt.Errorf("ip: implausible coordinate %v,%v", lat, lon)
	}
	return fix, nil
}
