// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package wifi implements the Wi-Fi/3G/CDMA location source: it scans
// local Wi-Fi access points with mdlayher/wifi and submits the observed
// beacons to a geolocation API. No cell-tower observations are collected:
// the source always reports as KindWiFi at Street tier, whether the Wi-Fi,
// 3G or CDMA toggle enabled it.
package wifi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mdlayher/wifi"

	"github.com/geoclued/geoclue/internal/geofix"
	httpclient "github.com/geoclued/geoclue/internal/http"
	"github.com/geoclued/geoclue/internal/logger"
	"github.com/geoclued/geoclue/internal/source"
)

const (
	defaultEndpoint = "https://api.beacondb.net/v1/geolocate"
	scanPeriod      = 2 * time.Minute
	locatePeriod    = 5 * time.Minute
	lookupTimeout   = 20 * time.Second
)

// apiResult is the geolocation API's response shape.
type apiResult struct {
	Location struct {
		Latitude  float64 `json:"lat"`
		Longitude float64 `json:"lng"`
	} `json:"location"`
	Accuracy float64 `json:"accuracy"`
}

// accessPoint is the wireless-network evidence submitted to the API.
type accessPoint struct {
	LastSeen       int64  `json:"age"`
	MACAddress     string `json:"macAddress"`
	SignalStrength int32  `json:"signalStrength"`
}

// Submission configures optional crowd-sourcing of located scan results
// back to a collection endpoint. A zero value disables it.
type Submission struct {
	URL  string
	Nick string
}

// Source is the Wi-Fi/3G/CDMA provider.
type Source struct {
	endpoint string
	submit   Submission
	http     *httpclient.Client
	wlan     *wifi.Client
	log      *logger.Logger

	apMu sync.RWMutex
	aps  []accessPoint

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	current geofix.Fix
	haveFix bool

	updates chan geofix.Fix
}

// New returns a Wi-Fi source. endpoint defaults to the beacondb API if
// empty; submit enables crowd-sourced data submission when its URL is set.
func New(endpoint string, submit Submission, http *httpclient.Client, log *logger.Logger) (*Source, error) {
	wlan, err := wifi.New()
	if err != nil {
		return nil, fmt.Errorf("wifi: failed to open netlink client: %w", err)
	}
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Source{
		endpoint: endpoint,
		submit:   submit,
		http:     http,
		wlan:     wlan,
		log:      log,
		updates:  make(chan geofix.Fix, 8),
	}, nil
}

func (s *Source) Kind() source.Kind { return source.KindWiFi }

func (s *Source) MaxAccuracy() geofix.AccuracyLevel { return geofix.AccuracyStreet }

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

	go s.scanLoop(runCtx)
	go s.locateLoop(runCtx)
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

func (s *Source) scanLoop(ctx context.Context) {
	firstRun := true
	for {
		if !firstRun {
			select {
			case <-ctx.Done():
				return
			case <-time.After(scanPeriod):
			}
		}
		firstRun = false

		aps, err := s.scanAccessPoints()
		if err != nil {
			s.log.Debug("wifi: scan failed", logger.Err(err))
			continue
		}
		s.apMu.Lock()
		s.aps = aps
		s.apMu.Unlock()
	}
}

func (s *Source) scanAccessPoints() ([]accessPoint, error) {
	ifaces, err := s.wlan.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("wifi: list interfaces: %w", err)
	}

	var out []accessPoint
	for _, iface := range ifaces {
		if iface.Type != wifi.InterfaceTypeStation {
			continue
		}
		aps, err := s.wlan.AccessPoints(iface)
		if err != nil {
			continue
		}
		for _, ap := range aps {
			if ap.SSID == "" || ap.SSID[0] == '\x00' || strings.HasSuffix(ap.SSID, "_nomap") {
				continue
			}
			out = append(out, accessPoint{
				SignalStrength: ap.Signal / 100,
				MACAddress:     ap.BSSID.String(),
				LastSeen:       ap.LastSeen.Milliseconds(),
			})
		}
	}
	return out, nil
}

func (s *Source) locateLoop(ctx context.Context) {
	firstRun := true
	for {
		if !firstRun {
			select {
			case <-ctx.Done():
				return
			case <-time.After(locatePeriod):
			}
		}
		firstRun = false

		fix, err := s.locate(ctx)
		if err != nil {
			s.log.Debug("wifi: locate failed", logger.Err(err))
			continue
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

		if s.submit.URL != "" {
			if err := s.submitScan(ctx, fix); err != nil {
				s.log.Debug("wifi: data submission failed", logger.Err(err))
			}
		}
	}
}

// submitScan reports the located scan back to the configured collection
// endpoint, tagging it with the operator's nickname when one is set.
func (s *Source) submitScan(ctx context.Context, fix geofix.Fix) error {
	s.apMu.RLock()
	aps := s.aps
	s.apMu.RUnlock()
	if len(aps) == 0 {
		return nil
	}

	type reportItem struct {
		Latitude     float64       `json:"latitude"`
		Longitude    float64       `json:"longitude"`
		Accuracy     float64       `json:"accuracy"`
		AccessPoints []accessPoint `json:"wifiAccessPoints"`
	}
	report := struct {
		Items []reportItem `json:"items"`
	}{Items: []reportItem{{fix.Latitude, fix.Longitude, fix.Accuracy, aps}}}

	body := bytes.NewBuffer(nil)
	if err := json.NewEncoder(body).Encode(report); err != nil {
		return fmt.Errorf("wifi: encode submission: %w", err)
	}

	headers := map[string]string{"Content-Type": "application/json"}
	if s.submit.Nick != "" {
		headers["X-Nickname"] = s.submit.Nick
	}

	var ack struct{}
	if _, err := s.http.PostWithTimeout(ctx, s.submit.URL, &ack, body, headers, lookupTimeout); err != nil {
		return fmt.Errorf("wifi: post submission: %w", err)
	}
	return nil
}

func (s *Source) locate(ctx context.Context) (geofix.Fix, error) {
	s.apMu.RLock()
	aps := s.aps
	s.apMu.RUnlock()

	req := struct {
		ConsiderIP   bool          `json:"considerIp"`
		Accesspoints []accessPoint `json:"wifiAccessPoints,omitempty"`
	}{ConsiderIP: true, Accesspoints: aps}

	body := bytes.NewBuffer(nil)
	if err := json.NewEncoder(body).Encode(req); err != nil {
		return geofix.Fix{}, fmt.Errorf("wifi: encode request: %w", err)
	}

	result := new(apiResult)
	if _, err := s.http.PostWithTimeout(ctx, s.endpoint, result, body, map[string]string{"Content-Type": "application/json"}, lookupTimeout); err != nil {
		return geofix.Fix{}, fmt.Errorf("wifi: query geolocation API: %w", err)
	}

	return geofix.Fix{
		Latitude:  result.Location.Latitude,
		Longitude: result.Location.Longitude,
		Accuracy:  result.Accuracy,
		Timestamp: time.Now(),
		Monotonic: time.Now(),
	}, nil
}
