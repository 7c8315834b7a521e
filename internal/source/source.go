// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package source defines the Source contract every location provider
// implements (GNSS modems, raw NMEA feeds, Wi-Fi/cellular positioning, IP
// geolocation, static hints, compass heading) and the shared Kind priority
// table the manager uses to break accuracy ties.
package source

import (
	"context"

	"github.com/geoclued/geoclue/internal/geofix"
)

// Kind identifies a provider's category for priority tie-breaking.
type Kind string

const (
	KindGNSS     Kind = "gnss"
	KindNMEA     Kind = "nmea"
	KindWiFi     Kind = "wifi"
	Kind3G       Kind = "3g"
	KindCDMA     Kind = "cdma"
	KindStatic   Kind = "static"
	KindIP       Kind = "ip"
	KindCompass  Kind = "compass"
)

// priority ranks Kinds from most to least trustworthy when two sources
// report fixes of equal accuracy. Lower is better.
var priority = map[Kind]int{
	KindGNSS:    0,
	KindNMEA:    1,
	KindWiFi:    2,
	Kind3G:      3,
	KindCDMA:    4,
	KindStatic:  5,
	KindIP:      6,
	KindCompass: 7,
}

// Priority returns k's tie-break rank; unknown kinds sort last.
func Priority(k Kind) int {
	if p, ok := priority[k]; ok {
		return p
	}
	return len(priority)
}

// Kinds returns every known source kind in priority order.
func Kinds() []Kind {
	return []Kind{KindGNSS, KindNMEA, KindWiFi, Kind3G, KindCDMA, KindStatic, KindIP, KindCompass}
}

// StartResult reports the outcome of a Start call.
type StartResult struct {
	// PermanentlyDisabled is set when the source can never be started
	// again (missing required configuration), distinct from a transient
	// failure the manager should retry with backoff.
	PermanentlyDisabled bool
}

// StopResult reports the outcome of a Stop call.
type StopResult struct{}

// Source is the contract every location provider implements. Start/Stop
// must be idempotent: calling Start on an already-started source, or Stop
// on an already-stopped one, is a no-op that returns success.
type Source interface {
	Kind() Kind
	Start(ctx context.Context) (StartResult, error)
	Stop(ctx context.Context) (StopResult, error)
	CurrentFix() (geofix.Fix, bool)
	MaxAccuracy() geofix.AccuracyLevel
	Updates() <-chan geofix.Fix
}

// Stale is an optional interface a Source can implement to flag that its
// current fix has gone stale between updates (e.g. a GNSS fix held past its
// TTL). No provider in this repository implements it, and the manager's fix
// selection does not consult it.
type Stale interface {
	Stale() bool
}
