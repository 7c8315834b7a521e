// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package nmea

import (
	"testing"

	"github.com/geoclued/geoclue/internal/geofix"
)

func TestHorizontalAccuracy(t *testing.T) {
	tests := []struct {
		name string
		tpv  tpvReport
		want float64
	}{
		{"reported eph wins", tpvReport{Mode: 3, Eph: 4.2}, 4.2},
		{"epx and epy combine", tpvReport{Mode: 3, Epx: 3, Epy: 4}, 5},
		{"3d fix without estimate is exact-tier", tpvReport{Mode: 3}, fallbackAccuracy3DFix},
		{"2d fix without estimate is neighborhood-tier", tpvReport{Mode: 2}, fallbackAccuracy2DFix},
		{"no fix is unusable", tpvReport{Mode: 0}, fallbackAccuracyNoFix},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := horizontalAccuracy(tc.tpv); got != tc.want {
				t.Errorf("horizontalAccuracy(%+v) = %v, want %v", tc.tpv, got, tc.want)
			}
		})
	}
}

func TestAccuracyTiers(t *testing.T) {
	if geofix.LevelForRadius(fallbackAccuracy3DFix) != geofix.AccuracyExact {
		t.Error("a clean 3d fix must rank as exact")
	}
	if geofix.LevelForRadius(fallbackAccuracy2DFix) != geofix.AccuracyNeighborhood {
		t.Error("a diluted 2d fix must rank as neighborhood")
	}
}
