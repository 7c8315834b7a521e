// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package ip

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	httpclient "github.com/geoclued/geoclue/internal/http"
	"github.com/geoclued/geoclue/internal/logger"
)

func testLogger() *logger.Logger { return logger.New(slog.LevelError) }

func TestSource_LocateIchnaea(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"location":{"lat":48.8583,"lng":2.2945},"accuracy":5000}`))
	}))
	defer srv.Close()

	t.Run("response coordinates and accuracy are used", func(t *testing.T) {
		s := New(MethodIchnaea, srv.URL, 0, httpclient.New(testLogger()), testLogger())
		fix, err := s.locate(context.Background())
		if err != nil {
			t.Fatalf("locate: %s", err)
		}
		if fix.Latitude != 48.8583 || fix.Longitude != 2.2945 {
			t.Errorf("unexpected coordinates: %v,%v", fix.Latitude, fix.Longitude)
		}
		if fix.Accuracy != 5000 {
			t.Errorf("accuracy = %v, want 5000", fix.Accuracy)
		}
	})

	t.Run("configured accuracy overrides the response", func(t *testing.T) {
		s := New(MethodIchnaea, srv.URL, 12000, httpclient.New(testLogger()), testLogger())
		fix, err := s.locate(context.Background())
		if err != nil {
			t.Fatalf("locate: %s", err)
		}
		if fix.Accuracy != 12000 {
			t.Errorf("accuracy = %v, want the 12000 override", fix.Accuracy)
		}
	})
}

func TestSource_LocateReallyFreeGeoIP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"latitude":52.52,"longitude":13.405}`))
	}))
	defer srv.Close()

	s := New(MethodReallyFreeGeoIP, srv.URL, 0, httpclient.New(testLogger()), testLogger())
	fix, err := s.locate(context.Background())
	if err != nil {
		t.Fatalf("locate: %s", err)
	}
	if fix.Latitude != 52.52 || fix.Longitude != 13.405 {
		t.Errorf("unexpected coordinates: %v,%v", fix.Latitude, fix.Longitude)
	}
	if fix.Accuracy != reallyFreeGeoIPAccuracy {
		t.Errorf("accuracy = %v, want the method default %v", fix.Accuracy, reallyFreeGeoIPAccuracy)
	}
}

func TestAccuracyFromZoom(t *testing.T) {
	if got := accuracyFromZoom(0); got != 20037508.0 {
		t.Errorf("zoom 0 accuracy = %v", got)
	}
	if got := accuracyFromZoom(1); got != 20037508.0/2 {
		t.Errorf("zoom 1 accuracy = %v", got)
	}
	if accuracyFromZoom(10) >= accuracyFromZoom(9) {
		t.Error("accuracy must shrink as zoom grows")
	}
}

func TestSource_BuildFixRejectsImplausibleCoordinates(t *testing.T) {
	s := New(MethodIchnaea, "", 0, httpclient.New(testLogger()), testLogger())
	if _, err := s.buildFix(123.4, 0, 100); err == nil {
		t.Error("expected an out-of-range latitude to be rejected")
	}
}
