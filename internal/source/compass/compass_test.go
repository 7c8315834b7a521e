// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package compass

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/geoclued/geoclue/internal/geofix"
	"github.com/geoclued/geoclue/internal/logger"
)

func TestSource_ReadHeading(t *testing.T) {
	log := logger.New(slog.LevelError)

	t.Run("plain degrees value is parsed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "compass-heading")
		if err := os.WriteFile(path, []byte("271.5\n"), 0o644); err != nil {
			t.Fatalf("failed to write heading file: %s", err)
		}
		s := New(path, log)
		heading, err := s.readHeading()
		if err != nil {
			t.Fatalf("readHeading: %s", err)
		}
		if heading != 271.5 {
			t.Errorf("heading = %v, want 271.5", heading)
		}
	})

	t.Run("garbage value errors", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "compass-heading")
		if err := os.WriteFile(path, []byte("north-ish\n"), 0o644); err != nil {
			t.Fatalf("failed to write heading file: %s", err)
		}
		s := New(path, log)
		if _, err := s.readHeading(); err == nil {
			t.Error("expected a parse error for a non-numeric heading")
		}
	})
}

func TestSource_MaxAccuracyIsNone(t *testing.T) {
	s := New("unused", logger.New(slog.LevelError))
	if s.MaxAccuracy() != geofix.AccuracyNone {
		t.Error("compass must not advertise a position accuracy tier")
	}
}
