// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package static

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/geoclued/geoclue/internal/logger"
)

func writeHint(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "static-location.conf")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write hint file: %s", err)
	}
	return path
}

func TestSource_ReadFile(t *testing.T) {
	log := logger.New(slog.LevelError)

	t.Run("lat lon and accuracy are parsed", func(t *testing.T) {
		s := New(writeHint(t, "48.8583,2.2945,150\n"), log)
		fix, err := s.readFile()
		if err != nil {
			t.Fatalf("readFile: %s", err)
		}
		if fix.Latitude != 48.8583 || fix.Longitude != 2.2945 || fix.Accuracy != 150 {
			t.Errorf("unexpected fix: %+v", fix)
		}
	})

	t.Run("missing accuracy falls back to the default", func(t *testing.T) {
		s := New(writeHint(t, "48.8583, 2.2945\n"), log)
		fix, err := s.readFile()
		if err != nil {
			t.Fatalf("readFile: %s", err)
		}
		if fix.Accuracy != defaultAccuracy {
			t.Errorf("expected default accuracy %v, got %v", defaultAccuracy, fix.Accuracy)
		}
	})

	t.Run("comments and blank lines are skipped", func(t *testing.T) {
		s := New(writeHint(t, "# site hint\n\n10.5,20.25\n"), log)
		fix, err := s.readFile()
		if err != nil {
			t.Fatalf("readFile: %s", err)
		}
		if fix.Latitude != 10.5 || fix.Longitude != 20.25 {
			t.Errorf("unexpected fix: %+v", fix)
		}
	})

	t.Run("file without coordinates errors", func(t *testing.T) {
		s := New(writeHint(t, "# nothing here\nnot,numbers\n"), log)
		if _, err := s.readFile(); !errors.Is(err, errNoCoordinates) {
			t.Errorf("expected errNoCoordinates, got %v", err)
		}
	})

	t.Run("missing file errors", func(t *testing.T) {
		s := New(filepath.Join(t.TempDir(), "absent"), log)
		if _, err := s.readFile(); err == nil {
			t.Error("expected an error for a missing hint file")
		}
	})
}
