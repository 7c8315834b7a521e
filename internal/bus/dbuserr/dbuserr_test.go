// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package dbuserr

import (
	"errors"
	"fmt"
	"testing"
)

func TestToDBus(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		if ToDBus(nil) != nil {
			t.Error("expected nil for a nil error")
		}
	})

	t.Run("sentinels map to their error names", func(t *testing.T) {
		tests := []struct {
			err  error
			name string
		}{
			{ErrAccessDenied, NameAccessDenied},
			{ErrNotAuthorized, NameNotAuthorized},
			{ErrAlreadyStarted, NameAlreadyStarted},
			{ErrNotStarted, NameNotStarted},
			{ErrNotAvailable, NameNotAvailable},
			{ErrInvalidArgument, NameInvalidArgument},
		}
		for _, tc := range tests {
			if got := ToDBus(tc.err); got.Name != tc.name {
				t.Errorf("ToDBus(%v).Name = %q, want %q", tc.err, got.Name, tc.name)
			}
		}
	})

	t.Run("wrapped sentinels keep their mapping", func(t *testing.T) {
		wrapped := fmt.Errorf("start rejected: %w", ErrAccessDenied)
		if got := ToDBus(wrapped); got.Name != NameAccessDenied {
			t.Errorf("wrapped sentinel mapped to %q", got.Name)
		}
	})

	t.Run("unknown errors map to Internal", func(t *testing.T) {
		if got := ToDBus(errors.New("boom")); got.Name != NameInternal {
			t.Errorf("unknown error mapped to %q", got.Name)
		}
	})
}
