// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package dbuserr maps geocluedbusd's internal sentinel errors onto the
// org.freedesktop.GeoClue2 D-Bus error names its clients expect.
package dbuserr

import (
	"errors"

	"github.com/godbus/dbus/v5"
)

const (
	NameAccessDenied     = "org.freedesktop.GeoClue2.Error.AccessDenied"
	NameNotAuthorized    = "org.freedesktop.GeoClue2.Error.NotAuthorized"
	NameAlreadyStarted   = "org.freedesktop.GeoClue2.Error.AlreadyStarted"
	NameNotStarted       = "org.freedesktop.GeoClue2.Error.NotStarted"
	NameNotAvailable     = "org.freedesktop.GeoClue2.Error.NotAvailable"
	NameInvalidArgument  = "org.freedesktop.GeoClue2.Error.InvalidArgument"
	NameInternal         = "org.freedesktop.GeoClue2.Error.Internal"
)

var (
	ErrAccessDenied    = errors.New("geoclue: access denied")
	ErrNotAuthorized   = errors.New("geoclue: not authorized")
	ErrAlreadyStarted  = errors.New("geoclue: client already started")
	ErrNotStarted      = errors.New("geoclue: client not started")
	ErrNotAvailable    = errors.New("geoclue: location not available")
	ErrInvalidArgument = errors.New("geoclue: invalid argument")
)

// sentinelNames orders lookups so the first matching errors.Is wins; kept
// as a slice rather than a map since error identity, not the error value,
// is the lookup key.
var sentinelNames = []struct {
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

// ToDBus converts err into a *dbus.Error suitable for returning from an
// exported method. A nil err yields a nil *dbus.Error. Unrecognized errors
// map to the generic Internal name with the original message preserved.
func ToDBus(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	for _, entry := range sentinelNames {
		if errors.Is(err, entry.err) {
			return dbus.NewError(entry.name, []interface{}{err.Error()})
		}
	}
	return dbus.NewError(NameInternal, []interface{}{err.Error()})
}
