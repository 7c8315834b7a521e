// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package geoclueclient is a thin convenience wrapper for applications
// consuming the org.freedesktop.GeoClue2 service: get a client, set the
// desktop id and accuracy, start, and range over location updates. It
// only speaks the public bus surface and holds no daemon-side state.
package geoclueclient

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/geoclued/geoclue/internal/geofix"
)

const (
	busName       = "org.freedesktop.GeoClue2"
	managerPath   = dbus.ObjectPath("/org/freedesktop/GeoClue2/Manager")
	managerIface  = "org.freedesktop.GeoClue2.Manager"
	clientIface   = "org.freedesktop.GeoClue2.Client"
	locationIface = "org.freedesktop.GeoClue2.Location"
	propsGetAll   = "org.freedesktop.DBus.Properties.GetAll"

	flatpakInfoPath = "/.flatpak-info"
)

// ErrPortalRequired is returned by Connect when the calling process runs
// sandboxed (or has opted into portal routing via GTK_USE_PORTAL); such
// consumers must go through the desktop portal rather than the bus
// surface this package speaks.
var ErrPortalRequired = errors.New("geoclueclient: sandboxed consumer must use the location portal")

// UsesPortal reports whether this process should route location requests
// through a desktop portal: either GTK_USE_PORTAL=1 is set or the process
// runs inside a flatpak sandbox.
func UsesPortal() bool {
	if os.Getenv("GTK_USE_PORTAL") == "1" {
		return true
	}
	_, err := os.Stat(flatpakInfoPath)
	return err == nil
}

// Manager is a handle on the service's Manager object.
type Manager struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

// Connect opens the system bus and returns a Manager handle. It fails
// with ErrPortalRequired for consumers that must use the portal instead.
func Connect(ctx context.Context) (*Manager, error) {
	if UsesPortal() {
		return nil, ErrPortalRequired
	}
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("geoclueclient: connect system bus: %w", err)
	}
	return NewManager(conn), nil
}

// NewManager wraps an already-connected bus connection.
func NewManager(conn *dbus.Conn) *Manager {
	return &Manager{conn: conn, obj: conn.Object(busName, managerPath)}
}

// Close releases the underlying bus connection.
func (m *Manager) Close() error {
	return m.conn.Close()
}

// GetClient create-or-returns this connection's persistent client.
func (m *Manager) GetClient(ctx context.Context) (*Client, error) {
	return m.fetchClient(ctx, managerIface+".GetClient")
}

// CreateClient always creates a fresh client that the service removes
// automatically when this connection goes away.
func (m *Manager) CreateClient(ctx context.Context) (*Client, error) {
	return m.fetchClient(ctx, managerIface+".CreateClient")
}

func (m *Manager) fetchClient(ctx context.Context, method string) (*Client, error) {
	var path dbus.ObjectPath
	if err := m.obj.CallWithContext(ctx, method, 0).Store(&path); err != nil {
		return nil, fmt.Errorf("geoclueclient: %s: %w", method, err)
	}
	return &Client{conn: m.conn, obj: m.conn.Object(busName, path), path: path}, nil
}

// DeleteClient removes c from the service.
func (m *Manager) DeleteClient(ctx context.Context, c *Client) error {
	if err := m.obj.CallWithContext(ctx, managerIface+".DeleteClient", 0, c.path).Err; err != nil {
		return fmt.Errorf("geoclueclient: DeleteClient: %w", err)
	}
	return nil
}

// InUse reports whether any application is currently receiving location
// updates from the service.
func (m *Manager) InUse() (bool, error) {
	variant, err := m.obj.GetProperty(managerIface + ".InUse")
	if err != nil {
		return false, fmt.Errorf("geoclueclient: read InUse: %w", err)
	}
	inUse, _ := variant.Value().(bool)
	return inUse, nil
}

// AvailableAccuracyLevel returns the best accuracy the service can
// currently achieve.
func (m *Manager) AvailableAccuracyLevel() (geofix.AccuracyLevel, error) {
	variant, err := m.obj.GetProperty(managerIface + ".AvailableAccuracyLevel")
	if err != nil {
		return geofix.AccuracyNone, fmt.Errorf("geoclueclient: read AvailableAccuracyLevel: %w", err)
	}
	lvl, _ := variant.Value().(uint32)
	return geofix.AccuracyLevel(lvl), nil
}

// Client is a handle on one service-side client object.
type Client struct {
	conn *dbus.Conn
	obj  dbus.BusObject
	path dbus.ObjectPath
}

// Path returns the client's object path.
func (c *Client) Path() dbus.ObjectPath { return c.path }

// SetDesktopID sets the application identity the service uses for policy
// and agent lookups. Must be set before Start.
func (c *Client) SetDesktopID(id string) error {
	return c.setProp("DesktopId", id)
}

// SetRequestedAccuracyLevel sets the accuracy ceiling the application
// asks for.
func (c *Client) SetRequestedAccuracyLevel(level geofix.AccuracyLevel) error {
	return c.setProp("RequestedAccuracyLevel", uint32(level))
}

// SetDistanceThreshold sets the minimum movement, in meters, between
// updates; 0 disables the filter.
func (c *Client) SetDistanceThreshold(meters uint32) error {
	return c.setProp("DistanceThreshold", meters)
}

// SetTimeThreshold sets the minimum elapsed time between updates; 0
// disables the filter.
func (c *Client) SetTimeThreshold(d time.Duration) error {
	return c.setProp("TimeThreshold", uint32(d/time.Second))
}

func (c *Client) setProp(name string, value any) error {
	if err := c.obj.SetProperty(clientIface+"."+name, dbus.MakeVariant(value)); err != nil {
		return fmt.Errorf("geoclueclient: set %s: %w", name, err)
	}
	return nil
}

// Start begins location updates.
func (c *Client) Start(ctx context.Context) error {
	if err := c.obj.CallWithContext(ctx, clientIface+".Start", 0).Err; err != nil {
		return fmt.Errorf("geoclueclient: Start: %w", err)
	}
	return nil
}

// Stop halts location updates.
func (c *Client) Stop(ctx context.Context) error {
	if err := c.obj.CallWithContext(ctx, clientIface+".Stop", 0).Err; err != nil {
		return fmt.Errorf("geoclueclient: Stop: %w", err)
	}
	return nil
}

// Location reads the client's current location fix, if one has been
// delivered yet.
func (c *Client) Location(ctx context.Context) (geofix.Fix, bool, error) {
	variant, err := c.obj.GetProperty(clientIface + ".Location")
	if err != nil {
		return geofix.Fix{}, false, fmt.Errorf("geoclueclient: read Location: %w", err)
	}
	path, _ := variant.Value().(dbus.ObjectPath)
	if path == "" || path == "/" {
		return geofix.Fix{}, false, nil
	}
	fix, err := c.readLocation(ctx, path)
	if err != nil {
		return geofix.Fix{}, false, err
	}
	return fix, true, nil
}

// SubscribeLocationUpdated returns a channel of fixes, one per
// LocationUpdated signal on this client, and an unsubscribe function.
func (c *Client) SubscribeLocationUpdated(ctx context.Context) (<-chan geofix.Fix, func(), error) {
	if err := c.conn.AddMatchSignalContext(ctx,
		dbus.WithMatchInterface(clientIface),
		dbus.WithMatchMember("LocationUpdated"),
		dbus.WithMatchObjectPath(c.path),
	); err != nil {
		return nil, nil, fmt.Errorf("geoclueclient: subscribe LocationUpdated: %w", err)
	}

	sigCh := make(chan *dbus.Signal, 8)
	c.conn.Signal(sigCh)

	out := make(chan geofix.Fix, 8)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case sig, ok := <-sigCh:
				if !ok {
					return
				}
				newPath, ok := parseLocationUpdated(sig)
				if !ok {
					continue
				}
				fix, err := c.readLocation(ctx, newPath)
				if err != nil {
					continue
				}
				select {
				case out <- fix:
				default:
				}
			}
		}
	}()

	unsub := func() {
		close(done)
		c.conn.RemoveSignal(sigCh)
	}
	return out, unsub, nil
}

// parseLocationUpdated extracts the new location path from a
// LocationUpdated signal body.
func parseLocationUpdated(sig *dbus.Signal) (dbus.ObjectPath, bool) {
	if sig.Name != clientIface+".LocationUpdated" || len(sig.Body) != 2 {
		return "", false
	}
	newPath, ok := sig.Body[1].(dbus.ObjectPath)
	if !ok || newPath == "/" {
		return "", false
	}
	return newPath, true
}

// readLocation fetches every property of a Location object in one
// GetAll round trip and assembles the fix.
func (c *Client) readLocation(ctx context.Context, path dbus.ObjectPath) (geofix.Fix, error) {
	var props map[string]dbus.Variant
	obj := c.conn.Object(busName, path)
	if err := obj.CallWithContext(ctx, propsGetAll, 0, locationIface).Store(&props); err != nil {
		return geofix.Fix{}, fmt.Errorf("geoclueclient: read location %s: %w", path, err)
	}
	return fixFromProps(props), nil
}

// fixFromProps maps the Location interface's property bag onto a fix.
// Speed and heading use -1 as the wire encoding for "unknown".
func fixFromProps(props map[string]dbus.Variant) geofix.Fix {
	fix := geofix.Fix{
		Latitude:    floatProp(props, "Latitude"),
		Longitude:   floatProp(props, "Longitude"),
		Accuracy:    floatProp(props, "Accuracy"),
		Description: stringProp(props, "Description"),
	}
	if alt := floatProp(props, "Altitude"); alt != 0 {
		fix.Altitude = &alt
	}
	if speed := floatProp(props, "Speed"); speed >= 0 {
		fix.Speed = &speed
	}
	if heading := floatProp(props, "Heading"); heading >= 0 {
		fix.Heading = &heading
	}
	if v, ok := props["Timestamp"]; ok {
		if pair, ok := v.Value().([]any); ok && len(pair) == 2 {
			secs, _ := pair[0].(uint64)
			micros, _ := pair[1].(uint64)
			fix.Timestamp = time.Unix(int64(secs), int64(micros)*1000)
		}
	}
	return fix
}

func floatProp(props map[string]dbus.Variant, name string) float64 {
	v, ok := props[name]
	if !ok {
		return 0
	}
	f, _ := v.Value().(float64)
	return f
}

func stringProp(props map[string]dbus.Variant, name string) string {
	v, ok := props[name]
	if !ok {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}
