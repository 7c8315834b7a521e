// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package bus is geocluedbusd's BusSurface: it exports the
// org.freedesktop.GeoClue2 object tree (Manager, per-client Client objects,
// per-client Location objects) on the system bus and turns incoming method
// calls into calls against internal/manager, internal/client, and
// internal/agent. Interface/member names live in named constants, methods
// are exported Go methods, and properties go through godbus's prop package
// so consumers reach them via org.freedesktop.DBus.Properties like any
// other D-Bus service.
package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"

	"github.com/geoclued/geoclue/internal/agent"
	"github.com/geoclued/geoclue/internal/bus/dbuserr"
	"github.com/geoclued/geoclue/internal/client"
	"github.com/geoclued/geoclue/internal/geofix"
	"github.com/geoclued/geoclue/internal/logger"
	"github.com/geoclued/geoclue/internal/manager"
	"github.com/geoclued/geoclue/internal/metrics"
	"github.com/geoclued/geoclue/internal/peer"
	"github.com/geoclued/geoclue/internal/policy"
)

const (
	managerInterface = "org.freedesktop.GeoClue2.Manager"
	clientInterface  = "org.freedesktop.GeoClue2.Client"
	locationIface    = "org.freedesktop.GeoClue2.Location"
	agentInterface   = "org.freedesktop.GeoClue2.Agent"

	managerPath     = dbus.ObjectPath("/org/freedesktop/GeoClue2/Manager")
	agentObjectPath = dbus.ObjectPath("/org/freedesktop/GeoClue2/Agent")
)

// Surface owns the exported D-Bus object tree and routes calls into the
// domain packages.
type Surface struct {
	conn    *dbus.Conn
	log     *logger.Logger
	mgr     *manager.Manager
	clients *client.Manager
	agents  *agent.Registry
	peers   *peer.Tracker
	store   *policy.Store

	mu           sync.Mutex
	objects      map[client.ID]*clientObject
	managerProps *prop.Properties
	locationSeq  uint64
}

// New wires a Surface over an already-connected system bus conn.
func New(conn *dbus.Conn, log *logger.Logger, mgr *manager.Manager, clients *client.Manager, agents *agent.Registry, peers *peer.Tracker, store *policy.Store) *Surface {
	return &Surface{
		conn:    conn,
		log:     log,
		mgr:     mgr,
		clients: clients,
		agents:  agents,
		peers:   peers,
		store:   store,
		objects: make(map[client.ID]*clientObject),
	}
}

// ExportManager publishes the Manager object and requests busName, matching
// the order the real daemon claims its bus name after its object tree is
// ready to receive calls.
func (s *Surface) ExportManager(busName string) error {
	node := &introspect.Node{
		Name: string(managerPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name: managerInterface,
				Methods: []introspect.Method{
					{Name: "GetClient", Args: []introspect.Arg{{Name: "client", Type: "o", Direction: "out"}}},
					{Name: "CreateClient", Args: []introspect.Arg{{Name: "client", Type: "o", Direction: "out"}}},
					{Name: "DeleteClient", Args: []introspect.Arg{{Name: "client", Type: "o", Direction: "in"}}},
					{Name: "AddAgent", Args: []introspect.Arg{{Name: "id", Type: "s", Direction: "in"}}},
				},
				Properties: []introspect.Property{
					{Name: "InUse", Type: "b", Access: "read"},
					{Name: "AvailableAccuracyLevel", Type: "u", Access: "read"},
				},
			},
		},
	}

	if err := s.conn.Export(&managerObject{surface: s}, managerPath, managerInterface); err != nil {
		return fmt.Errorf("bus: export manager object: %w", err)
	}
	if err := s.conn.Export(introspect.NewIntrospectable(node), managerPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("bus: export manager introspection: %w", err)
	}

	managerProps, err := prop.Export(s.conn, managerPath, map[string]map[string]*prop.Prop{
		managerInterface: {
			"InUse":                  {Value: s.mgr.InUse(), Emit: prop.EmitTrue},
			"AvailableAccuracyLevel": {Value: uint32(s.mgr.AvailableAccuracyLevel()), Emit: prop.EmitTrue},
		},
	})
	if err != nil {
		return fmt.Errorf("bus: export manager properties: %w", err)
	}
	s.mu.Lock()
	s.managerProps = managerProps
	s.mu.Unlock()

	reply, err := s.conn.RequestName(busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("bus: request name %s: %w", busName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("bus: name %s already owned", busName)
	}
	return nil
}

// refreshManagerProps pushes the manager's current InUse and
// AvailableAccuracyLevel onto the bus after any demand change.
func (s *Surface) refreshManagerProps() {
	s.mu.Lock()
	props := s.managerProps
	s.mu.Unlock()
	if props == nil {
		return
	}
	props.SetMust(managerInterface, "InUse", s.mgr.InUse())
	props.SetMust(managerInterface, "AvailableAccuracyLevel", uint32(s.mgr.AvailableAccuracyLevel()))
}

// managerObject implements the org.freedesktop.GeoClue2.Manager interface.
// Exported methods follow godbus's convention: the last return value is a
// *dbus.Error, nil on success.
type managerObject struct {
	surface *Surface
}

// GetClient create-or-returns the caller's single auto_delete=false Client
// and returns its object path.
func (m *managerObject) GetClient(sender dbus.Sender) (dbus.ObjectPath, *dbus.Error) {
	s := m.surface
	identity, err := s.peers.Identity(string(sender))
	if err != nil {
		s.log.Error("bus: failed to resolve caller identity", logger.Err(err))
		return "", dbuserr.ToDBus(fmt.Errorf("%w: %s", dbuserr.ErrInvalidArgument, err))
	}

	c, created := s.clients.GetOrCreateDefault(identity, string(sender))
	path := clientObjectPath(c.ID)
	if created {
		if err := s.exportClient(c, string(sender), path); err != nil {
			s.clients.Delete(c.ID)
			return "", dbuserr.ToDBus(err)
		}
	}
	return path, nil
}

// CreateClient always creates a fresh auto_delete=true Client for the
// calling peer and returns its object path.
func (m *managerObject) CreateClient(sender dbus.Sender) (dbus.ObjectPath, *dbus.Error) {
	s := m.surface
	identity, err := s.peers.Identity(string(sender))
	if err != nil {
		s.log.Error("bus: failed to resolve caller identity", logger.Err(err))
		return "", dbuserr.ToDBus(fmt.Errorf("%w: %s", dbuserr.ErrInvalidArgument, err))
	}

	c := s.clients.Create(identity, string(sender), true)
	path := clientObjectPath(c.ID)
	if err := s.exportClient(c, string(sender), path); err != nil {
		s.clients.Delete(c.ID)
		return "", dbuserr.ToDBus(err)
	}
	return path, nil
}

// DeleteClient explicitly removes a Client, stopping it first if needed.
func (m *managerObject) DeleteClient(path dbus.ObjectPath) *dbus.Error {
	s := m.surface
	id := clientIDFromPath(path)
	c, ok := s.clients.Get(id)
	if !ok {
		return dbuserr.ToDBus(fmt.Errorf("%w: no client at %s", dbuserr.ErrInvalidArgument, path))
	}
	_ = c.Stop()

	s.mu.Lock()
	obj := s.objects[id]
	delete(s.objects, id)
	s.mu.Unlock()
	if obj != nil {
		obj.teardown()
	}

	s.clients.Delete(id)
	s.unexportClientObject(path)
	metrics.ClientsActive.Dec()
	s.refreshManagerProps()
	return nil
}

// AddAgent registers the calling peer's object at
// /org/freedesktop/GeoClue2/Agent as the consent agent for its uid.
// Restricted to uid 0 or to peers whose desktop id is in the config's
// agent whitelist. The agent's own MaxAccuracyLevel property is read once
// at registration and caps every grant the agent later makes.
func (m *managerObject) AddAgent(id string, sender dbus.Sender) *dbus.Error {
	s := m.surface
	if !validDesktopID(id) {
		return dbuserr.ToDBus(fmt.Errorf("%w: malformed desktop id %q", dbuserr.ErrInvalidArgument, id))
	}
	identity, err := s.peers.Identity(string(sender))
	if err != nil {
		return dbuserr.ToDBus(err)
	}
	if identity.UID != 0 && !s.agents.IsAllowed(id) {
		return dbuserr.ToDBus(dbuserr.ErrAccessDenied)
	}

	maxLevel := geofix.AccuracyExact
	variant, err := s.conn.Object(string(sender), agentObjectPath).GetProperty(agentInterface + ".MaxAccuracyLevel")
	if err != nil {
		s.log.Warn("bus: agent did not expose MaxAccuracyLevel, assuming Exact", logger.Err(err))
	} else if lvl, ok := variant.Value().(uint32); ok {
		maxLevel = geofix.AccuracyLevel(lvl)
	}

	s.agents.Register(identity.UID, string(sender), agentObjectPath, maxLevel)
	s.peers.NotifyVanish(string(sender), func() {
		s.agents.Unregister(identity.UID)
	})
	return nil
}

// validDesktopID rejects empty ids and ids carrying path separators or
// whitespace, the malformed-desktop-id case of the InvalidArgument error.
func validDesktopID(id string) bool {
	if id == "" || len(id) > 255 {
		return false
	}
	return !strings.ContainsAny(id, "/ \t\n")
}

// validAccuracyLevel reports whether level is one of the discrete
// AccuracyLevel values of the external contract.
func validAccuracyLevel(level uint32) bool {
	switch geofix.AccuracyLevel(level) {
	case geofix.AccuracyNone, geofix.AccuracyCountry, geofix.AccuracyCity,
		geofix.AccuracyNeighborhood, geofix.AccuracyStreet, geofix.AccuracyExact:
		return true
	default:
		return false
	}
}

func clientObjectPath(id client.ID) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("/org/freedesktop/GeoClue2/Client/%s", id))
}

// clientIDFromPath extracts the Client ID from a Client object path, the
// inverse of clientObjectPath.
func clientIDFromPath(path dbus.ObjectPath) client.ID {
	s := string(path)
	if idx := strings.LastIndex(s, "/"); idx >= 0 {
		s = s[idx+1:]
	}
	return client.ID(s)
}

func locationObjectPath(clientID client.ID, seq uint64) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("/org/freedesktop/GeoClue2/Location/%s/%d", clientID, seq))
}

// exportClient publishes a clientObject (methods plus properties) on the
// bus and arms its peer-vanish teardown.
func (s *Surface) exportClient(c *client.Client, peerName string, path dbus.ObjectPath) error {
	obj := &clientObject{surface: s, client: c, owner: peerName}
	if err := s.conn.Export(obj, path, clientInterface); err != nil {
		return fmt.Errorf("bus: export client object: %w", err)
	}

	props, err := prop.Export(s.conn, path, map[string]map[string]*prop.Prop{
		clientInterface: {
			"DesktopId":              {Value: c.DesktopID(), Writable: true, Emit: prop.EmitTrue, Callback: obj.onSetDesktopID},
			"RequestedAccuracyLevel": {Value: uint32(c.RequestedAccuracy()), Writable: true, Emit: prop.EmitTrue, Callback: obj.onSetRequestedAccuracy},
			"DistanceThreshold":      {Value: uint32(c.DistanceThreshold()), Writable: true, Emit: prop.EmitTrue, Callback: obj.onSetDistanceThreshold},
			"TimeThreshold":          {Value: uint32(c.TimeThreshold() / time.Second), Writable: true, Emit: prop.EmitTrue, Callback: obj.onSetTimeThreshold},
			"Location":               {Value: dbus.ObjectPath("/"), Emit: prop.EmitTrue},
			"Active":                 {Value: false, Emit: prop.EmitTrue},
		},
	})
	if err != nil {
		s.unexportClientObject(path)
		return fmt.Errorf("bus: export client properties: %w", err)
	}
	obj.props = props

	s.peers.NotifyVanish(peerName, func() {
		s.onPeerVanished(peerName)
	})

	s.mu.Lock()
	s.objects[c.ID] = obj
	s.mu.Unlock()
	metrics.ClientsActive.Inc()
	return nil
}

// unexportClientObject removes a client's method and property handlers
// from the bus.
func (s *Surface) unexportClientObject(path dbus.ObjectPath) {
	_ = s.conn.Export(nil, path, clientInterface)
	_ = s.conn.Export(nil, path, "org.freedesktop.DBus.Properties")
}

// onPeerVanished tears down everything the vanished peer owned: fan-out
// goroutines and source demand for every one of its clients, then the
// clients themselves (auto-delete ones are removed from the registry, the
// rest stay resolvable but can never start again).
func (s *Surface) onPeerVanished(peerName string) {
	s.mu.Lock()
	var owned []*clientObject
	for _, obj := range s.objects {
		if obj.owner == peerName {
			owned = append(owned, obj)
		}
	}
	s.mu.Unlock()

	for _, obj := range owned {
		obj.releaseDemand()
		obj.stopFanOut()
		obj.setActiveProp(false)
	}

	s.clients.OnPeerVanished(peerName)

	for _, obj := range owned {
		if !obj.client.AutoDelete() {
			continue
		}
		s.mu.Lock()
		delete(s.objects, obj.client.ID)
		s.mu.Unlock()
		s.unexportClientObject(clientObjectPath(obj.client.ID))
		obj.unexportLocation()
		metrics.ClientsActive.Dec()
	}
	s.refreshManagerProps()
}

// clientObject implements org.freedesktop.GeoClue2.Client for one Client:
// Start/Stop as methods, everything else as properties backed by the
// client state machine through the prop callbacks below.
type clientObject struct {
	surface *Surface
	client  *client.Client
	owner   string
	props   *prop.Properties

	mu           sync.Mutex
	locationPath dbus.ObjectPath
	demandID     manager.DemandID
	unsubscribe  func()
	fanOutDone   chan struct{}
}

// Start begins location updates for this client, resolving the requesting
// app's permission before asking internal/manager to add demand.
func (c *clientObject) Start() *dbus.Error {
	s := c.surface
	desktopID := c.client.DesktopID()
	uid := c.client.Identity.UID

	if !validDesktopID(desktopID) {
		return dbuserr.ToDBus(fmt.Errorf("%w: malformed desktop id %q", dbuserr.ErrInvalidArgument, desktopID))
	}

	if !s.store.IsSystemComponent(desktopID) {
		switch s.store.AppPermission(desktopID, uid) {
		case policy.PermissionDenied:
			metrics.ClientAuthorizationsTotal.WithLabelValues("denied").Inc()
			return dbuserr.ToDBus(dbuserr.ErrAccessDenied)
		case policy.PermissionAskAgent:
			allowed, maxLevel, err := s.agents.AuthorizeApp(context.Background(), uid, desktopID, c.client.RequestedAccuracy())
			if err != nil || !allowed {
				metrics.ClientAuthorizationsTotal.WithLabelValues("agent_denied").Inc()
				return dbuserr.ToDBus(dbuserr.ErrAccessDenied)
			}
			c.client.SetRequestedAccuracy(maxLevel)
			metrics.ClientAuthorizationsTotal.WithLabelValues("agent_allowed").Inc()
		default:
			metrics.ClientAuthorizationsTotal.WithLabelValues("allowed").Inc()
		}
	}

	if err := c.client.Start(); err != nil {
		return dbuserr.ToDBus(mapClientErr(err))
	}

	level := c.client.RequestedAccuracy()
	id := s.mgr.AddDemand(level, c.client.TimeThreshold())
	if !s.mgr.HasActiveFor(level) {
		s.mgr.RemoveDemand(id)
		_ = c.client.Stop()
		return dbuserr.ToDBus(dbuserr.ErrNotAvailable)
	}
	c.mu.Lock()
	c.demandID = id
	c.mu.Unlock()

	// startFanOut subscribes before returning; Manager.Subscribe pushes the
	// current best fix (if any) onto the new channel immediately, so the
	// fan-out goroutine delivers it through the normal Deliver/publish path
	// without this method needing to duplicate that logic.
	c.startFanOut()
	c.setActiveProp(true)
	s.refreshManagerProps()
	return nil
}

// Stop halts location updates for this client.
func (c *clientObject) Stop() *dbus.Error {
	if err := c.client.Stop(); err != nil {
		return dbuserr.ToDBus(mapClientErr(err))
	}
	c.releaseDemand()
	c.stopFanOut()
	c.setActiveProp(false)
	c.surface.refreshManagerProps()
	return nil
}

// releaseDemand returns this client's demand registration to the manager,
// if one is outstanding.
func (c *clientObject) releaseDemand() {
	c.mu.Lock()
	id := c.demandID
	c.demandID = 0
	c.mu.Unlock()
	if id != 0 {
		c.surface.mgr.RemoveDemand(id)
	}
}

// teardown stops updates and unexports the client's location object; the
// caller is responsible for unexporting the client object itself.
func (c *clientObject) teardown() {
	c.releaseDemand()
	c.stopFanOut()
	c.unexportLocation()
}

// unexportLocation removes the client's last published Location object
// from the bus.
func (c *clientObject) unexportLocation() {
	c.mu.Lock()
	path := c.locationPath
	c.locationPath = ""
	c.mu.Unlock()
	if path != "" {
		c.surface.unexportLocationObject(path)
	}
}

// setActiveProp mirrors the client's Started state onto the Active
// property.
func (c *clientObject) setActiveProp(active bool) {
	if c.props == nil {
		return
	}
	c.props.SetMust(clientInterface, "Active", active)
}

// onSetDesktopID is the DesktopId property's write callback.
func (c *clientObject) onSetDesktopID(change *prop.Change) *dbus.Error {
	id, ok := change.Value.(string)
	if !ok || !validDesktopID(id) {
		return dbuserr.ToDBus(fmt.Errorf("%w: malformed desktop id %v", dbuserr.ErrInvalidArgument, change.Value))
	}
	c.client.SetDesktopID(id)
	return nil
}

// onSetRequestedAccuracy is the RequestedAccuracyLevel property's write
// callback.
func (c *clientObject) onSetRequestedAccuracy(change *prop.Change) *dbus.Error {
	level, ok := change.Value.(uint32)
	if !ok || !validAccuracyLevel(level) {
		return dbuserr.ToDBus(fmt.Errorf("%w: unknown accuracy level %v", dbuserr.ErrInvalidArgument, change.Value))
	}
	c.client.SetRequestedAccuracy(geofix.AccuracyLevel(level))
	return nil
}

// onSetDistanceThreshold is the DistanceThreshold property's write
// callback.
func (c *clientObject) onSetDistanceThreshold(change *prop.Change) *dbus.Error {
	meters, ok := change.Value.(uint32)
	if !ok {
		return dbuserr.ToDBus(fmt.Errorf("%w: distance threshold must be a uint32", dbuserr.ErrInvalidArgument))
	}
	c.client.SetThresholds(float64(meters), c.client.TimeThreshold())
	return nil
}

// onSetTimeThreshold is the TimeThreshold property's write callback.
func (c *clientObject) onSetTimeThreshold(change *prop.Change) *dbus.Error {
	seconds, ok := change.Value.(uint32)
	if !ok {
		return dbuserr.ToDBus(fmt.Errorf("%w: time threshold must be a uint32", dbuserr.ErrInvalidArgument))
	}
	c.client.SetThresholds(c.client.DistanceThreshold(), time.Duration(seconds)*time.Second)
	return nil
}

// mapClientErr translates internal/client's sentinel errors onto the
// dbuserr sentinels the bus boundary surfaces to callers.
func mapClientErr(err error) error {
	switch err {
	case client.ErrAlreadyStarted:
		return dbuserr.ErrAlreadyStarted
	case client.ErrOwnerVanished:
		return dbuserr.ErrNotAuthorized
	case client.ErrNotStarted:
		return dbuserr.ErrNotStarted
	default:
		return err
	}
}

// startFanOut subscribes to the manager's fix broadcasts and forwards every
// fix that passes this client's filters into a freshly published Location
// object, emitting LocationUpdated the way the real daemon swaps in a new
// Location object per update rather than mutating one in place.
func (c *clientObject) startFanOut() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unsubscribe != nil {
		return // already running
	}

	ch, unsub := c.surface.mgr.Subscribe(4)
	done := make(chan struct{})
	c.unsubscribe = unsub
	c.fanOutDone = done

	go func() {
		for {
			select {
			case <-done:
				return
			case fix, ok := <-ch:
				if !ok {
					return
				}
				if !c.client.Deliver(fix) {
					continue
				}
				c.surface.onLocationDelivered(c, fix)
			}
		}
	}()
}

func (c *clientObject) stopFanOut() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unsubscribe == nil {
		return
	}
	close(c.fanOutDone)
	c.unsubscribe()
	c.unsubscribe = nil
	c.fanOutDone = nil
}

// onLocationDelivered publishes a new Location object for fix, updates the
// client's Location property, and emits the Client.LocationUpdated signal
// carrying the old and new object paths. The previous Location object is
// unexported once its replacement is announced.
func (s *Surface) onLocationDelivered(c *clientObject, fix geofix.Fix) {
	newPath, err := s.publishLocation(c.client.ID, fix)
	if err != nil {
		s.log.Error("bus: failed to publish location object", logger.Err(err))
		return
	}

	c.mu.Lock()
	prev := c.locationPath
	c.locationPath = newPath
	c.mu.Unlock()

	if c.props != nil {
		c.props.SetMust(clientInterface, "Location", newPath)
	}

	oldPath := prev
	if oldPath == "" {
		oldPath = "/"
	}
	path := clientObjectPath(c.client.ID)
	if err := s.conn.Emit(path, clientInterface+".LocationUpdated", oldPath, newPath); err != nil {
		s.log.Warn("bus: failed to emit LocationUpdated", logger.Err(err))
	}
	if prev != "" {
		s.unexportLocationObject(prev)
	}
	metrics.LocationUpdatesEmitted.WithLabelValues(string(c.client.ID)).Inc()
}

// publishLocation exports a fresh Location object for fix as a read-only
// property bag, mirroring the real daemon's practice of minting a new
// Location object per fix rather than mutating one in place.
func (s *Surface) publishLocation(clientID client.ID, fix geofix.Fix) (dbus.ObjectPath, error) {
	s.mu.Lock()
	s.locationSeq++
	seq := s.locationSeq
	s.mu.Unlock()

	path := locationObjectPath(clientID, seq)
	if _, err := prop.Export(s.conn, path, locationPropsSpec(fix)); err != nil {
		return "", fmt.Errorf("bus: export location object: %w", err)
	}
	return path, nil
}

// unexportLocationObject removes a Location object's property handler
// from the bus.
func (s *Surface) unexportLocationObject(path dbus.ObjectPath) {
	_ = s.conn.Export(nil, path, "org.freedesktop.DBus.Properties")
}

// locationPropsSpec lays a fix out as the Location interface's read-only
// property bag. Speed and heading use -1 as the wire encoding for
// "unknown"; altitude reports 0 when absent.
func locationPropsSpec(fix geofix.Fix) map[string]map[string]*prop.Prop {
	altitude := 0.0
	if fix.Altitude != nil {
		altitude = *fix.Altitude
	}
	speed := -1.0
	if fix.Speed != nil {
		speed = *fix.Speed
	}
	heading := -1.0
	if fix.Heading != nil {
		heading = *fix.Heading
	}

	return map[string]map[string]*prop.Prop{
		locationIface: {
			"Latitude":    {Value: fix.Latitude},
			"Longitude":   {Value: fix.Longitude},
			"Accuracy":    {Value: fix.Accuracy},
			"Altitude":    {Value: altitude},
			"Speed":       {Value: speed},
			"Heading":     {Value: heading},
			"Description": {Value: fix.Description},
			"Timestamp":   {Value: timestampPair(fix)},
		},
	}
}

// locationTimestamp marshals as the D-Bus (tt) struct the Timestamp
// property carries on the wire.
type locationTimestamp struct {
	Seconds      uint64
	Microseconds uint64
}

// timestampPair encodes a fix's wallclock timestamp as the (seconds,
// microseconds) pair the IPC contract expects.
func timestampPair(fix geofix.Fix) locationTimestamp {
	return locationTimestamp{
		Seconds:      uint64(fix.Timestamp.Unix()),
		Microseconds: uint64(fix.Timestamp.Nanosecond() / 1000),
	}
}
