// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package client implements the Client state machine and ClientManager.
// Each Client tracks one application's subscription to location updates:
// its requested accuracy ceiling, its movement/time thresholds, and its
// Created -> Started -> Stopped lifecycle. The movement-threshold filter
// is a change-detection gate generalized from a fixed global threshold to
// each client's own configured distance/time thresholds.
package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/geoclued/geoclue/internal/geofix"
	"github.com/geoclued/geoclue/internal/logger"
	"github.com/geoclued/geoclue/internal/peer"
)

// State is a Client's lifecycle state.
type State int

const (
	StateCreated State = iota
	StateStarted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ID identifies a Client within the ClientManager.
type ID string

// Client is one application's location subscription.
type Client struct {
	ID       ID
	Identity peer.AppIdentity

	mu                 sync.Mutex
	state              State
	desktopID          string
	requestedAccuracy  geofix.AccuracyLevel
	distanceThreshold  float64
	timeThreshold      time.Duration
	lastEmitted        geofix.Fix
	haveEmitted        bool
	autoDeleteOnVanish bool
	ownerVanished      bool
}

// New creates a Client in the Created state for identity. autoDelete
// matches the Manager interface's distinction between GetClient (false)
// and CreateClient (true).
func New(id ID, identity peer.AppIdentity, autoDelete bool) *Client {
	c := &Client{
		ID:                 id,
		Identity:           identity,
		state:              StateCreated,
		requestedAccuracy:  geofix.AccuracyExact,
		autoDeleteOnVanish: autoDelete,
	}
	if identity.DesktopID != nil {
		c.desktopID = *identity.DesktopID
	}
	return c
}

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active reports whether the client is in the Started state, the value
// the bus surface exposes as the Client.Active property.
func (c *Client) Active() bool {
	return c.State() == StateStarted
}

// AutoDelete reports whether this client is torn down automatically when
// its owner peer vanishes (true for CreateClient, false for GetClient).
func (c *Client) AutoDelete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoDeleteOnVanish
}

// DesktopID returns the application identity string an application may
// set explicitly via the DesktopId property, overriding the value derived
// from peer identity resolution (sandboxed apps often cannot be resolved
// to a desktop id automatically).
func (c *Client) DesktopID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.desktopID
}

// SetDesktopID sets the application identity string used for policy and
// agent lookups.
func (c *Client) SetDesktopID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.desktopID = id
}

// DistanceThreshold returns the configured movement threshold, in meters.
func (c *Client) DistanceThreshold() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.distanceThreshold
}

// TimeThreshold returns the configured time threshold.
func (c *Client) TimeThreshold() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeThreshold
}

// SetRequestedAccuracy sets the client's requested accuracy ceiling.
func (c *Client) SetRequestedAccuracy(level geofix.AccuracyLevel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestedAccuracy = level
}

// RequestedAccuracy returns the client's requested accuracy ceiling.
func (c *Client) RequestedAccuracy() geofix.AccuracyLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestedAccuracy
}

// SetThresholds sets the distance (meters, 0 disables) and time (0
// disables) thresholds a fix must clear before being delivered.
func (c *Client) SetThresholds(distance float64, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.distanceThreshold = distance
	c.timeThreshold = elapsed
}

// Start transitions Created -> Started, or re-enters Started from Stopped
// (Stopped is terminal-reusable, not a dead end). Starting an already
// Started client fails with ErrAlreadyStarted. A client whose owner peer
// has already vanished can never be (re)started.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ownerVanished {
		return ErrOwnerVanished
	}
	if c.state == StateStarted {
		return ErrAlreadyStarted
	}
	c.state = StateStarted
	return nil
}

// Stop transitions Started -> Stopped. Stopping a client that was never
// started fails with ErrNotStarted; stopping an already-Stopped client is
// idempotent.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateCreated {
		return ErrNotStarted
	}
	c.state = StateStopped
	return nil
}

// MarkOwnerVanished records that this client's owning bus peer disappeared,
// stopping it and, regardless of auto-delete, preventing any future Start.
func (c *Client) MarkOwnerVanished() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateStopped
	c.ownerVanished = true
}

var (
	// ErrOwnerVanished is returned by Start once the client's owning peer
	// has disappeared from the bus; the bus surface maps it to NotAuthorized.
	ErrOwnerVanished = fmt.Errorf("client: owner peer vanished")
	// ErrAlreadyStarted is returned by Start on an already-Started client.
	ErrAlreadyStarted = fmt.Errorf("client: already started")
	// ErrNotStarted is returned by Stop on a client that was never started.
	ErrNotStarted = fmt.Errorf("client: not started")
)

// Deliver applies the accuracy ceiling and threshold filters to fix and
// reports whether the caller should emit it to the subscriber. A fix at a
// finer accuracy level than the client's granted ceiling is dropped
// outright: the client never learns more precision than it was granted.
// Broadcasts are monotone in timestamp; a fix older than the last emitted
// one is suppressed.
func (c *Client) Deliver(fix geofix.Fix) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateStarted {
		return false
	}

	if fix.Level() > c.requestedAccuracy {
		return false
	}

	if c.haveEmitted {
		if fix.Timestamp.Before(c.lastEmitted.Timestamp) {
			return false
		}
		if !fix.ExceedsThreshold(c.lastEmitted, c.distanceThreshold, c.timeThreshold) {
			return false
		}
	}

	c.lastEmitted = fix
	c.haveEmitted = true
	return true
}

// LastEmitted returns the most recent fix that passed this client's
// filters, if any.
func (c *Client) LastEmitted() (geofix.Fix, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastEmitted, c.haveEmitted
}

// Manager owns every live Client, indexed both by ID and by the bus peer
// that created it so a NameOwnerChanged vanish event can clean up all of a
// peer's clients at once without the manager ever holding a pointer back
// to the bus or the peer tracker (ownership rule: ids only).
type Manager struct {
	mu           sync.Mutex
	clients      map[ID]*Client
	byPeer       map[string]map[ID]struct{}
	defaultByPeer map[string]ID
	nextID       uint64
	log          *logger.Logger
}

// NewManager returns an empty ClientManager.
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		clients:       make(map[ID]*Client),
		byPeer:        make(map[string]map[ID]struct{}),
		defaultByPeer: make(map[string]ID),
		log:           log,
	}
}

// Create registers a new Client for identity, owned by the given bus peer
// name, with the given auto-delete-on-vanish policy, and returns it.
func (m *Manager) Create(identity peer.AppIdentity, peerName string, autoDelete bool) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(identity, peerName, autoDelete)
}

func (m *Manager) createLocked(identity peer.AppIdentity, peerName string, autoDelete bool) *Client {
	m.nextID++
	id := ID(fmt.Sprintf("client%d", m.nextID))
	c := New(id, identity, autoDelete)

	m.clients[id] = c
	if _, ok := m.byPeer[peerName]; !ok {
		m.byPeer[peerName] = make(map[ID]struct{})
	}
	m.byPeer[peerName][id] = struct{}{}
	return c
}

// GetOrCreateDefault implements the Manager.GetClient IPC semantics:
// create-or-return the one auto-delete=false Client owned by peerName.
// Reports whether a new Client was created.
func (m *Manager) GetOrCreateDefault(identity peer.AppIdentity, peerName string) (*Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.defaultByPeer[peerName]; ok {
		if c, ok := m.clients[id]; ok {
			return c, false
		}
	}
	c := m.createLocked(identity, peerName, false)
	m.defaultByPeer[peerName] = c.ID
	return c, true
}

// Get returns the client with the given id, if any.
func (m *Manager) Get(id ID) (*Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	return c, ok
}

// Delete removes a client. Callers should Stop it first if it was started.
func (m *Manager) Delete(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, id)
	for peerName, ids := range m.byPeer {
		delete(ids, id)
		if len(ids) == 0 {
			delete(m.byPeer, peerName)
		}
	}
	for peerName, defID := range m.defaultByPeer {
		if defID == id {
			delete(m.defaultByPeer, peerName)
		}
	}
}

// OnPeerVanished stops every client owned by peerName and removes from the
// registry only those with auto_delete set: a client created via GetClient
// (auto_delete=false) persists, still resolvable by object path, but can
// never be started again since its owner is gone.
func (m *Manager) OnPeerVanished(peerName string) {
	m.mu.Lock()
	ids := make([]ID, 0, len(m.byPeer[peerName]))
	for id := range m.byPeer[peerName] {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		c, ok := m.Get(id)
		if !ok {
			continue
		}
		c.MarkOwnerVanished()
		m.log.Info("client stopped on peer vanish", "client", id, "peer", peerName)
		if c.AutoDelete() {
			m.Delete(id)
		}
	}
}

// Len reports the number of live clients, used by tests and metrics.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}
