// Package agentstate holds the agent-local mirror of its own Host record:
// a single value shared between the reconciler, which is the sole writer of
// the HostState, and the heartbeat pusher, which reads the state and writes
// only the host id (on re-registration) and the last-contact time. Guarded
// by one RWMutex rather than routed through channels, since writes are rare
// and reads are cheap, non-blocking snapshots.
package agentstate

import (
	"sync"
	"time"

	"github.com/Dash83/cluster/internal/clusterid"
	"github.com/Dash83/cluster/internal/clustertype"
)

// State is the agent's view of itself: its assigned HostID, its current
// HostState, and when it last successfully talked to the coordinator.
type State struct {
	mu sync.RWMutex

	hostID      clusterid.HostID
	state       clustertype.HostState
	lastContact time.Time
}

// New constructs a State for a freshly-registered host, Idle.
func New(hostID clusterid.HostID) *State {
	return &State{hostID: hostID, state: clustertype.Idle(), lastContact: time.Now()}
}

// HostID returns the agent's assigned host id. Stable unless Reidentify is
// called after a re-registration.
func (s *State) HostID() clusterid.HostID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hostID
}

// Reidentify replaces the agent's host id, used when the heartbeat pusher
// discovers the coordinator has forgotten this host and re-registers under
// the same hostname.
func (s *State) Reidentify(hostID clusterid.HostID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hostID = hostID
}

// Set overwrites the current state. Only the reconciler calls this.
func (s *State) Set(state clustertype.HostState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// Get returns a snapshot of the current state.
func (s *State) Get() clustertype.HostState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// TouchContact records a successful exchange with the coordinator, for
// diagnostics (not used for liveness — the coordinator's own LastSeen is
// authoritative for that).
func (s *State) TouchContact(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastContact = now
}

// LastContact returns the last time TouchContact was called.
func (s *State) LastContact() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastContact
}
