// Package clustertype defines the data model shared between the coordinator
// and the agent: Host, HostState, Invocation, InvocationRecord and
// ExperimentDescriptor. None of these types own a mutex — callers (the
// coordinator registry, the agent's reconciler) are responsible for
// synchronizing access.
package clustertype

import (
	"encoding/json"
	"time"

	"github.com/Dash83/cluster/internal/clusterid"
)

// Host is the coordinator's record of one registered machine.
type Host struct {
	ID       clusterid.HostID
	Hostname string
	State    HostState
	LastSeen time.Time
	// Metrics is the most recent resource-usage diagnostics the agent
	// attached to a status push, if any. Display-only: no registry or
	// reconciler decision reads it.
	Metrics *HostMetrics
}

// HostMetrics is a point-in-time resource-usage snapshot reported by an
// agent alongside a status push, for dashboard display only.
type HostMetrics struct {
	CPUPercent  float64
	MemPercent  float64
	DiskPercent float64
}

// Expired reports whether the host has not been seen within timeout of now.
func (h Host) Expired(now time.Time, timeout time.Duration) bool {
	return now.After(h.LastSeen.Add(timeout))
}

// HostStateDesc is the discriminator that distinguishes the five variants
// that share the wire tag "running" (see HostState.Tag).
type HostStateDesc string

const (
	DescIdle         HostStateDesc = "idle"
	DescRunning      HostStateDesc = "running"
	DescErrored      HostStateDesc = "errored"
	DescCompressing  HostStateDesc = "compressing"
	DescUploading    HostStateDesc = "uploading"
	DescDone         HostStateDesc = "done"
	DescDisconnected HostStateDesc = "disconnected"
)

// HostState is a tagged variant. Idle and Disconnected carry no invocation
// id; Running, Errored, Compressing, Uploading and Done all carry one and
// all share the wire-visible Tag "running" — the dashboard only ever sees
// "idle", "running" or "disconnected" on the wire, with Desc providing the
// fine-grained discriminator for consumers that want it.
type HostState struct {
	Desc       HostStateDesc
	Invocation *clusterid.InvocationID
}

// Tag returns the wire-visible outer discriminator: "idle", "running"
// (for Running/Errored/Compressing/Uploading/Done) or "disconnected".
func (s HostState) Tag() string {
	switch s.Desc {
	case DescIdle:
		return "idle"
	case DescDisconnected:
		return "disconnected"
	default:
		return "running"
	}
}

// wireHostState is the JSON shape of HostState:
// Running/Errored/Compressing/Uploading/Done all serialize with
// desc == "running", collapsing the internal tag to the three-way shape
// the dashboard understands. The finer-grained variant never appears in
// the JSON the coordinator emits.
type wireHostState struct {
	Desc       string                  `json:"desc"`
	Invocation *clusterid.InvocationID `json:"id,omitempty"`
}

func (s HostState) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireHostState{Desc: s.Tag(), Invocation: s.Invocation})
}

// UnmarshalJSON only recovers the three wire-visible states. A coordinator
// client never needs to reconstruct Errored/Compressing/Uploading from the
// wire — those are agent-local, push-only states — so "running" always
// decodes back to the Running variant.
func (s *HostState) UnmarshalJSON(b []byte) error {
	var w wireHostState
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	switch w.Desc {
	case "idle":
		*s = Idle()
	case "disconnected":
		*s = Disconnected()
	case "running":
		if w.Invocation != nil {
			*s = Running(*w.Invocation)
		} else {
			*s = Idle()
		}
	default:
		*s = Idle()
	}
	return nil
}

func Idle() HostState         { return HostState{Desc: DescIdle} }
func Disconnected() HostState { return HostState{Desc: DescDisconnected} }

func Running(id clusterid.InvocationID) HostState {
	return HostState{Desc: DescRunning, Invocation: &id}
}
func Errored(id clusterid.InvocationID) HostState {
	return HostState{Desc: DescErrored, Invocation: &id}
}
func Compressing(id clusterid.InvocationID) HostState {
	return HostState{Desc: DescCompressing, Invocation: &id}
}
func Uploading(id clusterid.InvocationID) HostState {
	return HostState{Desc: DescUploading, Invocation: &id}
}
func Done(id clusterid.InvocationID) HostState {
	return HostState{Desc: DescDone, Invocation: &id}
}

// CurrentInvocation returns the invocation id carried by the state, if any.
func (s HostState) CurrentInvocation() (clusterid.InvocationID, bool) {
	if s.Invocation == nil {
		return clusterid.InvocationID{}, false
	}
	return *s.Invocation, true
}

// NewHost constructs a freshly-registered, Idle host.
func NewHost(hostname string, now time.Time) Host {
	return Host{
		ID:       clusterid.NewHostID(),
		Hostname: hostname,
		State:    Idle(),
		LastSeen: now,
	}
}
