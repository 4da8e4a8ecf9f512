package clustertype

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Dash83/cluster/internal/clusterid"
)

func TestHostStateTagCollapsesFiveVariantsToRunning(t *testing.T) {
	id := clusterid.NewInvocationID()
	cases := []HostState{
		Running(id), Errored(id), Compressing(id), Uploading(id), Done(id),
	}
	for _, s := range cases {
		if got := s.Tag(); got != "running" {
			t.Errorf("state %s: Tag() = %q, want %q", s.Desc, got, "running")
		}
	}

	if Idle().Tag() != "idle" {
		t.Errorf("Idle().Tag() = %q, want %q", Idle().Tag(), "idle")
	}
	if Disconnected().Tag() != "disconnected" {
		t.Errorf("Disconnected().Tag() = %q, want %q", Disconnected().Tag(), "disconnected")
	}
}

func TestHostStateMarshalWireShape(t *testing.T) {
	id := clusterid.NewInvocationID()
	data, err := json.Marshal(Compressing(id))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var wire struct {
		Desc string `json:"desc"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("Unmarshal into wire shape: %v", err)
	}
	if wire.Desc != "running" {
		t.Errorf("wire desc = %q, want the shared wire tag %q", wire.Desc, "running")
	}
	if wire.ID != id.String() {
		t.Errorf("wire id = %q, want %q", wire.ID, id.String())
	}
}

func TestHostStateCurrentInvocation(t *testing.T) {
	id := clusterid.NewInvocationID()
	if _, ok := Idle().CurrentInvocation(); ok {
		t.Fatalf("Idle must not carry an invocation id")
	}
	got, ok := Running(id).CurrentInvocation()
	if !ok || got != id {
		t.Fatalf("Running(%v).CurrentInvocation() = (%v, %v)", id, got, ok)
	}
}

func TestHostExpired(t *testing.T) {
	now := time.Now()
	h := Host{LastSeen: now}

	if h.Expired(now.Add(4*time.Second), 5*time.Second) {
		t.Fatalf("host seen 4s ago must not be expired under a 5s timeout")
	}
	if !h.Expired(now.Add(6*time.Second), 5*time.Second) {
		t.Fatalf("host seen 6s ago must be expired under a 5s timeout")
	}
}
