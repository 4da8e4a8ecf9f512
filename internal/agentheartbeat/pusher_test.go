package agentheartbeat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Dash83/cluster/internal/agentclient"
	"github.com/Dash83/cluster/internal/agentstate"
	"github.com/Dash83/cluster/internal/clusterid"
	"github.com/Dash83/cluster/internal/clustertype"
)

func writeEnvelope(w http.ResponseWriter, status string, payload any, msg string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": status, "payload": payload, "msg": msg})
}

func TestPushOnceTouchesContactOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, "ok", nil, "")
	}))
	defer srv.Close()

	client := agentclient.New(srv.URL, time.Second)
	state := agentstate.New(clusterid.NewHostID())
	p := New(client, state, "alpha", t.TempDir(), zap.NewNop())

	before := state.LastContact()
	p.pushOnce(context.Background())
	if !state.LastContact().After(before) {
		t.Fatalf("LastContact was not refreshed after a successful push")
	}
}

func TestPushOnceReregistersOnLogicalError(t *testing.T) {
	newHost := clustertype.NewHost("alpha", time.Now())
	var registerCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/host/register/alpha":
			atomic.AddInt32(&registerCalls, 1)
			writeEnvelope(w, "ok", newHost, "")
		default:
			writeEnvelope(w, "err", nil, "unknown host")
		}
	}))
	defer srv.Close()

	client := agentclient.New(srv.URL, time.Second)
	oldID := clusterid.NewHostID()
	state := agentstate.New(oldID)
	p := New(client, state, "alpha", t.TempDir(), zap.NewNop())

	p.pushOnce(context.Background())

	if atomic.LoadInt32(&registerCalls) != 1 {
		t.Fatalf("expected exactly one re-registration call, got %d", registerCalls)
	}
	if state.HostID() != newHost.ID {
		t.Fatalf("state.HostID() = %v, want %v after re-registration", state.HostID(), newHost.ID)
	}
}

func TestPushOnceGivesUpAfterMaxRetriesOnTransportFailure(t *testing.T) {
	client := agentclient.New("http://127.0.0.1:1", 50*time.Millisecond)
	state := agentstate.New(clusterid.NewHostID())
	p := New(client, state, "alpha", t.TempDir(), zap.NewNop())

	before := state.LastContact()
	done := make(chan struct{})
	go func() {
		p.pushOnce(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("pushOnce did not return after exhausting retries")
	}
	if state.LastContact().After(before) {
		t.Fatalf("LastContact must not be refreshed when every attempt fails")
	}
}
