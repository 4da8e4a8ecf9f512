// Package coordinator implements the registry: the coordinator's
// authoritative view of registered hosts, historical invocations, and the
// single "current" invocation pointer. Three independent locks guard the
// three pieces of state; no operation holds more than one at a time. The
// upload path resolves the uploader's hostname from the hosts map first and
// only then calls AddLog, which takes the invocations lock alone.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Dash83/cluster/internal/clusterid"
	"github.com/Dash83/cluster/internal/clustertype"
	"github.com/Dash83/cluster/internal/manifest"
	"github.com/Dash83/cluster/internal/sourcefetch"
)

// Timeout is the liveness window: a host not seen for this long is reaped
// to Disconnected.
const Timeout = 5 * time.Second

// ReapInterval is how often the liveness reaper sweeps the hosts map.
const ReapInterval = 200 * time.Millisecond

// ErrUnknownHost is returned when an operation names a HostID not present
// in the registry.
var ErrUnknownHost = fmt.Errorf("coordinator: unknown host")

// ErrUnknownInvocation is returned when an operation names an InvocationID
// not present in the registry.
var ErrUnknownInvocation = fmt.Errorf("coordinator: unknown invocation")

// ErrCloningFailed wraps a source fetch failure during Invoke/Reinvoke.
var ErrCloningFailed = fmt.Errorf("coordinator: cloning failed")

// ErrBrokenManifest is returned by Invoke/Reinvoke when the invocation was
// created but its manifest could not be parsed. The invocation is still
// stored and still becomes current — see Registry.Invoke doc.
var ErrBrokenManifest = fmt.Errorf("coordinator: manifest could not be parsed")

// Registry owns the coordinator's host table, invocation table, and current
// pointer. The zero value is not usable — construct with New.
type Registry struct {
	fetcher       sourcefetch.Fetcher
	workspacePath string
	logger        *zap.Logger

	hostsMu sync.RWMutex
	hosts   map[clusterid.HostID]clustertype.Host

	invMu       sync.RWMutex
	invocations map[clusterid.InvocationID]clustertype.Invocation

	curMu   sync.RWMutex
	current *clusterid.InvocationID

	expirations atomic.Uint64

	now func() time.Time
}

// New constructs a Registry and starts its background liveness reaper. The
// reaper runs until ctx is cancelled.
func New(ctx context.Context, fetcher sourcefetch.Fetcher, workspacePath string, logger *zap.Logger) *Registry {
	r := &Registry{
		fetcher:       fetcher,
		workspacePath: workspacePath,
		logger:        logger.Named("registry"),
		hosts:         make(map[clusterid.HostID]clustertype.Host),
		invocations:   make(map[clusterid.InvocationID]clustertype.Invocation),
		now:           time.Now,
	}
	go r.reapLoop(ctx)
	return r
}

// reapLoop wakes every ReapInterval and marks any host that has not been
// seen within Timeout as Disconnected. Hosts are never removed — a
// Disconnected record stays around for diagnostics until the same hostname
// re-registers and reclaims it.
func (r *Registry) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reapOnce()
		}
	}
}

func (r *Registry) reapOnce() {
	now := r.now()
	r.hostsMu.Lock()
	defer r.hostsMu.Unlock()
	for id, h := range r.hosts {
		if h.State.Desc == clustertype.DescDisconnected {
			continue
		}
		if h.Expired(now, Timeout) {
			h.State = clustertype.Disconnected()
			r.hosts[id] = h
			r.expirations.Add(1)
			r.logger.Info("host expired", zap.String("host_id", id.String()), zap.String("hostname", h.Hostname))
		}
	}
}

// Register adds hostname to the registry, or refreshes it if already
// present. Re-registration is idempotent by hostname: a host with this
// hostname always keeps the same HostID, its LastSeen is refreshed and its
// state is set to Idle (even if it was Disconnected). Never fails on
// collision.
func (r *Registry) Register(hostname string) clusterid.HostID {
	now := r.now()

	r.hostsMu.Lock()
	defer r.hostsMu.Unlock()

	for id, h := range r.hosts {
		if h.Hostname == hostname {
			h.LastSeen = now
			h.State = clustertype.Idle()
			r.hosts[id] = h
			return id
		}
	}

	h := clustertype.NewHost(hostname, now)
	r.hosts[h.ID] = h
	return h.ID
}

// Host applies mutator to the host identified by id under the registry
// lock and returns its result. Returns the zero value and false if id is
// unknown.
func Host[T any](r *Registry, id clusterid.HostID, mutator func(*clustertype.Host) T) (T, bool) {
	r.hostsMu.Lock()
	defer r.hostsMu.Unlock()

	h, ok := r.hosts[id]
	if !ok {
		var zero T
		return zero, false
	}
	result := mutator(&h)
	r.hosts[id] = h
	return result, true
}

// HostSnapshot returns a copy of the host record for id, refreshing
// nothing.
func (r *Registry) HostSnapshot(id clusterid.HostID) (clustertype.Host, bool) {
	r.hostsMu.RLock()
	defer r.hostsMu.RUnlock()
	h, ok := r.hosts[id]
	return h, ok
}

// Hosts returns a snapshot slice of all registered hosts, for listing
// endpoints.
func (r *Registry) Hosts() []clustertype.Host {
	r.hostsMu.RLock()
	defer r.hostsMu.RUnlock()
	out := make([]clustertype.Host, 0, len(r.hosts))
	for _, h := range r.hosts {
		out = append(out, h)
	}
	return out
}

// InvocationSnapshot returns a copy of the invocation record for id.
func (r *Registry) InvocationSnapshot(id clusterid.InvocationID) (clustertype.Invocation, bool) {
	r.invMu.RLock()
	defer r.invMu.RUnlock()
	inv, ok := r.invocations[id]
	return inv, ok
}

// Invocations returns a snapshot slice of all invocation records (projected
// to InvocationRecord), for the list endpoint.
func (r *Registry) Invocations() []clustertype.InvocationRecord {
	r.invMu.RLock()
	defer r.invMu.RUnlock()
	out := make([]clustertype.InvocationRecord, 0, len(r.invocations))
	for _, inv := range r.invocations {
		out = append(out, inv.Record())
	}
	return out
}

// Current returns the coordinator's current invocation id, if any.
func (r *Registry) Current() (clusterid.InvocationID, bool) {
	r.curMu.RLock()
	defer r.curMu.RUnlock()
	if r.current == nil {
		return clusterid.InvocationID{}, false
	}
	return *r.current, true
}

// Cancel clears the current pointer. Existing invocation records remain.
func (r *Registry) Cancel() {
	r.curMu.Lock()
	defer r.curMu.Unlock()
	r.current = nil
}

// Invoke destructively clones url into the workspace, resolves HEAD to a
// commit, parses the manifest, stores a new Invocation and sets it current.
//
// If the manifest fails to parse, the invocation is still stored and still
// becomes current. Agents tolerate this because Invocation.Split returns
// ok=false for a descriptor-less invocation, so they stay idle rather than
// executing it. Callers that want to reject broken manifests before
// advertising them as current must check the returned error themselves and
// call Cancel.
func (r *Registry) Invoke(ctx context.Context, url string) (clusterid.InvocationID, error) {
	commit, err := r.fetcher.Clone(ctx, url, r.workspacePath)
	if err != nil {
		return clusterid.InvocationID{}, fmt.Errorf("%w: %w", ErrCloningFailed, err)
	}
	return r.buildInvocation(url, commit)
}

// Reinvoke creates a fresh invocation sharing (url, commit) with oldID,
// reusing a rewind rather than a fresh clone. Fails if commit is no longer
// resolvable locally.
func (r *Registry) Reinvoke(ctx context.Context, oldID clusterid.InvocationID) (clusterid.InvocationID, error) {
	old, ok := r.InvocationSnapshot(oldID)
	if !ok {
		return clusterid.InvocationID{}, ErrUnknownInvocation
	}

	if err := r.fetcher.Rewind(ctx, r.workspacePath, old.Commit); err != nil {
		return clusterid.InvocationID{}, fmt.Errorf("%w: %w", ErrCloningFailed, err)
	}
	return r.buildInvocation(old.URL, old.Commit)
}

func (r *Registry) buildInvocation(url, commit string) (clusterid.InvocationID, error) {
	descriptor, parseErr := manifest.Load(manifest.Path(r.workspacePath))

	inv := clustertype.NewInvocation(url, commit, descriptor, r.now())
	id := inv.ID

	r.invMu.Lock()
	r.invocations[id] = inv
	r.invMu.Unlock()

	r.curMu.Lock()
	r.current = &id
	r.curMu.Unlock()

	if parseErr != nil {
		return id, fmt.Errorf("%w: %w", ErrBrokenManifest, parseErr)
	}
	return id, nil
}

// AddLog binds hostname's archive path to invocationID's Logs map.
func (r *Registry) AddLog(invocationID clusterid.InvocationID, hostname, archivePath string) error {
	r.invMu.Lock()
	defer r.invMu.Unlock()

	inv, ok := r.invocations[invocationID]
	if !ok {
		return ErrUnknownInvocation
	}
	inv.AddLog(hostname, archivePath)
	r.invocations[invocationID] = inv
	return nil
}

// ReaperExpirations reports how many times the liveness reaper has marked a
// host Disconnected since the registry was constructed.
func (r *Registry) ReaperExpirations() uint64 {
	return r.expirations.Load()
}
