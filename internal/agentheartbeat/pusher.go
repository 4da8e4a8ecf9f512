// Package agentheartbeat implements the agent's background status pusher.
// Independent of the reconciler, it wakes every 500ms, reads
// (host id, host state) under agentstate's reader lock, and pushes it to
// the coordinator. Failures split two ways: a logical error means the
// coordinator has forgotten this host and triggers re-registration in
// place, while a transport failure backs off with jitter and keeps
// retrying the same identity.
package agentheartbeat

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/Dash83/cluster/internal/agentclient"
	"github.com/Dash83/cluster/internal/agentmetrics"
	"github.com/Dash83/cluster/internal/agentstate"
)

// PushInterval is the pusher's fixed period.
const PushInterval = 500 * time.Millisecond

// MaxBackoffRetries caps the transport-failure retry count before the
// pusher gives up on the current tick and waits for the next one.
const MaxBackoffRetries = 3

// Pusher pushes the agent's (host id, host state) to the coordinator on a
// fixed interval, independent of the reconciler.
type Pusher struct {
	client   *agentclient.Client
	state    *agentstate.State
	hostname string
	path     string
	logger   *zap.Logger
}

// New constructs a Pusher. hostname and path are used only to re-register
// and to sample diagnostics metrics.
func New(client *agentclient.Client, state *agentstate.State, hostname, experimentPath string, logger *zap.Logger) *Pusher {
	return &Pusher{
		client:   client,
		state:    state,
		hostname: hostname,
		path:     experimentPath,
		logger:   logger.Named("heartbeat"),
	}
}

// Run blocks, pushing status every PushInterval, until ctx is cancelled.
func (p *Pusher) Run(ctx context.Context) {
	ticker := time.NewTicker(PushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pushOnce(ctx)
		}
	}
}

// pushOnce implements one status-push attempt, retrying transport failures
// with jittered backoff in place rather than waiting for the next tick, so
// a transient blip does not silently skip a whole interval.
func (p *Pusher) pushOnce(ctx context.Context) {
	hostID := p.state.HostID()
	state := p.state.Get()
	snap := agentmetrics.Collect(ctx, p.path)

	for retries := 0; ; retries++ {
		err := p.client.PushStatus(ctx, hostID, state, snap)
		if err == nil {
			p.state.TouchContact(time.Now())
			return
		}

		var logical *agentclient.LogicalError
		if errors.As(err, &logical) {
			p.reregister(ctx)
			return
		}

		if retries >= MaxBackoffRetries {
			p.logger.Warn("heartbeat push exhausted retries this tick", zap.Error(err))
			return
		}

		p.logger.Debug("heartbeat push transport failure, retrying", zap.Int("retry", retries), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(jitteredBackoff(retries)):
		}
	}
}

// reregister handles a logical push failure: the coordinator has forgotten
// this host id (most likely it restarted), so the pusher re-registers under
// the same hostname and adopts the returned identity.
func (p *Pusher) reregister(ctx context.Context) {
	host, err := p.client.Register(ctx, p.hostname)
	if err != nil {
		p.logger.Warn("re-registration failed", zap.Error(err))
		return
	}
	p.state.Reidentify(host.ID)
	p.logger.Info("re-registered after coordinator forgot this host", zap.String("new_host_id", host.ID.String()))
}

// jitteredBackoff returns a uniformly random duration in
// [0, 2^retries) * 500ms.
func jitteredBackoff(retries int) time.Duration {
	base := time.Duration(1<<uint(retries)) * PushInterval
	return time.Duration(rand.Int63n(int64(base)))
}
