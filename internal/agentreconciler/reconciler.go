// Package agentreconciler implements the agent's poll loop: every two
// seconds it fetches the coordinator's current invocation id and decides,
// from (server current, local executor), whether to start a run, kill one,
// leave one alone, or go idle.
package agentreconciler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/Dash83/cluster/internal/agentclient"
	"github.com/Dash83/cluster/internal/agentexec"
	"github.com/Dash83/cluster/internal/agentstate"
	"github.com/Dash83/cluster/internal/archive"
	"github.com/Dash83/cluster/internal/clusterid"
	"github.com/Dash83/cluster/internal/clustertype"
	"github.com/Dash83/cluster/internal/sourcefetch"
)

// PollInterval is the reconciler's fixed poll period.
const PollInterval = 2 * time.Second

// MaxUnreachableRetries is how many consecutive unreachable polls the
// reconciler tolerates before killing any in-flight work and going Idle.
const MaxUnreachableRetries = 128

// Reconciler drives one agent's local state against the coordinator's
// current invocation.
type Reconciler struct {
	client        *agentclient.Client
	fetcher       sourcefetch.Fetcher
	archiver      archive.Archiver
	state         *agentstate.State
	hostname      string
	workspacePath string
	logger        *zap.Logger

	current *agentexec.Executor
	history *agentexec.Executor

	// completed remembers the last invocation id the agent finished
	// reacting to (uploaded, marked already-done, or found broken) while
	// it remains the coordinator's current invocation, so a tick that
	// observes the same id again is a no-op rather than a re-invocation.
	completed *clusterid.InvocationID

	unreachable int

	// shutdownErr records whether the final termination run from Run's
	// ctx.Done branch completed its upload pipeline cleanly. The CLI exits
	// nonzero when ShutdownErr reports a failure after Run returns.
	shutdownErr error
}

// New constructs a Reconciler. state comes from the agent's registration
// with the coordinator; hostname is the same name that registration used,
// since descriptor host overrides and Invocation.HostHasLogged both key on
// it.
func New(client *agentclient.Client, fetcher sourcefetch.Fetcher, archiver archive.Archiver, state *agentstate.State, hostname, workspacePath string, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		client:        client,
		fetcher:       fetcher,
		archiver:      archiver,
		state:         state,
		hostname:      hostname,
		workspacePath: workspacePath,
		logger:        logger.Named("reconciler"),
	}
}

// Run blocks, ticking every PollInterval, until ctx is cancelled. On
// cancellation it runs one final termination of any in-flight executor so
// shutdown does not abandon a running child.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if r.current != nil {
				r.shutdownErr = r.terminate(context.Background(), r.current)
			}
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	serverID, has, err := r.client.Current(ctx)
	if err != nil {
		r.handlePollError(ctx, err)
		return
	}
	r.unreachable = 0

	if !has {
		r.goIdle(ctx, "coordinator reports no current invocation")
		return
	}

	switch {
	case r.current == nil:
		if r.completed != nil && *r.completed == serverID {
			return // already reacted to this id; nothing to do
		}
		r.invoke(ctx, serverID)

	case r.current.Invocation != serverID:
		r.terminate(ctx, r.current)
		r.current = nil
		r.invoke(ctx, serverID)

	default:
		if err := r.current.Probe(); err != nil {
			r.terminate(ctx, r.current)
			r.current = nil
			id := serverID
			r.completed = &id
		}
	}
}

// handlePollError distinguishes the two poll failure modes: a
// TransportError accumulates toward MaxUnreachableRetries with jittered
// backoff between ticks; a LogicalError means the coordinator is reachable
// and is treated the same as "no current invocation".
func (r *Reconciler) handlePollError(ctx context.Context, err error) {
	var logical *agentclient.LogicalError
	if errors.As(err, &logical) {
		r.goIdle(ctx, "coordinator returned an error for /api/current")
		return
	}

	r.unreachable++
	r.logger.Warn("coordinator unreachable", zap.Int("consecutive_failures", r.unreachable), zap.Error(err))
	if r.unreachable >= MaxUnreachableRetries {
		r.goIdle(ctx, "coordinator unreachable for too long")
		r.unreachable = 0
		return
	}

	select {
	case <-ctx.Done():
	case <-time.After(jitteredBackoff(r.unreachable)):
	}
}

func jitteredBackoff(retries int) time.Duration {
	base := time.Duration(1<<uint(min(retries, 10))) * 10 * time.Millisecond
	return time.Duration(rand.Int63n(int64(base) + 1))
}

// goIdle kills any in-flight executor and pushes Idle.
func (r *Reconciler) goIdle(ctx context.Context, reason string) {
	if r.current != nil {
		r.logger.Info("going idle", zap.String("reason", reason))
		r.terminate(ctx, r.current)
		r.current = nil
	}
	r.setState(clustertype.Idle())
	if err := r.client.PushStatus(ctx, r.state.HostID(), clustertype.Idle()); err != nil {
		r.logger.Warn("failed to push idle status", zap.Error(err))
	}
}

// invoke reacts to a new current invocation id: fetch it, check for a
// prior completion, clone or rewind the working tree, fork the child.
func (r *Reconciler) invoke(ctx context.Context, id clusterid.InvocationID) {
	inv, err := r.client.Invocation(ctx, id)
	if err != nil {
		r.logger.Warn("failed to fetch invocation", zap.String("invocation_id", id.String()), zap.Error(err))
		return
	}

	if inv.HostHasLogged(r.hostname) {
		r.completed = &id
		r.setState(clustertype.Done(id))
		r.logger.Info("invocation already completed by this host", zap.String("invocation_id", id.String()))
		return
	}

	_, descriptor, ok := inv.Split()
	if !ok {
		r.completed = &id
		r.logger.Warn("invocation has no parseable manifest, skipping", zap.String("invocation_id", id.String()))
		r.setState(clustertype.Idle())
		return
	}

	if err := r.ensureWorkingTree(ctx, inv.URL, inv.Commit); err != nil {
		r.completed = &id
		r.setState(clustertype.Errored(id))
		r.logger.Error("cloning failed", zap.String("invocation_id", id.String()), zap.Error(err))
		return
	}

	exec, err := agentexec.Start(ctx, id, inv.URL, inv.Commit, r.hostname, r.workspacePath, descriptor, time.Now())
	if err != nil {
		r.completed = &id
		r.setState(clustertype.Errored(id))
		r.logger.Error("fork failed", zap.String("invocation_id", id.String()), zap.Error(err))
		return
	}

	r.current = exec
	r.completed = nil
	r.setState(clustertype.Running(id))
}

// ensureWorkingTree reuses the previous run's clone when the URL matches,
// rewinding it to the requested commit; on any failure it falls through to
// a destructive re-clone followed by a rewind to the exact commit.
func (r *Reconciler) ensureWorkingTree(ctx context.Context, url, commit string) error {
	if r.history != nil && r.history.URL == url {
		if err := r.fetcher.Rewind(ctx, r.workspacePath, commit); err == nil {
			return nil
		}
	}

	if _, err := r.fetcher.Clone(ctx, url, r.workspacePath); err != nil {
		return fmt.Errorf("agentreconciler: clone failed: %w", err)
	}
	return r.fetcher.Rewind(ctx, r.workspacePath, commit)
}

// terminate runs the kill sequence against exec: SIGTERM then SIGKILL to
// its process group, followed by the upload pipeline, ending in Done (or
// Errored on a pipeline failure). exec becomes r.history so a same-URL
// reinvocation can reuse its clone.
func (r *Reconciler) terminate(ctx context.Context, exec *agentexec.Executor) error {
	exec.Kill()
	r.history = exec

	if err := r.uploadPipeline(ctx, exec); err != nil {
		r.logger.Error("upload pipeline failed", zap.String("invocation_id", exec.Invocation.String()), zap.Error(err))
		r.setState(clustertype.Errored(exec.Invocation))
		return err
	}
	r.setState(clustertype.Done(exec.Invocation))
	return nil
}

// ShutdownErr reports whether Run's final termination (triggered by ctx
// cancellation) completed its upload pipeline cleanly. nil both when no
// executor was in flight at shutdown and when its pipeline succeeded.
func (r *Reconciler) ShutdownErr() error {
	return r.shutdownErr
}

// uploadPipeline compresses log_dir if present, uploads the archive, and
// deletes it locally on success. A missing log_dir is not an error — some
// experiments produce no logs.
func (r *Reconciler) uploadPipeline(ctx context.Context, exec *agentexec.Executor) error {
	if _, err := os.Stat(exec.LogDir()); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat log dir: %w", err)
	}

	r.setState(clustertype.Compressing(exec.Invocation))
	archivePath := filepath.Join(exec.WorkspaceDir(), "archive.tar.gz")
	if err := r.archiver.Archive(ctx, exec.LogDir(), archivePath); err != nil {
		return fmt.Errorf("compression failed: %w", err)
	}

	r.setState(clustertype.Uploading(exec.Invocation))
	if err := r.client.Upload(ctx, exec.Invocation, r.state.HostID(), archivePath); err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	_ = os.Remove(archivePath)
	return nil
}

// setState is the reconciler's sole entry point for mutating shared agent
// state. It never talks to the network: agentheartbeat.Pusher pushes the
// state to the coordinator, reading this value independently on its own
// period. The one exception is goIdle, which also pushes Idle itself right
// after setting it.
func (r *Reconciler) setState(state clustertype.HostState) {
	r.state.Set(state)
}
