// Package agentexec owns the agent's one in-flight child process group:
// building its Command pair from an ExperimentDescriptor, redirecting its
// stdio when gen_logs is set, and tracking the paths the upload pipeline
// needs once the group is killed. There is no queue — the reconciler
// decides what to run next.
package agentexec

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Dash83/cluster/internal/agentproc"
	"github.com/Dash83/cluster/internal/clusterid"
	"github.com/Dash83/cluster/internal/clustertype"
)

// Executor is the agent's handle to one forked child process group plus the
// bookkeeping needed to upload its logs.
type Executor struct {
	Invocation clusterid.InvocationID
	URL        string
	Commit     string
	Hostname   string

	group        *agentproc.Group
	workspaceDir string
	logDir       string
	started      time.Time

	stdoutFile *os.File
	stderrFile *os.File
}

// LogTag builds the "hostname@experiment_name-ISO8601_UTC" tag used in
// per-run log filenames.
func LogTag(hostname, experimentName string, at time.Time) string {
	return fmt.Sprintf("%s@%s-%s", hostname, experimentName, at.UTC().Format("2006-01-02T15:04:05Z"))
}

// Start forks the child process group for one invocation: the descriptor's
// global command followed by its per-host override, chained with "&&".
// workspaceDir is both commands' working directory.
func Start(ctx context.Context, invocationID clusterid.InvocationID, url, commit, hostname, workspaceDir string, descriptor *clustertype.ExperimentDescriptor, now time.Time) (*Executor, error) {
	global := agentproc.Command{Program: descriptor.Command, Args: descriptor.Args}
	var host agentproc.Command
	if spec, ok := descriptor.HostSpec(hostname); ok {
		host = agentproc.Command{Program: spec.Command, Args: spec.Args}
	}

	logDir := descriptor.LogDir
	if logDir == "" {
		logDir = "logs/"
	}
	if !filepath.IsAbs(logDir) {
		logDir = filepath.Join(workspaceDir, logDir)
	}

	e := &Executor{
		Invocation:   invocationID,
		URL:          url,
		Commit:       commit,
		Hostname:     hostname,
		workspaceDir: workspaceDir,
		logDir:       logDir,
		started:      now,
	}

	var out, errw *os.File
	if descriptor.GenLogs {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, fmt.Errorf("agentexec: failed to create log dir: %w", err)
		}
		tag := LogTag(hostname, descriptor.Name, now)
		var err error
		out, err = os.Create(filepath.Join(logDir, tag+".stdout"))
		if err != nil {
			return nil, fmt.Errorf("agentexec: failed to create stdout log: %w", err)
		}
		errw, err = os.Create(filepath.Join(logDir, tag+".stderr"))
		if err != nil {
			out.Close()
			return nil, fmt.Errorf("agentexec: failed to create stderr log: %w", err)
		}
	}

	// Pass untyped nil writers when gen_logs is off: a nil *os.File wrapped
	// in an io.Writer would close the child's stdio instead of inheriting it.
	var stdout, stderr io.Writer
	if descriptor.GenLogs {
		stdout, stderr = out, errw
	}
	group, err := agentproc.Start(ctx, global, host, workspaceDir, stdout, stderr)
	if err != nil {
		if out != nil {
			out.Close()
		}
		if errw != nil {
			errw.Close()
		}
		return nil, fmt.Errorf("agentexec: fork failed: %w", err)
	}

	e.group = group
	e.stdoutFile = out
	e.stderrFile = errw
	return e, nil
}

// Probe checks the child process group is still alive (signal 0).
func (e *Executor) Probe() error {
	return e.group.Probe()
}

// Kill sends SIGTERM then SIGKILL to the child process group and closes any
// redirected log files.
func (e *Executor) Kill() {
	e.group.Kill()
	if e.stdoutFile != nil {
		e.stdoutFile.Close()
	}
	if e.stderrFile != nil {
		e.stderrFile.Close()
	}
}

// LogDir returns the absolute path experiment logs are written under.
func (e *Executor) LogDir() string { return e.logDir }

// WorkspaceDir returns the working directory the child ran in.
func (e *Executor) WorkspaceDir() string { return e.workspaceDir }
