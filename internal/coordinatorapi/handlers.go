package coordinatorapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Dash83/cluster/internal/clusterid"
	"github.com/Dash83/cluster/internal/clustertype"
	"github.com/Dash83/cluster/internal/coordinator"
)

// handler groups the registry-backed API endpoints. Every method is
// stateless beyond the registry reference; chi dispatches directly to these
// rather than to a framework-level controller type.
type handler struct {
	registry *coordinator.Registry
	logDir   string
	logger   *zap.Logger
}

// registerHost implements GET /api/host/register/{hostname}. The response
// carries the full host record, not just the id — a re-registering agent
// replaces its local identity with whatever comes back.
func (h *handler) registerHost(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "hostname")
	if hostname == "" {
		errMsg(w, http.StatusBadRequest, "hostname must not be empty")
		return
	}
	id := h.registry.Register(hostname)
	host, found := h.registry.HostSnapshot(id)
	if !found {
		errMsg(w, http.StatusInternalServerError, coordinator.ErrUnknownHost.Error())
		return
	}
	ok(w, host)
}

// getHost implements GET /api/host/{id}.
func (h *handler) getHost(w http.ResponseWriter, r *http.Request) {
	id, err := clusterid.ParseHostID(chi.URLParam(r, "id"))
	if err != nil {
		errMsg(w, http.StatusBadRequest, err.Error())
		return
	}
	host, found := h.registry.HostSnapshot(id)
	if !found {
		errMsg(w, http.StatusNotFound, coordinator.ErrUnknownHost.Error())
		return
	}
	ok(w, host)
}

// statusIdle implements GET /api/host/status/{id}/idle: an agent reporting
// that it is no longer running anything.
func (h *handler) statusIdle(w http.ResponseWriter, r *http.Request) {
	id, err := clusterid.ParseHostID(chi.URLParam(r, "id"))
	if err != nil {
		errMsg(w, http.StatusBadRequest, err.Error())
		return
	}
	h.pushState(w, id, clustertype.Idle(), r)
}

// statusWithInvocation implements
// GET /api/host/status/{id}/{running|errored|compressing|uploading|done}/{inv}.
func (h *handler) statusWithInvocation(w http.ResponseWriter, r *http.Request) {
	id, err := clusterid.ParseHostID(chi.URLParam(r, "id"))
	if err != nil {
		errMsg(w, http.StatusBadRequest, err.Error())
		return
	}
	invID, err := clusterid.ParseInvocationID(chi.URLParam(r, "inv"))
	if err != nil {
		errMsg(w, http.StatusBadRequest, err.Error())
		return
	}

	var state clustertype.HostState
	switch chi.URLParam(r, "state") {
	case "running":
		state = clustertype.Running(invID)
	case "errored":
		state = clustertype.Errored(invID)
	case "compressing":
		state = clustertype.Compressing(invID)
	case "uploading":
		state = clustertype.Uploading(invID)
	case "done":
		state = clustertype.Done(invID)
	default:
		errMsg(w, http.StatusNotFound, "unknown status")
		return
	}

	h.pushState(w, id, state, r)
}

// pushState overwrites a host's state and refreshes its liveness timestamp
// under the registry lock — the only path besides Register that resets
// LastSeen; every status push counts as a heartbeat. It also records any
// cpu/mem/disk diagnostics query parameters the agent attached,
// display-only and never required for a valid push.
func (h *handler) pushState(w http.ResponseWriter, id clusterid.HostID, state clustertype.HostState, r *http.Request) {
	metrics := parseMetrics(r)
	_, found := coordinator.Host(h.registry, id, func(host *clustertype.Host) struct{} {
		host.State = state
		host.LastSeen = time.Now()
		if metrics != nil {
			host.Metrics = metrics
		}
		return struct{}{}
	})
	if !found {
		errMsg(w, http.StatusNotFound, coordinator.ErrUnknownHost.Error())
		return
	}
	ok(w, nil)
}

// parseMetrics reads the optional cpu/mem/disk query parameters a status
// push may carry. Absent or malformed values simply leave Metrics unset —
// diagnostics are never load-bearing for the push itself.
func parseMetrics(r *http.Request) *clustertype.HostMetrics {
	q := r.URL.Query()
	if q.Get("cpu") == "" && q.Get("mem") == "" && q.Get("disk") == "" {
		return nil
	}
	cpu, _ := strconv.ParseFloat(q.Get("cpu"), 64)
	mem, _ := strconv.ParseFloat(q.Get("mem"), 64)
	disk, _ := strconv.ParseFloat(q.Get("disk"), 64)
	return &clustertype.HostMetrics{CPUPercent: cpu, MemPercent: mem, DiskPercent: disk}
}

// listHosts implements GET /api/hosts.
func (h *handler) listHosts(w http.ResponseWriter, r *http.Request) {
	ok(w, h.registry.Hosts())
}

// current implements GET /api/current.
func (h *handler) current(w http.ResponseWriter, r *http.Request) {
	id, found := h.registry.Current()
	if !found {
		ok(w, nil)
		return
	}
	ok(w, id)
}

// getInvocation implements GET /api/invocation/{id}.
func (h *handler) getInvocation(w http.ResponseWriter, r *http.Request) {
	id, err := clusterid.ParseInvocationID(chi.URLParam(r, "id"))
	if err != nil {
		errMsg(w, http.StatusBadRequest, err.Error())
		return
	}
	inv, found := h.registry.InvocationSnapshot(id)
	if !found {
		errMsg(w, http.StatusNotFound, coordinator.ErrUnknownInvocation.Error())
		return
	}
	ok(w, inv)
}

// listInvocations implements GET /api/invocations.
func (h *handler) listInvocations(w http.ResponseWriter, r *http.Request) {
	ok(w, h.registry.Invocations())
}

// invoke implements GET /api/invoke/*: url is the literal remainder of the
// path, which lets a caller pass a scp-like or https URL (both commonly
// contain slashes) without needing a separate percent-encoding convention.
func (h *handler) invoke(w http.ResponseWriter, r *http.Request) {
	url := chi.URLParam(r, "*")
	if url == "" {
		errMsg(w, http.StatusBadRequest, "url must not be empty")
		return
	}

	id, err := h.registry.Invoke(r.Context(), url)
	if err != nil {
		h.invokeResult(w, id, err)
		return
	}
	ok(w, id)
}

// reinvoke implements GET /api/reinvoke/{id}.
func (h *handler) reinvoke(w http.ResponseWriter, r *http.Request) {
	oldID, err := clusterid.ParseInvocationID(chi.URLParam(r, "id"))
	if err != nil {
		errMsg(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.registry.Reinvoke(r.Context(), oldID)
	if err != nil {
		h.invokeResult(w, id, err)
		return
	}
	ok(w, id)
}

// invokeResult reports Invoke/Reinvoke's broken-manifest case (the
// invocation id is valid and current, but descriptor parsing failed) as a
// successful envelope carrying a diagnostic message, and every other
// failure as a hard error. See coordinator.Registry.Invoke's doc comment.
func (h *handler) invokeResult(w http.ResponseWriter, id clusterid.InvocationID, err error) {
	if errors.Is(err, coordinator.ErrBrokenManifest) {
		h.logger.Warn("invocation created with unparseable manifest", zap.String("invocation_id", id.String()), zap.Error(err))
		writeJSON(w, http.StatusOK, envelope{Status: "ok", Payload: id, Msg: err.Error()})
		return
	}
	if errors.Is(err, coordinator.ErrUnknownInvocation) {
		errMsg(w, http.StatusNotFound, err.Error())
		return
	}
	errMsg(w, http.StatusBadGateway, err.Error())
}

// upload implements POST /api/upload/{inv}/{host}: a multipart form upload
// of one log archive, stored under logDir as <uuid>.tar.gz — a fresh name,
// never the client-supplied one — and bound to the invocation under the
// uploading host's hostname, since Invocation.Logs keys on hostname.
func (h *handler) upload(w http.ResponseWriter, r *http.Request) {
	invID, err := clusterid.ParseInvocationID(chi.URLParam(r, "inv"))
	if err != nil {
		errMsg(w, http.StatusBadRequest, err.Error())
		return
	}
	hostID, err := clusterid.ParseHostID(chi.URLParam(r, "host"))
	if err != nil {
		errMsg(w, http.StatusBadRequest, err.Error())
		return
	}
	host, found := h.registry.HostSnapshot(hostID)
	if !found {
		errMsg(w, http.StatusNotFound, coordinator.ErrUnknownHost.Error())
		return
	}

	file, _, err := r.FormFile("log")
	if err != nil {
		errMsg(w, http.StatusBadRequest, fmt.Sprintf("missing log file: %v", err))
		return
	}
	defer file.Close()

	if err := os.MkdirAll(h.logDir, 0o755); err != nil {
		errMsg(w, http.StatusInternalServerError, err.Error())
		return
	}

	destName := uuid.NewString() + ".tar.gz"
	destPath := filepath.Join(h.logDir, destName)

	dest, err := os.Create(destPath)
	if err != nil {
		errMsg(w, http.StatusInternalServerError, err.Error())
		return
	}
	_, copyErr := io.Copy(dest, file)
	closeErr := dest.Close()
	if copyErr != nil {
		errMsg(w, http.StatusInternalServerError, copyErr.Error())
		return
	}
	if closeErr != nil {
		errMsg(w, http.StatusInternalServerError, closeErr.Error())
		return
	}

	if err := h.registry.AddLog(invID, host.Hostname, destPath); err != nil {
		errMsg(w, http.StatusNotFound, err.Error())
		return
	}

	h.logger.Info("log archive stored", zap.String("invocation_id", invID.String()), zap.String("host", host.Hostname), zap.String("path", destPath))
	ok(w, destName)
}
