package coordinatorapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/Dash83/cluster/internal/clusterid"
	"github.com/Dash83/cluster/internal/coordinator"
	"github.com/Dash83/cluster/internal/coordinatorapi"
)

type fakeFetcher struct{ commit string }

func (f *fakeFetcher) Clone(ctx context.Context, url, dest string) (string, error) {
	return f.commit, nil
}

func (f *fakeFetcher) Rewind(ctx context.Context, dest, commit string) error { return nil }

type envelope struct {
	Status  string          `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Msg     string          `json:"msg,omitempty"`
}

func newTestServer(t *testing.T) (*httptest.Server, *coordinator.Registry, string) {
	t.Helper()
	workspace := t.TempDir()
	logDir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	registry := coordinator.New(ctx, &fakeFetcher{commit: "deadbeef"}, workspace, zap.NewNop())
	router := coordinatorapi.NewRouter(coordinatorapi.Config{Registry: registry, LogDir: logDir, Logger: zap.NewNop()})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, registry, workspace
}

func decodeEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	defer resp.Body.Close()
	var e envelope
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return e
}

// registerHost registers hostname against the test server and returns the
// id string from the returned host record.
func registerHost(t *testing.T, srv *httptest.Server, hostname string) string {
	t.Helper()
	resp, err := http.Get(srv.URL + "/api/host/register/" + hostname)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	e := decodeEnvelope(t, resp)
	if e.Status != "ok" {
		t.Fatalf("register status = %q, msg = %q", e.Status, e.Msg)
	}
	var host struct {
		ID       string
		Hostname string
	}
	if err := json.Unmarshal(e.Payload, &host); err != nil {
		t.Fatalf("unmarshal host: %v", err)
	}
	if host.Hostname != hostname {
		t.Fatalf("registered hostname = %q, want %q", host.Hostname, hostname)
	}
	return host.ID
}

func TestRegisterAndGetHost(t *testing.T) {
	srv, _, _ := newTestServer(t)

	id := registerHost(t, srv, "alpha")

	resp2, err := http.Get(srv.URL + "/api/host/" + id)
	if err != nil {
		t.Fatalf("get host: %v", err)
	}
	e2 := decodeEnvelope(t, resp2)
	if e2.Status != "ok" {
		t.Fatalf("getHost status = %q, msg = %q", e2.Status, e2.Msg)
	}
}

func TestGetHostUnknownReturnsNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/host/" + clusterid.NewHostID().String())
	if err != nil {
		t.Fatalf("get host: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	e := decodeEnvelope(t, resp)
	if e.Status != "err" {
		t.Fatalf("envelope status = %q, want err", e.Status)
	}
}

func TestStatusIdlePushRefreshesState(t *testing.T) {
	srv, registry, _ := newTestServer(t)

	idStr := registerHost(t, srv, "alpha")
	id, err := clusterid.ParseHostID(idStr)
	if err != nil {
		t.Fatalf("ParseHostID: %v", err)
	}

	statusResp, err := http.Get(srv.URL + "/api/host/status/" + idStr + "/idle?cpu=12.5&mem=40.0&disk=10.0")
	if err != nil {
		t.Fatalf("status push: %v", err)
	}
	se := decodeEnvelope(t, statusResp)
	if se.Status != "ok" {
		t.Fatalf("status push = %q, msg = %q", se.Status, se.Msg)
	}

	h, ok := registry.HostSnapshot(id)
	if !ok {
		t.Fatalf("host must still exist")
	}
	if h.Metrics == nil || h.Metrics.CPUPercent != 12.5 {
		t.Fatalf("metrics not recorded: %+v", h.Metrics)
	}
}

func TestStatusWithInvocationUnknownStateIsNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	idStr := registerHost(t, srv, "alpha")

	invID := clusterid.NewInvocationID()
	statusResp, err := http.Get(srv.URL + "/api/host/status/" + idStr + "/bogus/" + invID.String())
	if err != nil {
		t.Fatalf("status push: %v", err)
	}
	if statusResp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", statusResp.StatusCode)
	}
}

func TestInvokeAndCurrentAndListInvocations(t *testing.T) {
	srv, _, workspace := newTestServer(t)
	if err := os.WriteFile(filepath.Join(workspace, "deployment.toml"), []byte("name = \"exp\"\ncommand = \"run.sh\"\n"), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	resp, err := http.Get(srv.URL + "/api/invoke/git://example/repo")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	e := decodeEnvelope(t, resp)
	if e.Status != "ok" {
		t.Fatalf("invoke status = %q, msg = %q", e.Status, e.Msg)
	}

	curResp, err := http.Get(srv.URL + "/api/current")
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	ce := decodeEnvelope(t, curResp)
	if ce.Status != "ok" || string(ce.Payload) == "null" {
		t.Fatalf("current envelope = %+v", ce)
	}

	listResp, err := http.Get(srv.URL + "/api/invocations")
	if err != nil {
		t.Fatalf("list invocations: %v", err)
	}
	le := decodeEnvelope(t, listResp)
	var records []json.RawMessage
	if err := json.Unmarshal(le.Payload, &records); err != nil {
		t.Fatalf("unmarshal invocation list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 invocation record, got %d", len(records))
	}
}

func TestUploadStoresArchiveAndBindsLog(t *testing.T) {
	srv, registry, workspace := newTestServer(t)
	if err := os.WriteFile(filepath.Join(workspace, "deployment.toml"), []byte("name = \"exp\"\ncommand = \"run.sh\"\n"), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	hostIDStr := registerHost(t, srv, "alpha")
	invResp, _ := http.Get(srv.URL + "/api/invoke/git://example/repo")
	ie := decodeEnvelope(t, invResp)
	var invIDStr string
	json.Unmarshal(ie.Payload, &invIDStr)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("log", "alpha.tar.gz")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write([]byte("fake archive bytes"))
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/upload/"+invIDStr+"/"+hostIDStr, &body)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	ue := decodeEnvelope(t, resp)
	if ue.Status != "ok" {
		t.Fatalf("upload status = %q msg = %q", ue.Status, ue.Msg)
	}

	invID, _ := clusterid.ParseInvocationID(invIDStr)
	inv, ok := registry.InvocationSnapshot(invID)
	if !ok {
		t.Fatalf("invocation must still exist")
	}
	if !inv.HostHasLogged("alpha") {
		t.Fatalf("the archive must be bound under the uploading host's hostname")
	}
}

func TestUploadUnknownHostIsNotFound(t *testing.T) {
	srv, _, workspace := newTestServer(t)
	os.WriteFile(filepath.Join(workspace, "deployment.toml"), []byte("name = \"exp\"\n"), 0o644)
	invResp, _ := http.Get(srv.URL + "/api/invoke/git://example/repo")
	ie := decodeEnvelope(t, invResp)
	var invIDStr string
	json.Unmarshal(ie.Payload, &invIDStr)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("log", "alpha.tar.gz")
	fw.Write([]byte("bytes"))
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/upload/"+invIDStr+"/"+clusterid.NewHostID().String(), &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for an unregistered uploader", resp.StatusCode)
	}
	e := decodeEnvelope(t, resp)
	if e.Status != "err" {
		t.Fatalf("envelope status = %q, want err", e.Status)
	}
}

func TestUploadMissingFileIsBadRequest(t *testing.T) {
	srv, _, workspace := newTestServer(t)
	os.WriteFile(filepath.Join(workspace, "deployment.toml"), []byte("name = \"exp\"\n"), 0o644)
	hostIDStr := registerHost(t, srv, "alpha")
	invResp, _ := http.Get(srv.URL + "/api/invoke/git://example/repo")
	ie := decodeEnvelope(t, invResp)
	var invIDStr string
	json.Unmarshal(ie.Payload, &invIDStr)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.Close()
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/upload/"+invIDStr+"/"+hostIDStr, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
