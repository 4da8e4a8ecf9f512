// Package coordinatorapi implements the coordinator's thin HTTP
// request/registry adapter: a chi router, one handler struct, and a small
// set of response helpers.
//
// Every endpoint returns the envelope
// {"status":"ok"|"err","payload":...,"msg":...} rather than
// HTTP-status-coded REST responses. Agents key on the status field, not the
// HTTP status code, to distinguish transport failure from logical failure.
package coordinatorapi

import (
	"encoding/json"
	"net/http"
)

// envelope is the wire shape of every API response.
type envelope struct {
	Status  string `json:"status"`
	Payload any    `json:"payload,omitempty"`
	Msg     string `json:"msg,omitempty"`
}

// writeJSON writes an envelope with the given HTTP status code. The HTTP
// status is informational only — callers must not rely on it.
func writeJSON(w http.ResponseWriter, httpStatus int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(env)
}

// ok writes {"status":"ok","payload":payload}.
func ok(w http.ResponseWriter, payload any) {
	writeJSON(w, http.StatusOK, envelope{Status: "ok", Payload: payload})
}

// errMsg writes {"status":"err","msg":msg} with the given HTTP status.
func errMsg(w http.ResponseWriter, httpStatus int, msg string) {
	writeJSON(w, httpStatus, envelope{Status: "err", Msg: msg})
}
