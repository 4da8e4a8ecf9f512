package coordinatorapi

import (
	"html/template"
	"net/http"

	"go.uber.org/zap"
)

// dashboardTmpl is a best-effort human-facing view of cluster state. Kept
// deliberately small: no JS, no polling, just a server-rendered snapshot
// for whoever is driving an experiment from a browser.
var dashboardTmpl = template.Must(template.New("dashboard").Parse(`<!doctype html>
<html>
<head><title>cluster</title></head>
<body>
<h1>cluster</h1>
<h2>current invocation</h2>
<p>{{if .Current}}{{.Current}}{{else}}(none){{end}}</p>
<h2>hosts</h2>
<table border="1" cellpadding="4">
<tr><th>id</th><th>hostname</th><th>state</th><th>last seen</th><th>cpu%</th><th>mem%</th><th>disk%</th></tr>
{{range .Hosts}}<tr><td>{{.ID}}</td><td>{{.Hostname}}</td><td>{{.State.Tag}}</td><td>{{.LastSeen}}</td><td>{{if .Metrics}}{{printf "%.1f" .Metrics.CPUPercent}}{{else}}-{{end}}</td><td>{{if .Metrics}}{{printf "%.1f" .Metrics.MemPercent}}{{else}}-{{end}}</td><td>{{if .Metrics}}{{printf "%.1f" .Metrics.DiskPercent}}{{else}}-{{end}}</td></tr>
{{end}}</table>
<h2>invocations</h2>
<table border="1" cellpadding="4">
<tr><th>id</th><th>name</th><th>url</th><th>commit</th><th>start</th></tr>
{{range .Invocations}}<tr><td>{{.ID}}</td><td>{{if .Name}}{{.Name}}{{else}}(broken manifest){{end}}</td><td>{{.URL}}</td><td>{{.Commit}}</td><td>{{.Start}}</td></tr>
{{end}}</table>
</body>
</html>
`))

type dashboardView struct {
	Current     any
	Hosts       any
	Invocations any
}

// dashboard implements GET /.
func (h *handler) dashboard(w http.ResponseWriter, r *http.Request) {
	view := dashboardView{
		Hosts:       h.registry.Hosts(),
		Invocations: h.registry.Invocations(),
	}
	if id, found := h.registry.Current(); found {
		view.Current = id
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTmpl.Execute(w, view); err != nil {
		h.logger.Warn("dashboard render failed", zap.Error(err))
	}
}
