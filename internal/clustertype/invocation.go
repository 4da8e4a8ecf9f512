package clustertype

import (
	"time"

	"github.com/Dash83/cluster/internal/clusterid"
)

// Invocation is one request-to-run at a specific (url, commit), tracked from
// creation to last log upload. Descriptor is nil when the manifest at this
// commit could not be parsed — such an invocation is still stored (for
// diagnostics) and may still be the coordinator's "current" pointer, but
// agents must never execute it (see Split).
type Invocation struct {
	ID         clusterid.InvocationID
	URL        string
	Commit     string
	Descriptor *ExperimentDescriptor
	Start      time.Time
	// Logs maps hostname -> archive path. Append-only; a host appearing
	// twice overwrites with the latest upload.
	Logs map[string]string
}

// NewInvocation allocates a fresh invocation id and start timestamp. The
// caller supplies the descriptor (nil on manifest parse failure).
func NewInvocation(url, commit string, descriptor *ExperimentDescriptor, now time.Time) Invocation {
	return Invocation{
		ID:         clusterid.NewInvocationID(),
		URL:        url,
		Commit:     commit,
		Descriptor: descriptor,
		Start:      now,
		Logs:       make(map[string]string),
	}
}

// HostHasLogged reports whether hostname already has an archive bound to
// this invocation.
func (inv *Invocation) HostHasLogged(hostname string) bool {
	_, ok := inv.Logs[hostname]
	return ok
}

// AddLog binds hostname's archive path to this invocation, overwriting any
// prior upload from the same host.
func (inv *Invocation) AddLog(hostname, path string) {
	if inv.Logs == nil {
		inv.Logs = make(map[string]string)
	}
	inv.Logs[hostname] = path
}

// Record projects the invocation down to its list-view shape.
func (inv *Invocation) Record() InvocationRecord {
	rec := InvocationRecord{
		ID:     inv.ID,
		URL:    inv.URL,
		Commit: inv.Commit,
		Start:  inv.Start,
	}
	if inv.Descriptor != nil {
		name := inv.Descriptor.Name
		rec.Name = &name
	}
	return rec
}

// Split returns (record, descriptor, ok). ok is false when the invocation's
// manifest could not be parsed — the agent must treat this as "nothing to
// run" and report BadResponse rather than executing a broken descriptor.
func (inv *Invocation) Split() (InvocationRecord, *ExperimentDescriptor, bool) {
	if inv.Descriptor == nil {
		return InvocationRecord{}, nil, false
	}
	return inv.Record(), inv.Descriptor, true
}

// InvocationRecord is the projection of Invocation used in list views.
type InvocationRecord struct {
	ID     clusterid.InvocationID
	URL    string
	Name   *string
	Commit string
	Start  time.Time
}

// ExperimentDescriptor is the parsed experiment manifest (deployment.toml).
type ExperimentDescriptor struct {
	Name    string
	Command string
	Args    []string
	Hosts   map[string]HostSpec
	LogDir  string
	GenLogs bool
}

// HostSpec is the per-host override in a manifest: the command (if any)
// that a specific host should run after the cluster-wide command.
type HostSpec struct {
	Command string
	Args    []string
}

// HostSpec looks up the per-host override for hostname, if the manifest
// names one.
func (d *ExperimentDescriptor) HostSpec(hostname string) (HostSpec, bool) {
	spec, ok := d.Hosts[hostname]
	return spec, ok
}
