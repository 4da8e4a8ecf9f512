// Package manifest loads the experiment manifest (deployment.toml) that
// directs what each host in an invocation runs.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/Dash83/cluster/internal/clustertype"
)

// DefaultLogDir is used when a manifest omits log_dir. It stays relative:
// the descriptor travels from the coordinator to every agent, and each
// agent resolves it against its own workspace.
const DefaultLogDir = "logs/"

// wireDescriptor mirrors the manifest's TOML shape:
//
//	name: string
//	command?: string
//	args?: [string]
//	log_dir: path (default "logs/")
//	gen_logs: bool (default false)
//	hosts: { <hostname>: { command?: string, args?: [string] } }
type wireDescriptor struct {
	Name    string              `toml:"name"`
	Command string              `toml:"command"`
	Args    []string            `toml:"args"`
	LogDir  string              `toml:"log_dir"`
	GenLogs bool                `toml:"gen_logs"`
	Hosts   map[string]wireHost `toml:"hosts"`
}

type wireHost struct {
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
}

// Load reads and parses the manifest at path. An absent "command" at either
// the top level or a given host is represented as an empty Command string —
// callers treat an empty Command as "nothing to run for this phase".
func Load(path string) (*clustertype.ExperimentDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to read %s: %w", path, err)
	}

	var w wireDescriptor
	if _, err := toml.Decode(string(data), &w); err != nil {
		return nil, fmt.Errorf("manifest: failed to parse %s: %w", path, err)
	}
	if w.Name == "" {
		return nil, fmt.Errorf("manifest: %s: missing required field \"name\"", path)
	}

	logDir := w.LogDir
	if logDir == "" {
		logDir = DefaultLogDir
	}

	hosts := make(map[string]clustertype.HostSpec, len(w.Hosts))
	for name, h := range w.Hosts {
		hosts[name] = clustertype.HostSpec{Command: h.Command, Args: h.Args}
	}

	return &clustertype.ExperimentDescriptor{
		Name:    w.Name,
		Command: w.Command,
		Args:    w.Args,
		Hosts:   hosts,
		LogDir:  logDir,
		GenLogs: w.GenLogs,
	}, nil
}

// Path joins an experiment's workspace root with the manifest's
// conventional filename, deployment.toml.
func Path(workspacePath string) string {
	return filepath.Join(workspacePath, "deployment.toml")
}
