package harness

import (
	"fmt"
	"maps"
	"os"
	"strings"
)

// Environment describes the host process environment the sandbox overlay is
// derived from.
//
// The sandbox never reads or mutates process-global environment state; the
// overlay is computed from this explicit snapshot and threaded into every
// command the harness starts.
type Environment struct {
	// WorkDir is the directory tool processes run in.
	WorkDir string

	// HostEnv is a snapshot of environment variables (e.g. PATH, TMPDIR).
	// It forms the base layer of the sandbox environment; session and
	// display addressing inherited from the host is stripped during
	// sandbox construction. If HostEnv is nil, an empty base is used.
	HostEnv map[string]string
}

// DefaultEnvironment returns an Environment derived from the current
// process.
//
// WorkDir is resolved from os.Getwd(). HostEnv is populated from
// os.Environ(). Invalid KEY=VALUE entries are ignored.
func DefaultEnvironment() (Environment, error) {
	workDir, err := os.Getwd()
	if err != nil {
		return Environment{}, fmt.Errorf("get working directory: %w", err)
	}

	hostEnv := make(map[string]string, len(os.Environ()))
	for _, kv := range os.Environ() {
		// Best-effort parse of KEY=VALUE. Invalid entries are ignored.
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}

		hostEnv[key] = value
	}

	return Environment{
		WorkDir: workDir,
		HostEnv: hostEnv,
	}, nil
}

// cloneEnvironment returns a deep copy of env.
func cloneEnvironment(env Environment) Environment {
	out := env

	if env.HostEnv == nil {
		out.HostEnv = map[string]string{}
	} else {
		out.HostEnv = make(map[string]string, len(env.HostEnv))
		maps.Copy(out.HostEnv, env.HostEnv)
	}

	return out
}
