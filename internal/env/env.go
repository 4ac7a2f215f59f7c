// Package env holds the explicit environment snapshot the entrypoint
// resolves configuration from. Nothing below main reads os.Environ directly.
package env

import (
	"os"
	"sort"
	"strings"
)

// Environment is an immutable snapshot of environment variables.
type Environment struct {
	vars map[string]string
}

// New builds a snapshot from a map. The map is copied.
func New(vars map[string]string) Environment {
	copied := make(map[string]string, len(vars))
	for k, v := range vars {
		copied[k] = v
	}
	return Environment{vars: copied}
}

// FromList builds a snapshot from KEY=value pairs as returned by os.Environ.
// Entries without '=' are ignored; later duplicates win.
func FromList(list []string) Environment {
	vars := make(map[string]string, len(list))
	for _, kv := range list {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		vars[k] = v
	}
	return Environment{vars: vars}
}

// FromOS snapshots the process environment.
func FromOS() Environment {
	return FromList(os.Environ())
}

// Lookup returns the value of key. A variable that is set to the empty
// string is reported as unset, matching ${KEY:-default} in a shell.
func (e Environment) Lookup(key string) (string, bool) {
	v, ok := e.vars[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Get returns the value of key or "".
func (e Environment) Get(key string) string {
	return e.vars[key]
}

// GetOr returns the value of key, or def when unset or empty.
func (e Environment) GetOr(key, def string) string {
	if v, ok := e.Lookup(key); ok {
		return v
	}
	return def
}

// With returns a new snapshot with overrides applied on top of e.
func (e Environment) With(overrides map[string]string) Environment {
	merged := make(map[string]string, len(e.vars)+len(overrides))
	for k, v := range e.vars {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return Environment{vars: merged}
}

// Len returns the number of variables in the snapshot.
func (e Environment) Len() int {
	return len(e.vars)
}

// Environ returns the snapshot as sorted KEY=value pairs, suitable for exec.
func (e Environment) Environ() []string {
	keys := make([]string, 0, len(e.vars))
	for k := range e.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+e.vars[k])
	}
	return out
}
