package env

import (
	"os"
	"sort"
	"strings"
)

// Env composes child-process environments: an optional base taken from the
// manager's own environment, global overrides, then per-process overrides.
type Env struct {
	base   map[string]string
	global map[string]string
}

// New returns an Env. With inheritOS the manager's environment is the base;
// slot start commands like "npm start" normally need PATH and HOME from it.
func New(inheritOS bool) *Env {
	e := &Env{base: map[string]string{}, global: map[string]string{}}
	if inheritOS {
		addPairs(e.base, os.Environ())
	}
	return e
}

// Set adds global KEY=VALUE entries; malformed entries are skipped.
func (e *Env) Set(kvs ...string) { addPairs(e.global, kvs) }

// Merge returns base + global + perProc as a sorted KEY=VALUE slice.
// ${VAR} and $VAR references in values are expanded against the composed map
// (one level, no recursion).
func (e *Env) Merge(perProc []string) []string {
	m := make(map[string]string, len(e.base)+len(e.global)+len(perProc))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.global {
		m[k] = v
	}
	addPairs(m, perProc)

	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+os.Expand(v, func(name string) string { return m[name] }))
	}
	sort.Strings(out)
	return out
}

func addPairs(m map[string]string, kvs []string) {
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
}
