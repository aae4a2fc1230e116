// Package health runs daemon-startup preflight checks: confirms every
// external binary an action handler might invoke (qm, ip, iptables,
// bridge, virt-customize, cast, broker-client) resolves on PATH.
// Missing a tool is not fatal — the daemon still starts, since a given
// deployment may only use a subset of handlers — but it is logged at
// WARN so an operator notices before the first request fails.
//
// Adapted from the teacher's pkg/health/{exec.go,health.go} checker
// pattern, narrowed to the one check this daemon actually needs.
package health

import (
	"os/exec"
)

// RequiredBinaries is the set of external tools the built-in action
// handlers may invoke.
var RequiredBinaries = []string{
	"qm", "ip", "bridge", "iptables", "virt-customize", "cast", "broker-client",
}

// Result is one binary's resolution outcome.
type Result struct {
	Binary  string
	Path    string
	Present bool
}

// CheckBinaries resolves each entry in RequiredBinaries against PATH.
func CheckBinaries() []Result {
	out := make([]Result, 0, len(RequiredBinaries))
	for _, bin := range RequiredBinaries {
		path, err := exec.LookPath(bin)
		out = append(out, Result{Binary: bin, Path: path, Present: err == nil})
	}
	return out
}
