// Package report records the outcome of each health invocation per host
// and keeps recent runs available for drill-down.
package report

import (
	"fmt"
	"strings"
)

// Kind identifies the subcommand a run executed.
type Kind string

const (
	// List is a `health list` run.
	List Kind = "list"
	// ListTags is a `health list-tags` run.
	ListTags Kind = "list-tags"
	// Check is a `health check` run.
	Check Kind = "check"
)

// Store persists and retrieves run results.
type Store interface {
	Save(result *RunResult) error
	Load(runID string) (*RunResult, error)
}

// RunResult holds what every contacted host reported for one command.
type RunResult struct {
	ID      string        `json:"id"`
	Kind    Kind          `json:"kind"`
	Pattern string        `json:"pattern"`
	Command string        `json:"command"`
	Label   string        `json:"label,omitempty"` // --label, when the run targeted one check
	Tags    string        `json:"tags,omitempty"`  // --tags, when the run targeted a tag
	Hosts   []HostOutcome `json:"hosts"`
}

// HostOutcome is one host's share of a run.
type HostOutcome struct {
	Host        string   `json:"host"`
	ExitCode    int      `json:"exit_code"`
	Unreachable bool     `json:"unreachable,omitempty"`
	Failures    []string `json:"failures,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Stdout      string   `json:"stdout,omitempty"`
	Stderr      string   `json:"stderr,omitempty"`
	Message     string   `json:"message,omitempty"`
}

// Failed reports whether the host did not complete cleanly.
func (h *HostOutcome) Failed() bool {
	return h.Unreachable || h.ExitCode != 0 || len(h.Failures) > 0
}

// Failed reports whether any host failed.
func (r *RunResult) Failed() bool {
	for i := range r.Hosts {
		if r.Hosts[i].Failed() {
			return true
		}
	}
	return false
}

// Host returns the outcome for host, or nil.
func (r *RunResult) Host(host string) *HostOutcome {
	for i := range r.Hosts {
		if r.Hosts[i].Host == host {
			return &r.Hosts[i]
		}
	}
	return nil
}

// Expect returns an error if the run's Kind does not match want.
func (r *RunResult) Expect(want Kind) error {
	if r.Kind != want {
		return fmt.Errorf("run %s is a %s run, not a %s run", r.ID, r.Kind, want)
	}
	return nil
}

// Diagnostic is a uniform view of one finding on one host.
type Diagnostic struct {
	Source  string // "fail", "warning", "exit", "unreachable"
	Host    string
	Message string
}

// ByHost returns all diagnostics for a host.
func ByHost(result *RunResult, host string) []Diagnostic {
	var out []Diagnostic
	for _, d := range toDiagnostics(result) {
		if d.Host == host {
			out = append(out, d)
		}
	}
	return out
}

// ByText returns diagnostics whose message contains text, case-insensitively.
// Check descriptions rather than labels appear in output, so this is how a
// single check is found in a broad run.
func ByText(result *RunResult, text string) []Diagnostic {
	needle := strings.ToLower(text)
	var out []Diagnostic
	for _, d := range toDiagnostics(result) {
		if strings.Contains(strings.ToLower(d.Message), needle) {
			out = append(out, d)
		}
	}
	return out
}

// All returns every diagnostic in host order.
func All(result *RunResult) []Diagnostic {
	return toDiagnostics(result)
}

func toDiagnostics(r *RunResult) []Diagnostic {
	var out []Diagnostic
	for _, h := range r.Hosts {
		if h.Unreachable {
			out = append(out, Diagnostic{Source: "unreachable", Host: h.Host, Message: h.Message})
			continue
		}
		for _, f := range h.Failures {
			out = append(out, Diagnostic{Source: "fail", Host: h.Host, Message: f})
		}
		for _, w := range h.Warnings {
			out = append(out, Diagnostic{Source: "warning", Host: h.Host, Message: w})
		}
		if h.ExitCode != 0 {
			msg := fmt.Sprintf("exit status %d", h.ExitCode)
			if h.Message != "" {
				msg += ": " + h.Message
			}
			out = append(out, Diagnostic{Source: "exit", Host: h.Host, Message: msg})
		}
	}
	return out
}
