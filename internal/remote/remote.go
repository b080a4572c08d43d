// Package remote runs commands and configuration primitives on the hosts
// matched by an inventory pattern and returns one result per contacted host.
package remote

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// HostResult is what a single host reported for one invocation.
type HostResult struct {
	RC          int    `json:"rc"`
	Stdout      string `json:"stdout"`
	Stderr      string `json:"stderr"`
	Msg         string `json:"msg,omitempty"` // executor or module message
	Changed     bool   `json:"changed"`
	Failed      bool   `json:"failed"`
	Unreachable bool   `json:"unreachable"`
}

// Contacted maps host name to its result.
type Contacted map[string]HostResult

// Hosts returns the contacted host names in sorted order.
func (c Contacted) Hosts() []string {
	hosts := make([]string, 0, len(c))
	for h := range c {
		hosts = append(hosts, h)
	}
	slices.Sort(hosts)
	return hosts
}

// Each calls fn for every host in sorted order.
func (c Contacted) Each(fn func(host string, r HostResult)) {
	for _, h := range c.Hosts() {
		fn(h, c[h])
	}
}

// Changed reports whether any host reported a change.
func (c Contacted) Changed() bool {
	for _, r := range c {
		if r.Changed {
			return true
		}
	}
	return false
}

// Executor dispatches work to remote hosts.
type Executor interface {
	// Command runs argv on every host matched by pattern.
	Command(ctx context.Context, pattern string, argv []string) (Contacted, error)
	// Module applies a configuration primitive (file, yum_repository,
	// lineinfile, ...) with the given arguments.
	Module(ctx context.Context, pattern, module string, args map[string]any) (Contacted, error)
	// Expect runs argv and answers interactive prompts: each key of
	// responses is a regular expression matched against output.
	Expect(ctx context.Context, pattern string, argv []string, responses map[string]string) (Contacted, error)
}

// ErrTimeout is returned when the executor gave up waiting for hosts.
var ErrTimeout = errors.New("timed out")

// ErrUnsupported is returned by executors that cannot perform an operation.
var ErrUnsupported = errors.New("operation not supported by executor")

// ErrToolUnavailable is returned when a required local tool is not installed.
type ErrToolUnavailable struct {
	Name string
	Hint string
}

func (e ErrToolUnavailable) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s is required but not installed.", e.Name)
	if e.Hint != "" {
		fmt.Fprintf(&b, "\n\nInstall: %s", e.Hint)
	}
	return b.String()
}

// knownTools maps local tool names to install hints.
var knownTools = map[string]string{
	"ansible": "dnf install ansible-core   # or: pip install ansible-core",
}

// NewErrToolUnavailable returns an ErrToolUnavailable with an install
// hint when the tool is known.
func NewErrToolUnavailable(name string) ErrToolUnavailable {
	return ErrToolUnavailable{Name: name, Hint: knownTools[name]}
}
