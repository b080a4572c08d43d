// Package foreman builds foreman-maintain command lines and interprets
// the text they print.
package foreman

import (
	"github.com/kballard/go-shellquote"
)

// DefaultTool is the maintenance CLI invoked when none is configured.
const DefaultTool = "foreman-maintain"

// Options selects which health checks a command covers. A nil *Options
// is the same as the zero value.
type Options struct {
	Tags      string // --tags
	Label     string // --label; takes precedence over Tags
	Whitelist string // --whitelist, comma separated labels
	AssumeYes bool   // --assumeyes
}

// Health builds "health" subcommands.
type Health struct {
	Tool string
}

func (h Health) base(sub string) []string {
	tool := h.Tool
	if tool == "" {
		tool = DefaultTool
	}
	return []string{tool, "health", sub}
}

// List returns `health list [--tags T]`.
func (h Health) List(opts *Options) []string {
	argv := h.base("list")
	if opts != nil && opts.Tags != "" {
		argv = append(argv, "--tags", opts.Tags)
	}
	return argv
}

// ListTags returns `health list-tags`.
func (h Health) ListTags() []string {
	return h.base("list-tags")
}

// Check returns `health check [--tags T | --label L] [--whitelist W] [--assumeyes]`.
func (h Health) Check(opts *Options) []string {
	argv := h.base("check")
	if opts == nil {
		return argv
	}
	switch {
	case opts.Label != "":
		argv = append(argv, "--label", opts.Label)
	case opts.Tags != "":
		argv = append(argv, "--tags", opts.Tags)
	}
	if opts.Whitelist != "" {
		argv = append(argv, "--whitelist", opts.Whitelist)
	}
	if opts.AssumeYes {
		argv = append(argv, "--assumeyes")
	}
	return argv
}

// CheckArgs returns `health check` followed by args verbatim.
func (h Health) CheckArgs(args ...string) []string {
	return append(h.base("check"), args...)
}

// Advanced builds the service and helper commands scenarios use to put a
// server into a known state.
type Advanced struct {
	Tool string
}

func (a Advanced) tool() string {
	if a.Tool == "" {
		return DefaultTool
	}
	return a.Tool
}

// ServiceStop returns `service stop`.
func (a Advanced) ServiceStop() []string {
	return []string{a.tool(), "service", "stop"}
}

// ServiceStart returns `service start`.
func (a Advanced) ServiceStart() []string {
	return []string{a.tool(), "service", "start"}
}

// ServiceStatus returns `service status`.
func (a Advanced) ServiceStatus() []string {
	return []string{a.tool(), "service", "status"}
}

// KatelloServiceStop stops services with the legacy katello-service wrapper.
func (a Advanced) KatelloServiceStop() []string {
	return []string{"katello-service", "stop"}
}

// HammerDefaultsAdd sets a hammer default parameter.
func HammerDefaultsAdd(name, value string) []string {
	return []string{"hammer", "defaults", "add", "--param-name", name, "--param-value", value}
}

// HammerDefaultsDelete removes a hammer default parameter.
func HammerDefaultsDelete(name string) []string {
	return []string{"hammer", "defaults", "delete", "--param-name", name}
}

// Command renders argv as a single shell-safe command line.
func Command(argv []string) string {
	return shellquote.Join(argv...)
}

// Split parses a shell command line into argv.
func Split(line string) ([]string, error) {
	return shellquote.Split(line)
}
