// Package workflow composes foreman-maintain commands, dispatches them to
// remote hosts and turns what each host printed into a report. It is
// consumed by the CLI, the MCP server and the e2e suite.
package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/deixis/testfm/internal/config"
	"github.com/deixis/testfm/internal/foreman"
	"github.com/deixis/testfm/internal/remote"
	"github.com/deixis/testfm/internal/report"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNoHosts is returned when a pattern matched no hosts.
var ErrNoHosts = errors.New("no hosts contacted")

// Engine holds shared dependencies for all workflow operations.
type Engine struct {
	Config *config.Config
	Exec   remote.Executor
	Store  report.Store // optional; every run is saved when set
	Log    zerolog.Logger
}

// Health returns the command builder for the configured tool.
func (e *Engine) Health() foreman.Health {
	return foreman.Health{Tool: e.Config.ToolName()}
}

// Advanced returns the service command builder for the configured tool.
func (e *Engine) Advanced() foreman.Advanced {
	return foreman.Advanced{Tool: e.Config.ToolName()}
}

// resolvePattern defaults an empty pattern to the configured one.
func (e *Engine) resolvePattern(pattern string) string {
	if pattern == "" {
		return e.Config.Pattern()
	}
	return pattern
}

// Run dispatches argv to pattern and records the per-host outcome as a
// run of the given kind.
func (e *Engine) Run(ctx context.Context, pattern string, kind report.Kind, argv []string) (*report.RunResult, error) {
	pattern = e.resolvePattern(pattern)
	command := foreman.Command(argv)
	log := e.Log.With().Str("pattern", pattern).Str("command", command).Logger()
	log.Info().Msg("running")

	contacted, err := e.Exec.Command(ctx, pattern, argv)
	if err != nil {
		return nil, fmt.Errorf("running %q on %s: %w", command, pattern, err)
	}
	if len(contacted) == 0 {
		return nil, fmt.Errorf("running %q: %w for pattern %q", command, ErrNoHosts, pattern)
	}

	rr := &report.RunResult{
		ID:      uuid.New().String(),
		Kind:    kind,
		Pattern: pattern,
		Command: command,
	}
	contacted.Each(func(host string, r remote.HostResult) {
		log.Info().Str("host", host).Int("rc", r.RC).Msg(r.Stdout)
		rr.Hosts = append(rr.Hosts, outcome(kind, host, r))
	})

	if e.Store != nil {
		if err := e.Store.Save(rr); err != nil {
			log.Warn().Err(err).Str("run", rr.ID).Msg("saving run result")
		}
	}
	return rr, nil
}

func outcome(kind report.Kind, host string, r remote.HostResult) report.HostOutcome {
	o := report.HostOutcome{
		Host:        host,
		ExitCode:    r.RC,
		Unreachable: r.Unreachable,
		Stdout:      r.Stdout,
		Stderr:      r.Stderr,
		Message:     r.Msg,
	}
	if r.Unreachable {
		return o
	}
	switch kind {
	case report.Check:
		o.Failures = foreman.FailureLines(r.Stdout)
		o.Warnings = foreman.WarningLines(r.Stdout)
	case report.ListTags:
		o.Tags = foreman.ParseTags(r.Stdout)
	}
	return o
}

// List runs `health list`, optionally restricted to opts.Tags.
func (e *Engine) List(ctx context.Context, pattern string, opts *foreman.Options) (*report.RunResult, error) {
	rr, err := e.Run(ctx, pattern, report.List, e.Health().List(opts))
	if err == nil && opts != nil {
		rr.Tags = opts.Tags
	}
	return rr, err
}

// ListTags runs `health list-tags` and parses the tags each host printed.
func (e *Engine) ListTags(ctx context.Context, pattern string) (*report.RunResult, error) {
	return e.Run(ctx, pattern, report.ListTags, e.Health().ListTags())
}

// Check runs `health check` with opts.
func (e *Engine) Check(ctx context.Context, pattern string, opts *foreman.Options) (*report.RunResult, error) {
	rr, err := e.Run(ctx, pattern, report.Check, e.Health().Check(opts))
	if err == nil && opts != nil {
		rr.Label = opts.Label
		if opts.Label == "" {
			rr.Tags = opts.Tags
		}
	}
	return rr, err
}

// CheckArgs runs `health check` followed by raw arguments.
func (e *Engine) CheckArgs(ctx context.Context, pattern string, args ...string) (*report.RunResult, error) {
	return e.Run(ctx, pattern, report.Check, e.Health().CheckArgs(args...))
}

// Tags returns the tags printed by the last contacted host of a list-tags
// run. Hosts are ordered by name, so the choice is stable.
func Tags(rr *report.RunResult) []string {
	for i := len(rr.Hosts) - 1; i >= 0; i-- {
		if !rr.Hosts[i].Unreachable {
			return rr.Hosts[i].Tags
		}
	}
	return nil
}
