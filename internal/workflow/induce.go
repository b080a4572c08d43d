package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/deixis/testfm/internal/foreman"
	"github.com/deixis/testfm/internal/remote"
)

// Cleanup reverts a condition set up by Induce or InduceModule.
// Teardown exit codes are logged, not returned.
type Cleanup func(ctx context.Context) error

// Induce runs setup on every host matched by pattern and requires it to
// exit 0 everywhere. The returned Cleanup runs teardown; it is a no-op when
// teardown is empty. If setup fails, teardown runs immediately and the
// setup error is returned.
func (e *Engine) Induce(ctx context.Context, pattern string, setup, teardown []string) (Cleanup, error) {
	pattern = e.resolvePattern(pattern)
	cleanup := e.commandCleanup(pattern, teardown)

	contacted, err := e.Exec.Command(ctx, pattern, setup)
	if err == nil {
		err = e.requireSuccess(foreman.Command(setup), pattern, contacted)
	}
	if err != nil {
		if cerr := cleanup(ctx); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return nil, err
	}
	return cleanup, nil
}

// InduceModule applies a configuration primitive with apply, and returns a
// Cleanup applying the same module with revert. A nil revert means the
// condition is left in place.
func (e *Engine) InduceModule(ctx context.Context, pattern, module string, apply, revert map[string]any) (Cleanup, error) {
	pattern = e.resolvePattern(pattern)
	cleanup := func(ctx context.Context) error {
		if revert == nil {
			return nil
		}
		contacted, err := e.Exec.Module(ctx, pattern, module, revert)
		if err != nil {
			return fmt.Errorf("reverting %s on %s: %w", module, pattern, err)
		}
		e.logTeardown(module, contacted)
		return nil
	}

	e.Log.Info().Str("pattern", pattern).Str("module", module).Msg("applying")
	contacted, err := e.Exec.Module(ctx, pattern, module, apply)
	if err == nil {
		err = e.requireSuccess(module, pattern, contacted)
	}
	if err != nil {
		if cerr := cleanup(ctx); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return nil, err
	}
	return cleanup, nil
}

func (e *Engine) commandCleanup(pattern string, teardown []string) Cleanup {
	return func(ctx context.Context) error {
		if len(teardown) == 0 {
			return nil
		}
		command := foreman.Command(teardown)
		e.Log.Info().Str("pattern", pattern).Str("command", command).Msg("tearing down")
		contacted, err := e.Exec.Command(ctx, pattern, teardown)
		if err != nil {
			return fmt.Errorf("running %q on %s: %w", command, pattern, err)
		}
		e.logTeardown(command, contacted)
		return nil
	}
}

func (e *Engine) logTeardown(what string, contacted remote.Contacted) {
	contacted.Each(func(host string, r remote.HostResult) {
		ev := e.Log.Info()
		if r.RC != 0 || r.Failed || r.Unreachable {
			ev = e.Log.Warn()
		}
		ev.Str("host", host).Int("rc", r.RC).Str("teardown", what).Msg(r.Stdout)
	})
}

// requireSuccess returns an error naming every host where what did not
// succeed.
func (e *Engine) requireSuccess(what, pattern string, contacted remote.Contacted) error {
	if len(contacted) == 0 {
		return fmt.Errorf("running %q: %w for pattern %q", what, ErrNoHosts, pattern)
	}
	var bad []string
	contacted.Each(func(host string, r remote.HostResult) {
		e.Log.Info().Str("host", host).Int("rc", r.RC).Msg(r.Stdout)
		switch {
		case r.Unreachable:
			bad = append(bad, host+": unreachable")
		case r.RC != 0 || r.Failed:
			reason := FirstLine(r.Msg)
			if reason == "" {
				reason = FirstLine(r.Stderr)
			}
			bad = append(bad, strings.TrimSpace(fmt.Sprintf("%s: rc %d %s", host, r.RC, reason)))
		}
	})
	if len(bad) > 0 {
		return fmt.Errorf("%q failed on %s", what, strings.Join(bad, "; "))
	}
	return nil
}
