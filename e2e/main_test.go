//go:build e2e

package e2e

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/deixis/testfm/internal/config"
	"github.com/deixis/testfm/internal/foreman"
	"github.com/deixis/testfm/internal/gate"
	"github.com/deixis/testfm/internal/product"
	"github.com/deixis/testfm/internal/report"
	"github.com/deixis/testfm/internal/session"
	"github.com/deixis/testfm/internal/workflow"
	"github.com/stretchr/testify/require"
)

var (
	patternFlag = flag.String("testfm.pattern", "", "inventory host pattern to run against (overrides config)")
	marksFlag   = flag.String("testfm.marks", "", "comma-separated marks; only tests carrying one of them run")
)

var (
	sess    *session.Session
	engine  *workflow.Engine
	servers *gate.Gate
	pattern string
)

func TestMain(m *testing.M) {
	flag.Parse()
	if err := setup(); err != nil {
		fmt.Fprintf(os.Stderr, "e2e setup: %v\n", err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

func setup() error {
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	loaded, err := config.Load(wd)
	if err != nil {
		return err
	}
	cfg := loaded.Config
	if *patternFlag != "" {
		cfg.HostPattern = *patternFlag
	}
	if *marksFlag != "" {
		cfg.Marks = strings.Split(*marksFlag, ",")
	}

	sess, err = session.New(cfg, loaded.RepoRoot, session.NewLogger(os.Stderr, cfg.Level()))
	if err != nil {
		return err
	}
	engine = sess.Engine
	pattern = cfg.Pattern()

	role, err := product.ParseRole(pattern)
	if err != nil {
		role = product.Satellite
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout())
	defer cancel()
	label, err := sess.Prober.Probe(ctx, role)
	if err != nil {
		return err
	}
	servers = gate.New(label, pattern, cfg.Marks)
	return nil
}

// requireExit asserts every contacted host exited with code.
func requireExit(r *require.Assertions, rr *report.RunResult, code int) {
	for _, h := range rr.Hosts {
		r.False(h.Unreachable, "%s unreachable: %s", h.Host, h.Message)
		r.Equal(code, h.ExitCode, "%s exit code running %s\n%s", h.Host, rr.Command, h.Stdout)
	}
}

// requireNoFail asserts no host printed a failing check.
func requireNoFail(r *require.Assertions, rr *report.RunResult) {
	for _, h := range rr.Hosts {
		r.False(h.Unreachable, "%s unreachable: %s", h.Host, h.Message)
		r.False(foreman.HasFailure(h.Stdout), "%s reported failures running %s: %v", h.Host, rr.Command, h.Failures)
	}
}

// cleanupOnExit registers cleanup to run when the test ends and returns a
// Cleanup that runs it at most once, for tests that revert mid-way.
func cleanupOnExit(t *testing.T, cleanup workflow.Cleanup) workflow.Cleanup {
	var once sync.Once
	var err error
	run := func(ctx context.Context) error {
		once.Do(func() { err = cleanup(ctx) })
		return err
	}
	t.Cleanup(func() {
		if err := run(context.Background()); err != nil {
			t.Errorf("cleanup: %v", err)
		}
	})
	return run
}
