//go:build e2e

package e2e

import (
	"context"
	"testing"

	"github.com/deixis/testfm/internal/foreman"
	"github.com/deixis/testfm/internal/workflow"
	"github.com/stretchr/testify/require"
)

func TestHealthList(t *testing.T) {
	r := require.New(t)
	servers.Mark(t)

	rr, err := engine.List(context.Background(), pattern, nil)
	r.NoError(err)
	requireExit(r, rr, 0)
}

func TestHealthListTags(t *testing.T) {
	r := require.New(t)
	servers.Mark(t)

	rr, err := engine.ListTags(context.Background(), pattern)
	r.NoError(err)
	requireExit(r, rr, 0)
}

func TestHealthListByTags(t *testing.T) {
	servers.Mark(t)

	for _, tag := range []string{"default", "pre-upgrade"} {
		t.Run(tag, func(t *testing.T) {
			r := require.New(t)
			rr, err := engine.List(context.Background(), pattern, &foreman.Options{Tags: tag})
			r.NoError(err)
			requireExit(r, rr, 0)
		})
	}
}

func TestHealthCheck(t *testing.T) {
	r := require.New(t)
	servers.Mark(t)

	rr, err := engine.Check(context.Background(), pattern, nil)
	r.NoError(err)
	requireNoFail(r, rr)
}

func TestHealthCheckByTags(t *testing.T) {
	r := require.New(t)
	servers.Mark(t)
	ctx := context.Background()

	listed, err := engine.ListTags(ctx, pattern)
	r.NoError(err)

	whitelist := sess.Config.WhitelistString()
	for _, tag := range workflow.Tags(listed) {
		t.Run(tag, func(t *testing.T) {
			r := require.New(t)
			rr, err := engine.Check(ctx, pattern, &foreman.Options{Tags: tag, Whitelist: whitelist})
			r.NoError(err)
			requireNoFail(r, rr)
			requireExit(r, rr, 0)
		})
	}
}

func TestCheckHammerPing(t *testing.T) {
	r := require.New(t)
	servers.Mark(t)

	rr, err := engine.Check(context.Background(), pattern, &foreman.Options{Label: "hammer-ping"})
	r.NoError(err)
	requireNoFail(r, rr)
}

func TestPreUpgradeHealthCheck(t *testing.T) {
	r := require.New(t)
	servers.Mark(t)

	rr, err := engine.Check(context.Background(), pattern, &foreman.Options{Tags: "pre-upgrade"})
	r.NoError(err)
	requireNoFail(r, rr)
}
