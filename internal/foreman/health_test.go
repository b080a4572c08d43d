package foreman

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthList(t *testing.T) {
	h := Health{}
	assert.Equal(t, []string{"foreman-maintain", "health", "list"}, h.List(nil))
	assert.Equal(t,
		[]string{"foreman-maintain", "health", "list", "--tags", "pre-upgrade"},
		h.List(&Options{Tags: "pre-upgrade"}))
	assert.Equal(t, []string{"foreman-maintain", "health", "list-tags"}, h.ListTags())
}

func TestHealthCheck(t *testing.T) {
	h := Health{}
	tests := []struct {
		name string
		opts *Options
		want []string
	}{
		{"nil options", nil, []string{"foreman-maintain", "health", "check"}},
		{"zero options", &Options{}, []string{"foreman-maintain", "health", "check"}},
		{
			"label",
			&Options{Label: "hammer-ping"},
			[]string{"foreman-maintain", "health", "check", "--label", "hammer-ping"},
		},
		{
			"tags with whitelist",
			&Options{Tags: "default", Whitelist: "disk-performance, packages-install"},
			[]string{"foreman-maintain", "health", "check", "--tags", "default", "--whitelist", "disk-performance, packages-install"},
		},
		{
			"label wins over tags",
			&Options{Tags: "default", Label: "check-yum-exclude-list"},
			[]string{"foreman-maintain", "health", "check", "--label", "check-yum-exclude-list"},
		},
		{
			"assume yes",
			&Options{Label: "check-upstream-repository", AssumeYes: true},
			[]string{"foreman-maintain", "health", "check", "--label", "check-upstream-repository", "--assumeyes"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.Check(tt.opts))
		})
	}
}

func TestHealthCustomTool(t *testing.T) {
	h := Health{Tool: "satellite-maintain"}
	assert.Equal(t, []string{"satellite-maintain", "health", "list-tags"}, h.ListTags())
	assert.Equal(t,
		[]string{"satellite-maintain", "health", "check", "--label", "x", "--assumeyes"},
		h.CheckArgs("--label", "x", "--assumeyes"))
}

func TestAdvanced(t *testing.T) {
	a := Advanced{}
	assert.Equal(t, []string{"foreman-maintain", "service", "stop"}, a.ServiceStop())
	assert.Equal(t, []string{"foreman-maintain", "service", "start"}, a.ServiceStart())
	assert.Equal(t, []string{"katello-service", "stop"}, a.KatelloServiceStop())
	assert.Equal(t,
		[]string{"hammer", "defaults", "add", "--param-name", "organization_id", "--param-value", "1"},
		HammerDefaultsAdd("organization_id", "1"))
}

func TestCommandRoundTrip(t *testing.T) {
	argv := Health{}.Check(&Options{Tags: "default", Whitelist: "disk-performance, packages-install"})
	line := Command(argv)
	assert.Equal(t, `foreman-maintain health check --tags default --whitelist 'disk-performance, packages-install'`, line)

	back, err := Split(line)
	require.NoError(t, err)
	assert.Equal(t, argv, back)
}
