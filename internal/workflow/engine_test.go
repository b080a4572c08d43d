package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/deixis/testfm/internal/config"
	"github.com/deixis/testfm/internal/foreman"
	"github.com/deixis/testfm/internal/remote"
	"github.com/deixis/testfm/internal/report"
	"github.com/rs/zerolog"
)

// fakeExecutor is a test double for remote.Executor. Results are keyed by
// the shell rendering of argv, or by module name for Module calls.
type fakeExecutor struct {
	Results map[string]remote.Contacted
	Err     map[string]error
	Calls   []string
	Args    []map[string]any
}

func (f *fakeExecutor) lookup(key string) (remote.Contacted, error) {
	f.Calls = append(f.Calls, key)
	if err, ok := f.Err[key]; ok {
		return nil, err
	}
	if c, ok := f.Results[key]; ok {
		return c, nil
	}
	return remote.Contacted{"sat.example.com": {RC: 0}}, nil
}

func (f *fakeExecutor) Command(_ context.Context, _ string, argv []string) (remote.Contacted, error) {
	return f.lookup(foreman.Command(argv))
}

func (f *fakeExecutor) Module(_ context.Context, _, module string, args map[string]any) (remote.Contacted, error) {
	f.Args = append(f.Args, args)
	return f.lookup(module)
}

func (f *fakeExecutor) Expect(_ context.Context, _ string, argv []string, _ map[string]string) (remote.Contacted, error) {
	return f.lookup("expect " + foreman.Command(argv))
}

// memStore records saved runs.
type memStore struct{ saved []*report.RunResult }

func (m *memStore) Save(r *report.RunResult) error {
	m.saved = append(m.saved, r)
	return nil
}

func (m *memStore) Load(string) (*report.RunResult, error) {
	return nil, errors.New("not implemented")
}

func newEngine(fx *fakeExecutor) *Engine {
	return &Engine{Config: &config.Config{}, Exec: fx, Log: zerolog.Nop()}
}

const tagsOutput = "\x1b[36m[default]\x1b[0m\n\x1b[36m[pre-upgrade]\x1b[0m\n"

func TestList_DefaultPattern(t *testing.T) {
	fx := &fakeExecutor{}
	e := newEngine(fx)
	rr, err := e.List(context.Background(), "", &foreman.Options{Tags: "default"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if rr.Kind != report.List {
		t.Errorf("Kind = %q, want list", rr.Kind)
	}
	if rr.Pattern != config.DefaultHostPattern {
		t.Errorf("Pattern = %q, want %q", rr.Pattern, config.DefaultHostPattern)
	}
	if rr.Tags != "default" {
		t.Errorf("Tags = %q, want default", rr.Tags)
	}
	if rr.ID == "" {
		t.Error("expected run id")
	}
	if want := "foreman-maintain health list --tags default"; fx.Calls[0] != want {
		t.Errorf("command = %q, want %q", fx.Calls[0], want)
	}
}

func TestListTags_ParsesTags(t *testing.T) {
	fx := &fakeExecutor{Results: map[string]remote.Contacted{
		"foreman-maintain health list-tags": {"sat.example.com": {Stdout: tagsOutput}},
	}}
	rr, err := newEngine(fx).ListTags(context.Background(), "satellite")
	if err != nil {
		t.Fatalf("ListTags: %v", err)
	}
	got := Tags(rr)
	if len(got) != 2 || got[0] != "default" || got[1] != "pre-upgrade" {
		t.Errorf("Tags = %v, want [default pre-upgrade]", got)
	}
}

func TestCheck_RecordsFailuresPerHost(t *testing.T) {
	fx := &fakeExecutor{Results: map[string]remote.Contacted{
		"foreman-maintain health check --label hammer-ping": {
			"a.example.com": {RC: 0, Stdout: "Check whether all services are running [OK]\n"},
			"b.example.com": {RC: 1, Stdout: "Check whether all services are running [FAIL]\nWARNING: degraded\n"},
		},
	}}
	store := &memStore{}
	e := newEngine(fx)
	e.Store = store

	rr, err := e.Check(context.Background(), "satellite", &foreman.Options{Label: "hammer-ping", Tags: "ignored"})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !rr.Failed() {
		t.Error("expected run to fail")
	}
	if rr.Label != "hammer-ping" || rr.Tags != "" {
		t.Errorf("Label/Tags = %q/%q, want hammer-ping/empty", rr.Label, rr.Tags)
	}
	a, b := rr.Host("a.example.com"), rr.Host("b.example.com")
	if a == nil || b == nil {
		t.Fatalf("missing hosts in %+v", rr.Hosts)
	}
	if a.Failed() {
		t.Errorf("a should pass: %+v", a)
	}
	if len(b.Failures) != 1 || len(b.Warnings) != 1 || b.ExitCode != 1 {
		t.Errorf("b = %+v, want one failure, one warning, rc 1", b)
	}
	if len(store.saved) != 1 || store.saved[0] != rr {
		t.Errorf("store.saved = %v, want the run", store.saved)
	}
}

func TestCheck_UnreachableHost(t *testing.T) {
	fx := &fakeExecutor{Results: map[string]remote.Contacted{
		"foreman-maintain health check": {
			"sat.example.com": {RC: -1, Unreachable: true, Msg: "timed out", Stdout: "FAIL"},
		},
	}}
	rr, err := newEngine(fx).Check(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	h := rr.Host("sat.example.com")
	if !h.Unreachable || len(h.Failures) != 0 {
		t.Errorf("host = %+v, want unreachable without parsed failures", h)
	}
	if got := FormatFailures(rr); len(got) != 1 || got[0] != "sat.example.com: unreachable: timed out" {
		t.Errorf("FormatFailures = %v", got)
	}
}

func TestRun_NoHosts(t *testing.T) {
	fx := &fakeExecutor{Results: map[string]remote.Contacted{
		"foreman-maintain health list": {},
	}}
	_, err := newEngine(fx).List(context.Background(), "nowhere", nil)
	if !errors.Is(err, ErrNoHosts) {
		t.Fatalf("err = %v, want ErrNoHosts", err)
	}
}

func TestRun_ExecutorError(t *testing.T) {
	fx := &fakeExecutor{Err: map[string]error{
		"foreman-maintain health list": remote.NewErrToolUnavailable("ansible"),
	}}
	_, err := newEngine(fx).List(context.Background(), "", nil)
	var unavail remote.ErrToolUnavailable
	if !errors.As(err, &unavail) {
		t.Fatalf("err = %v, want ErrToolUnavailable", err)
	}
}

func TestCheckArgs(t *testing.T) {
	fx := &fakeExecutor{}
	_, err := newEngine(fx).CheckArgs(context.Background(), "", "--label", "check-upstream-repository", "--assumeyes")
	if err != nil {
		t.Fatalf("CheckArgs: %v", err)
	}
	if want := "foreman-maintain health check --label check-upstream-repository --assumeyes"; fx.Calls[0] != want {
		t.Errorf("command = %q, want %q", fx.Calls[0], want)
	}
}

func TestCustomTool(t *testing.T) {
	fx := &fakeExecutor{}
	e := newEngine(fx)
	e.Config.Tool = "satellite-maintain"
	if _, err := e.ListTags(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(fx.Calls[0], "satellite-maintain ") {
		t.Errorf("command = %q, want satellite-maintain prefix", fx.Calls[0])
	}
}

func TestTags_LastReachableHost(t *testing.T) {
	rr := &report.RunResult{Hosts: []report.HostOutcome{
		{Host: "a", Tags: []string{"default"}},
		{Host: "b", Tags: []string{"pre-upgrade"}},
		{Host: "c", Unreachable: true},
	}}
	got := Tags(rr)
	if len(got) != 1 || got[0] != "pre-upgrade" {
		t.Errorf("Tags = %v, want [pre-upgrade]", got)
	}
	if got := Tags(&report.RunResult{}); got != nil {
		t.Errorf("Tags(empty) = %v, want nil", got)
	}
}

func TestFirstLine(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"\n\n  hello \nworld", "hello"},
		{"single", "single"},
	}
	for _, tt := range tests {
		if got := FirstLine(tt.in); got != tt.want {
			t.Errorf("FirstLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
