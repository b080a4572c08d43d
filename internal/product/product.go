// Package product identifies which Satellite or Capsule release a host
// group runs, as a short code (sat67, cap65, ...) and a dotted version.
package product

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/deixis/testfm/internal/runner"
	"github.com/rs/zerolog"
)

// Role is a server role in the deployment topology. Its value doubles as
// the inventory group name.
type Role string

const (
	Satellite Role = "satellite"
	Capsule   Role = "capsule"
)

// ErrUnknownRole is returned for roles other than satellite and capsule.
var ErrUnknownRole = errors.New("unknown server role")

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case Satellite, Capsule:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

func (r Role) codePrefix() string {
	if r == Capsule {
		return "cap"
	}
	return "sat"
}

// DefaultPackage returns the RPM whose version identifies the role.
func (r Role) DefaultPackage() string {
	if r == Capsule {
		return "satellite-capsule"
	}
	return "satellite"
}

// Label names a release: Code is the short form used by RunOnlyOn,
// Version the major.minor used by StartsIn and EndsIn.
type Label struct {
	Code    string `json:"code"`
	Version string `json:"version"`
}

func (l Label) String() string {
	return l.Code + " (" + l.Version + ")"
}

// supported lists recognised releases, newest first. Anything else maps
// to oldest.
var supported = []string{"6.7", "6.6", "6.5", "6.4", "6.3", "6.2"}

const oldest = "6.1"

// LabelFor maps a package version such as "6.7.0" to its label by prefix.
func LabelFor(role Role, version string) Label {
	v := oldest
	for _, s := range supported {
		if strings.HasPrefix(version, s) {
			v = s
			break
		}
	}
	return Label{
		Code:    role.codePrefix() + strings.ReplaceAll(v, ".", ""),
		Version: v,
	}
}

// AtLeast reports whether the label's release is v or newer.
func (l Label) AtLeast(v string) (bool, error) {
	c, err := l.compare(v)
	return c >= 0, err
}

// AtMost reports whether the label's release is v or older.
func (l Label) AtMost(v string) (bool, error) {
	c, err := l.compare(v)
	return c <= 0, err
}

func (l Label) compare(v string) (int, error) {
	have, err := semver.NewVersion(l.Version)
	if err != nil {
		return 0, fmt.Errorf("parsing release %q: %w", l.Version, err)
	}
	want, err := semver.NewVersion(v)
	if err != nil {
		return 0, fmt.Errorf("parsing release %q: %w", v, err)
	}
	return have.Compare(want), nil
}

// ProbeCommand returns the ansible one-line invocation that prints the
// installed version of pkg on every host of the role's group.
func ProbeCommand(inventory string, role Role, pkg string) []string {
	return []string{
		"ansible", "-i", inventory, string(role),
		"--user", "root",
		"-m", "shell",
		"-a", "rpm -q " + pkg + " --queryformat=%{VERSION}",
		"-o",
	}
}

// ParseVersion extracts the version from one-line ansible output: the
// last space-delimited token of the first line.
func ParseVersion(out string) string {
	line, _, _ := strings.Cut(out, "\n")
	fields := strings.Split(strings.TrimRight(line, "\r"), " ")
	return fields[len(fields)-1]
}

// CommandRunner executes local commands.
// Implemented by runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, argv []string) (*runner.Result, error)
}

// Prober detects release labels and remembers them for the session.
type Prober struct {
	Runner    CommandRunner
	Inventory string
	Packages  map[Role]string // overrides Role.DefaultPackage
	Log       zerolog.Logger

	mu    sync.Mutex
	cache map[Role]Label
}

// Probe returns the label for role, running the probe on first use.
func (p *Prober) Probe(ctx context.Context, role Role) (Label, error) {
	if _, err := ParseRole(string(role)); err != nil {
		return Label{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.cache[role]; ok {
		return l, nil
	}

	pkg := p.Packages[role]
	if pkg == "" {
		pkg = role.DefaultPackage()
	}
	res, err := p.Runner.Run(ctx, ProbeCommand(p.Inventory, role, pkg))
	if err != nil {
		return Label{}, fmt.Errorf("probing %s version: %w", role, err)
	}
	if strings.TrimSpace(string(res.Stdout)) == "" {
		return Label{}, fmt.Errorf("probing %s version: no output (exit %d): %s",
			role, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}

	version := ParseVersion(string(res.Stdout))
	l := LabelFor(role, version)
	p.Log.Info().Str("role", string(role)).Str("package", pkg).
		Str("version", version).Str("label", l.Code).Msg("detected release")

	if p.cache == nil {
		p.cache = make(map[Role]Label)
	}
	p.cache[role] = l
	return l, nil
}
