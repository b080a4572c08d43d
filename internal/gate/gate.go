// Package gate decides, at the start of a test, whether the test applies
// to the server release and role the session is running against.
package gate

import (
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/deixis/testfm/internal/product"
)

// Mark tags a test for selection.
type Mark string

// Capsule marks tests that also apply to Capsule servers.
const Capsule Mark = "capsule"

// Gate holds the session facts every gate decision is made against.
type Gate struct {
	Label   product.Label
	Pattern string // host pattern under test
	Marks   []Mark // when non-empty, only tests carrying one of these run
}

// New returns a Gate. Running against the capsule pattern without an
// explicit mark filter selects capsule-marked tests only.
func New(label product.Label, pattern string, marks []string) *Gate {
	g := &Gate{Label: label, Pattern: pattern}
	for _, m := range marks {
		if m = strings.TrimSpace(m); m != "" {
			g.Marks = append(g.Marks, Mark(m))
		}
	}
	if len(g.Marks) == 0 && pattern == string(product.Capsule) {
		g.Marks = []Mark{Capsule}
	}
	return g
}

// Stubbed skips a test that is not implemented yet.
func Stubbed(t testing.TB, reason string) {
	t.Helper()
	if reason == "" {
		reason = "not implemented"
	}
	t.Skip("stubbed: " + reason)
}

// RunOnlyOn skips unless the session label is one of codes.
func (g *Gate) RunOnlyOn(t testing.TB, codes ...string) {
	t.Helper()
	if reason, skip := g.runOnlyOn(codes); skip {
		t.Skip(reason)
	}
}

// StartsIn skips on releases older than version.
func (g *Gate) StartsIn(t testing.TB, version string) {
	t.Helper()
	reason, skip, err := g.startsIn(version)
	if err != nil {
		t.Fatalf("StartsIn(%q): %v", version, err)
	}
	if skip {
		t.Skip(reason)
	}
}

// EndsIn skips on releases newer than version.
func (g *Gate) EndsIn(t testing.TB, version string) {
	t.Helper()
	reason, skip, err := g.endsIn(version)
	if err != nil {
		t.Fatalf("EndsIn(%q): %v", version, err)
	}
	if skip {
		t.Skip(reason)
	}
}

// Mark declares the marks a test carries and skips it when a mark filter
// is active and none of them is selected.
func (g *Gate) Mark(t testing.TB, marks ...Mark) {
	t.Helper()
	if reason, skip := g.mark(marks); skip {
		t.Skip(reason)
	}
}

func (g *Gate) runOnlyOn(codes []string) (string, bool) {
	if slices.Contains(codes, g.Label.Code) {
		return "", false
	}
	return fmt.Sprintf("Server version is '%s' and this test will run only on '%s' version",
		g.Label.Code, strings.Join(codes, ", ")), true
}

func (g *Gate) startsIn(version string) (string, bool, error) {
	ok, err := g.Label.AtLeast(version)
	if err != nil || ok {
		return "", false, err
	}
	return fmt.Sprintf("Server version is '%s' and this test will run only on %s '%s' onward",
		g.Label.Version, g.Pattern, version), true, nil
}

func (g *Gate) endsIn(version string) (string, bool, error) {
	ok, err := g.Label.AtMost(version)
	if err != nil || ok {
		return "", false, err
	}
	return fmt.Sprintf("Server version is '%s' and this test will run only on %s <= '%s'",
		g.Label.Version, g.Pattern, version), true, nil
}

func (g *Gate) mark(marks []Mark) (string, bool) {
	if len(g.Marks) == 0 {
		return "", false
	}
	for _, m := range marks {
		if slices.Contains(g.Marks, m) {
			return "", false
		}
	}
	return fmt.Sprintf("not selected by marks %v", g.Marks), true
}
