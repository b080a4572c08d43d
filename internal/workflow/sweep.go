package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/deixis/testfm/internal/foreman"
	"github.com/deixis/testfm/internal/report"
)

// Step statuses reported by a sweep.
const (
	StepPass    = "pass"
	StepFail    = "fail"
	StepSkipped = "skipped"
)

// SweepResult holds the outcome of checking every listed tag.
type SweepResult struct {
	Runs      []*report.RunResult // one per tag that ran
	Steps     []StepResult
	FailedIdx int // -1 if all passed
}

// StepResult holds the outcome of checking a single tag.
type StepResult struct {
	Tag    string
	Status string
	Output string // failing hosts, only on failure
}

// Passed reports whether every tag passed.
func (s *SweepResult) Passed() bool { return s.FailedIdx < 0 }

// CheckEachTag lists the available tags and checks them one at a time with
// the given whitelist, stopping at the first tag that fails. An empty
// whitelist uses the configured one.
func (e *Engine) CheckEachTag(ctx context.Context, pattern, whitelist string) (*SweepResult, error) {
	listed, err := e.ListTags(ctx, pattern)
	if err != nil {
		return nil, err
	}
	tags := Tags(listed)
	if len(tags) == 0 {
		return nil, fmt.Errorf("no tags listed on %s", e.resolvePattern(pattern))
	}
	if whitelist == "" {
		whitelist = e.Config.WhitelistString()
	}

	res := &SweepResult{Steps: make([]StepResult, len(tags)), FailedIdx: -1}
	for i, tag := range tags {
		res.Steps[i] = StepResult{Tag: tag, Status: StepSkipped}
	}
	for i, tag := range tags {
		rr, err := e.Check(ctx, pattern, &foreman.Options{Tags: tag, Whitelist: whitelist})
		if err != nil {
			return res, fmt.Errorf("checking tag %s: %w", tag, err)
		}
		res.Runs = append(res.Runs, rr)
		if rr.Failed() {
			res.Steps[i] = StepResult{Tag: tag, Status: StepFail, Output: strings.Join(FormatFailures(rr), "\n")}
			res.FailedIdx = i
			break
		}
		res.Steps[i] = StepResult{Tag: tag, Status: StepPass}
	}
	return res, nil
}

// FormatFailures renders one line per failing host, naming the first
// reason it failed.
func FormatFailures(rr *report.RunResult) []string {
	var out []string
	for _, h := range rr.Hosts {
		if !h.Failed() {
			continue
		}
		out = append(out, fmt.Sprintf("%s: %s", h.Host, failureReason(h)))
	}
	return out
}

func failureReason(h report.HostOutcome) string {
	switch {
	case h.Unreachable:
		if h.Message != "" {
			return "unreachable: " + FirstLine(h.Message)
		}
		return "unreachable"
	case len(h.Failures) > 0:
		return h.Failures[0]
	case h.Stderr != "":
		return fmt.Sprintf("exit %d: %s", h.ExitCode, FirstLine(h.Stderr))
	}
	return fmt.Sprintf("exit %d", h.ExitCode)
}

// FirstLine returns the first non-empty line of s, trimmed.
func FirstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
