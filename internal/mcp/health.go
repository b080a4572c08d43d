package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/deixis/testfm/internal/foreman"
	"github.com/deixis/testfm/internal/report"
	"github.com/deixis/testfm/internal/workflow"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type listParams struct {
	Pattern string `json:"pattern,omitempty" jsonschema:"inventory host pattern, e.g. satellite or capsule. Defaults to the configured pattern."`
	Tags    string `json:"tags,omitempty" jsonschema:"only list checks carrying this tag, e.g. pre-upgrade"`
}

type listTagsParams struct {
	Pattern string `json:"pattern,omitempty" jsonschema:"inventory host pattern. Defaults to the configured pattern."`
}

type checkParams struct {
	Pattern   string `json:"pattern,omitempty" jsonschema:"inventory host pattern. Defaults to the configured pattern."`
	Tags      string `json:"tags,omitempty" jsonschema:"run only checks carrying this tag"`
	Label     string `json:"label,omitempty" jsonschema:"run a single check by label, e.g. hammer-ping. Wins over tags."`
	Whitelist string `json:"whitelist,omitempty" jsonschema:"comma-separated check labels to skip"`
	AssumeYes bool   `json:"assumeyes,omitempty" jsonschema:"answer yes to every prompt, letting checks apply fixes"`
	EachTag   bool   `json:"each_tag,omitempty" jsonschema:"check every listed tag in turn with the whitelist (configured default when empty)"`
}

func (h *handler) listHandler(ctx context.Context, req *mcp.CallToolRequest, params listParams) (*mcp.CallToolResult, any, error) {
	rr, err := h.engine.List(ctx, params.Pattern, &foreman.Options{Tags: params.Tags})
	if err != nil {
		return errorResult(fmt.Sprintf("list failed: %v", err))
	}
	return textResult(formatRun(rr, true))
}

func (h *handler) listTagsHandler(ctx context.Context, req *mcp.CallToolRequest, params listTagsParams) (*mcp.CallToolResult, any, error) {
	rr, err := h.engine.ListTags(ctx, params.Pattern)
	if err != nil {
		return errorResult(fmt.Sprintf("list-tags failed: %v", err))
	}
	var b strings.Builder
	b.WriteString(formatRun(rr, false))
	if tags := workflow.Tags(rr); len(tags) > 0 {
		fmt.Fprintf(&b, "\nTags: %s\n", strings.Join(tags, ", "))
	}
	return textResult(b.String())
}

func (h *handler) checkHandler(ctx context.Context, req *mcp.CallToolRequest, params checkParams) (*mcp.CallToolResult, any, error) {
	if params.EachTag {
		res, err := h.engine.CheckEachTag(ctx, params.Pattern, params.Whitelist)
		if err != nil {
			return errorResult(fmt.Sprintf("check failed: %v", err))
		}
		return textResult(formatSweep(res))
	}

	rr, err := h.engine.Check(ctx, params.Pattern, &foreman.Options{
		Tags:      params.Tags,
		Label:     params.Label,
		Whitelist: params.Whitelist,
		AssumeYes: params.AssumeYes,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("check failed: %v", err))
	}
	return textResult(formatRun(rr, false))
}

// formatRun renders a run header, a status line per host and the failing
// hosts' findings. With output set, each host's stdout follows its status.
func formatRun(rr *report.RunResult, output bool) string {
	var b strings.Builder

	if rr.Failed() {
		fmt.Fprintln(&b, "Status: FAIL")
	} else {
		fmt.Fprintln(&b, "Status: PASS")
	}
	fmt.Fprintf(&b, "Run: %s\n", rr.ID)
	fmt.Fprintf(&b, "Command: %s\n", rr.Command)
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "Hosts:")
	for _, host := range rr.Hosts {
		status := "ok"
		if host.Failed() {
			status = "fail"
		}
		fmt.Fprintf(&b, "  %s: %s (exit %d", host.Host, status, host.ExitCode)
		if n := len(host.Warnings); n > 0 {
			fmt.Fprintf(&b, ", %d warnings", n)
		}
		fmt.Fprintln(&b, ")")
		if output && host.Stdout != "" {
			for _, line := range strings.Split(strings.TrimRight(foreman.StripANSI(host.Stdout), "\n"), "\n") {
				fmt.Fprintf(&b, "    %s\n", line)
			}
		}
	}

	if failures := workflow.FormatFailures(rr); len(failures) > 0 {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "Failures:")
		for _, f := range failures {
			fmt.Fprintf(&b, "  %s\n", f)
		}
		fmt.Fprintln(&b)
		fmt.Fprintf(&b, "Inspect with fm_inspect(run_id=%q, host=\"<host>\").\n", rr.ID)
	}
	return b.String()
}

func formatSweep(res *workflow.SweepResult) string {
	var b strings.Builder

	if res.Passed() {
		fmt.Fprintln(&b, "Status: PASS")
	} else {
		fmt.Fprintln(&b, "Status: FAIL")
	}
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "Tags:")
	for i, s := range res.Steps {
		fmt.Fprintf(&b, "  %s: %s", s.Tag, s.Status)
		if i < len(res.Runs) {
			fmt.Fprintf(&b, " (run %s)", res.Runs[i].ID)
		}
		fmt.Fprintln(&b)
	}

	if !res.Passed() {
		failed := res.Steps[res.FailedIdx]
		fmt.Fprintln(&b)
		fmt.Fprintf(&b, "Failed tag: %s\n", failed.Tag)
		fmt.Fprintln(&b, failed.Output)
	}
	return b.String()
}
