package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/deixis/testfm/internal/report"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type inspectParams struct {
	RunID string `json:"run_id" jsonschema:"the run ID from an fm_health_* result"`
	Host  string `json:"host,omitempty" jsonschema:"only findings from this host"`
	Text  string `json:"text,omitempty" jsonschema:"only findings whose line contains this text, case-insensitively"`
}

func (h *handler) inspectHandler(ctx context.Context, req *mcp.CallToolRequest, params inspectParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}

	result, err := h.store.Load(params.RunID)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}

	var diagnostics []report.Diagnostic
	switch {
	case params.Host != "":
		if result.Host(params.Host) == nil {
			return errorResult(fmt.Sprintf("Host %s was not contacted in run %s.", params.Host, params.RunID))
		}
		diagnostics = report.ByHost(result, params.Host)
	case params.Text != "":
		diagnostics = report.ByText(result, params.Text)
	default:
		diagnostics = report.All(result)
	}
	if params.Host != "" && params.Text != "" {
		diagnostics = filterText(diagnostics, params.Text)
	}

	if len(diagnostics) == 0 {
		return textResult(fmt.Sprintf("No findings in run %s (%s).", params.RunID, result.Kind))
	}
	return textResult(formatInspectOutput(result, diagnostics))
}

func filterText(ds []report.Diagnostic, text string) []report.Diagnostic {
	needle := strings.ToLower(text)
	var out []report.Diagnostic
	for _, d := range ds {
		if strings.Contains(strings.ToLower(d.Message), needle) {
			out = append(out, d)
		}
	}
	return out
}

func formatInspectOutput(rr *report.RunResult, diagnostics []report.Diagnostic) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run: %s (%s)\n", rr.ID, rr.Kind)
	fmt.Fprintf(&b, "Command: %s\n", rr.Command)
	fmt.Fprintln(&b)

	// Group by host, keeping run order.
	var hosts []string
	byHost := make(map[string][]report.Diagnostic)
	for _, d := range diagnostics {
		if _, ok := byHost[d.Host]; !ok {
			hosts = append(hosts, d.Host)
		}
		byHost[d.Host] = append(byHost[d.Host], d)
	}
	for _, host := range hosts {
		fmt.Fprintf(&b, "%s:\n", host)
		for _, d := range byHost[host] {
			fmt.Fprintf(&b, "  [%s] %s\n", d.Source, d.Message)
		}
	}

	// A single host's failure is easier to read with its full output.
	if len(hosts) == 1 {
		if h := rr.Host(hosts[0]); h != nil && h.Failed() && h.Stderr != "" {
			fmt.Fprintln(&b)
			fmt.Fprintln(&b, "Stderr:")
			for _, line := range strings.Split(strings.TrimRight(h.Stderr, "\n"), "\n") {
				fmt.Fprintf(&b, "    %s\n", line)
			}
		}
	}
	return b.String()
}
