// Package mcp provides the testfm MCP server, exposing the health
// operations as tools and publishing model instructions.
package mcp

import (
	"context"
	_ "embed"
	"net/url"
	"time"

	"github.com/deixis/testfm"
	"github.com/deixis/testfm/internal/config"
	"github.com/deixis/testfm/internal/product"
	"github.com/deixis/testfm/internal/report"
	"github.com/deixis/testfm/internal/workflow"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	engine *workflow.Engine
	prober *product.Prober // nil disables fm_product
	store  report.Store
}

// NewServer creates an MCP server with all testfm tools registered. Runs
// executed through the engine are saved to store for fm_inspect.
func NewServer(engine *workflow.Engine, prober *product.Prober, store report.Store) *mcp.Server {
	engine.Store = store
	h := &handler{engine: engine, prober: prober, store: store}

	mcpOpts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
		InitializedHandler: func(ctx context.Context, req *mcp.InitializedRequest) {
			h.updateConfigFromRoots(ctx, req.Session)
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "testfm", Version: testfm.Version}, mcpOpts)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "fm_health_list",
		Description: "List the health checks foreman-maintain knows about on every host of a pattern, optionally restricted to a tag.",
	}, h.listHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "fm_health_list_tags",
		Description: "List the tags health checks are grouped under.",
	}, h.listTagsHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "fm_health_check",
		Description: `Run foreman-maintain health check on every host of a pattern.

Select checks with tags or label (label wins when both are set). Set each_tag to check
every listed tag in turn, stopping at the first failing tag. Results are stored for
drill-down via fm_inspect.`,
	}, h.checkHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "fm_inspect",
		Description: `Drill into a stored fm_health_* run.

Filter by host, by text found in a check description, or both. With neither, every
finding of the run is returned.`,
	}, h.inspectHandler)

	if prober != nil {
		mcp.AddTool(s, &mcp.Tool{
			Name:        "fm_product",
			Description: "Report the Satellite or Capsule release installed on the inventory group for a role.",
		}, h.productHandler)
	}

	return s
}

// updateConfigFromRoots queries the client for MCP roots and reloads the
// engine's configuration from the first file root. The executor is left
// as built at startup.
func (h *handler) updateConfigFromRoots(ctx context.Context, session *mcp.ServerSession) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	roots, err := session.ListRoots(ctx, &mcp.ListRootsParams{})
	if err != nil || len(roots.Roots) == 0 {
		return
	}
	u, err := url.Parse(roots.Roots[0].URI)
	if err != nil || u.Scheme != "file" {
		return
	}
	loaded, err := config.Load(u.Path)
	if err != nil {
		h.engine.Log.Warn().Err(err).Str("root", u.Path).Msg("ignoring client root")
		return
	}
	h.engine.Config = loaded.Config
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
