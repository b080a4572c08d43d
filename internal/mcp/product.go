package mcp

import (
	"context"
	"fmt"

	"github.com/deixis/testfm/internal/product"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type productParams struct {
	Role string `json:"role,omitempty" jsonschema:"satellite or capsule. Defaults to satellite."`
}

func (h *handler) productHandler(ctx context.Context, req *mcp.CallToolRequest, params productParams) (*mcp.CallToolResult, any, error) {
	role := product.Satellite
	if params.Role != "" {
		r, err := product.ParseRole(params.Role)
		if err != nil {
			return errorResult(err.Error())
		}
		role = r
	}

	label, err := h.prober.Probe(ctx, role)
	if err != nil {
		return errorResult(fmt.Sprintf("product probe failed: %v", err))
	}
	return textResult(fmt.Sprintf("Role: %s\nCode: %s\nVersion: %s\n", role, label.Code, label.Version))
}
