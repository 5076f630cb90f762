package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/agentdesk/internal/catalog"
	"github.com/kalambet/agentdesk/internal/composer"
	"github.com/kalambet/agentdesk/internal/knowledge"
	"github.com/kalambet/agentdesk/internal/provision"
	"github.com/kalambet/agentdesk/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store   *storage.Store
	Service *provision.Service
	Catalog *catalog.Catalog
}

// NewMCPServer creates an MCP server with the agentdesk tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"agentdesk",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("agentdesk provisions conversational sales and support agents and generates their system prompts."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("synthesize_prompt",
			mcp.WithDescription("Generate an agent system prompt from configuration without saving it."),
			mcp.WithString("variant", mcp.Description("Agent variant: sales, service or integrated")),
			mcp.WithString("product", mcp.Description("Product id or name, used when variant is empty")),
			mcp.WithString("config", mcp.Description("JSON object of agent options (tone, language, additional_fields, ...)")),
			mcp.WithString("business_name", mcp.Description("Business name used in the prompt")),
			mcp.WithString("business_description", mcp.Description("Fallback business overview")),
		),
		mcpSynthesizePrompt(deps),
	)

	s.AddTool(
		mcp.NewTool("get_merchant",
			mcp.WithDescription("Show a merchant's business profile and products."),
			mcp.WithString("merchant_id", mcp.Description("Merchant id")),
			mcp.WithString("email", mcp.Description("Merchant email, used when merchant_id is empty")),
		),
		mcpGetMerchant(deps),
	)

	s.AddTool(
		mcp.NewTool("save_config",
			mcp.WithDescription("Save a product's agent options and regenerate its prompt."),
			mcp.WithString("user_product_id", mcp.Description("Subscribed product id"), mcp.Required()),
			mcp.WithString("config", mcp.Description("JSON object of agent options"), mcp.Required()),
			mcp.WithString("business_name", mcp.Description("Optional new business name")),
		),
		mcpSaveConfig(deps),
	)

	s.AddTool(
		mcp.NewTool("list_captures",
			mcp.WithDescription("List leads and support tickets captured from a merchant's agent conversations."),
			mcp.WithString("merchant_id", mcp.Description("Merchant id"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
		),
		mcpListCaptures(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"catalog://products",
			"Product Catalog",
			mcp.WithResourceDescription("Subscription products and their agent variants"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceJSON(func() any { return deps.Catalog.All() }),
	)

	s.AddResource(
		mcp.NewResource(
			"catalog://policy-templates",
			"Policy Templates",
			mcp.WithResourceDescription("Built-in customer service policy templates"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceJSON(func() any { return knowledge.Templates() }),
	)

	return s
}

func decodeOptions(raw string) (composer.Options, error) {
	var opts composer.Options
	if raw == "" {
		return opts, nil
	}
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return composer.Options{}, fmt.Errorf("invalid config JSON: %w", err)
	}
	return opts, nil
}

func mcpSynthesizePrompt(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		opts, err := decodeOptions(req.GetString("config", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}
		sreq := SynthesizeRequest{
			Variant: req.GetString("variant", ""),
			Product: req.GetString("product", ""),
			Config:  opts,
			Business: composer.BusinessProfile{
				Name:        req.GetString("business_name", ""),
				Description: req.GetString("business_description", ""),
			},
		}
		if p, ok := deps.Catalog.ByID(sreq.Product); ok && sreq.Variant == "" {
			sreq.Variant = p.Variant.String()
		}

		res, err := Synthesize(sreq)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(res.Prompt), nil
	}
}

func mcpGetMerchant(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := req.GetString("merchant_id", "")
		email := req.GetString("email", "")

		var snap provision.Snapshot
		var err error
		switch {
		case id != "":
			snap, err = deps.Service.Snapshot(ctx, id)
		case email != "":
			snap, err = deps.Service.SnapshotByEmail(ctx, email)
		default:
			return mcpError("merchant_id or email is required"), nil
		}
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError("merchant not found"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load merchant: %v", err)), nil
		}
		return mcpJSON(snap)
	}
}

func mcpSaveConfig(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("user_product_id")
		if err != nil {
			return mcpError("user_product_id is required"), nil
		}
		raw, err := req.RequireString("config")
		if err != nil {
			return mcpError("config is required"), nil
		}
		opts, err := decodeOptions(raw)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		res, err := deps.Service.SaveConfig(ctx, id, opts, req.GetString("business_name", ""))
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError("product not found"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save config: %v", err)), nil
		}
		return mcpText(res.Prompt), nil
	}
}

func mcpListCaptures(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		merchantID, err := req.RequireString("merchant_id")
		if err != nil {
			return mcpError("merchant_id is required"), nil
		}
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		captures, err := deps.Store.ListCaptures(merchantID, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list captures: %v", err)), nil
		}
		return mcpJSON(captures)
	}
}

func mcpResourceJSON(load func() any) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(load())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s: %w", req.Params.URI, err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
