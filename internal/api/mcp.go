package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/aidbud/internal/conversation"
)

// NewMCPServer creates an MCP server exposing the assistant as tools, so an
// MCP host can run first aid turns and manage the context toggles.
func NewMCPServer(deps AppDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"aidbud",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("aidbud — conversational first aid assistant with per-conversation memory."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("first_aid_query",
			mcp.WithDescription("Ask the first aid assistant a question, optionally with attachment paths or URLs."),
			mcp.WithString("query", mcp.Description("The question or situation description")),
			mcp.WithArray("attachment_paths", mcp.Description("Local paths or URLs of images and documents")),
		),
		mcpQuery(deps),
	)

	s.AddTool(
		mcp.NewTool("set_situation",
			mcp.WithDescription("Update the context toggles: triage protocol, first aid availability, current situation."),
			mcp.WithString("section", mcp.Description("One of: triage, first_aid, current_situation"), mcp.Required()),
			mcp.WithBoolean("enabled", mcp.Description("Enable or disable the section")),
			mcp.WithString("availability", mcp.Description("First aid availability: Immediate, Non-Immediate, or Unavailable")),
			mcp.WithString("situation", mcp.Description("Current situation text")),
			mcp.WithObject("protocol", mcp.Description("Triage protocol: level name to criteria")),
		),
		mcpSetSituation(deps),
	)

	s.AddTool(
		mcp.NewTool("reset_conversation",
			mcp.WithDescription("Start a fresh conversation with an empty transcript and patient card."),
		),
		mcpResetConversation(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"aidbud://pcard",
			"Patient Card",
			mcp.WithResourceDescription("The accumulated patient card for the active conversation"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePCard(deps),
	)

	return s
}

func mcpQuery(deps AppDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := req.GetString("query", "")
		paths := req.GetStringSlice("attachment_paths", nil)

		conversationID := deps.Conversation.ID()
		result, err := deps.Orchestrator.Run(ctx, conversationID, query, paths)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		deps.Conversation.Append(conversation.Message{
			Role:            conversation.RoleUser,
			Content:         query,
			AttachmentPaths: paths,
		})
		deps.Conversation.Append(conversation.Message{
			Role:    conversation.RoleAssistant,
			Content: result.Response,
		})
		deps.Conversation.UpdateCard(result.Card)

		payload, err := json.Marshal(result)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to encode result: %v", err)), nil
		}
		return mcpText(string(payload)), nil
	}
}

func mcpSetSituation(deps AppDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		section, err := req.RequireString("section")
		if err != nil {
			return mcpError("section is required"), nil
		}

		var update SituationUpdate
		switch section {
		case "triage":
			update.Triage = &struct {
				Enabled  *bool             `json:"enabled"`
				Protocol map[string]string `json:"protocol"`
			}{}
			if enabled, ok := boolArg(req, "enabled"); ok {
				update.Triage.Enabled = &enabled
			}
			if protocol := stringMapArg(req, "protocol"); protocol != nil {
				update.Triage.Protocol = protocol
			}
		case "first_aid":
			update.FirstAid = &struct {
				Enabled      *bool   `json:"enabled"`
				Availability *string `json:"availability"`
			}{}
			if enabled, ok := boolArg(req, "enabled"); ok {
				update.FirstAid.Enabled = &enabled
			}
			if availability := req.GetString("availability", ""); availability != "" {
				update.FirstAid.Availability = &availability
			}
		case "current_situation":
			update.Current = &struct {
				Enabled   *bool   `json:"enabled"`
				Situation *string `json:"situation"`
			}{}
			if enabled, ok := boolArg(req, "enabled"); ok {
				update.Current.Enabled = &enabled
			}
			if text := req.GetString("situation", ""); text != "" {
				update.Current.Situation = &text
			}
		default:
			return mcpError("section must be one of: triage, first_aid, current_situation"), nil
		}

		if err := applySituation(deps.Situation, update); err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(fmt.Sprintf("updated %s", section)), nil
	}
}

func mcpResetConversation(deps AppDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := deps.Conversation.Reset()
		return mcpText(fmt.Sprintf("started conversation %d", id)), nil
	}
}

func mcpResourcePCard(deps AppDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		payload, err := json.Marshal(map[string]any{
			"conversation_id": deps.Conversation.ID(),
			"pcard":           deps.Conversation.Card(),
		})
		if err != nil {
			return nil, fmt.Errorf("encoding patient card: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(payload),
			},
		}, nil
	}
}

func boolArg(req mcp.CallToolRequest, name string) (bool, bool) {
	args := req.GetArguments()
	raw, ok := args[name]
	if !ok {
		return false, false
	}
	value, ok := raw.(bool)
	return value, ok
}

func stringMapArg(req mcp.CallToolRequest, name string) map[string]string {
	args := req.GetArguments()
	raw, ok := args[name].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for key, value := range raw {
		if s, ok := value.(string); ok {
			out[key] = s
		}
	}
	return out
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
