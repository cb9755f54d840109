package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/botsmith/internal/chat"
	"github.com/kalambet/botsmith/internal/storage"
)

// contentPreviewRunes bounds the extracted text returned by list_training_data.
const contentPreviewRunes = 200

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     storage.Repository
	Responder Responder
}

// NewMCPServer creates an MCP server exposing bots, their training data and
// chat to MCP clients.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"botsmith",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("botsmith: build small business chatbots from uploaded documents and talk to them."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_bots",
			mcp.WithDescription("List all bots with their id, name, description and status."),
		),
		mcpListBots(deps),
	)

	s.AddTool(
		mcp.NewTool("get_bot",
			mcp.WithDescription("Fetch one bot by id."),
			mcp.WithString("bot_id", mcp.Description("Bot id"), mcp.Required()),
		),
		mcpGetBot(deps),
	)

	s.AddTool(
		mcp.NewTool("create_bot",
			mcp.WithDescription("Create a new bot in draft status."),
			mcp.WithString("name", mcp.Description("Display name"), mcp.Required()),
			mcp.WithString("description", mcp.Description("What the bot is for")),
		),
		mcpCreateBot(deps),
	)

	s.AddTool(
		mcp.NewTool("list_training_data",
			mcp.WithDescription("List the training files of a bot with their processing state and a preview of extracted text."),
			mcp.WithString("bot_id", mcp.Description("Bot id"), mcp.Required()),
		),
		mcpListTrainingData(deps),
	)

	s.AddTool(
		mcp.NewTool("chat_with_bot",
			mcp.WithDescription("Send one message to a bot and return its reply. The exchange is not stored."),
			mcp.WithString("bot_id", mcp.Description("Bot id"), mcp.Required()),
			mcp.WithString("message", mcp.Description("User message"), mcp.Required()),
		),
		mcpChatWithBot(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"bots://list",
			"Bots",
			mcp.WithResourceDescription("All bots of the current user as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceBots(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"dashboard://stats",
			"Dashboard Stats",
			mcp.WithResourceDescription("Active bots, conversation count, processing success rate and mean response time"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	return s
}

func mcpListBots(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		bots, err := deps.Store.ListBotsByOwner(storage.DefaultUserID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list bots: %v", err)), nil
		}
		return mcpJSON(bots), nil
	}
}

func mcpGetBot(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("bot_id")
		if err != nil {
			return mcpError("bot_id is required"), nil
		}
		bot, err := deps.Store.GetBot(id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("bot %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get bot: %v", err)), nil
		}
		return mcpJSON(bot), nil
	}
}

func mcpCreateBot(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil || name == "" {
			return mcpError("name is required"), nil
		}
		in := storage.BotInput{Name: name, Status: storage.BotDraft, OwnerID: storage.DefaultUserID}
		if desc := req.GetString("description", ""); desc != "" {
			in.Description = &desc
		}
		bot, err := deps.Store.CreateBot(in)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to create bot: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Created bot %s", bot.ID)), nil
	}
}

func mcpListTrainingData(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		botID, err := req.RequireString("bot_id")
		if err != nil {
			return mcpError("bot_id is required"), nil
		}
		if _, err := deps.Store.GetBot(botID); errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("bot %s not found", botID)), nil
		}
		records, err := deps.Store.ListTrainingDataByBot(botID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list training data: %v", err)), nil
		}

		type trainingSummary struct {
			ID        string `json:"id"`
			FileName  string `json:"file_name"`
			FileType  string `json:"file_type"`
			Processed bool   `json:"processed"`
			Error     string `json:"error,omitempty"`
			Preview   string `json:"preview,omitempty"`
		}

		summaries := make([]trainingSummary, len(records))
		for i, td := range records {
			summaries[i] = trainingSummary{
				ID:        td.ID,
				FileName:  td.FileName,
				FileType:  td.FileType,
				Processed: td.Processed,
				Error:     td.ProcessingError,
			}
			if td.Content != nil {
				summaries[i].Preview = preview(*td.Content, contentPreviewRunes)
			}
		}
		return mcpJSON(summaries), nil
	}
}

func mcpChatWithBot(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		botID, err := req.RequireString("bot_id")
		if err != nil {
			return mcpError("bot_id is required"), nil
		}
		message, err := req.RequireString("message")
		if err != nil || message == "" {
			return mcpError("message is required"), nil
		}

		reply, err := deps.Responder.Respond(ctx, botID, message)
		if errors.Is(err, chat.ErrBotNotFound) {
			return mcpError(fmt.Sprintf("bot %s not found", botID)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("chat failed: %v", err)), nil
		}
		return mcpText(reply), nil
	}
}

func mcpResourceBots(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		bots, err := deps.Store.ListBotsByOwner(storage.DefaultUserID)
		if err != nil {
			return nil, fmt.Errorf("failed to list bots: %w", err)
		}
		return jsonResource(req.Params.URI, bots)
	}
}

func mcpResourceStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats, err := collectStats(deps.Store, storage.DefaultUserID)
		if err != nil {
			return nil, err
		}
		stats.ResponseTime = fmt.Sprintf("%.1fs", deps.Responder.MeanLatency().Seconds())
		return jsonResource(req.Params.URI, stats)
	}
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func mcpJSON(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return mcpText(string(b))
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
