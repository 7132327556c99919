package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/deskmate/internal/retrieval"
	"github.com/kalambet/deskmate/internal/workflow"
)

// MCPRetriever abstracts knowledge base search for the MCP layer.
type MCPRetriever interface {
	Retrieve(ctx context.Context, query string) (retrieval.Result, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Workflow  Workflow
	Retriever MCPRetriever
	History   HistoryStore
}

// NewMCPServer creates an MCP server exposing the helpdesk workflow and raw
// knowledge base search to MCP clients.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"deskmate",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("deskmate — internal helpdesk assistant: intent routing, direct tools, and knowledge base answers."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask the helpdesk assistant a question. Routes through intent classification, direct tools, and knowledge base retrieval."),
			mcp.WithString("message", mcp.Description("The question or request"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Optional session for conversational context")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("kb_search",
			mcp.WithDescription("Search the helpdesk knowledge base and return raw matching passages with scores."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
		),
		mcpKBSearch(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"helpdesk://recent",
			"Recent Conversations",
			mcp.WithResourceDescription("Recent chat turns across the default session"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}
		sessionID := req.GetString("session_id", "mcp")

		result := deps.Workflow.Handle(ctx, workflow.Utterance{
			Text:      message,
			SessionID: sessionID,
		})

		type askResult struct {
			Reply   string              `json:"reply"`
			Intent  string              `json:"intent"`
			Sources []workflow.Citation `json:"sources,omitempty"`
			Failure string              `json:"failure,omitempty"`
		}
		b, err := json.Marshal(askResult{
			Reply:   result.Reply,
			Intent:  string(result.Intent),
			Sources: result.Citations,
			Failure: string(result.Failure),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpKBSearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		result, err := deps.Retriever.Retrieve(ctx, query)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(result.Chunks) == 0 {
			return mcpText("[]"), nil
		}

		type hit struct {
			DocID    string  `json:"doc_id"`
			Position string  `json:"position,omitempty"`
			Text     string  `json:"text"`
			Score    float64 `json:"score"`
		}
		hits := make([]hit, len(result.Chunks))
		for i, c := range result.Chunks {
			hits[i] = hit{DocID: c.DocID, Position: c.Position, Text: c.Text, Score: c.Score}
		}
		b, err := json.Marshal(hits)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal hits: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		msgs, err := deps.History.RecentMessages("mcp", 10)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent turns: %w", err)
		}

		type turnSummary struct {
			Role      string `json:"role"`
			Message   string `json:"message"`
			CreatedAt string `json:"created_at"`
		}

		summaries := make([]turnSummary, len(msgs))
		for i, m := range msgs {
			message := m.Message
			if utf8.RuneCountInString(message) > 200 {
				runes := []rune(message)
				message = string(runes[:200]) + "..."
			}
			summaries[i] = turnSummary{
				Role:      m.Role,
				Message:   message,
				CreatedAt: m.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal turns: %w", err)
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

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
	}
}
