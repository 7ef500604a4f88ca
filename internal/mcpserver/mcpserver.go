// Package mcpserver exposes the assistant backend as MCP tools so that
// editor and agent hosts can ask questions and manage knowledge bases
// over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rmezapi/prototipo-cassa-gpt/internal/gateway"
)

// Backend abstracts the assistant API for the MCP layer.
type Backend interface {
	CreateConversation(ctx context.Context, kbID, modelID string) (*gateway.ConversationSummary, error)
	SendMessage(ctx context.Context, conversationID, query string) (*gateway.ChatReply, error)
	ListKnowledgeBases(ctx context.Context, skip, limit int) ([]gateway.KnowledgeBase, error)
	UploadKBDocument(ctx context.Context, kbID, filename string, file io.Reader) (*gateway.UploadReceipt, error)
}

// Deps holds dependencies for the MCP server.
type Deps struct {
	Backend Backend
	Model   string // default model for conversations created by the ask tool
}

// New creates an MCP server with the cassa tools registered.
func New(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"cassa",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("cassa: ask questions against locally indexed knowledge bases and upload documents into them."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask a question, optionally grounded in a named knowledge base, and return the answer with source citations."),
			mcp.WithString("question", mcp.Description("The question to ask"), mcp.Required()),
			mcp.WithString("knowledge_base", mcp.Description("Name of the knowledge base to ground the answer in (optional)")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("list_knowledge_bases",
			mcp.WithDescription("List available knowledge bases with their document counts and statuses."),
		),
		mcpListKnowledgeBases(deps),
	)

	s.AddTool(
		mcp.NewTool("upload_document",
			mcp.WithDescription("Upload a text document into a named knowledge base for indexing."),
			mcp.WithString("knowledge_base", mcp.Description("Name of the target knowledge base"), mcp.Required()),
			mcp.WithString("filename", mcp.Description("Filename for the document"), mcp.Required()),
			mcp.WithString("content", mcp.Description("Document text content"), mcp.Required()),
		),
		mcpUploadDocument(deps),
	)

	return s
}

func mcpAsk(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		kbID := ""
		if name := req.GetString("knowledge_base", ""); name != "" {
			kb, err := findKnowledgeBase(ctx, deps.Backend, name)
			if err != nil {
				return mcpError(err.Error()), nil
			}
			kbID = kb.ID
		}

		conv, err := deps.Backend.CreateConversation(ctx, kbID, deps.Model)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to create conversation: %v", err)), nil
		}

		reply, err := deps.Backend.SendMessage(ctx, conv.ID, question)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to send message: %v", err)), nil
		}

		type askResult struct {
			Answer  string              `json:"answer"`
			Sources []gateway.SourceRef `json:"sources,omitempty"`
		}
		b, err := json.Marshal(askResult{Answer: reply.Response, Sources: reply.Sources})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpListKnowledgeBases(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		kbs, err := deps.Backend.ListKnowledgeBases(ctx, 0, 100)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list knowledge bases: %v", err)), nil
		}

		if len(kbs) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(kbs)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal knowledge bases: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpUploadDocument(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("knowledge_base")
		if err != nil {
			return mcpError("knowledge_base is required"), nil
		}
		filename, err := req.RequireString("filename")
		if err != nil {
			return mcpError("filename is required"), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		kb, err := findKnowledgeBase(ctx, deps.Backend, name)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		receipt, err := deps.Backend.UploadKBDocument(ctx, kb.ID, filename, strings.NewReader(content))
		if err != nil {
			return mcpError(fmt.Sprintf("upload failed: %v", err)), nil
		}

		b, err := json.Marshal(receipt)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal receipt: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

// findKnowledgeBase resolves a knowledge base by exact name,
// case-insensitively.
func findKnowledgeBase(ctx context.Context, backend Backend, name string) (*gateway.KnowledgeBase, error) {
	kbs, err := backend.ListKnowledgeBases(ctx, 0, 100)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge bases: %w", err)
	}
	for i := range kbs {
		if strings.EqualFold(kbs[i].Name, name) {
			return &kbs[i], nil
		}
	}
	return nil, fmt.Errorf("knowledge base %q not found", name)
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
