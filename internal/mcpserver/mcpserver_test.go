package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rmezapi/prototipo-cassa-gpt/internal/gateway"
)

// --- mocks ---

type mockBackend struct {
	kbs       []gateway.KnowledgeBase
	listErr   error
	reply     *gateway.ChatReply
	sendErr   error
	receipt   *gateway.UploadReceipt
	uploadErr error

	createdKBID     string
	uploadedKBID    string
	uploadedName    string
	uploadedContent string
}

func (m *mockBackend) CreateConversation(_ context.Context, kbID, _ string) (*gateway.ConversationSummary, error) {
	m.createdKBID = kbID
	return &gateway.ConversationSummary{ID: "conv-1"}, nil
}

func (m *mockBackend) SendMessage(_ context.Context, _, _ string) (*gateway.ChatReply, error) {
	return m.reply, m.sendErr
}

func (m *mockBackend) ListKnowledgeBases(_ context.Context, _, _ int) ([]gateway.KnowledgeBase, error) {
	return m.kbs, m.listErr
}

func (m *mockBackend) UploadKBDocument(_ context.Context, kbID, filename string, file io.Reader) (*gateway.UploadReceipt, error) {
	m.uploadedKBID = kbID
	m.uploadedName = filename
	b, _ := io.ReadAll(file)
	m.uploadedContent = string(b)
	return m.receipt, m.uploadErr
}

// --- helpers ---

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// --- tests ---

func TestMCPTool_Ask(t *testing.T) {
	backend := &mockBackend{
		reply: &gateway.ChatReply{
			Response: "the answer",
			Sources:  []gateway.SourceRef{{DocID: "d1", Filename: "notes.txt"}},
		},
	}
	deps := Deps{Backend: backend, Model: "test-model"}

	result, err := mcpAsk(deps)(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"question": "what is cassa?",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var parsed struct {
		Answer  string              `json:"answer"`
		Sources []gateway.SourceRef `json:"sources"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &parsed); err != nil {
		t.Fatalf("unmarshaling result: %v", err)
	}
	if parsed.Answer != "the answer" {
		t.Errorf("answer = %q, want %q", parsed.Answer, "the answer")
	}
	if len(parsed.Sources) != 1 || parsed.Sources[0].Filename != "notes.txt" {
		t.Errorf("unexpected sources: %+v", parsed.Sources)
	}
	if backend.createdKBID != "" {
		t.Errorf("conversation bound to %q, want unbound", backend.createdKBID)
	}
}

func TestMCPTool_Ask_BindsKnowledgeBaseByName(t *testing.T) {
	backend := &mockBackend{
		kbs:   []gateway.KnowledgeBase{{ID: "kb-1", Name: "Contracts"}},
		reply: &gateway.ChatReply{Response: "ok"},
	}
	deps := Deps{Backend: backend}

	result, err := mcpAsk(deps)(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"question":       "term length?",
		"knowledge_base": "contracts",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if backend.createdKBID != "kb-1" {
		t.Errorf("bound kb = %q, want kb-1", backend.createdKBID)
	}
}

func TestMCPTool_Ask_UnknownKnowledgeBase(t *testing.T) {
	backend := &mockBackend{reply: &gateway.ChatReply{Response: "ok"}}
	deps := Deps{Backend: backend}

	result, err := mcpAsk(deps)(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"question":       "anything",
		"knowledge_base": "missing",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for unknown knowledge base")
	}
}

func TestMCPTool_Ask_MissingQuestion(t *testing.T) {
	result, err := mcpAsk(Deps{Backend: &mockBackend{}})(context.Background(),
		makeCallToolRequest("ask", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing question")
	}
}

func TestMCPTool_ListKnowledgeBases(t *testing.T) {
	backend := &mockBackend{
		kbs: []gateway.KnowledgeBase{
			{ID: "kb-1", Name: "Contracts"},
			{ID: "kb-2", Name: "Manuals"},
		},
	}

	result, err := mcpListKnowledgeBases(Deps{Backend: backend})(context.Background(),
		makeCallToolRequest("list_knowledge_bases", nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var parsed []gateway.KnowledgeBase
	if err := json.Unmarshal([]byte(toolText(t, result)), &parsed); err != nil {
		t.Fatalf("unmarshaling result: %v", err)
	}
	if len(parsed) != 2 || parsed[0].Name != "Contracts" {
		t.Errorf("unexpected knowledge bases: %+v", parsed)
	}
}

func TestMCPTool_ListKnowledgeBases_Empty(t *testing.T) {
	result, err := mcpListKnowledgeBases(Deps{Backend: &mockBackend{}})(context.Background(),
		makeCallToolRequest("list_knowledge_bases", nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if got := toolText(t, result); got != "[]" {
		t.Errorf("result = %q, want empty JSON array", got)
	}
}

func TestMCPTool_ListKnowledgeBases_Error(t *testing.T) {
	backend := &mockBackend{listErr: errors.New("backend down")}

	result, err := mcpListKnowledgeBases(Deps{Backend: backend})(context.Background(),
		makeCallToolRequest("list_knowledge_bases", nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error when backend fails")
	}
}

func TestMCPTool_UploadDocument(t *testing.T) {
	backend := &mockBackend{
		kbs: []gateway.KnowledgeBase{{ID: "kb-1", Name: "Contracts"}},
		receipt: &gateway.UploadReceipt{
			ProcessedCount: 1,
			Details:        []gateway.Document{{ID: "d1", Filename: "terms.txt", Status: gateway.StatusProcessing}},
		},
	}

	result, err := mcpUploadDocument(Deps{Backend: backend})(context.Background(),
		makeCallToolRequest("upload_document", map[string]interface{}{
			"knowledge_base": "Contracts",
			"filename":       "terms.txt",
			"content":        "net 30 payment terms",
		}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	if backend.uploadedKBID != "kb-1" {
		t.Errorf("uploaded to %q, want kb-1", backend.uploadedKBID)
	}
	if backend.uploadedName != "terms.txt" || backend.uploadedContent != "net 30 payment terms" {
		t.Errorf("uploaded %q/%q, want terms.txt with content", backend.uploadedName, backend.uploadedContent)
	}

	var receipt gateway.UploadReceipt
	if err := json.Unmarshal([]byte(toolText(t, result)), &receipt); err != nil {
		t.Fatalf("unmarshaling receipt: %v", err)
	}
	if receipt.ProcessedCount != 1 || len(receipt.Details) != 1 {
		t.Errorf("unexpected receipt: %+v", receipt)
	}
}

func TestMCPTool_UploadDocument_MissingArgs(t *testing.T) {
	result, err := mcpUploadDocument(Deps{Backend: &mockBackend{}})(context.Background(),
		makeCallToolRequest("upload_document", map[string]interface{}{
			"filename": "terms.txt",
		}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing knowledge_base")
	}
}
