// Package devserver is an in-memory stand-in for the production chat backend.
// It implements the same REST contract (conversations, knowledge bases,
// session and knowledge-base uploads with asynchronous document processing)
// with keyword lookup where the real service runs embeddings, so the CLI and
// its reconciliation logic can be exercised without any external service.
package devserver

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rmezapi/prototipo-cassa-gpt/internal/gateway"
)

const (
	maxUploadSize = 10 << 20 // 10MB

	// maxSnippetLen bounds source snippets, in runes so truncation never
	// splits a multibyte character.
	maxSnippetLen = 200
)

// Options configures a Server.
type Options struct {
	// ProcessingDelay is how long a knowledge-base document stays in
	// processing state before flipping to its terminal status. Defaults to
	// 2 seconds.
	ProcessingDelay time.Duration
}

type conversation struct {
	summary  gateway.ConversationSummary
	messages []gateway.Message
	files    []gateway.FileRef
	texts    map[string]string // session docId -> extracted text
}

type knowledgeBase struct {
	info  gateway.KnowledgeBase
	texts map[string]string // docId -> extracted text
}

// Server holds all state in memory. Safe for concurrent use.
type Server struct {
	delay time.Duration
	log   *slog.Logger

	mu            sync.Mutex
	conversations map[string]*conversation
	convOrder     []string
	kbs           map[string]*knowledgeBase
	kbOrder       []string
}

// New creates an empty Server.
func New(opts Options) *Server {
	if opts.ProcessingDelay <= 0 {
		opts.ProcessingDelay = 2 * time.Second
	}
	return &Server{
		delay:         opts.ProcessingDelay,
		log:           slog.Default(),
		conversations: make(map[string]*conversation),
		kbs:           make(map[string]*knowledgeBase),
	}
}

// Handler returns the HTTP handler for the backend API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Post("/conversations", s.handleCreateConversation)
	r.Get("/conversations", s.handleListConversations)
	r.Get("/conversations/{id}", s.handleGetConversation)
	r.Post("/conversations/{id}/message", s.handleSendMessage)
	r.Post("/conversations/{id}/upload", s.handleSessionUpload)
	r.Get("/conversations/{id}/files", s.handleListFiles)

	r.Post("/knowledgebases", s.handleCreateKB)
	r.Get("/knowledgebases", s.handleListKBs)
	r.Get("/knowledgebases/{id}", s.handleGetKB)
	r.Post("/knowledgebases/{id}/documents/upload", s.handleKBUpload)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// httpError writes the backend's error shape: a JSON body with a
// human-readable detail string.
func httpError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"detail": fmt.Sprintf(format, args...)})
}

func pagination(r *http.Request) (skip, limit int) {
	skip, _ = strconv.Atoi(r.URL.Query().Get("skip"))
	if skip < 0 {
		skip = 0
	}
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}
	return skip, limit
}

// --- conversations ---

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		KnowledgeBaseID string `json:"knowledgeBaseId"`
		ModelID         string `json:"modelId"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var nested *gateway.KnowledgeBase
	if req.KnowledgeBaseID != "" {
		kb, ok := s.kbs[req.KnowledgeBaseID]
		if !ok {
			httpError(w, http.StatusNotFound, "KB ID '%s' not found.", req.KnowledgeBaseID)
			return
		}
		summary := kb.info
		summary.Documents = nil
		nested = &summary
	}

	conv := &conversation{
		summary: gateway.ConversationSummary{
			ID:              uuid.New().String(),
			CreatedAt:       time.Now().UTC(),
			KnowledgeBaseID: req.KnowledgeBaseID,
			ModelID:         req.ModelID,
			KnowledgeBase:   nested,
		},
		texts: make(map[string]string),
	}
	s.conversations[conv.summary.ID] = conv
	s.convOrder = append(s.convOrder, conv.summary.ID)

	writeJSON(w, http.StatusCreated, conv.summary)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	skip, limit := pagination(r)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Newest first.
	out := make([]gateway.ConversationSummary, 0, len(s.convOrder))
	for i := len(s.convOrder) - 1; i >= 0; i-- {
		out = append(out, s.conversations[s.convOrder[i]].summary)
	}
	writeJSON(w, http.StatusOK, slicePage(out, skip, limit))
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[chi.URLParam(r, "id")]
	if !ok {
		httpError(w, http.StatusNotFound, "Conversation ID not found or expired")
		return
	}
	writeJSON(w, http.StatusOK, gateway.ConversationDetail{
		ConversationSummary: conv.summary,
		Messages:            append([]gateway.Message{}, conv.messages...),
		UploadedFiles:       append([]gateway.FileRef{}, conv.files...),
	})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		httpError(w, http.StatusBadRequest, "query must not be empty")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[chi.URLParam(r, "id")]
	if !ok {
		httpError(w, http.StatusNotFound, "Conversation ID not found or expired")
		return
	}

	now := time.Now().UTC()
	conv.messages = append(conv.messages, gateway.Message{
		ID:        uuid.New().String(),
		Speaker:   gateway.SpeakerUser,
		Text:      req.Query,
		CreatedAt: now,
	})

	response, sources := s.answerLocked(conv, req.Query)
	conv.messages = append(conv.messages, gateway.Message{
		ID:        uuid.New().String(),
		Speaker:   gateway.SpeakerAI,
		Text:      response,
		CreatedAt: now,
		Sources:   sources,
	})

	writeJSON(w, http.StatusOK, gateway.ChatReply{Response: response, Sources: sources})
}

type scoredChunk struct {
	ref   gateway.SourceRef
	score int
}

// answerLocked produces a grounded reply from session files and, when the
// conversation is bound to one, the knowledge base's completed documents.
func (s *Server) answerLocked(conv *conversation, query string) (string, []gateway.SourceRef) {
	var scored []scoredChunk

	addDoc := func(docID, filename, text string) {
		for _, chunk := range chunkText(text) {
			if score := scoreChunk(chunk, query); score > 0 {
				snippet := chunk
				if runes := []rune(snippet); len(runes) > maxSnippetLen {
					snippet = string(runes[:maxSnippetLen])
				}
				scored = append(scored, scoredChunk{
					ref:   gateway.SourceRef{DocID: docID, Filename: filename, Snippet: snippet},
					score: score,
				})
			}
		}
	}

	for _, f := range conv.files {
		addDoc(f.DocID, f.Filename, conv.texts[f.DocID])
	}
	if kb, ok := s.kbs[conv.summary.KnowledgeBaseID]; ok {
		for _, d := range kb.info.Documents {
			if d.Status == gateway.StatusCompleted {
				addDoc(d.ID, d.Filename, kb.texts[d.ID])
			}
		}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > 3 {
		scored = scored[:3]
	}

	if len(scored) == 0 {
		return fmt.Sprintf("I have no indexed material relevant to %q yet. Upload a document or bind this conversation to a knowledge base.", query), nil
	}

	sources := make([]gateway.SourceRef, len(scored))
	for i, sc := range scored {
		sources[i] = sc.ref
	}
	return fmt.Sprintf("Based on %s: %s", sources[0].Filename, sources[0].Snippet), sources
}

func (s *Server) handleSessionUpload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	filename, data, ok := readUpload(w, r)
	if !ok {
		return
	}

	text, err := extractText(filename, data)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "Error processing document: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[id]
	if !exists {
		httpError(w, http.StatusNotFound, "Conversation ID not found or expired")
		return
	}

	ref := gateway.FileRef{Filename: filename, DocID: uuid.New().String()}
	conv.files = append(conv.files, ref)
	conv.texts[ref.DocID] = text
	conv.messages = append(conv.messages, gateway.Message{
		ID:        uuid.New().String(),
		Speaker:   gateway.SpeakerSystem,
		Text:      fmt.Sprintf("Processed session file: %s", filename),
		CreatedAt: time.Now().UTC(),
	})

	writeJSON(w, http.StatusCreated, ref)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[chi.URLParam(r, "id")]
	if !ok {
		httpError(w, http.StatusNotFound, "Conversation ID not found or expired")
		return
	}
	writeJSON(w, http.StatusOK, append([]gateway.FileRef{}, conv.files...))
}

// --- knowledge bases ---

func (s *Server) handleCreateKB(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		httpError(w, http.StatusBadRequest, "name must not be empty")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, kb := range s.kbs {
		if kb.info.Name == req.Name {
			httpError(w, http.StatusConflict, "KB name '%s' already exists.", req.Name)
			return
		}
	}

	kb := &knowledgeBase{
		info: gateway.KnowledgeBase{
			ID:          uuid.New().String(),
			Name:        req.Name,
			Description: req.Description,
			CreatedAt:   time.Now().UTC(),
		},
		texts: make(map[string]string),
	}
	s.kbs[kb.info.ID] = kb
	s.kbOrder = append(s.kbOrder, kb.info.ID)

	summary := kb.info
	summary.Documents = nil
	writeJSON(w, http.StatusCreated, summary)
}

func (s *Server) handleListKBs(w http.ResponseWriter, r *http.Request) {
	skip, limit := pagination(r)

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]gateway.KnowledgeBase, 0, len(s.kbOrder))
	for i := len(s.kbOrder) - 1; i >= 0; i-- {
		summary := s.kbs[s.kbOrder[i]].info
		summary.Documents = nil
		out = append(out, summary)
	}
	writeJSON(w, http.StatusOK, slicePage(out, skip, limit))
}

func (s *Server) handleGetKB(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kb, ok := s.kbs[chi.URLParam(r, "id")]
	if !ok {
		httpError(w, http.StatusNotFound, "KB ID '%s' not found.", chi.URLParam(r, "id"))
		return
	}
	detail := kb.info
	detail.Documents = append([]gateway.Document{}, kb.info.Documents...)
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleKBUpload(w http.ResponseWriter, r *http.Request) {
	kbID := chi.URLParam(r, "id")

	filename, data, ok := readUpload(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kb, exists := s.kbs[kbID]
	if !exists {
		httpError(w, http.StatusNotFound, "KB ID '%s' not found.", kbID)
		return
	}

	doc := gateway.Document{
		ID:         uuid.New().String(),
		Filename:   filename,
		Status:     gateway.StatusProcessing,
		UploadedAt: time.Now().UTC(),
	}
	kb.info.Documents = append(kb.info.Documents, doc)

	// Chunking and indexing happen after the response, like the production
	// backend's background task.
	time.AfterFunc(s.delay, func() { s.finishProcessing(kbID, doc.ID, filename, data) })

	receipt := gateway.UploadReceipt{
		ProcessedCount: 1,
		FailedFiles:    []string{},
		Details:        []gateway.Document{doc},
	}
	if descriptorDeferred(filename) {
		receipt.Details = []gateway.Document{}
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

func (s *Server) finishProcessing(kbID, docID, filename string, data []byte) {
	text, err := extractText(filename, data)

	s.mu.Lock()
	defer s.mu.Unlock()

	kb, ok := s.kbs[kbID]
	if !ok {
		return
	}
	for i := range kb.info.Documents {
		if kb.info.Documents[i].ID != docID {
			continue
		}
		if err != nil {
			kb.info.Documents[i].Status = gateway.StatusError
			kb.info.Documents[i].ErrorMessage = err.Error()
			s.log.Warn("document processing failed", "kb_id", kbID, "filename", filename, "error", err)
		} else {
			kb.info.Documents[i].Status = gateway.StatusCompleted
			kb.texts[docID] = text
		}
		return
	}
}

// readUpload parses the multipart body and returns the file's name and
// contents. On failure it writes the error response and returns ok=false.
func readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		httpError(w, http.StatusBadRequest, "invalid multipart body: %v", err)
		return "", nil, false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpError(w, http.StatusBadRequest, "file field is required")
		return "", nil, false
	}
	defer file.Close()

	if header.Filename == "" {
		httpError(w, http.StatusBadRequest, "Filename cannot be empty")
		return "", nil, false
	}
	data, err := io.ReadAll(file)
	if err != nil {
		httpError(w, http.StatusBadRequest, "reading upload: %v", err)
		return "", nil, false
	}
	if len(data) == 0 {
		httpError(w, http.StatusBadRequest, "File content is empty.")
		return "", nil, false
	}
	return header.Filename, data, true
}

func slicePage[T any](items []T, skip, limit int) []T {
	if skip >= len(items) {
		return []T{}
	}
	end := skip + limit
	if end > len(items) {
		end = len(items)
	}
	return items[skip:end]
}
