package gateway

import "time"

// Speaker identifies who produced a message.
const (
	SpeakerUser   = "user"
	SpeakerAI     = "ai"
	SpeakerSystem = "system"
)

// Document processing states. A document is created as "processing" and
// transitions exactly once to "completed" or "error".
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// SourceRef points at a document chunk that grounded an AI reply.
type SourceRef struct {
	DocID    string `json:"docId"`
	Filename string `json:"filename"`
	Snippet  string `json:"snippet,omitempty"`
}

// Message is a single chat message as the server reports it.
type Message struct {
	ID        string      `json:"id"`
	Speaker   string      `json:"speaker"`
	Text      string      `json:"text"`
	CreatedAt time.Time   `json:"createdAt"`
	Sources   []SourceRef `json:"sources,omitempty"`
}

// FileRef is a file attached to one conversation's session, as opposed to a
// durable knowledge-base document.
type FileRef struct {
	Filename string `json:"filename"`
	DocID    string `json:"docId"`
}

// Document is a knowledge-base document with its processing status.
type Document struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

// KnowledgeBase is a named collection of documents.
type KnowledgeBase struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	Documents   []Document `json:"documents,omitempty"`
}

// ConversationSummary is a sidebar-level view of a conversation.
type ConversationSummary struct {
	ID              string         `json:"id"`
	CreatedAt       time.Time      `json:"createdAt"`
	KnowledgeBaseID string         `json:"knowledgeBaseId,omitempty"`
	ModelID         string         `json:"modelId,omitempty"`
	KnowledgeBase   *KnowledgeBase `json:"knowledgeBase,omitempty"`
}

// ConversationDetail is the full server view of one conversation.
type ConversationDetail struct {
	ConversationSummary
	Messages      []Message `json:"messages"`
	UploadedFiles []FileRef `json:"uploadedFiles"`
}

// ChatReply is the server's answer to a chat message.
type ChatReply struct {
	Response string      `json:"response"`
	Sources  []SourceRef `json:"sources"`
}

// UploadReceipt is the server's acknowledgement of a knowledge-base document
// upload. Details[0], when present, is the new document in "processing" state.
// Acceptance only: completion is observed later via re-fetch.
type UploadReceipt struct {
	ProcessedCount int        `json:"processedCount"`
	FailedFiles    []string   `json:"failedFiles"`
	Details        []Document `json:"details"`
}
