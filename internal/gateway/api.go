package gateway

import (
	"context"
	"fmt"
	"io"
)

// CreateConversation creates a new conversation, optionally bound to a
// knowledge base and a model selector. Empty ids are omitted from the request.
func (c *Client) CreateConversation(ctx context.Context, kbID, modelID string) (*ConversationSummary, error) {
	body := map[string]string{}
	if kbID != "" {
		body["knowledgeBaseId"] = kbID
	}
	if modelID != "" {
		body["modelId"] = modelID
	}

	resp, err := c.post(ctx, "/conversations", body)
	if err != nil {
		return nil, err
	}
	var conv ConversationSummary
	if err := decode(resp, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversations returns up to limit conversation summaries starting at
// offset skip, newest first.
func (c *Client) ListConversations(ctx context.Context, skip, limit int) ([]ConversationSummary, error) {
	resp, err := c.get(ctx, fmt.Sprintf("/conversations?skip=%d&limit=%d", skip, limit))
	if err != nil {
		return nil, err
	}
	var convs []ConversationSummary
	if err := decode(resp, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// GetConversation fetches the full detail of one conversation, including its
// message history and any nested knowledge-base summary.
func (c *Client) GetConversation(ctx context.Context, id string) (*ConversationDetail, error) {
	resp, err := c.get(ctx, "/conversations/"+id)
	if err != nil {
		return nil, err
	}
	var detail ConversationDetail
	if err := decode(resp, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// SendMessage posts a chat message and returns the AI reply.
func (c *Client) SendMessage(ctx context.Context, conversationID, query string) (*ChatReply, error) {
	resp, err := c.post(ctx, "/conversations/"+conversationID+"/message", map[string]string{"query": query})
	if err != nil {
		return nil, err
	}
	var reply ChatReply
	if err := decode(resp, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// UploadSessionFile registers a file with one conversation's session. The
// file is indexed for that conversation only and is gone when the
// conversation is.
func (c *Client) UploadSessionFile(ctx context.Context, conversationID, filename string, file io.Reader) (*FileRef, error) {
	resp, err := c.upload(ctx, "/conversations/"+conversationID+"/upload", filename, file, nil)
	if err != nil {
		return nil, err
	}
	var ref FileRef
	if err := decode(resp, &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

// ListSessionFiles returns the files uploaded to one conversation's session.
func (c *Client) ListSessionFiles(ctx context.Context, conversationID string) ([]FileRef, error) {
	resp, err := c.get(ctx, "/conversations/"+conversationID+"/files")
	if err != nil {
		return nil, err
	}
	var refs []FileRef
	if err := decode(resp, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

// CreateKnowledgeBase creates a named knowledge base.
func (c *Client) CreateKnowledgeBase(ctx context.Context, name, description string) (*KnowledgeBase, error) {
	body := map[string]string{"name": name}
	if description != "" {
		body["description"] = description
	}

	resp, err := c.post(ctx, "/knowledgebases", body)
	if err != nil {
		return nil, err
	}
	var kb KnowledgeBase
	if err := decode(resp, &kb); err != nil {
		return nil, err
	}
	return &kb, nil
}

// ListKnowledgeBases returns up to limit knowledge-base summaries starting at
// offset skip, newest first.
func (c *Client) ListKnowledgeBases(ctx context.Context, skip, limit int) ([]KnowledgeBase, error) {
	resp, err := c.get(ctx, fmt.Sprintf("/knowledgebases?skip=%d&limit=%d", skip, limit))
	if err != nil {
		return nil, err
	}
	var kbs []KnowledgeBase
	if err := decode(resp, &kbs); err != nil {
		return nil, err
	}
	return kbs, nil
}

// GetKnowledgeBase fetches one knowledge base with its document list.
func (c *Client) GetKnowledgeBase(ctx context.Context, id string) (*KnowledgeBase, error) {
	resp, err := c.get(ctx, "/knowledgebases/"+id)
	if err != nil {
		return nil, err
	}
	var kb KnowledgeBase
	if err := decode(resp, &kb); err != nil {
		return nil, err
	}
	return &kb, nil
}

// UploadKBDocument uploads a document to a knowledge base. A successful
// receipt proves acceptance only; the document starts in "processing" state
// and its terminal status is observed via GetKnowledgeBase.
func (c *Client) UploadKBDocument(ctx context.Context, kbID, filename string, file io.Reader) (*UploadReceipt, error) {
	resp, err := c.upload(ctx, "/knowledgebases/"+kbID+"/documents/upload", filename, file, nil)
	if err != nil {
		return nil, err
	}
	var receipt UploadReceipt
	if err := decode(resp, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}
