package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/benmessaoud/chatvault/store"
)

// Handler serves the MCP tools. Reads go straight to the conversation store;
// sends go through the running bridge's HTTP API so only one process owns
// the network connection.
type Handler struct {
	store      *store.Store
	apiBaseURL string
	httpClient *http.Client
}

// NewHandler creates an MCP tool handler.
func NewHandler(st *store.Store, apiBaseURL string) *Handler {
	return &Handler{
		store:      st,
		apiBaseURL: apiBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (h *Handler) listConversationsHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := 20
	if l, ok := request.Params.Arguments["limit"].(float64); ok {
		limit = int(l)
	}

	convs, err := h.store.List()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(convs) > limit {
		convs = convs[:limit]
	}

	data, err := json.Marshal(convs)
	if err != nil {
		return nil, err
	}

	return mcp.NewToolResultText(string(data)), nil
}

func (h *Handler) getMessagesHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	peerID, ok := request.Params.Arguments["peer_id"].(string)
	if !ok {
		return nil, errors.New("peer_id must be a string")
	}

	limit := 50
	if l, ok := request.Params.Arguments["limit"].(float64); ok {
		limit = int(l)
	}

	conv, err := h.store.Get(peerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("conversation %s not found", peerID)
	}
	if err != nil {
		return nil, err
	}

	messages := conv.Messages
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	data, err := json.Marshal(messages)
	if err != nil {
		return nil, err
	}

	return mcp.NewToolResultText(string(data)), nil
}

func (h *Handler) getProfileHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	peerID, ok := request.Params.Arguments["peer_id"].(string)
	if !ok {
		return nil, errors.New("peer_id must be a string")
	}

	conv, err := h.store.Get(peerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("conversation %s not found", peerID)
	}
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(conv.Profile)
	if err != nil {
		return nil, err
	}

	return mcp.NewToolResultText(string(data)), nil
}

func (h *Handler) searchContactsHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, ok := request.Params.Arguments["query"].(string)
	if !ok {
		return nil, errors.New("query must be a string")
	}

	results, err := h.store.Search(query)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(results)
	if err != nil {
		return nil, err
	}

	return mcp.NewToolResultText(string(data)), nil
}

func (h *Handler) sendMessageHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	peerID, ok := request.Params.Arguments["peer_id"].(string)
	if !ok {
		return nil, errors.New("peer_id must be a string")
	}
	message, ok := request.Params.Arguments["message"].(string)
	if !ok {
		return nil, errors.New("message must be a string")
	}

	payload, err := json.Marshal(map[string]string{
		"peerId":  peerID,
		"message": message,
	})
	if err != nil {
		return nil, err
	}

	resp, err := h.httpClient.Post(h.apiBaseURL+"/send", "application/json", bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to reach bridge: %w", err)
	}
	defer resp.Body.Close()

	var apiResp struct {
		Success bool            `json:"success"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode bridge response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || !apiResp.Success {
		return nil, fmt.Errorf("bridge rejected send: %s", apiResp.Message)
	}

	return mcp.NewToolResultText(string(apiResp.Data)), nil
}
