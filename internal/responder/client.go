// Package responder talks to the chat backend over HTTP on behalf of the
// conversation workflow.
package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/zhouzirui/mockchat/backend/internal/conversation"
	"github.com/zhouzirui/mockchat/backend/internal/model/chat"
)

const maxBodyBytes = 1 << 20

// Client implements conversation.Responder and conversation.HistoryLoader.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

var (
	_ conversation.Responder     = (*Client)(nil)
	_ conversation.HistoryLoader = (*Client)(nil)
)

// NewClient returns a client rooted at baseURL, e.g. http://localhost:8080.
// The mock backend takes up to three seconds per reply, so the default HTTP
// client carries no timeout; bound calls through the context instead.
func NewClient(baseURL string, httpClient *http.Client, logger *zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     l.With().Str("component", "responder").Logger(),
	}
}

// Reply posts the user message and returns the AI message the backend
// produced.
func (c *Client) Reply(ctx context.Context, conversationID string, msg chat.Message) (chat.Message, error) {
	payload, err := json.Marshal(chat.SendRequest{
		Message:        msg.Message,
		ConversationID: conversationID,
		MessageID:      msg.ID,
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("encode send request: %w", err)
	}

	start := time.Now()
	status, body, err := c.do(ctx, http.MethodPost, "/api/chat/send", nil, payload)
	if err != nil {
		return chat.Message{}, err
	}
	c.logger.Debug().Int("status", status).Dur("latency", time.Since(start)).Msg("reply received")

	if status < 200 || status > 299 {
		return chat.Message{}, statusError(status, body, "Failed to send message")
	}
	return parseReply(body)
}

// History fetches the transcript of conversationID.
func (c *Client) History(ctx context.Context, conversationID string) (chat.HistoryResponse, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/api/chat/history", conversationQuery(conversationID), nil)
	if err != nil {
		return chat.HistoryResponse{}, err
	}
	if status < 200 || status > 299 {
		return chat.HistoryResponse{}, statusError(status, body, "Failed to load history")
	}

	var resp chat.HistoryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return chat.HistoryResponse{}, fmt.Errorf("%w: %v", conversation.ErrMalformedResponse, err)
	}
	if resp.Messages == nil {
		resp.Messages = []chat.Message{}
	}
	return resp, nil
}

// ClearHistory drops the backend transcript of conversationID.
func (c *Client) ClearHistory(ctx context.Context, conversationID string) error {
	status, body, err := c.do(ctx, http.MethodDelete, "/api/chat/history", conversationQuery(conversationID), nil)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return statusError(status, body, "Failed to clear history")
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload []byte) (int, []byte, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", conversation.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read body: %w", conversation.ErrNetwork, err)
	}
	return resp.StatusCode, body, nil
}

// parseReply accepts a body only if it is JSON with a non-empty string
// message field. Other fields are optional and filled in by the workflow.
func parseReply(body []byte) (chat.Message, error) {
	if !gjson.ValidBytes(body) {
		return chat.Message{}, fmt.Errorf("%w: body is not json", conversation.ErrMalformedResponse)
	}
	parsed := gjson.ParseBytes(body)
	text := parsed.Get("message")
	if text.Type != gjson.String || text.String() == "" {
		return chat.Message{}, fmt.Errorf("%w: missing message text", conversation.ErrMalformedResponse)
	}

	return chat.Message{
		ID:        parsed.Get("id").String(),
		Message:   text.String(),
		Timestamp: parsed.Get("timestamp").String(),
		Sender:    chat.SenderAI,
		Status:    chat.StatusSent,
	}, nil
}

func statusError(status int, body []byte, fallback string) error {
	message := fallback
	if field := gjson.GetBytes(body, "error"); field.Type == gjson.String && field.String() != "" {
		message = field.String()
	}
	return fmt.Errorf("%w: status %d: %s", conversation.ErrNetwork, status, message)
}

func conversationQuery(conversationID string) url.Values {
	if conversationID == "" {
		return nil
	}
	return url.Values{"conversationId": []string{conversationID}}
}
