package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/mockchat/backend/internal/clock"
	"github.com/zhouzirui/mockchat/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/mockchat/backend/internal/service/chat"
	"github.com/zhouzirui/mockchat/backend/internal/service/reply"
)

type zeroRand struct{}

func (zeroRand) Float64() float64 { return 0 }

type failingGenerator struct{ err error }

func (g failingGenerator) Generate(context.Context, string, string, []chat.Message) (chat.Message, error) {
	return chat.Message{}, g.err
}

func setupRouter(t *testing.T) (*chi.Mux, *chatservice.Service) {
	t.Helper()
	svc, err := reply.NewService(context.Background(), nil, reply.Config{}, clock.NewManual(time.Unix(0, 0)), zeroRand{}, nil)
	if err != nil {
		t.Fatalf("reply.NewService err: %v", err)
	}
	return setupRouterWith(svc)
}

func setupRouterWith(gen Generator) (*chi.Mux, *chatservice.Service) {
	chatSvc := chatservice.NewService()
	handler := New(chatSvc, gen, zerolog.Nop())

	r := chi.NewRouter()
	r.Route("/api", func(api chi.Router) {
		handler.RegisterRoutes(api)
	})
	return r, chatSvc
}

func postSend(r http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/chat/send", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestSendReturnsReply(t *testing.T) {
	r, _ := setupRouter(t)

	resp := postSend(r, `{"message":"Hello","conversationId":"conv"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var msg chat.Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if msg.Sender != chat.SenderAI || msg.Status != chat.StatusSent {
		t.Fatalf("unexpected reply envelope: %+v", msg)
	}
	if msg.ID == "" || msg.Timestamp == "" {
		t.Fatalf("reply missing id or timestamp: %+v", msg)
	}
	want := reply.FormatReply("That's an interesting question! Let me think about it...", "Hello")
	if msg.Message != want {
		t.Fatalf("unexpected reply text %q", msg.Message)
	}
}

func TestSendRejectsInvalidPayload(t *testing.T) {
	tests := map[string]string{
		"missing message": `{"conversationId":"conv"}`,
		"empty message":   `{"message":""}`,
		"blank message":   `{"message":"   "}`,
		"non-string":      `{"message":42}`,
		"not json":        `hello`,
	}

	r, _ := setupRouter(t)
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			resp := postSend(r, body)
			if resp.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.Code)
			}
			var e chat.ErrorResponse
			_ = json.NewDecoder(resp.Body).Decode(&e)
			if e.Error != "Invalid message format" {
				t.Fatalf("unexpected error body %q", e.Error)
			}
		})
	}
}

func TestSendGeneratorFailure(t *testing.T) {
	r, chatSvc := setupRouterWith(failingGenerator{err: reply.ErrInjectedFailure})

	resp := postSend(r, `{"message":"Hello"}`)
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	var e chat.ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&e)
	if e.Error != "Internal server error" {
		t.Fatalf("unexpected error body %q", e.Error)
	}

	transcript, _ := chatSvc.LoadTranscript(context.Background(), chat.DefaultConversationID)
	if len(transcript) != 0 {
		t.Fatalf("failed turn was recorded: %+v", transcript)
	}
}

func TestSendRecordsTranscriptForHistory(t *testing.T) {
	r, _ := setupRouter(t)

	if resp := postSend(r, `{"message":"Hello"}`); resp.Code != http.StatusOK {
		t.Fatalf("send failed: %d", resp.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/chat/history", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var history chat.HistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if history.ConversationID != chat.DefaultConversationID {
		t.Fatalf("unexpected conversation id %q", history.ConversationID)
	}
	if len(history.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history.Messages))
	}
	if history.Messages[0].Sender != chat.SenderUser || history.Messages[0].Message != "Hello" || history.Messages[0].Status != chat.StatusSent {
		t.Fatalf("unexpected user entry %+v", history.Messages[0])
	}
	if history.Messages[1].Sender != chat.SenderAI {
		t.Fatalf("unexpected reply entry %+v", history.Messages[1])
	}
}

func TestSendRecordsClientMessageID(t *testing.T) {
	const clientID = "6f1c2b8e-4a57-4d0e-9a8b-2f3c4d5e6f70"
	tests := []struct {
		name   string
		body   string
		wantID func(string) bool
	}{
		{
			name:   "client id kept",
			body:   `{"message":"Hello","messageId":"` + clientID + `"}`,
			wantID: func(id string) bool { return id == clientID },
		},
		{
			name:   "malformed id replaced",
			body:   `{"message":"Hello","messageId":"not-an-id"}`,
			wantID: func(id string) bool { return id != "" && id != "not-an-id" },
		},
		{
			name:   "missing id minted",
			body:   `{"message":"Hello"}`,
			wantID: func(id string) bool { return id != "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, chatSvc := setupRouter(t)
			if resp := postSend(r, tt.body); resp.Code != http.StatusOK {
				t.Fatalf("send failed: %d", resp.Code)
			}

			transcript, err := chatSvc.LoadTranscript(context.Background(), chat.DefaultConversationID)
			if err != nil {
				t.Fatalf("LoadTranscript err: %v", err)
			}
			if len(transcript) != 2 {
				t.Fatalf("expected 2 messages, got %d", len(transcript))
			}
			if !tt.wantID(transcript[0].ID) {
				t.Fatalf("unexpected user id %q", transcript[0].ID)
			}
		})
	}
}

func TestHistoryEmptyForNewConversation(t *testing.T) {
	r, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/chat/history?conversationId=fresh", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if got := resp.Body.String(); got != "{\"messages\":[],\"conversationId\":\"fresh\"}\n" {
		t.Fatalf("unexpected body %q", got)
	}
}

func TestClearHistory(t *testing.T) {
	r, chatSvc := setupRouter(t)
	postSend(r, `{"message":"Hello","conversationId":"conv"}`)

	req := httptest.NewRequest(http.MethodDelete, "/api/chat/history?conversationId=conv", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	transcript, _ := chatSvc.LoadTranscript(context.Background(), "conv")
	if len(transcript) != 0 {
		t.Fatalf("expected empty transcript, got %d", len(transcript))
	}
}

func TestSendClientGoneIsNotRecorded(t *testing.T) {
	r, chatSvc := setupRouterWith(failingGenerator{err: context.Canceled})

	postSend(r, `{"message":"Hello"}`)
	transcript, _ := chatSvc.LoadTranscript(context.Background(), chat.DefaultConversationID)
	if len(transcript) != 0 {
		t.Fatalf("canceled turn was recorded: %+v", transcript)
	}
}
