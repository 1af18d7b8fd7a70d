package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/mockchat/backend/internal/metrics"
	"github.com/zhouzirui/mockchat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/mockchat/backend/internal/service/chat"
	"github.com/zhouzirui/mockchat/backend/internal/service/reply"
	"github.com/zhouzirui/mockchat/backend/pkg/utils"
)

const maxSendBodyBytes = 64 << 10

// Generator produces the AI reply to a user message.
type Generator interface {
	Generate(ctx context.Context, conversationID, content string, history []chat.Message) (chat.Message, error)
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	replies Generator
	logger  zerolog.Logger
	now     func() time.Time
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, replies Generator, logger zerolog.Logger) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		replies: replies,
		logger:  logger.With().Str("component", "chat_handler").Logger(),
		now:     time.Now,
	}
}

// RegisterRoutes 注册聊天相关的路由。send 可额外挂载限流等中间件。
func (h *Handler) RegisterRoutes(r chi.Router, sendMiddlewares ...func(http.Handler) http.Handler) {
	r.Route("/chat", func(cr chi.Router) {
		cr.With(sendMiddlewares...).Post("/send", h.handleSend)
		cr.Get("/history", h.handleHistory)
		cr.Delete("/history", h.handleClear)
	})
}

// handleSend 生成一条 AI 回复并记录这一轮对话
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Message        *string `json:"message"`
		ConversationID string  `json:"conversationId"`
		MessageID      string  `json:"messageId"`
	}

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSendBodyBytes)).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid message format")
		return
	}
	if payload.Message == nil || strings.TrimSpace(*payload.Message) == "" {
		utils.RespondError(w, http.StatusBadRequest, "Invalid message format")
		return
	}

	content := *payload.Message
	conversationID := conversationOrDefault(payload.ConversationID)
	received := h.now()

	ctx := r.Context()
	history, err := h.chatSvc.LoadTranscript(ctx, conversationID)
	if err != nil {
		h.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to load transcript")
		utils.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	aiMessage, err := h.replies.Generate(ctx, conversationID, content, history)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			metrics.RepliesFailed.WithLabelValues("canceled").Inc()
			h.logger.Debug().Str("conversation_id", conversationID).Msg("client went away before reply")
		case errors.Is(err, reply.ErrInjectedFailure):
			metrics.RepliesFailed.WithLabelValues("injected").Inc()
			h.logger.Info().Str("conversation_id", conversationID).Msg("injected reply failure")
		default:
			metrics.RepliesFailed.WithLabelValues("model").Inc()
			h.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("reply generation failed")
		}
		utils.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	user := chat.NewUserMessage(content, received)
	if err := uuid.Validate(payload.MessageID); err == nil {
		user.ID = payload.MessageID
	}
	if err := h.chatSvc.AppendTurn(ctx, conversationID, user, aiMessage); err != nil {
		h.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to record turn")
		utils.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	metrics.RepliesGenerated.Inc()
	metrics.ReplyLatency.Observe(h.now().Sub(received).Seconds())
	utils.RespondJSON(w, http.StatusOK, aiMessage)
}

// handleHistory 返回会话的全部历史消息
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	conversationID := conversationOrDefault(r.URL.Query().Get("conversationId"))

	messages, err := h.chatSvc.LoadTranscript(r.Context(), conversationID)
	if err != nil {
		h.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to load history")
		utils.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	utils.RespondJSON(w, http.StatusOK, chat.HistoryResponse{
		Messages:       messages,
		ConversationID: conversationID,
	})
}

// handleClear 清空会话历史
func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	conversationID := conversationOrDefault(r.URL.Query().Get("conversationId"))

	cleared, err := h.chatSvc.Clear(r.Context(), conversationID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if cleared {
		metrics.HistoryCleared.Inc()
	}
	h.logger.Info().Str("conversation_id", conversationID).Bool("existed", cleared).Msg("history cleared")

	utils.RespondJSON(w, http.StatusNoContent, nil)
}

func conversationOrDefault(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return chat.DefaultConversationID
}
