package health

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/mockchat/backend/pkg/utils"
)

// Handler 健康检查处理器
type Handler struct {
	started time.Time
	backend string
	now     func() time.Time
}

// New 创建健康检查处理器，backend 为回复模型名称（canned 或 ark）
func New(backend string) *Handler {
	return &Handler{started: time.Now(), backend: backend, now: time.Now}
}

// RegisterRoutes 注册健康检查路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.handleHealth)
}

type healthResponse struct {
	Status        string `json:"status"`
	ReplyBackend  string `json:"replyBackend"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		ReplyBackend:  h.backend,
		UptimeSeconds: int64(h.now().Sub(h.started).Seconds()),
	})
}
