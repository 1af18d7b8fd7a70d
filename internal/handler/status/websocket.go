package status

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/mockchat/backend/internal/clock"
	"github.com/zhouzirui/mockchat/backend/internal/connection"
	"github.com/zhouzirui/mockchat/backend/internal/metrics"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Handler streams a simulated connection status over a websocket. Every
// socket owns its own simulator.
type Handler struct {
	cfg      connection.Config
	sched    clock.Scheduler
	rnd      connection.Rand
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// New 创建状态处理器。sched 与 rnd 为 nil 时使用真实时钟与随机数。
func New(cfg connection.Config, sched clock.Scheduler, rnd connection.Rand, logger zerolog.Logger) *Handler {
	return &Handler{
		cfg:    cfg,
		sched:  sched,
		rnd:    rnd,
		logger: logger.With().Str("component", "status_ws").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册状态路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/status/ws", h.handleWebSocket)
	r.Get("/status/stream", h.handleStream)
}

type inboundMessage struct {
	Type string `json:"type"`
}

type outgoingMessage struct {
	Type      string           `json:"type"`
	State     connection.State `json:"state,omitempty"`
	Message   string           `json:"message,omitempty"`
	Timestamp int64            `json:"timestamp"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}
	defer conn.Close()

	metrics.StatusSocketsOpen.Inc()
	defer metrics.StatusSocketsOpen.Dec()

	connLog := h.logger.With().Str("remote_addr", r.RemoteAddr).Logger()
	connLog.Debug().Msg("status socket opened")

	ctx, cancel := context.WithCancel(r.Context())
	outbound := make(chan outgoingMessage, 8)

	sim := connection.New(h.cfg, h.sched, h.rnd, &connLog)
	sim.Subscribe(func(state connection.State) {
		metrics.StatusTransitions.WithLabelValues(string(state)).Inc()
		select {
		case outbound <- outgoingMessage{Type: "status", State: state, Timestamp: time.Now().Unix()}:
		case <-ctx.Done():
		}
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		h.writeLoop(ctx, conn, outbound)
	}()

	defer func() {
		cancel()
		sim.Stop()
		wg.Wait()
		connLog.Debug().Msg("status socket closed")
	}()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	sim.Start()

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				connLog.Warn().Err(err).Msg("read error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		switch msg.Type {
		case "reconnect":
			sim.Reconnect()
		default:
			select {
			case outbound <- outgoingMessage{Type: "error", Message: "unsupported message type", Timestamp: time.Now().Unix()}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// writeLoop is the only goroutine that writes to conn.
func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, outbound <-chan outgoingMessage) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-outbound:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug().Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
