package status

import (
	"context"
	"net/http"
	"time"

	"github.com/zhouzirui/mockchat/backend/internal/connection"
	"github.com/zhouzirui/mockchat/backend/internal/metrics"
	"github.com/zhouzirui/mockchat/backend/pkg/utils"
)

type statusEvent struct {
	State     connection.State `json:"state"`
	Timestamp int64            `json:"timestamp"`
}

// handleStream is the read-only variant of the status socket for clients
// that cannot open a websocket. It has no reconnect command.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, cancel := context.WithCancel(r.Context())
	updates := make(chan connection.State, 8)

	sim := connection.New(h.cfg, h.sched, h.rnd, &h.logger)
	sim.Subscribe(func(state connection.State) {
		metrics.StatusTransitions.WithLabelValues(string(state)).Inc()
		select {
		case updates <- state:
		case <-ctx.Done():
		}
	})
	defer func() {
		cancel()
		sim.Stop()
	}()

	metrics.StatusSocketsOpen.Inc()
	defer metrics.StatusSocketsOpen.Dec()

	sim.Start()

	for {
		select {
		case <-ctx.Done():
			return
		case state := <-updates:
			event := statusEvent{State: state, Timestamp: time.Now().Unix()}
			if err := utils.WriteSSEEvent(w, flusher, "status", event); err != nil {
				h.logger.Debug().Err(err).Msg("status stream closed")
				return
			}
		}
	}
}
