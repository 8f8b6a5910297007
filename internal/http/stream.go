package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"ComandaPay/internal/reconcile"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func (h *Handler) upgrader() *websocket.Upgrader {
	u := &websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	if len(h.AllowedOrigins) > 0 {
		u.CheckOrigin = h.originAllowed
	}
	return u
}

// originAllowed admits clients that send no Origin, which are not browsers.
func (h *Handler) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	origin = strings.TrimSuffix(origin, "/")
	for _, allowed := range h.AllowedOrigins {
		if strings.EqualFold(origin, strings.TrimSuffix(allowed, "/")) {
			return true
		}
	}
	return false
}

const streamWriteWait = 5 * time.Second

type streamEvent struct {
	Approved bool   `json:"approved"`
	OrderID  string `json:"orderId,omitempty"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// StreamPayment reconciles a pending payment on the server every
// StreamInterval and pushes each result until it is settled or too old.
func (h *Handler) StreamPayment(w http.ResponseWriter, r *http.Request) {
	pendingID := chi.URLParam(r, "pendingId")
	companyID := r.URL.Query().Get("companyId")

	p, err := h.Payments.Pending(r.Context(), pendingID, companyID)
	if err != nil {
		status, msg := reconcileErrorStatus(err)
		writeError(w, status, msg)
		return
	}

	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		h.Log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// Drain reads so close frames are seen.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	deadline := p.CreatedAt.Add(h.MaxPollAge)
	interval := h.StreamInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	in := reconcile.Input{PendingID: pendingID, CompanyID: companyID}
	for {
		if !p.CreatedAt.IsZero() && time.Now().After(deadline) {
			h.send(conn, streamEvent{Status: "timeout"})
			closeStream(conn, "timeout")
			return
		}

		res, err := h.Payments.Reconcile(ctx, in)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			_, msg := reconcileErrorStatus(err)
			h.Log.Warn("stream reconcile failed", zap.String("pending_id", pendingID), zap.Error(err))
			h.send(conn, streamEvent{Status: "error", Error: msg})
			closeStream(conn, "error")
			return
		}
		if err := h.send(conn, streamEvent{Approved: res.Approved, OrderID: res.OrderID, Status: res.Status}); err != nil {
			return
		}
		if res.Done {
			closeStream(conn, res.Status)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, ev streamEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(ev)
}

func closeStream(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
}
