package http

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"ComandaPay/internal/reconcile"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type mercadoPagoNotification struct {
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Action string `json:"action"`
	Data   struct {
		ID json.Number `json:"id"`
	} `json:"data"`
}

type webhookAck struct {
	Received bool   `json:"received"`
	Status   string `json:"status,omitempty"`
}

// MercadoPagoWebhook acknowledges every notification it can read so the
// provider stops retrying; processing errors are only logged.
func (h *Handler) MercadoPagoWebhook(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	var n mercadoPagoNotification
	if len(body) > 0 {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&n); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
	}
	q := r.URL.Query()
	topic := firstNonEmpty(n.Type, n.Topic, q.Get("type"), q.Get("topic"))
	paymentID := firstNonEmpty(q.Get("data.id"), n.Data.ID.String(), q.Get("id"))

	if h.MercadoPagoWebhookSecret != "" {
		if !verifyMercadoPagoSignature(h.MercadoPagoWebhookSecret, r.Header.Get("x-signature"), r.Header.Get("x-request-id"), paymentID) {
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}
	if topic != "" && topic != "payment" {
		writeJSON(w, http.StatusOK, webhookAck{Received: true, Status: "ignored"})
		return
	}
	if paymentID == "" {
		writeError(w, http.StatusBadRequest, "missing payment id")
		return
	}

	res, err := h.Payments.HandleMercadoPagoWebhook(r.Context(), companyID, paymentID)
	h.ackWebhook(w, "mercadopago", companyID, paymentID, res, err)
}

type picPayNotification struct {
	PaymentLinkID string `json:"paymentLinkId"`
	ReferenceID   string `json:"referenceId"`
	ID            string `json:"id"`
}

func (h *Handler) PicPayWebhook(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")
	var n picPayNotification
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&n); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	linkID := firstNonEmpty(n.PaymentLinkID, n.ReferenceID, n.ID)
	if linkID == "" {
		writeError(w, http.StatusBadRequest, "missing payment link id")
		return
	}

	res, err := h.Payments.HandlePicPayWebhook(r.Context(), companyID, linkID)
	h.ackWebhook(w, "picpay", companyID, linkID, res, err)
}

func (h *Handler) ackWebhook(w http.ResponseWriter, source, companyID, ref string, res reconcile.Result, err error) {
	log := h.Log.With(zap.String("source", source), zap.String("company_id", companyID), zap.String("reference", ref))
	switch {
	case err == nil:
		log.Info("webhook processed", zap.Bool("approved", res.Approved), zap.String("status", res.Status), zap.String("order_id", res.OrderID))
		writeJSON(w, http.StatusOK, webhookAck{Received: true, Status: res.Status})
	case errors.Is(err, reconcile.ErrWebhookUnmatched):
		log.Info("webhook unmatched")
		writeJSON(w, http.StatusOK, webhookAck{Received: true, Status: "ignored"})
	default:
		log.Error("webhook processing failed", zap.Error(err))
		writeJSON(w, http.StatusOK, webhookAck{Received: true, Status: "error"})
	}
}

// verifyMercadoPagoSignature checks the x-signature header
// ("ts=<unix>,v1=<hex hmac>") over the manifest
// "id:<data.id>;request-id:<x-request-id>;ts:<ts>;".
func verifyMercadoPagoSignature(secret, header, requestID, dataID string) bool {
	var ts, v1 string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "ts":
			ts = v
		case "v1":
			v1 = v
		}
	}
	if ts == "" || v1 == "" {
		return false
	}
	manifest := "id:" + strings.ToLower(dataID) + ";"
	if requestID != "" {
		manifest += "request-id:" + requestID + ";"
	}
	manifest += "ts:" + ts + ";"

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	want := mac.Sum(nil)
	got, err := hex.DecodeString(v1)
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
