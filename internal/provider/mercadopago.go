package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ComandaPay/internal/models"
)

// MercadoPago authenticates with a static access token stored per tenant (or
// the platform token for subscriptions).
type MercadoPago struct {
	baseURL string
	client  *http.Client
}

func NewMercadoPago(baseURL string, timeout time.Duration) *MercadoPago {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MercadoPago{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (m *MercadoPago) Kind() models.Provider { return models.ProviderMercadoPago }

func (m *MercadoPago) Authenticate(ctx context.Context, cred models.Credential) (Token, error) {
	token := strings.TrimSpace(cred.AccessToken)
	if token == "" {
		return "", ErrCredentialsMissing
	}
	return Token(token), nil
}

// GetPaymentStatus accepts either a payment id or the external reference set
// at checkout. External references resolve to the newest matching payment.
func (m *MercadoPago) GetPaymentStatus(ctx context.Context, token Token, reference string) (RawStatus, error) {
	p, err := m.lookup(ctx, token, reference)
	if err != nil {
		return RawStatus{}, err
	}
	return RawStatus{
		Status:            p.Status,
		Source:            "status",
		PaymentID:         p.ID.String(),
		ExternalReference: p.ExternalReference,
	}, nil
}

func (m *MercadoPago) IssueRefund(ctx context.Context, token Token, params RefundParams) (RefundResult, error) {
	if params.IdempotencyKey == "" {
		return RefundResult{}, errors.New("mercadopago refund requires an idempotency key")
	}

	paymentID := strings.TrimSpace(params.Reference)
	if !isNumeric(paymentID) {
		p, err := m.lookup(ctx, token, paymentID)
		if err != nil {
			return RefundResult{}, err
		}
		paymentID = p.ID.String()
	}

	// An omitted amount is a full refund.
	body := mpRefundBody{}
	if params.Partial() {
		amt := json.Number(params.Amount.StringFixed(2))
		body.Amount = &amt
	}

	headers := bearer(token)
	headers["Idempotency-Key"] = params.IdempotencyKey

	var resp mpRefund
	endpoint := m.baseURL + "/v1/payments/" + url.PathEscape(paymentID) + "/refunds"
	if err := doJSON(ctx, m.client, http.MethodPost, endpoint, headers, body, &resp); err != nil {
		return RefundResult{}, m.mapError(err)
	}
	return RefundResult{RefundID: resp.ID.String(), Status: resp.Status}, nil
}

func (m *MercadoPago) lookup(ctx context.Context, token Token, reference string) (*mpPayment, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, ErrPaymentNotFound
	}

	if isNumeric(reference) {
		var p mpPayment
		endpoint := m.baseURL + "/v1/payments/" + url.PathEscape(reference)
		if err := doJSON(ctx, m.client, http.MethodGet, endpoint, bearer(token), nil, &p); err != nil {
			return nil, m.mapError(err)
		}
		return &p, nil
	}

	values := url.Values{}
	values.Set("external_reference", reference)
	values.Set("sort", "date_created")
	values.Set("criteria", "desc")
	var res mpSearchResponse
	endpoint := m.baseURL + "/v1/payments/search?" + values.Encode()
	if err := doJSON(ctx, m.client, http.MethodGet, endpoint, bearer(token), nil, &res); err != nil {
		return nil, m.mapError(err)
	}
	if len(res.Results) == 0 {
		return nil, ErrPaymentNotFound
	}
	return &res.Results[0], nil
}

func (m *MercadoPago) mapError(err error) error {
	var se *httpStatusError
	if !errors.As(err, &se) {
		return err
	}
	switch se.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{Provider: models.ProviderMercadoPago, StatusCode: se.StatusCode, Message: se.message()}
	case http.StatusNotFound:
		return ErrPaymentNotFound
	default:
		return &RejectedError{Provider: models.ProviderMercadoPago, StatusCode: se.StatusCode, Message: se.message()}
	}
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

type mpPayment struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	StatusDetail      string      `json:"status_detail"`
	ExternalReference string      `json:"external_reference"`
}

type mpSearchResponse struct {
	Results []mpPayment `json:"results"`
}

type mpRefundBody struct {
	Amount *json.Number `json:"amount,omitempty"`
}

type mpRefund struct {
	ID     json.Number `json:"id"`
	Status string      `json:"status"`
}
