package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"ComandaPay/internal/models"

	"golang.org/x/sync/singleflight"
)

// tokenSkew expires cached tokens early so a token never dies mid-request.
const tokenSkew = 30 * time.Second

var picpayRefundable = []string{"paid", "approved", "completed", "settled"}

var picpayTerminal = []string{"refunded", "cancelled", "canceled"}

// PicPay exchanges client credentials for an OAuth2 token and queries payment
// links. The link status document has no stable schema, see linkStatusStrategies.
type PicPay struct {
	baseURL string
	client  *http.Client
	now     func() time.Time

	mu     sync.Mutex
	tokens map[string]cachedToken
	group  singleflight.Group
}

type cachedToken struct {
	token     Token
	expiresAt time.Time
}

func NewPicPay(baseURL string, timeout time.Duration) *PicPay {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PicPay{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
		tokens:  map[string]cachedToken{},
	}
}

func (p *PicPay) Kind() models.Provider { return models.ProviderPicPay }

func (p *PicPay) Authenticate(ctx context.Context, cred models.Credential) (Token, error) {
	clientID := strings.TrimSpace(cred.ClientID)
	secret := strings.TrimSpace(cred.ClientSecret)
	if clientID == "" || secret == "" {
		return "", ErrCredentialsMissing
	}

	p.mu.Lock()
	cached, ok := p.tokens[clientID]
	p.mu.Unlock()
	if ok && p.now().Before(cached.expiresAt) {
		return cached.token, nil
	}

	v, err, _ := p.group.Do(clientID, func() (any, error) {
		return p.exchange(ctx, clientID, secret)
	})
	if err != nil {
		return "", err
	}
	return v.(Token), nil
}

func (p *PicPay) exchange(ctx context.Context, clientID, secret string) (Token, error) {
	body := map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     clientID,
		"client_secret": secret,
	}
	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := doJSON(ctx, p.client, http.MethodPost, p.baseURL+"/oauth2/token", nil, body, &resp); err != nil {
		var se *httpStatusError
		if errors.As(err, &se) {
			return "", &AuthError{Provider: models.ProviderPicPay, StatusCode: se.StatusCode, Message: se.message()}
		}
		return "", err
	}
	if resp.AccessToken == "" {
		return "", &AuthError{Provider: models.ProviderPicPay, StatusCode: http.StatusOK, Message: "empty access_token"}
	}

	token := Token(resp.AccessToken)
	ttl := time.Duration(resp.ExpiresIn) * time.Second
	if ttl > tokenSkew {
		p.mu.Lock()
		p.tokens[clientID] = cachedToken{token: token, expiresAt: p.now().Add(ttl - tokenSkew)}
		p.mu.Unlock()
	}
	return token, nil
}

// GetPaymentStatus tries the link document first and falls back to the
// transaction list when the document carries no interpretable status.
func (p *PicPay) GetPaymentStatus(ctx context.Context, token Token, reference string) (RawStatus, error) {
	reference = strings.TrimPrefix(strings.TrimSpace(reference), models.PicPayReferencePrefix)
	if reference == "" {
		return RawStatus{}, ErrPaymentNotFound
	}

	link := p.baseURL + "/v1/paymentlink/" + url.PathEscape(reference)
	data, err := doRaw(ctx, p.client, http.MethodGet, link, bearer(token), nil)
	if err != nil {
		return RawStatus{}, p.mapError(err)
	}

	primary, found := extractLinkStatus(data)
	if found && NormalizeString(models.ProviderPicPay, primary.Status) != Pending {
		primary.PaymentID = reference
		return primary, nil
	}

	txData, err := doRaw(ctx, p.client, http.MethodGet, link+"/transactions", bearer(token), nil)
	if err != nil {
		mapped := p.mapError(err)
		if !errors.Is(mapped, ErrPaymentNotFound) {
			return RawStatus{}, mapped
		}
	} else if tx, ok := extractTransactionStatus(txData); ok {
		tx.PaymentID = reference
		return tx, nil
	}

	if found {
		primary.PaymentID = reference
		return primary, nil
	}
	return RawStatus{PaymentID: reference, Source: "none"}, nil
}

// IssueRefund cancels the payment link. Cancellation always returns the whole
// charge, so partial amounts are refused before anything is sent.
func (p *PicPay) IssueRefund(ctx context.Context, token Token, params RefundParams) (RefundResult, error) {
	if params.Partial() {
		return RefundResult{}, &RejectedError{Provider: models.ProviderPicPay, Message: "picpay supports full cancellation only"}
	}

	reference := strings.TrimPrefix(strings.TrimSpace(params.Reference), models.PicPayReferencePrefix)
	current, err := p.GetPaymentStatus(ctx, token, reference)
	if err != nil {
		return RefundResult{}, err
	}
	status := canonical(current.Status)
	if contains(picpayTerminal, status) {
		return RefundResult{}, ErrAlreadyRefunded
	}
	if !contains(picpayRefundable, status) {
		return RefundResult{}, &NotRefundableError{Status: current.Status}
	}

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	endpoint := p.baseURL + "/v1/paymentlink/" + url.PathEscape(reference) + "/cancel"
	if err := doJSON(ctx, p.client, http.MethodPost, endpoint, bearer(token), map[string]any{}, &resp); err != nil {
		return RefundResult{}, p.mapError(err)
	}

	refundID := resp.ID
	if refundID == "" {
		refundID = models.PicPayReferencePrefix + "cancel_" + reference
	}
	status = resp.Status
	if status == "" {
		status = "cancelled"
	}
	return RefundResult{RefundID: refundID, Status: status}, nil
}

func (p *PicPay) mapError(err error) error {
	var se *httpStatusError
	if !errors.As(err, &se) {
		return err
	}
	switch se.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{Provider: models.ProviderPicPay, StatusCode: se.StatusCode, Message: se.message()}
	case http.StatusNotFound:
		return ErrPaymentNotFound
	default:
		return &RejectedError{Provider: models.ProviderPicPay, StatusCode: se.StatusCode, Message: se.message()}
	}
}

type statusStrategy struct {
	name    string
	extract func(doc map[string]any) string
}

// linkStatusStrategies is tried in order. PicPay has been observed placing the
// status in each of these locations depending on the integration mode.
var linkStatusStrategies = []statusStrategy{
	{name: "status", extract: field("status")},
	{name: "charge.status", extract: nested("charge", "status")},
	{name: "payment.status", extract: nested("payment", "status")},
	{name: "transaction.status", extract: nested("transaction", "status")},
	{name: "payments[0].status", extract: firstElement("payments")},
	{name: "transactions[0].status", extract: firstElement("transactions")},
}

// extractLinkStatus returns the first interpretable status, or the first
// non-empty one when none of them is interpretable.
func extractLinkStatus(data []byte) (RawStatus, bool) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return RawStatus{}, false
	}

	var fallback RawStatus
	found := false
	for _, s := range linkStatusStrategies {
		v := s.extract(doc)
		if v == "" {
			continue
		}
		if NormalizeString(models.ProviderPicPay, v) != Pending {
			return RawStatus{Status: v, Source: s.name}, true
		}
		if !found {
			fallback = RawStatus{Status: v, Source: s.name}
			found = true
		}
	}
	return fallback, found
}

// extractTransactionStatus reads the transaction list endpoint, which may be a
// bare array or wrapped in content/transactions/data/items. Only an approved
// transaction is reported: a declined attempt does not end a link that can
// still be paid.
func extractTransactionStatus(data []byte) (RawStatus, bool) {
	var root any
	if err := json.Unmarshal(data, &root); err != nil {
		return RawStatus{}, false
	}

	var list []any
	switch v := root.(type) {
	case []any:
		list = v
	case map[string]any:
		for _, key := range []string{"content", "transactions", "data", "items"} {
			if arr, ok := v[key].([]any); ok {
				list = arr
				break
			}
		}
	}

	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		s := stringValue(obj["status"])
		if NormalizeString(models.ProviderPicPay, s) == Approved {
			return RawStatus{Status: s, Source: "transactions"}, true
		}
	}
	return RawStatus{}, false
}

func field(key string) func(map[string]any) string {
	return func(doc map[string]any) string {
		return stringValue(doc[key])
	}
}

func nested(parent, key string) func(map[string]any) string {
	return func(doc map[string]any) string {
		obj, ok := doc[parent].(map[string]any)
		if !ok {
			return ""
		}
		return stringValue(obj[key])
	}
}

func firstElement(key string) func(map[string]any) string {
	return func(doc map[string]any) string {
		arr, ok := doc[key].([]any)
		if !ok || len(arr) == 0 {
			return ""
		}
		obj, ok := arr[0].(map[string]any)
		if !ok {
			return ""
		}
		return stringValue(obj["status"])
	}
}

func stringValue(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}
