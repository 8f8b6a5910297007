package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

var ErrMailDisabled = errors.New("mail delivery not configured")

type Mailer interface {
	Send(ctx context.Context, e Email) error
}

type Email struct {
	To      []string
	Subject string
	HTML    string
	Text    string
}

// HTTPMailer posts to a Resend-style JSON email API.
type HTTPMailer struct {
	BaseURL  string
	APIKey   string
	From     string
	FromName string
	Client   *http.Client
}

type emailPayload struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

func NewHTTPMailer(baseURL, apiKey, from, fromName string) *HTTPMailer {
	return &HTTPMailer{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		APIKey:   apiKey,
		From:     from,
		FromName: fromName,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (m *HTTPMailer) Enabled() bool {
	return m != nil && m.APIKey != "" && m.From != ""
}

func (m *HTTPMailer) Send(ctx context.Context, e Email) error {
	if !m.Enabled() {
		return ErrMailDisabled
	}
	if len(e.To) == 0 {
		return errors.New("email has no recipients")
	}

	from := m.From
	if m.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.FromName, m.From)
	}
	body, err := json.Marshal(emailPayload{From: from, To: e.To, Subject: e.Subject, HTML: e.HTML, Text: e.Text})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.BaseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("mail api error: http %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

type Mock struct {
	mu   sync.Mutex
	Sent []Email
	Err  error
}

func (m *Mock) Send(ctx context.Context, e Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, e)
	return m.Err
}

func (m *Mock) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}
