package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type httpStatusError struct {
	StatusCode int
	Body       []byte
}

func (e *httpStatusError) Error() string {
	msg := strings.TrimSpace(string(e.Body))
	if msg != "" {
		return fmt.Sprintf("http status %d: %s", e.StatusCode, msg)
	}
	return fmt.Sprintf("http status %d", e.StatusCode)
}

// message extracts the human-readable error a provider put in its body.
func (e *httpStatusError) message() string {
	var body struct {
		Message          string `json:"message"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(e.Body, &body); err == nil {
		switch {
		case body.Message != "":
			return body.Message
		case body.ErrorDescription != "":
			return body.ErrorDescription
		case body.Error != "":
			return body.Error
		}
	}
	msg := strings.TrimSpace(string(e.Body))
	if msg == "" {
		return http.StatusText(e.StatusCode)
	}
	return msg
}

// doRaw sends a request and returns the body of a 2xx response. Non-2xx
// responses come back as *httpStatusError.
func doRaw(ctx context.Context, client *http.Client, method, endpoint string, headers map[string]string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpStatusError{StatusCode: resp.StatusCode, Body: data}
	}
	return data, nil
}

func doJSON(ctx context.Context, client *http.Client, method, endpoint string, headers map[string]string, body any, out any) error {
	data, err := doRaw(ctx, client, method, endpoint, headers, body)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func bearer(token Token) map[string]string {
	return map[string]string{"Authorization": "Bearer " + string(token)}
}
