package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type SendRequest struct {
	LotID        string   `json:"lot_id"`
	StepCode     string   `json:"step_code"`
	Subject      string   `json:"subject"`
	Body         string   `json:"body"`
	Recipients   []string `json:"recipients"`
	LotReference string   `json:"lot_reference"`
	ResidenceNom string   `json:"residence_nom"`
}

type SendResponse struct {
	Recipients []string `json:"recipients,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Sender hands a rendered notification to the external send endpoint.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (SendResponse, error)
}

type HTTPSender struct {
	url    string
	apiKey string
	client *http.Client
}

func NewHTTPSender(url, apiKey, timeout string) *HTTPSender {
	return &HTTPSender{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{
			Timeout:   parseTimeout(timeout, 15*time.Second),
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (n *HTTPSender) Send(ctx context.Context, payload SendRequest) (SendResponse, error) {
	if n.url == "" {
		return SendResponse{}, fmt.Errorf("notification send url is not configured")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return SendResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(raw))
	if err != nil {
		return SendResponse{}, fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if n.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+n.apiKey)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return SendResponse{}, fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var out SendResponse
	_ = json.Unmarshal(body, &out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, &SendError{StatusCode: resp.StatusCode, Message: out.Error}
	}
	return out, nil
}

func parseTimeout(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
