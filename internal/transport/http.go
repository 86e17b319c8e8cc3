// Package transport delivers staged records to a REST backend.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"mindsync/internal/config"
	"mindsync/internal/domain"
	"mindsync/internal/models"

	"golang.org/x/time/rate"
)

// maxBody bounds how much of a response body is kept as remote payload or error text.
const maxBody = 1 << 20

// Envelope is the body of every PUT.
type Envelope struct {
	ID        string          `json:"id"`
	DataType  string          `json:"data_type"`
	OwnerID   string          `json:"owner_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// HTTPTransport PUTs each record to {base}/{dataType}/{id}.
type HTTPTransport struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPTransport builds a transport from the remote config section.
// A non-positive RPS disables throttling.
func NewHTTPTransport(cfg config.RemoteConfig, client *http.Client) (*HTTPTransport, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote base url is required: %w", domain.ErrInvalidArgument)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("remote base url: %w", err)
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	return &HTTPTransport{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		authToken:  cfg.AuthToken,
		httpClient: client,
		limiter:    limiter,
	}, nil
}

// Send maps the HTTP outcome onto the error taxonomy:
// 2xx is success, 409 a conflict carrying the response body,
// 408/425/429/5xx and network errors are transient, other statuses terminal.
func (t *HTTPTransport) Send(ctx context.Context, rec *models.StagedRecord) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return domain.Transient(fmt.Errorf("rate limit wait: %w", err))
	}

	body, err := json.Marshal(Envelope{
		ID:        rec.ID,
		DataType:  rec.DataType,
		OwnerID:   rec.OwnerID,
		Payload:   rec.Payload,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	})
	if err != nil {
		return domain.Terminal(fmt.Errorf("encode record %s: %w", rec.ID, err))
	}

	endpoint := fmt.Sprintf("%s/%s/%s", t.baseURL, url.PathEscape(rec.DataType), url.PathEscape(rec.ID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Terminal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", rec.ID)
	if t.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.authToken)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return domain.Transient(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusConflict:
		ce := &domain.ConflictError{Err: fmt.Errorf("remote rejected %s: status 409", rec.ID)}
		if json.Valid(raw) {
			ce.Remote = raw
		}
		return ce
	case retryableStatus(code):
		return domain.Transient(statusError(code, raw))
	default:
		return domain.Terminal(statusError(code, raw))
	}
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

const maxErrorBody = 200

func statusError(code int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	if msg == "" {
		return fmt.Errorf("unexpected status %d", code)
	}
	return fmt.Errorf("unexpected status %d: %s", code, msg)
}

var _ domain.Transport = (*HTTPTransport)(nil)
