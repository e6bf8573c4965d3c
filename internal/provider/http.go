package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/loomworks/loom/pkg/api"
	"github.com/loomworks/loom/pkg/log"
)

type (
	// HTTPProvider invokes a reasoning provider over HTTP with a JSON
	// request/response envelope and a hard per-call timeout
	HTTPProvider struct {
		httpClient *http.Client
		endpoint   string
	}

	// invokeResponse is the provider's wire envelope
	invokeResponse struct {
		Text       string `json:"text"`
		TokensUsed int64  `json:"tokens_used"`
		Error      string `json:"error,omitempty"`
	}
)

var (
	ErrProviderHTTP = errors.New("provider returned HTTP error")
	ErrNoEndpoint   = errors.New("provider endpoint not configured")
)

var _ Provider = (*HTTPProvider)(nil)

// NewHTTPProvider creates a provider client with the given endpoint and
// hard call timeout
func NewHTTPProvider(endpoint string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		endpoint: endpoint,
	}
}

func (p *HTTPProvider) Invoke(
	ctx context.Context, req *Request,
) (*Completion, error) {
	if p.endpoint == "" {
		return nil, api.NewExecError(
			api.ErrorInvalidRequest, ErrNoEndpoint.Error(),
		)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, api.NewExecError(api.ErrorInvalidRequest, err.Error())
	}

	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, p.endpoint, bytes.NewBuffer(body),
	)
	if err != nil {
		return nil, api.NewExecError(api.ErrorInvalidRequest, err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := p.httpClient.Do(httpReq)
	dur := time.Since(start)

	if err != nil {
		slog.Error("Provider request failed",
			slog.Duration("duration", dur),
			log.Error(err))
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, api.NewExecError(api.ErrorTimeout, err.Error())
		}
		return nil, api.NewExecError(api.ErrorInvalidRequest, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, api.NewExecError(api.ErrorInvalidRequest, err.Error())
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, respBody)
	}

	var res invokeResponse
	if err := json.Unmarshal(respBody, &res); err != nil {
		return nil, api.NewExecError(api.ErrorInvalidRequest, err.Error())
	}
	if res.Error != "" {
		return nil, api.NewExecError(api.ErrorInvalidRequest, res.Error)
	}

	return &Completion{
		Text:       res.Text,
		TokensUsed: res.TokensUsed,
	}, nil
}

// classifyStatus maps provider HTTP statuses into the error taxonomy:
// 429 and 503 are rate limiting, 408 and 504 are timeouts, remaining 4xx
// are invalid requests, and other 5xx are treated as provider pushback
func classifyStatus(status int, body []byte) *api.ExecError {
	msg := fmt.Sprintf("%s: HTTP %d", ErrProviderHTTP, status)
	switch {
	case status == http.StatusTooManyRequests ||
		status == http.StatusServiceUnavailable:
		return api.NewExecError(api.ErrorRateLimited, msg)
	case status == http.StatusRequestTimeout ||
		status == http.StatusGatewayTimeout:
		return api.NewExecError(api.ErrorTimeout, msg)
	case status >= 400 && status < 500:
		return api.NewExecError(api.ErrorInvalidRequest,
			fmt.Sprintf("%s: %s", msg, string(body)))
	default:
		return api.NewExecError(api.ErrorRateLimited, msg)
	}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
