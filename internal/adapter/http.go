package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/loomworks/loom/pkg/api"
)

type (
	// HTTPInvoker forwards actions to a remote integration service with a
	// hard per-call timeout
	HTTPInvoker struct {
		httpClient *http.Client
		endpoint   string
	}

	actionRequest struct {
		Action string   `json:"action"`
		Params api.Args `json:"params,omitempty"`
	}

	actionResponse struct {
		Result any    `json:"result"`
		Error  string `json:"error,omitempty"`
	}
)

var (
	ErrAdapterHTTP = errors.New("adapter returned HTTP error")
)

var _ Invoker = (*HTTPInvoker)(nil)

// NewHTTPInvoker creates an adapter client for a remote integration
// service
func NewHTTPInvoker(endpoint string, timeout time.Duration) *HTTPInvoker {
	return &HTTPInvoker{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		endpoint: endpoint,
	}
}

func (h *HTTPInvoker) Invoke(
	ctx context.Context, name string, params api.Args,
) (any, error) {
	body, err := json.Marshal(actionRequest{Action: name, Params: params})
	if err != nil {
		return nil, api.NewExecError(api.ErrorAdapter, err.Error())
	}

	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, h.endpoint, bytes.NewBuffer(body),
	)
	if err != nil {
		return nil, api.NewExecError(api.ErrorAdapter, err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, api.NewExecError(api.ErrorTimeout, err.Error())
		}
		var t interface{ Timeout() bool }
		if errors.As(err, &t) && t.Timeout() {
			return nil, api.NewExecError(api.ErrorTimeout, err.Error())
		}
		return nil, api.NewExecError(api.ErrorAdapter, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, api.NewExecError(api.ErrorAdapter, err.Error())
	}

	if resp.StatusCode != http.StatusOK {
		return nil, api.NewExecError(api.ErrorAdapter,
			fmt.Sprintf("%s: HTTP %d", ErrAdapterHTTP, resp.StatusCode))
	}

	var res actionResponse
	if err := json.Unmarshal(respBody, &res); err != nil {
		return nil, api.NewExecError(api.ErrorAdapter, err.Error())
	}
	if res.Error != "" {
		return nil, api.NewExecError(api.ErrorAdapter, res.Error)
	}
	return res.Result, nil
}
