// Package gateway is the typed client for the gateway process that holds the
// live connections to the messaging network. Transport errors are decided
// here, at the boundary, and come back as the domain error taxonomy; callers
// never see a bare http error.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aniladanir/retry"
	"github.com/google/uuid"
	"github.com/relaydesk/relaydesk/internal/domain"
)

type Client interface {
	RegisterSession(ctx context.Context, tenantID, sessionID, displayName string) error
	Connect(ctx context.Context, sessionID string) error
	Disconnect(ctx context.Context, sessionID string) error
	SendMessage(ctx context.Context, req SendMessageRequest) (externalMessageID string, err error)
}

type SendMessageRequest struct {
	SessionID   string             `json:"session_id"`
	To          string             `json:"to"`
	ContentType domain.ContentType `json:"type"`
	Content     string             `json:"content"`
	MediaURL    string             `json:"media_url,omitempty"`
}

type sendMessageResponse struct {
	ExternalMessageID string `json:"external_message_id"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type httpClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retrier    *retry.Retrier
}

// NewHTTPClient builds the gateway client. Every call is bounded by timeout;
// maxRetry applies only to idempotent control commands, never to sends.
func NewHTTPClient(baseURL, token string, timeout time.Duration, maxRetry *int) (Client, error) {
	retrierOpts := make([]retry.Option, 0)
	if maxRetry != nil {
		retrierOpts = append(retrierOpts, retry.WithMaxAttemps(*maxRetry))
	}
	retrier, err := retry.New(retrierOpts...)
	if err != nil {
		return nil, fmt.Errorf("encountered error when initializing retrier: %w", err)
	}

	return &httpClient{
		baseURL: baseURL,
		token:   token,
		retrier: retrier,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func (c *httpClient) RegisterSession(ctx context.Context, tenantID, sessionID, displayName string) error {
	return c.controlCommand(ctx, "/sessions", map[string]string{
		"tenant_id":    tenantID,
		"session_id":   sessionID,
		"display_name": displayName,
	})
}

func (c *httpClient) Connect(ctx context.Context, sessionID string) error {
	return c.controlCommand(ctx, fmt.Sprintf("/sessions/%s/connect", sessionID), nil)
}

func (c *httpClient) Disconnect(ctx context.Context, sessionID string) error {
	return c.controlCommand(ctx, fmt.Sprintf("/sessions/%s/disconnect", sessionID), nil)
}

// SendMessage issues exactly one attempt. Retrying a send would hide
// duplicate-delivery ambiguity from the caller; resubmission is a caller
// decision and produces a new external message id.
func (c *httpClient) SendMessage(ctx context.Context, req SendMessageRequest) (string, error) {
	resp, err := c.doRequest(ctx, fmt.Sprintf("/sessions/%s/messages", req.SessionID), req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if err := decideError(resp); err != nil {
		return "", err
	}

	var result sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: malformed send response: %v", domain.ErrGatewayRejected, err)
	}
	if result.ExternalMessageID == "" {
		return "", fmt.Errorf("%w: send response missing external message id", domain.ErrGatewayRejected)
	}
	return result.ExternalMessageID, nil
}

// controlCommand posts an idempotent command, retrying on transport errors
// and 5xx responses.
func (c *httpClient) controlCommand(ctx context.Context, path string, payload any) error {
	var lastErr error

	retryFunc := func(attempt int) (terminate bool) {
		resp, err := c.doRequest(ctx, path, payload)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
			return false
		}
		defer resp.Body.Close()

		lastErr = decideError(resp)
		// 5xx is worth another attempt, anything else is final
		return resp.StatusCode < http.StatusInternalServerError
	}

	if retrySuccess := <-c.retrier.Retry(ctx, retryFunc, true); !retrySuccess {
		if lastErr == nil {
			lastErr = domain.ErrGatewayUnavailable
		}
		return lastErr
	}

	return lastErr
}

func (c *httpClient) doRequest(ctx context.Context, path string, payload any) (*http.Response, error) {
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Add("X-Request-ID", uuid.NewString())

	return c.httpClient.Do(req)
}

// decideError maps a gateway response onto the error taxonomy. The response
// body is inspected only here; downstream code branches on errors.Is.
func decideError(resp *http.Response) error {
	if resp.StatusCode < http.StatusBadRequest {
		return nil
	}

	var gwErr errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&gwErr)

	switch {
	case resp.StatusCode == http.StatusPaymentRequired || gwErr.Error.Code == "budget_exhausted":
		return fmt.Errorf("%w: %s", domain.ErrBudgetExhausted, gwErr.Error.Message)
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: gateway returned status %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d code %q: %s", domain.ErrGatewayRejected, resp.StatusCode, gwErr.Error.Code, gwErr.Error.Message)
	}
}
