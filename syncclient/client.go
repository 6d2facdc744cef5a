package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cppla/livewell/liveness"
	"github.com/cppla/livewell/utils"
)

// HTTPError is a non-2xx answer from the sync endpoint.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("sync http %d: %s", e.StatusCode, e.Message)
}

type PushResult struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId"`
}

// Pushing is what a Pusher needs from a client.
type Pushing interface {
	Push(ctx context.Context, s liveness.State) (PushResult, error)
}

// Client posts subject state to a livewell server, retrying transient failures
// with capped exponential backoff.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewClient targets baseURL, defaulting to a local server. A nil httpClient gets a
// 15s timeout client.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		maxRetries: 2,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

// Push sends the whole snapshot to {base}/sync.
func (c *Client) Push(ctx context.Context, s liveness.State) (PushResult, error) {
	if s.CheckInHistory == nil {
		s.CheckInHistory = []liveness.CheckIn{}
	}
	if s.EmergencyContacts == nil {
		s.EmergencyContacts = []liveness.Guardian{}
	}
	body, err := json.Marshal(s)
	if err != nil {
		return PushResult{}, err
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sync", bytes.NewReader(body))
		if err != nil {
			return PushResult{}, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries && ctx.Err() == nil {
				if waitErr := utils.WaitWithContext(ctx, utils.RetryDelay(attempt+1, c.baseDelay, c.maxDelay, "")); waitErr != nil {
					return PushResult{}, waitErr
				}
				continue
			}
			return PushResult{}, err
		}
		payload, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
		if readErr != nil {
			return PushResult{}, readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			var out PushResult
			if len(payload) > 0 {
				if err := json.Unmarshal(payload, &out); err != nil {
					return PushResult{}, fmt.Errorf("decode sync response: %w", err)
				}
			}
			return out, nil
		}
		if utils.Retryable(resp.StatusCode) && attempt < c.maxRetries {
			if waitErr := utils.WaitWithContext(ctx, utils.RetryDelay(attempt+1, c.baseDelay, c.maxDelay, resp.Header.Get("Retry-After"))); waitErr != nil {
				return PushResult{}, waitErr
			}
			continue
		}

		var errPayload struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		if errPayload.Error == "" {
			errPayload.Error = strings.TrimSpace(string(payload))
		}
		return PushResult{}, &HTTPError{StatusCode: resp.StatusCode, Message: errPayload.Error}
	}
}
