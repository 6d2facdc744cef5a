package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cppla/livewell/utils"
)

// DeliveryError carries the provider's answer for a rejected message.
type DeliveryError struct {
	StatusCode int
	Name       string
	Message    string
}

func (e *DeliveryError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("resend %d %s: %s", e.StatusCode, e.Name, e.Message)
	}
	return fmt.Sprintf("resend %d: %s", e.StatusCode, e.Message)
}

// ResendSender posts messages to the Resend email API.
type ResendSender struct {
	baseURL    string
	apiKey     string
	from       string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewResendSender(baseURL, apiKey, from string, httpClient *http.Client) *ResendSender {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.resend.com"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &ResendSender{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(apiKey),
		from:       from,
		httpClient: httpClient,
		maxRetries: 2,
		baseDelay:  200 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

type resendEmail struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

// Send delivers one message, retrying transport errors, 429 and 5xx answers.
func (s *ResendSender) Send(ctx context.Context, to, subject, body string) error {
	payload, err := json.Marshal(resendEmail{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		Text:    body,
	})
	if err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/emails", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			if attempt < s.maxRetries && ctx.Err() == nil {
				if waitErr := utils.WaitWithContext(ctx, utils.RetryDelay(attempt+1, s.baseDelay, s.maxDelay, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return nil
		}
		if utils.Retryable(resp.StatusCode) && attempt < s.maxRetries {
			if waitErr := utils.WaitWithContext(ctx, utils.RetryDelay(attempt+1, s.baseDelay, s.maxDelay, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Name    string `json:"name"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(respBody, &errPayload)
		if errPayload.Message == "" {
			errPayload.Message = strings.TrimSpace(string(respBody))
		}
		return &DeliveryError{
			StatusCode: resp.StatusCode,
			Name:       errPayload.Name,
			Message:    errPayload.Message,
		}
	}
}
