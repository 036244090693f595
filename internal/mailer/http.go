package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultHTTPTimeout = 10 * time.Second

type httpSendRequest struct {
	From    string           `json:"from"`
	To      []string         `json:"to"`
	Subject string           `json:"subject"`
	HTML    string           `json:"html,omitempty"`
	Text    string           `json:"text,omitempty"`
	ReplyTo string           `json:"reply_to,omitempty"`
	Tags    []httpMessageTag `json:"tags,omitempty"`
}

type httpMessageTag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type httpSendResponse struct {
	ID string `json:"id"`
}

// HTTPMailer posts JSON messages to a transactional email API that answers
// with {"id": "..."}.
type HTTPMailer struct {
	client   *resty.Client
	endpoint string
}

func NewHTTPMailer(endpoint, apiKey string, timeout time.Duration) (*HTTPMailer, error) {
	client := resty.New()
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client.SetTimeout(timeout)
	if key := strings.TrimSpace(apiKey); key != "" {
		client.SetAuthToken(key)
	}

	return NewHTTPMailerWithClient(endpoint, client)
}

func NewHTTPMailerWithClient(endpoint string, client *resty.Client) (*HTTPMailer, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("mail api endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid mail api endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultHTTPTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPMailer{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (m *HTTPMailer) Send(ctx context.Context, email Email) (*SendResult, error) {
	if m == nil || m.client == nil {
		return nil, fmt.Errorf("mailer is not initialized")
	}
	if err := email.Validate(); err != nil {
		return nil, &MailerError{Message: "invalid email", Cause: err}
	}

	reqBody := httpSendRequest{
		From:    email.From(),
		To:      []string{strings.TrimSpace(email.To)},
		Subject: email.Subject,
		HTML:    email.HTML,
		Text:    email.Text,
		ReplyTo: strings.TrimSpace(email.ReplyTo),
	}
	for _, name := range slices.Sorted(maps.Keys(email.Tags)) {
		reqBody.Tags = append(reqBody.Tags, httpMessageTag{Name: name, Value: email.Tags[name]})
	}

	response, err := m.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(m.endpoint)
	if err != nil {
		return nil, &MailerError{
			Message:   "mail api request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &MailerError{
			Message:   "mail api returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	body := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		var parsed httpSendResponse
		if body != "" {
			if err := json.Unmarshal(response.Body(), &parsed); err != nil {
				return nil, &MailerError{
					StatusCode: statusCode,
					Message:    "mail api returned an unreadable response",
					Cause:      err,
				}
			}
		}
		return &SendResult{MessageID: parsed.ID, StatusCode: statusCode}, nil
	}

	return nil, &MailerError{
		StatusCode: statusCode,
		Message:    httpErrorMessage(statusCode, body),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func httpErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("mail api returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
