package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/wolfman30/safeguard/pkg/logging"
)

const (
	vonageEndpoint    = "https://rest.nexmo.com/sms/json"
	twilioBaseURL     = "https://api.twilio.com"
	fallbackSMSSender = "SafeGuard"
)

var phoneCleaner = regexp.MustCompile(`[^0-9+]`)

// CleanPhone strips everything but digits and a leading plus.
func CleanPhone(phone string) string {
	return phoneCleaner.ReplaceAllString(phone, "")
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// VonageTransport posts to the Vonage (Nexmo) SMS API.
type VonageTransport struct {
	endpoint   string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewVonageTransport(endpoint string, httpClient *http.Client, logger *logging.Logger) *VonageTransport {
	if endpoint == "" {
		endpoint = vonageEndpoint
	}
	if httpClient == nil {
		httpClient = defaultHTTPClient()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &VonageTransport{endpoint: endpoint, httpClient: httpClient, logger: logger}
}

type vonageResponse struct {
	Messages []struct {
		Status    string `json:"status"`
		MessageID string `json:"message-id"`
		ErrorText string `json:"error-text"`
	} `json:"messages"`
}

func (v *VonageTransport) Send(ctx context.Context, creds SMSCredentials, to, from, text string) (string, error) {
	if from == "" {
		// Alphanumeric sender IDs are rejected in some countries.
		v.logger.Info("no sms sender configured, using fallback", "from", fallbackSMSSender)
		from = fallbackSMSSender
	}

	body, err := json.Marshal(map[string]string{
		"api_key":    creds.APIKey,
		"api_secret": creds.APISecret,
		"to":         CleanPhone(to),
		"from":       from,
		"text":       text,
	})
	if err != nil {
		return "", fmt.Errorf("notify: vonage marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("notify: vonage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("notify: vonage send: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var parsed vonageResponse
	_ = json.Unmarshal(raw, &parsed)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 && len(parsed.Messages) > 0 && parsed.Messages[0].Status == "0" {
		return parsed.Messages[0].MessageID, nil
	}
	if len(parsed.Messages) > 0 && parsed.Messages[0].ErrorText != "" {
		return "", fmt.Errorf("notify: vonage: %s", parsed.Messages[0].ErrorText)
	}
	return "", fmt.Errorf("notify: vonage: status %d", resp.StatusCode)
}

// TwilioTransport posts to Twilio's Messages resource. APIKey is the
// account SID and APISecret the auth token.
type TwilioTransport struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewTwilioTransport(baseURL string, httpClient *http.Client, logger *logging.Logger) *TwilioTransport {
	if baseURL == "" {
		baseURL = twilioBaseURL
	}
	if httpClient == nil {
		httpClient = defaultHTTPClient()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TwilioTransport{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient, logger: logger}
}

func (t *TwilioTransport) Send(ctx context.Context, creds SMSCredentials, to, from, text string) (string, error) {
	if from == "" {
		return "", errors.New("notify: twilio from number required")
	}

	payload := url.Values{}
	payload.Set("To", CleanPhone(to))
	payload.Set("From", from)
	payload.Set("Body", text)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.baseURL, creds.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
	if err != nil {
		return "", fmt.Errorf("notify: twilio request: %w", err)
	}
	req.SetBasicAuth(creds.APIKey, creds.APISecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("notify: twilio send: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("notify: twilio send failed: %s", formatTwilioError(resp.StatusCode, body))
	}
	var parsed struct {
		SID string `json:"sid"`
	}
	_ = json.Unmarshal(body, &parsed)
	return parsed.SID, nil
}

func formatTwilioError(status int, body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return fmt.Sprintf("status %d", status)
	}
	var parsed struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		if parsed.Code != 0 {
			return fmt.Sprintf("status %d code %d: %s", status, parsed.Code, parsed.Message)
		}
		return fmt.Sprintf("status %d: %s", status, parsed.Message)
	}
	return fmt.Sprintf("status %d: %s", status, string(body))
}

var (
	_ SMSTransport = (*VonageTransport)(nil)
	_ SMSTransport = (*TwilioTransport)(nil)
)
