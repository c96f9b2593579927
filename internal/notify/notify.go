// Package notify delivers guardian alerts over email and SMS.
//
// Delivery is best effort: a channel without credentials is simulated and
// logged, a configured channel gets exactly one attempt, and a failed attempt
// is reported in the Result rather than returned as an error.
package notify

import (
	"context"
	"time"
)

// Channel names used in results and metrics.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// Result is the outcome of one channel delivery.
type Result struct {
	Channel   string `json:"channel"`
	Success   bool   `json:"success"`
	Simulated bool   `json:"simulated"`
	ID        string `json:"id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Outcome records both channels of one guardian notification. A nil channel
// was not attempted because no recipient is configured.
type Outcome struct {
	Timestamp time.Time `json:"timestamp"`
	Email     *Result   `json:"email,omitempty"`
	SMS       *Result   `json:"sms,omitempty"`
}

// Delivered reports whether any channel actually reached a provider.
func (o Outcome) Delivered() bool {
	for _, r := range []*Result{o.Email, o.SMS} {
		if r != nil && r.Success && !r.Simulated {
			return true
		}
	}
	return false
}

// EmailMessage is a rendered email.
type EmailMessage struct {
	Subject string
	Text    string
	HTML    string
}

// EmailCredentials authenticate an email transport. SendGrid uses APIKey.
// SES uses APIKey and Secret as an access key pair.
type EmailCredentials struct {
	APIKey   string `json:"apiKey,omitempty"`
	Secret   string `json:"secret,omitempty"`
	From     string `json:"from,omitempty"`
	FromName string `json:"fromName,omitempty"`
}

// Present reports whether a real send should be attempted.
func (c EmailCredentials) Present() bool { return c.APIKey != "" }

// SMSCredentials authenticate an SMS transport. Vonage uses the key/secret
// pair; Twilio uses them as account SID and auth token.
type SMSCredentials struct {
	APIKey    string `json:"apiKey,omitempty"`
	APISecret string `json:"apiSecret,omitempty"`
	From      string `json:"from,omitempty"`
}

func (c SMSCredentials) Present() bool { return c.APIKey != "" && c.APISecret != "" }

// EmailTransport sends one email and returns the provider message id.
type EmailTransport interface {
	Send(ctx context.Context, creds EmailCredentials, to string, msg EmailMessage) (string, error)
}

// SMSTransport sends one text message and returns the provider message id.
type SMSTransport interface {
	Send(ctx context.Context, creds SMSCredentials, to, from, text string) (string, error)
}
