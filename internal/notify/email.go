package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/safeguard/pkg/logging"
)

const defaultFromName = "SafeGuard Kids"

// SendGridTransport sends email through the SendGrid v3 API. A client is
// built per call because the API key comes from guardian settings.
type SendGridTransport struct {
	host   string
	logger *logging.Logger
}

// NewSendGridTransport creates a SendGrid transport. An empty host uses the
// public API.
func NewSendGridTransport(host string, logger *logging.Logger) *SendGridTransport {
	if logger == nil {
		logger = logging.Default()
	}
	return &SendGridTransport{host: host, logger: logger}
}

func (s *SendGridTransport) Send(ctx context.Context, creds EmailCredentials, to string, msg EmailMessage) (string, error) {
	if creds.From == "" {
		return "", fmt.Errorf("notify: sendgrid sender address missing")
	}
	fromName := creds.FromName
	if fromName == "" {
		fromName = defaultFromName
	}

	client := sendgrid.NewSendClient(creds.APIKey)
	if s.host != "" {
		client.BaseURL = s.host + "/v3/mail/send"
	}

	text := msg.Text
	if text == "" {
		text = msg.Subject
	}
	message := mail.NewSingleEmail(mail.NewEmail(fromName, creds.From), msg.Subject, mail.NewEmail("", to), text, msg.HTML)

	response, err := client.SendWithContext(ctx, message)
	if err != nil {
		return "", fmt.Errorf("notify: sendgrid send failed: %w", err)
	}
	if response.StatusCode >= 400 {
		s.logger.Error("sendgrid returned error status", "status", response.StatusCode, "body", response.Body)
		return "", fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
	}

	var id string
	if ids := response.Headers["X-Message-Id"]; len(ids) > 0 {
		id = ids[0]
	}
	return id, nil
}

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESTransport sends email through AWS SES.
type SESTransport struct {
	clientFor func(EmailCredentials) sesAPI
	logger    *logging.Logger
}

// NewSESTransport builds clients in region from the static access key pair
// carried by each call's credentials.
func NewSESTransport(region string, logger *logging.Logger) *SESTransport {
	if logger == nil {
		logger = logging.Default()
	}
	return &SESTransport{
		clientFor: func(creds EmailCredentials) sesAPI {
			return sesv2.New(sesv2.Options{
				Region:      region,
				Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(creds.APIKey, creds.Secret, "")),
			})
		},
		logger: logger,
	}
}

// NewSESTransportWithClient uses one preconfigured client for every call.
func NewSESTransportWithClient(client sesAPI, logger *logging.Logger) *SESTransport {
	if client == nil {
		panic("notify: ses client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SESTransport{clientFor: func(EmailCredentials) sesAPI { return client }, logger: logger}
}

func (s *SESTransport) Send(ctx context.Context, creds EmailCredentials, to string, msg EmailMessage) (string, error) {
	if creds.From == "" {
		return "", fmt.Errorf("notify: SES sender address missing")
	}
	fromName := creds.FromName
	if fromName == "" {
		fromName = defaultFromName
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", fromName, creds.From)),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(msg.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{},
			},
		},
	}
	if msg.Text != "" {
		input.Content.Simple.Body.Text = &types.Content{
			Data:    aws.String(msg.Text),
			Charset: aws.String("UTF-8"),
		}
	}
	if msg.HTML != "" {
		input.Content.Simple.Body.Html = &types.Content{
			Data:    aws.String(msg.HTML),
			Charset: aws.String("UTF-8"),
		}
	}

	output, err := s.clientFor(creds).SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("notify: SES send failed: %w", err)
	}
	return aws.ToString(output.MessageId), nil
}

var (
	_ EmailTransport = (*SendGridTransport)(nil)
	_ EmailTransport = (*SESTransport)(nil)
)
