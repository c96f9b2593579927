package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanPhone(t *testing.T) {
	assert.Equal(t, "+15551234567", CleanPhone("+1 (555) 123-4567"))
	assert.Equal(t, "5551234567", CleanPhone("555.123.4567"))
}

func TestVonageTransport_Success(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"message-count":"1","messages":[{"status":"0","message-id":"vonage-42"}]}`))
	}))
	defer srv.Close()

	v := NewVonageTransport(srv.URL, srv.Client(), nil)
	id, err := v.Send(context.Background(), smsCreds, "+1 (555) 123-4567", "", "alert text")
	require.NoError(t, err)

	assert.Equal(t, "vonage-42", id)
	assert.Equal(t, "+15551234567", got["to"])
	assert.Equal(t, fallbackSMSSender, got["from"])
	assert.Equal(t, "key", got["api_key"])
	assert.Equal(t, "secret", got["api_secret"])
	assert.Equal(t, "alert text", got["text"])
}

func TestVonageTransport_NonZeroStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"messages":[{"status":"4","error-text":"Bad Credentials"}]}`))
	}))
	defer srv.Close()

	v := NewVonageTransport(srv.URL, srv.Client(), nil)
	_, err := v.Send(context.Background(), smsCreds, "+15551234567", "SafeGuard", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bad Credentials")
}

func TestTwilioTransport_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/key/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "key", user)
		assert.Equal(t, "secret", pass)
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))
		assert.Equal(t, "+15551234567", form.Get("To"))
		assert.Equal(t, "+15550001111", form.Get("From"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM123","status":"queued"}`))
	}))
	defer srv.Close()

	tw := NewTwilioTransport(srv.URL, srv.Client(), nil)
	id, err := tw.Send(context.Background(), smsCreds, "+1 555 123 4567", smsCreds.From, "alert")
	require.NoError(t, err)
	assert.Equal(t, "SM123", id)
}

func TestTwilioTransport_ErrorNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"code":20003,"message":"Authenticate"}`))
	}))
	defer srv.Close()

	tw := NewTwilioTransport(srv.URL, srv.Client(), nil)
	_, err := tw.Send(context.Background(), smsCreds, "+15551234567", smsCreds.From, "alert")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503 code 20003: Authenticate")
	assert.Equal(t, 1, calls)
}

func TestTwilioTransport_RequiresFrom(t *testing.T) {
	tw := NewTwilioTransport("", nil, nil)
	_, err := tw.Send(context.Background(), smsCreds, "+15551234567", "", "alert")
	assert.Error(t, err)
}

func TestSendGridTransport_Success(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer SG.key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.Header().Set("X-Message-Id", "sg-77")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sg := NewSendGridTransport(srv.URL, nil)
	id, err := sg.Send(context.Background(), emailCreds, "parent@example.com", EmailMessage{Subject: "Alert", Text: "t", HTML: "<p>t</p>"})
	require.NoError(t, err)
	assert.Equal(t, "sg-77", id)
	assert.Equal(t, "Alert", payload["subject"])
}

func TestSendGridTransport_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sg := NewSendGridTransport(srv.URL, nil)
	_, err := sg.Send(context.Background(), emailCreds, "parent@example.com", EmailMessage{Subject: "Alert"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-9")}, nil
}

func TestSESTransport(t *testing.T) {
	fake := &fakeSES{}
	ses := NewSESTransportWithClient(fake, nil)

	id, err := ses.Send(context.Background(), emailCreds, "parent@example.com", EmailMessage{Subject: "Alert", Text: "t", HTML: "<p>t</p>"})
	require.NoError(t, err)
	assert.Equal(t, "ses-9", id)
	require.NotNil(t, fake.input)
	assert.Equal(t, "SafeGuard Kids <alerts@example.com>", aws.ToString(fake.input.FromEmailAddress))
	assert.Equal(t, []string{"parent@example.com"}, fake.input.Destination.ToAddresses)
	assert.Equal(t, "<p>t</p>", aws.ToString(fake.input.Content.Simple.Body.Html.Data))

	fake.err = errors.New("MessageRejected")
	_, err = ses.Send(context.Background(), emailCreds, "parent@example.com", EmailMessage{Subject: "Alert"})
	assert.ErrorContains(t, err, "MessageRejected")
}
