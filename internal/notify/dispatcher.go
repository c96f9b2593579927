package notify

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/safeguard/pkg/logging"
)

var notifyTracer = otel.Tracer("safeguard.internal.notify")

// Contacts are the guardian's recipients and channel credentials.
type Contacts struct {
	Email      string
	Phone      string
	EmailCreds EmailCredentials
	SMSCreds   SMSCredentials
}

// Dispatcher delivers guardian alerts. Either transport may be nil; a
// channel with credentials but no transport fails without a send.
type Dispatcher struct {
	email    EmailTransport
	sms      SMSTransport
	logger   *logging.Logger
	now      func() time.Time
	observer func(channel string, r Result)
}

type Option func(*Dispatcher)

// WithObserver receives every channel result (metrics).
func WithObserver(fn func(channel string, r Result)) Option {
	return func(d *Dispatcher) { d.observer = fn }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(email EmailTransport, sms SMSTransport, logger *logging.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	d := &Dispatcher{
		email:  email,
		sms:    sms,
		logger: logger.Component("notify"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SendEmail makes at most one delivery attempt.
func (d *Dispatcher) SendEmail(ctx context.Context, to string, msg EmailMessage, creds EmailCredentials) Result {
	ctx, span := notifyTracer.Start(ctx, "notify.email")
	defer span.End()

	res := Result{Channel: ChannelEmail}
	switch {
	case !creds.Present():
		d.logger.Info("email credentials not configured, simulating delivery",
			"to", to, "subject", msg.Subject, "content", msg.Text)
		res.Success, res.Simulated = true, true
	case d.email == nil:
		res.Simulated = true
		res.Error = "notify: no email transport configured"
	default:
		id, err := d.email.Send(ctx, creds, to, msg)
		if err != nil {
			span.RecordError(err)
			d.logger.Error("email send failed, content preserved", "error", err,
				"to", to, "subject", msg.Subject, "content", msg.Text)
			res.Simulated = true
			res.Error = err.Error()
		} else {
			res.Success = true
			res.ID = id
			d.logger.Info("email sent", "to", to, "message_id", id)
		}
	}
	span.SetAttributes(attribute.Bool("notify.success", res.Success), attribute.Bool("notify.simulated", res.Simulated))
	d.observe(res)
	return res
}

// SendSMS makes at most one delivery attempt.
func (d *Dispatcher) SendSMS(ctx context.Context, to, text string, creds SMSCredentials) Result {
	ctx, span := notifyTracer.Start(ctx, "notify.sms")
	defer span.End()

	res := Result{Channel: ChannelSMS}
	switch {
	case !creds.Present():
		d.logger.Info("sms credentials not configured, simulating delivery", "to", to, "content", text)
		res.Success, res.Simulated = true, true
	case d.sms == nil:
		res.Simulated = true
		res.Error = "notify: no sms transport configured"
	default:
		id, err := d.sms.Send(ctx, creds, to, creds.From, text)
		if err != nil {
			span.RecordError(err)
			d.logger.Error("sms send failed, content preserved", "error", err, "to", to, "content", text)
			res.Simulated = true
			res.Error = err.Error()
		} else {
			res.Success = true
			res.ID = id
			d.logger.Info("sms sent", "to", to, "message_id", id)
		}
	}
	span.SetAttributes(attribute.Bool("notify.success", res.Success), attribute.Bool("notify.simulated", res.Simulated))
	d.observe(res)
	return res
}

// ErrNoRecipients is returned by NotifyGuardian when neither an email
// address nor a phone number is configured.
var ErrNoRecipients = errors.New("notify: no guardian recipients configured")

// NotifyGuardian sends the alert on every configured channel concurrently.
// A failing channel never blocks the other.
func (d *Dispatcher) NotifyGuardian(ctx context.Context, contacts Contacts, alert Alert) (Outcome, error) {
	out := Outcome{Timestamp: d.now().UTC()}
	if contacts.Email == "" && contacts.Phone == "" {
		d.logger.Warn("guardian alert skipped, no recipients", "severity", alert.Severity)
		return out, ErrNoRecipients
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = d.now()
	}

	var g errgroup.Group
	if contacts.Email != "" {
		g.Go(func() error {
			msg, err := RenderEmail(alert)
			if err != nil {
				out.Email = &Result{Channel: ChannelEmail, Simulated: true, Error: err.Error()}
				return nil
			}
			r := d.SendEmail(ctx, contacts.Email, msg, contacts.EmailCreds)
			out.Email = &r
			return nil
		})
	}
	if contacts.Phone != "" {
		g.Go(func() error {
			r := d.SendSMS(ctx, contacts.Phone, RenderSMS(alert), contacts.SMSCreds)
			out.SMS = &r
			return nil
		})
	}
	_ = g.Wait()

	d.logger.Info("guardian alert dispatched", "severity", alert.Severity, "level", alert.Level,
		"email_attempted", out.Email != nil, "sms_attempted", out.SMS != nil)
	return out, nil
}

func (d *Dispatcher) observe(r Result) {
	if d.observer != nil {
		d.observer(r.Channel, r)
	}
}
