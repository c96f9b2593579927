// Package intake feeds queued content events (from SQS or an in-process
// queue) into the analysis pipeline.
package intake

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/safeguard/internal/detection"
	"github.com/wolfman30/safeguard/internal/inference"
	"github.com/wolfman30/safeguard/internal/pipeline"
)

// Queue is the transport the worker polls.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Message is one raw queue entry.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// Kind selects which payload of an Envelope is set.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindPage  Kind = "page"
)

// ErrInvalidEnvelope is returned for envelopes whose kind and payload disagree.
var ErrInvalidEnvelope = errors.New("intake: invalid envelope")

// Envelope is the JSON body of every queued event.
type Envelope struct {
	ID    string              `json:"id"`
	Kind  Kind                `json:"kind"`
	Text  *pipeline.TextEvent `json:"text,omitempty"`
	Image *ImagePayload       `json:"image,omitempty"`
	Page  *pipeline.PageEvent `json:"page,omitempty"`
}

// ImagePayload carries an image as base64 (optionally a data: URL).
type ImagePayload struct {
	Data      string              `json:"data"`
	MIMEType  string              `json:"mimeType,omitempty"`
	Direction detection.Direction `json:"direction"`
	Platform  string              `json:"platform"`
	Timestamp time.Time           `json:"timestamp"`
}

// Event decodes the payload into a pipeline event.
func (p ImagePayload) Event() (pipeline.ImageEvent, error) {
	data, mime := strings.TrimSpace(p.Data), p.MIMEType
	if rest, ok := strings.CutPrefix(data, "data:"); ok {
		header, body, found := strings.Cut(rest, ",")
		if !found {
			return pipeline.ImageEvent{}, fmt.Errorf("%w: malformed data url", ErrInvalidEnvelope)
		}
		if mime == "" {
			mime = strings.TrimSuffix(header, ";base64")
		}
		data = body
	}
	if data == "" {
		return pipeline.ImageEvent{}, fmt.Errorf("%w: empty image", ErrInvalidEnvelope)
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return pipeline.ImageEvent{}, fmt.Errorf("%w: image is not base64: %v", ErrInvalidEnvelope, err)
	}
	if mime == "" {
		mime = "image/jpeg"
	}
	return pipeline.ImageEvent{
		Image:     inference.Image{Data: raw, MIMEType: mime},
		Direction: p.Direction,
		Platform:  p.Platform,
		Timestamp: p.Timestamp,
	}, nil
}

// Validate checks that exactly the payload named by Kind is present.
func (e Envelope) Validate() error {
	switch e.Kind {
	case KindText:
		if e.Text == nil || strings.TrimSpace(e.Text.Text) == "" {
			return fmt.Errorf("%w: text event without text", ErrInvalidEnvelope)
		}
	case KindImage:
		if e.Image == nil {
			return fmt.Errorf("%w: image event without image", ErrInvalidEnvelope)
		}
	case KindPage:
		if e.Page == nil || strings.TrimSpace(e.Page.URL) == "" {
			return fmt.Errorf("%w: page event without url", ErrInvalidEnvelope)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEnvelope, e.Kind)
	}
	return nil
}

// Encode validates the envelope, assigns an ID and returns the queue body.
func Encode(env Envelope) (Envelope, string, error) {
	if err := env.Validate(); err != nil {
		return Envelope{}, "", err
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	body, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, "", fmt.Errorf("intake: failed to encode envelope: %w", err)
	}
	return env, string(body), nil
}

// Publisher enqueues events for asynchronous analysis.
type Publisher struct {
	queue Queue
}

func NewPublisher(queue Queue) *Publisher {
	if queue == nil {
		panic("intake: queue cannot be nil")
	}
	return &Publisher{queue: queue}
}

// Enqueue returns the envelope ID once the event is accepted by the queue.
func (p *Publisher) Enqueue(ctx context.Context, env Envelope) (string, error) {
	env, body, err := Encode(env)
	if err != nil {
		return "", err
	}
	if err := p.queue.Send(ctx, body); err != nil {
		return "", err
	}
	return env.ID, nil
}
