// Package settings persists the guardian's runtime settings: monitoring
// mode, contacts and channel credentials.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/safeguard/internal/escalation"
	"github.com/wolfman30/safeguard/internal/incidents"
	"github.com/wolfman30/safeguard/internal/notify"
	"github.com/wolfman30/safeguard/pkg/logging"
)

// Key is the record key settings are stored under.
const Key = "settings"

// ErrInvalid wraps validation failures of an update.
var ErrInvalid = errors.New("settings: invalid")

// Settings are editable from the dashboard.
type Settings struct {
	Mode        escalation.Mode         `json:"mode"`
	Enabled     bool                    `json:"enabled"`
	ParentEmail string                  `json:"parentEmail,omitempty"`
	ParentPhone string                  `json:"parentPhone,omitempty"`
	Email       notify.EmailCredentials `json:"email"`
	SMS         notify.SMSCredentials   `json:"sms"`
	UpdatedAt   time.Time               `json:"updatedAt,omitempty"`
}

// Contacts returns the dispatcher view of the settings.
func (s Settings) Contacts() notify.Contacts {
	return notify.Contacts{
		Email:      s.ParentEmail,
		Phone:      s.ParentPhone,
		EmailCreds: s.Email,
		SMSCreds:   s.SMS,
	}
}

// Redacted masks secrets for display.
func (s Settings) Redacted() Settings {
	s.Email.APIKey = mask(s.Email.APIKey)
	s.Email.Secret = mask(s.Email.Secret)
	s.SMS.APIKey = mask(s.SMS.APIKey)
	s.SMS.APISecret = mask(s.SMS.APISecret)
	return s
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:4] + "****"
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Mode        *string                  `json:"mode,omitempty"`
	Enabled     *bool                    `json:"enabled,omitempty"`
	ParentEmail *string                  `json:"parentEmail,omitempty"`
	ParentPhone *string                  `json:"parentPhone,omitempty"`
	Email       *notify.EmailCredentials `json:"email,omitempty"`
	SMS         *notify.SMSCredentials   `json:"sms,omitempty"`
}

func (p Patch) apply(s Settings) (Settings, error) {
	if p.Mode != nil {
		mode := strings.ToLower(strings.TrimSpace(*p.Mode))
		if !escalation.Valid(mode) {
			return s, fmt.Errorf("%w: unknown mode %q", ErrInvalid, *p.Mode)
		}
		s.Mode = escalation.Mode(mode)
	}
	if p.Enabled != nil {
		s.Enabled = *p.Enabled
	}
	if p.ParentEmail != nil {
		email := strings.TrimSpace(*p.ParentEmail)
		if email != "" && !strings.Contains(email, "@") {
			return s, fmt.Errorf("%w: malformed email %q", ErrInvalid, email)
		}
		s.ParentEmail = email
	}
	if p.ParentPhone != nil {
		s.ParentPhone = strings.TrimSpace(*p.ParentPhone)
	}
	if p.Email != nil {
		s.Email = *p.Email
	}
	if p.SMS != nil {
		s.SMS = *p.SMS
	}
	return s, nil
}

// Store reads and writes settings in a KV dedicated to them.
type Store struct {
	mu       sync.Mutex
	kv       incidents.KV
	defaults Settings
	logger   *logging.Logger
	now      func() time.Time
}

// NewStore seeds unset settings from defaults.
func NewStore(kv incidents.KV, defaults Settings, logger *logging.Logger) *Store {
	if kv == nil {
		panic("settings: kv cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if defaults.Mode == "" {
		defaults.Mode = escalation.ModeActive
	}
	return &Store{
		kv:       kv,
		defaults: defaults,
		logger:   logger.Component("settings"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Get returns stored settings, or the defaults when nothing is stored.
func (s *Store) Get(ctx context.Context) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *Store) load(ctx context.Context) (Settings, error) {
	rec, err := s.kv.Get(ctx, Key)
	if err != nil {
		return Settings{}, fmt.Errorf("settings: load: %w", err)
	}
	out := s.defaults
	found, err := incidents.Decode(rec, Key, &out)
	if err != nil {
		return Settings{}, fmt.Errorf("settings: decode: %w", err)
	}
	if !found {
		return s.defaults, nil
	}
	out.Mode = escalation.ParseMode(string(out.Mode))
	return out, nil
}

// Update applies a patch and persists the result.
func (s *Store) Update(ctx context.Context, p Patch) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load(ctx)
	if err != nil {
		return Settings{}, err
	}
	next, err := p.apply(current)
	if err != nil {
		return Settings{}, err
	}
	next.UpdatedAt = s.now()

	rec, err := incidents.Encode(Key, next)
	if err != nil {
		return Settings{}, fmt.Errorf("settings: encode: %w", err)
	}
	if err := s.kv.Set(ctx, rec); err != nil {
		return Settings{}, fmt.Errorf("settings: save: %w", err)
	}
	s.logger.Info("settings updated", "mode", next.Mode, "enabled", next.Enabled,
		"email_configured", next.Email.Present(), "sms_configured", next.SMS.Present())
	return next, nil
}
