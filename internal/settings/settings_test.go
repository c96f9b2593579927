package settings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/safeguard/internal/escalation"
	"github.com/wolfman30/safeguard/internal/incidents"
	"github.com/wolfman30/safeguard/internal/notify"
)

func ptr[T any](v T) *T { return &v }

func TestStore_GetReturnsDefaults(t *testing.T) {
	store := NewStore(incidents.NewMemoryKV(), Settings{Enabled: true, ParentEmail: "parent@example.com"}, nil)

	got, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, escalation.ModeActive, got.Mode)
	assert.True(t, got.Enabled)
	assert.Equal(t, "parent@example.com", got.ParentEmail)
}

func TestStore_UpdatePersists(t *testing.T) {
	kv := incidents.NewMemoryKV()
	store := NewStore(kv, Settings{Enabled: true}, nil)
	ctx := context.Background()

	updated, err := store.Update(ctx, Patch{
		Mode:        ptr("Passive"),
		ParentPhone: ptr(" +15551234567 "),
		SMS:         &notify.SMSCredentials{APIKey: "key", APISecret: "secret"},
	})
	require.NoError(t, err)
	assert.Equal(t, escalation.ModePassive, updated.Mode)
	assert.Equal(t, "+15551234567", updated.ParentPhone)
	assert.True(t, updated.Enabled, "untouched fields keep their value")
	assert.False(t, updated.UpdatedAt.IsZero())

	// A fresh store over the same KV sees the change.
	got, err := NewStore(kv, Settings{}, nil).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, escalation.ModePassive, got.Mode)
	assert.True(t, got.Contacts().SMSCreds.Present())
}

func TestStore_UpdateRejectsInvalid(t *testing.T) {
	store := NewStore(incidents.NewMemoryKV(), Settings{}, nil)
	ctx := context.Background()

	_, err := store.Update(ctx, Patch{Mode: ptr("stealth")})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = store.Update(ctx, Patch{ParentEmail: ptr("not-an-email")})
	assert.ErrorIs(t, err, ErrInvalid)

	got, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, escalation.ModeActive, got.Mode)
}

func TestStore_Disable(t *testing.T) {
	store := NewStore(incidents.NewMemoryKV(), Settings{Enabled: true}, nil)
	got, err := store.Update(context.Background(), Patch{Enabled: ptr(false)})
	require.NoError(t, err)
	assert.False(t, got.Enabled)
}

func TestRedacted(t *testing.T) {
	s := Settings{
		Email: notify.EmailCredentials{APIKey: "SG.abcdefgh", From: "alerts@example.com"},
		SMS:   notify.SMSCredentials{APIKey: "abc", APISecret: ""},
	}
	r := s.Redacted()
	assert.Equal(t, "SG.a****", r.Email.APIKey)
	assert.Equal(t, "alerts@example.com", r.Email.From)
	assert.Equal(t, "****", r.SMS.APIKey)
	assert.Empty(t, r.SMS.APISecret)
	assert.Equal(t, "SG.abcdefgh", s.Email.APIKey, "original untouched")
}
