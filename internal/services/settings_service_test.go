package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"finitefield.org/wholesale/internal/domain"
)

func newSettings(t *testing.T, h *harness) SettingsService {
	t.Helper()
	defaults, err := LoadSettingsDefaults("")
	require.NoError(t, err)
	svc, err := NewSettingsService(SettingsServiceDeps{
		Store:       h.store,
		Defaults:    defaults,
		Authorizer:  h.auth,
		Coordinator: h.co,
	})
	require.NoError(t, err)
	return svc
}

func TestLoadSettingsDefaultsBuiltin(t *testing.T) {
	settings, err := LoadSettingsDefaults("")
	require.NoError(t, err)
	require.Equal(t, "BDT", settings.Store.Currency)
	require.True(t, settings.Shipping.InsideDhaka.Equal(decimal.NewFromInt(60)))
	require.True(t, settings.Shipping.FreeShippingMinimum.Equal(decimal.NewFromInt(2000)))
	require.True(t, settings.Payments.Enabled(domain.PaymentBkash))
	require.False(t, settings.Payments.Enabled(domain.PaymentCard))
	require.Equal(t, 60, settings.Security.SessionTimeoutMinutes)
}

func TestLoadSettingsDefaultsRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  name: Shop\n  colour: blue\n"), 0o600))

	_, err := LoadSettingsDefaults(path)
	require.Error(t, err)
}

func TestLoadSettingsDefaultsValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	doc := "store:\n  name: Shop\n  email: shop@example.com\n  currency: XYZ\npayments:\n  cod: true\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	_, err := LoadSettingsDefaults(path)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestSettingsUpdateRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	svc := newSettings(t, h)
	ctx := h.signIn(t, "sess_cust", "tok-cust")

	current, err := svc.Get(h.session("sess_anon"))
	require.NoError(t, err)

	_, err = svc.Update(ctx, current)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestSettingsUpdateAndReset(t *testing.T) {
	h := newHarness(t)
	h.authAPI.setRole(domain.RoleAdmin)
	svc := newSettings(t, h)
	ctx := h.signIn(t, "sess_admin", "tok-admin")

	current, err := svc.Get(ctx)
	require.NoError(t, err)
	require.False(t, svc.MaintenanceMode(ctx))

	current.MaintenanceMode = true
	current.Store.Currency = " usd "
	saved, err := svc.Update(ctx, current)
	require.NoError(t, err)
	require.Equal(t, "USD", saved.Store.Currency)

	last := h.notes.last()
	require.Equal(t, "Settings saved", last.Title)
	require.Equal(t, "Your settings have been updated successfully.", last.Message)

	require.True(t, svc.MaintenanceMode(h.session("sess_other")))
	got, err := svc.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "USD", got.Store.Currency)

	current.Store.Email = "not-an-email"
	_, err = svc.Update(ctx, current)
	require.ErrorIs(t, err, ErrInvalidInput)

	restored, err := svc.Reset(ctx)
	require.NoError(t, err)
	require.Equal(t, "BDT", restored.Store.Currency)
	require.False(t, svc.MaintenanceMode(ctx))
}
