package services

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/mail"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/currency"
	"gopkg.in/yaml.v3"

	"finitefield.org/wholesale/internal/domain"
	"finitefield.org/wholesale/internal/platform/kv"
	"finitefield.org/wholesale/internal/query"
)

const settingsStoreKey = "store:settings"

//go:embed settings_defaults.yaml
var builtinSettings []byte

// LoadSettingsDefaults reads the settings document from a YAML file. An empty path yields the
// built-in defaults.
func LoadSettingsDefaults(path string) (domain.Settings, error) {
	raw := builtinSettings
	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return domain.Settings{}, fmt.Errorf("settings: read defaults: %w", err)
		}
		raw = data
	}
	return decodeSettings(raw)
}

func decodeSettings(raw []byte) (domain.Settings, error) {
	var settings domain.Settings
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&settings); err != nil {
		return domain.Settings{}, fmt.Errorf("settings: decode defaults: %w", err)
	}
	if err := validateSettings(settings); err != nil {
		return domain.Settings{}, fmt.Errorf("settings: defaults: %w", err)
	}
	return settings, nil
}

// SettingsServiceDeps wires the override store. Defaults apply until an admin saves settings.
type SettingsServiceDeps struct {
	Store       kv.Store
	Defaults    domain.Settings
	Authorizer  *Authorizer
	Coordinator *query.Coordinator
	Logger      *zap.Logger
}

type settingsService struct {
	store    kv.Store
	defaults domain.Settings
	auth     *Authorizer
	co       *query.Coordinator
	cache    *query.Cache
	logger   *zap.Logger
}

// NewSettingsService constructs a SettingsService.
func NewSettingsService(deps SettingsServiceDeps) (SettingsService, error) {
	if deps.Store == nil {
		return nil, errors.New("settings service: store is required")
	}
	if deps.Authorizer == nil || deps.Coordinator == nil {
		return nil, errors.New("settings service: authorizer and coordinator are required")
	}
	if err := validateSettings(deps.Defaults); err != nil {
		return nil, fmt.Errorf("settings service: defaults: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &settingsService{
		store:    deps.Store,
		defaults: deps.Defaults,
		auth:     deps.Authorizer,
		co:       deps.Coordinator,
		cache:    deps.Coordinator.Cache(),
		logger:   logger.Named("settings"),
	}, nil
}

// Get returns the effective settings. It needs no session: storefront pricing and checkout read it.
func (s *settingsService) Get(ctx context.Context) (domain.Settings, error) {
	return query.Get(ctx, s.cache, settingsKey(), s.load)
}

func (s *settingsService) load(ctx context.Context) (domain.Settings, error) {
	var settings domain.Settings
	err := kv.GetJSON(ctx, s.store, settingsStoreKey, &settings)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return s.defaults, nil
	case err != nil:
		return domain.Settings{}, err
	}
	return settings, nil
}

func (s *settingsService) Update(ctx context.Context, settings domain.Settings) (domain.Settings, error) {
	authed, err := s.auth.RequireAdmin(ctx)
	if err != nil {
		return domain.Settings{}, err
	}
	settings.Store.Currency = strings.ToUpper(strings.TrimSpace(settings.Store.Currency))
	if err := validateSettings(settings); err != nil {
		return domain.Settings{}, err
	}
	key := settingsKey()
	return query.Perform(authed, s.co, query.MutationSpec{
		Tag:          tagAdminSettings,
		Kind:         query.KindUpdate,
		SuccessTitle: "Settings saved",
		Success:      "Your settings have been updated successfully.",
		Failure:      "Failed to save settings",
		Prime:        &key,
	}, func(ctx context.Context) (domain.Settings, error) {
		if err := kv.SetJSON(ctx, s.store, settingsStoreKey, settings, 0); err != nil {
			return domain.Settings{}, err
		}
		return settings, nil
	})
}

func (s *settingsService) Reset(ctx context.Context) (domain.Settings, error) {
	authed, err := s.auth.RequireAdmin(ctx)
	if err != nil {
		return domain.Settings{}, err
	}
	return query.Perform(authed, s.co, query.MutationSpec{
		Tag:     tagAdminSettings,
		Kind:    query.KindAction,
		Success: "Settings restored to defaults",
		Failure: "Failed to restore settings",
	}, func(ctx context.Context) (domain.Settings, error) {
		if err := s.store.Delete(ctx, settingsStoreKey); err != nil {
			return domain.Settings{}, err
		}
		return s.defaults, nil
	})
}

// MaintenanceMode reports whether the storefront is closed. A settings read failure keeps the
// store open.
func (s *settingsService) MaintenanceMode(ctx context.Context) bool {
	settings, err := s.Get(ctx)
	if err != nil {
		s.logger.Warn("settings unavailable; assuming store open", zap.Error(err))
		return false
	}
	return settings.MaintenanceMode
}

func settingsKey() query.Key {
	return query.NewKey(tagAdminSettings, "", nil)
}

func validateSettings(settings domain.Settings) error {
	var v validator
	v.check(strings.TrimSpace(settings.Store.Name) != "", "store.name", "Store name is required")
	_, mailErr := mail.ParseAddress(settings.Store.Email)
	v.check(mailErr == nil, "store.email", "Store email is invalid")
	_, curErr := currency.ParseISO(settings.Store.Currency)
	v.check(curErr == nil, "store.currency", "Unknown currency")

	p := settings.Payments
	v.check(p.COD || p.Bkash || p.Nagad || p.Card || p.Bank, "payments", "Enable at least one payment method")

	sh := settings.Shipping
	v.check(!sh.InsideDhaka.IsNegative(), "shipping.insideDhaka", "Shipping rate must not be negative")
	v.check(!sh.OutsideDhaka.IsNegative(), "shipping.outsideDhaka", "Shipping rate must not be negative")
	v.check(!sh.FreeShippingMinimum.IsNegative(), "shipping.freeShippingMinimum", "Free shipping minimum must not be negative")

	if settings.Email.SenderEmail != "" {
		_, senderErr := mail.ParseAddress(settings.Email.SenderEmail)
		v.check(senderErr == nil, "email.senderEmail", "Sender email is invalid")
	}
	v.check(settings.Security.SessionTimeoutMinutes >= 0, "security.sessionTimeoutMinutes", "Session timeout must not be negative")
	return v.err()
}
