package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"finitefield.org/wholesale/internal/domain"
	"finitefield.org/wholesale/internal/notify"
	"finitefield.org/wholesale/internal/query"
)

const minPasswordLength = 8

// CartSyncer merges the guest cart into the server cart after sign in.
type CartSyncer interface {
	SyncLocalCart(ctx context.Context) (domain.Cart, error)
}

// AuthOutcome is the result of a sign in. Cart is nil when the guest cart merge failed; the guest
// cart is then kept for a later attempt.
type AuthOutcome struct {
	User domain.User  `json:"user"`
	Cart *domain.Cart `json:"cart,omitempty"`
}

// AuthServiceDeps wires the upstream auth API and session state.
type AuthServiceDeps struct {
	API         AuthAPI
	Authorizer  *Authorizer
	Coordinator *query.Coordinator
	Cart        CartSyncer
	Notifier    notify.Notifier
	Logger      *zap.Logger
}

type authService struct {
	api      AuthAPI
	auth     *Authorizer
	co       *query.Coordinator
	cart     CartSyncer
	notifier notify.Notifier
	logger   *zap.Logger
}

// NewAuthService constructs an AuthService.
func NewAuthService(deps AuthServiceDeps) (AuthService, error) {
	if deps.API == nil {
		return nil, errors.New("auth service: api is required")
	}
	if deps.Authorizer == nil {
		return nil, errors.New("auth service: authorizer is required")
	}
	if deps.Coordinator == nil {
		return nil, errors.New("auth service: coordinator is required")
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &authService{
		api:      deps.API,
		auth:     deps.Authorizer,
		co:       deps.Coordinator,
		cart:     deps.Cart,
		notifier: notifier,
		logger:   logger.Named("auth"),
	}, nil
}

func (s *authService) Login(ctx context.Context, creds domain.Credentials) (AuthOutcome, error) {
	creds.Email = strings.TrimSpace(creds.Email)
	var v validator
	v.check(creds.Email != "", "email", "Email is required")
	v.check(creds.Password != "", "password", "Password is required")
	if err := v.err(); err != nil {
		return AuthOutcome{}, err
	}

	res, err := s.api.Login(ctx, creds)
	if err != nil {
		s.notify(ctx, notify.New(notify.LevelError, "Login failed", userMessage(err, "Login failed")))
		return AuthOutcome{}, err
	}
	ctx, outcome, err := s.establish(ctx, res)
	if err != nil {
		return AuthOutcome{}, err
	}
	s.notify(ctx, notify.New(notify.LevelSuccess, "Welcome back!", "Login successful"))
	return outcome, nil
}

func (s *authService) Register(ctx context.Context, reg domain.Registration) (AuthOutcome, error) {
	reg.Email = strings.TrimSpace(reg.Email)
	var v validator
	_, mailErr := mail.ParseAddress(reg.Email)
	v.check(reg.Email != "" && mailErr == nil, "email", "A valid email is required")
	v.check(len(reg.Password) >= minPasswordLength, "password", "Password must be at least 8 characters")
	if err := v.err(); err != nil {
		return AuthOutcome{}, err
	}

	res, err := s.api.Register(ctx, reg)
	if err != nil {
		s.notify(ctx, notify.New(notify.LevelError, "Registration failed", userMessage(err, "Registration failed")))
		return AuthOutcome{}, err
	}
	ctx, outcome, err := s.establish(ctx, res)
	if err != nil {
		return AuthOutcome{}, err
	}
	s.notify(ctx, notify.New(notify.LevelSuccess, "Welcome!", "Account created successfully"))
	return outcome, nil
}

// establish moves the browser to a new session, stores the token under it and merges the guest
// cart once for this sign in. The returned ctx is bound to the new session.
func (s *authService) establish(ctx context.Context, res domain.AuthResult) (context.Context, AuthOutcome, error) {
	if _, err := s.auth.Session(ctx); err != nil {
		return ctx, AuthOutcome{}, err
	}
	if strings.TrimSpace(res.Token) == "" {
		return ctx, AuthOutcome{}, errors.New("auth service: upstream returned no token")
	}
	ctx, err := RenewSession(ctx)
	if err != nil {
		return ctx, AuthOutcome{}, fmt.Errorf("auth service: %w", err)
	}
	sid, err := s.auth.Session(ctx)
	if err != nil {
		return ctx, AuthOutcome{}, err
	}
	if err := s.auth.signIn(ctx, sid, res.Token); err != nil {
		return ctx, AuthOutcome{}, err
	}

	outcome := AuthOutcome{User: res.User}
	if s.cart == nil {
		return ctx, outcome, nil
	}
	cart, err := s.cart.SyncLocalCart(ctx)
	if err != nil {
		s.logger.Warn("guest cart sync failed", zap.Error(err))
		return ctx, outcome, nil
	}
	outcome.Cart = &cart
	return ctx, outcome, nil
}

func (s *authService) Logout(ctx context.Context) error {
	authed, sid, err := s.auth.Authenticate(ctx)
	if errors.Is(err, ErrNoSession) {
		return err
	}
	if err == nil {
		if err := s.api.Logout(authed); err != nil {
			s.logger.Info("upstream logout failed; clearing session anyway", zap.Error(err))
		}
	}
	s.auth.signOut(ctx, sid)
	s.notify(ctx, notify.New(notify.LevelSuccess, "Logged out", "See you next time!"))
	return nil
}

func (s *authService) Profile(ctx context.Context) (domain.User, error) {
	return s.auth.User(ctx)
}

func (s *authService) UpdateProfile(ctx context.Context, update domain.ProfileUpdate) (domain.User, error) {
	authed, sid, err := s.auth.Authenticate(ctx)
	if err != nil {
		return domain.User{}, err
	}
	if update.Email != nil {
		_, mailErr := mail.ParseAddress(strings.TrimSpace(*update.Email))
		var v validator
		v.check(mailErr == nil, "email", "A valid email is required")
		if err := v.err(); err != nil {
			return domain.User{}, err
		}
	}

	key := profileKey(sid)
	user, err := query.Perform(authed, s.co, query.MutationSpec{
		Tag:     tagProfile,
		Scope:   sid,
		Kind:    query.KindUpdate,
		Subject: "Profile",
		Prime:   &key,
	}, func(ctx context.Context) (domain.User, error) {
		return s.api.UpdateProfile(ctx, update)
	})
	return user, s.auth.Observe(ctx, sid, err)
}

func (s *authService) ForgotPassword(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	var v validator
	v.check(email != "", "email", "Email is required")
	if err := v.err(); err != nil {
		return "", err
	}
	return s.api.ForgotPassword(ctx, email)
}

func (s *authService) ResetPassword(ctx context.Context, token, password string) (string, error) {
	var v validator
	v.check(strings.TrimSpace(token) != "", "token", "Reset token is required")
	v.check(len(password) >= minPasswordLength, "password", "Password must be at least 8 characters")
	if err := v.err(); err != nil {
		return "", err
	}
	return s.api.ResetPassword(ctx, token, password)
}

func (s *authService) notify(ctx context.Context, n notify.Notification) {
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("notification not delivered", zap.Error(err))
	}
}
