// Package notify delivers one-shot user notifications raised by mutations.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"finitefield.org/wholesale/internal/platform/observability"
	"finitefield.org/wholesale/internal/platform/requestctx"
)

// Level is the severity of a notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

// Notification is shown to the user once and then discarded.
type Notification struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Title     string    `json:"title,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// New stamps a notification with an ID and creation time.
func New(level Level, title, message string) Notification {
	return Notification{
		ID:        ulid.Make().String(),
		Level:     level,
		Title:     title,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
}

// Notifier receives notifications for the session carried by ctx.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the request logger.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(ctx context.Context, n Notification) error {
	logger := observability.FromContext(ctx)
	fields := []zap.Field{
		zap.String("notification_id", n.ID),
		zap.String("level", string(n.Level)),
		zap.String("message", n.Message),
	}
	if n.Level == LevelError {
		logger.Info("error notification raised", fields...)
		return nil
	}
	logger.Debug("notification raised", fields...)
	return nil
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ErrNoSession is returned when a flash notification is raised outside a session.
var ErrNoSession = errors.New("notify: no session in context")

func sessionFrom(ctx context.Context) (string, error) {
	id := requestctx.SessionID(ctx)
	if id == "" {
		return "", ErrNoSession
	}
	return id, nil
}

