package core

import "context"

// Notifier delivers best-effort, fire-and-forget text notifications to an
// external channel. Failures are logged by callers and never treated as
// fatal.
type Notifier interface {
	Notify(ctx context.Context, channel, text string) error
}

// NotifierFunc adapts a plain function to the Notifier interface.
type NotifierFunc func(ctx context.Context, channel, text string) error

// Notify calls the wrapped function.
func (f NotifierFunc) Notify(ctx context.Context, channel, text string) error {
	return f(ctx, channel, text)
}

// NoOpNotifier discards all notifications.
type NoOpNotifier struct{}

// Notify discards the notification.
func (NoOpNotifier) Notify(context.Context, string, string) error { return nil }
