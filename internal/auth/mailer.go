package auth

import "context"

// Mailer delivers transactional mail. Delivery is out of process; the
// service only hands over the recipient, template name and variables.
type Mailer interface {
	Send(ctx context.Context, to, template string, vars map[string]string) error
}

// MailerFunc adapts a function to the Mailer interface.
type MailerFunc func(ctx context.Context, to, template string, vars map[string]string) error

func (f MailerFunc) Send(ctx context.Context, to, template string, vars map[string]string) error {
	return f(ctx, to, template, vars)
}

// NopMailer drops mail on the floor. Used in tests.
type NopMailer struct{}

func (NopMailer) Send(context.Context, string, string, map[string]string) error { return nil }
