package easyauth

import (
	"context"
	"log/slog"
)

// SendEmail lets applications plug in their own email delivery
type SendEmail interface {
	SendVerificationEmail(ctx context.Context, to string, verificationLink string) error
	SendPasswordResetEmail(ctx context.Context, to string, resetLink string) error
}

// ConsoleEmailSender is a development implementation that logs emails instead
// of sending them. The links contain live tokens; never use it in production.
type ConsoleEmailSender struct {
	Logger *slog.Logger
}

func (c *ConsoleEmailSender) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *ConsoleEmailSender) SendVerificationEmail(ctx context.Context, to string, verificationLink string) error {
	c.logger().InfoContext(ctx, "EMAIL: verify your email address", "to", to, "link", verificationLink)
	return nil
}

func (c *ConsoleEmailSender) SendPasswordResetEmail(ctx context.Context, to string, resetLink string) error {
	c.logger().InfoContext(ctx, "EMAIL: reset your password", "to", to, "link", resetLink)
	return nil
}
