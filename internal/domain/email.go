package domain

import (
	"context"
	"time"
)

// Mailer defines the contract for sending emails (infrastructure port).
type Mailer interface {
	Send(to, subject, html, text string) error
}

// EmailTemplateRenderer renders email content from a named template with the given data.
type EmailTemplateRenderer interface {
	Render(templateName string, data any) (subject, htmlBody, textBody string, err error)
}

// WelcomeMessageEmailData holds data for the signup welcome email.
type WelcomeMessageEmailData struct {
	Email string
	Name  string
}

// RegistrationConfirmationEmailData holds data for the email sent after a
// successful event registration.
type RegistrationConfirmationEmailData struct {
	Email         string
	Name          string
	EventTitle    string
	EventDate     time.Time
	EventLocation string
}

// EmailService defines the contract for sending domain-level emails.
type EmailService interface {
	SendWelcomeMessage(ctx context.Context, data *WelcomeMessageEmailData) error
	SendRegistrationConfirmation(ctx context.Context, data *RegistrationConfirmationEmailData) error
}
