// Package email envía las notificaciones del core (links de reset de password).
package email

import "context"

// Sender entrega un email. La implementación de producción es SMTP; los tests
// usan un sender en memoria.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody string) error
}

// NopSender descarta todo. Útil cuando el despliegue no tiene SMTP.
type NopSender struct{}

func (NopSender) Send(context.Context, string, string, string, string) error { return nil }
