// Package audit registra eventos de seguridad (logins, lockouts, cambios MFA).
//
// El sink es una interfaz inyectada: el ciclo de vida y la persistencia los
// controla el caller (zap en producción, memoria en tests), no este paquete.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/dropDatabas3/portero/internal/observability/logger"
	"go.uber.org/zap"
)

// Event es un evento de auditoría.
type Event struct {
	Name     string
	TenantID string
	UserID   string
	Email    string
	Provider string // "password", "ldap", "saml", "oauth", "oidc"
	Success  bool
	Detail   string
	At       time.Time
}

// Recorder es el sink de auditoría.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// ZapRecorder emite eventos como logs estructurados.
type ZapRecorder struct{}

func (ZapRecorder) Record(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	logger.From(ctx).Named("audit").Info(ev.Name,
		logger.TenantID(ev.TenantID),
		logger.UserID(ev.UserID),
		logger.Provider(ev.Provider),
		logger.Bool("success", ev.Success),
		logger.String("detail", ev.Detail),
		zap.Time("at", ev.At),
	)
}

// MemoryRecorder acumula eventos en memoria. Para tests.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemoryRecorder) Record(_ context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
}

// Events retorna una copia de los eventos registrados.
func (m *MemoryRecorder) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}
