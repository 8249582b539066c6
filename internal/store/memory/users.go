package memory

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/portero/internal/domain/repository"
)

type userRepo struct{ s *Store }

func (r *userRepo) GetByEmail(_ context.Context, tenantID, email string) (*repository.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range r.s.users {
		if u.TenantID == tenantID && strings.ToLower(u.Email) == email {
			return cloneUser(u), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *userRepo) GetByID(_ context.Context, userID string) (*repository.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneUser(u), nil
}

func (r *userRepo) Create(_ context.Context, in repository.CreateUserInput) (*repository.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || in.TenantID == "" {
		return nil, repository.ErrInvalidInput
	}
	for _, u := range r.s.users {
		if u.TenantID == in.TenantID && strings.ToLower(u.Email) == email {
			return nil, repository.ErrConflict
		}
	}

	now := time.Now().UTC()
	u := &repository.User{
		ID:             uuid.NewString(),
		TenantID:       in.TenantID,
		Email:          email,
		EmailConfirmed: in.EmailConfirmed,
		GivenName:      in.GivenName,
		FamilyName:     in.FamilyName,
		DisplayName:    in.DisplayName,
		Status:         in.Status,
		PasswordHash:   in.PasswordHash,
		Roles:          append([]string(nil), in.Roles...),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.s.users[u.ID] = u
	return cloneUser(u), nil
}

func (r *userRepo) UpdateProfile(_ context.Context, userID string, in repository.UpdateProfileInput) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	if in.GivenName != nil {
		u.GivenName = *in.GivenName
	}
	if in.FamilyName != nil {
		u.FamilyName = *in.FamilyName
	}
	if in.DisplayName != nil {
		u.DisplayName = *in.DisplayName
	}
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *userRepo) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.PasswordHash = &newHash
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// RegisterFailedAttempt es la lectura-modificación-escritura atómica del
// contador: bajo el mutex no hay carrera posible entre intentos concurrentes.
func (r *userRepo) RegisterFailedAttempt(_ context.Context, userID string, maxAttempts int, lockoutFor time.Duration) (repository.LockoutResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return repository.LockoutResult{}, repository.ErrNotFound
	}
	u.FailedAttempts++
	if u.FailedAttempts >= maxAttempts {
		until := time.Now().Add(lockoutFor).UTC()
		u.LockoutUntil = &until
	}
	u.UpdatedAt = time.Now().UTC()
	res := repository.LockoutResult{FailedAttempts: u.FailedAttempts}
	if u.LockoutUntil != nil {
		until := *u.LockoutUntil
		res.LockoutUntil = &until
	}
	return res, nil
}

func (r *userRepo) ResetLockout(_ context.Context, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.FailedAttempts = 0
	u.LockoutUntil = nil
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *userRepo) SetMFAEnabled(_ context.Context, userID string, enabled bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.MFAEnabled = enabled
	if enabled {
		now := time.Now().UTC()
		u.MFAEnabledAt = &now
	} else {
		u.MFAEnabledAt = nil
	}
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *userRepo) AddPasswordHistory(_ context.Context, userID, hash string, keepLast int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[userID]; !ok {
		return repository.ErrNotFound
	}
	entry := repository.PasswordHistoryEntry{
		ID:           uuid.NewString(),
		UserID:       userID,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	entries := append([]repository.PasswordHistoryEntry{entry}, r.s.history[userID]...)
	if keepLast > 0 && len(entries) > keepLast {
		entries = entries[:keepLast]
	}
	r.s.history[userID] = entries
	return nil
}

func (r *userRepo) ListPasswordHistory(_ context.Context, userID string, n int) ([]repository.PasswordHistoryEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	entries := r.s.history[userID]
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return append([]repository.PasswordHistoryEntry(nil), entries...), nil
}

func cloneUser(u *repository.User) *repository.User {
	out := *u
	if u.PasswordHash != nil {
		h := *u.PasswordHash
		out.PasswordHash = &h
	}
	if u.LockoutUntil != nil {
		t := *u.LockoutUntil
		out.LockoutUntil = &t
	}
	if u.MFAEnabledAt != nil {
		t := *u.MFAEnabledAt
		out.MFAEnabledAt = &t
	}
	out.Roles = append([]string(nil), u.Roles...)
	return &out
}
