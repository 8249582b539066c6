package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/portero/internal/domain/repository"
)

type mfaRepo struct{ s *Store }

func (r *mfaRepo) UpsertSecret(_ context.Context, userID, secretEnc string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now().UTC()
	r.s.secrets[userID] = &repository.MFASecret{
		UserID:          userID,
		SecretEncrypted: secretEnc,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return nil
}

func (r *mfaRepo) GetSecret(_ context.Context, userID string) (*repository.MFASecret, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sec, ok := r.s.secrets[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *sec
	if sec.ConfirmedAt != nil {
		t := *sec.ConfirmedAt
		out.ConfirmedAt = &t
	}
	if sec.LastUsedAt != nil {
		t := *sec.LastUsedAt
		out.LastUsedAt = &t
	}
	return &out, nil
}

func (r *mfaRepo) ConfirmSecret(_ context.Context, userID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sec, ok := r.s.secrets[userID]
	if !ok {
		return repository.ErrNotFound
	}
	sec.ConfirmedAt = &at
	sec.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *mfaRepo) TouchSecret(_ context.Context, userID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sec, ok := r.s.secrets[userID]
	if !ok {
		return repository.ErrNotFound
	}
	sec.LastUsedAt = &at
	sec.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *mfaRepo) DeleteSecret(_ context.Context, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.secrets[userID]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.secrets, userID)
	delete(r.s.backup, userID)
	return nil
}

func (r *mfaRepo) ReplaceBackupCodes(_ context.Context, userID string, hashes []string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	codes := make([]*repository.BackupCode, 0, len(hashes))
	for _, h := range hashes {
		codes = append(codes, &repository.BackupCode{
			ID:       uuid.NewString(),
			UserID:   userID,
			CodeHash: h,
		})
	}
	r.s.backup[userID] = codes
	return nil
}

// ConsumeBackupCode marca el código bajo el mutex: dos consumos concurrentes
// del mismo código no pueden tener éxito ambos.
func (r *mfaRepo) ConsumeBackupCode(_ context.Context, userID, hash string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, code := range r.s.backup[userID] {
		if code.CodeHash == hash && !code.Used {
			code.Used = true
			code.UsedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (r *mfaRepo) CountUnusedBackupCodes(_ context.Context, userID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, code := range r.s.backup[userID] {
		if !code.Used {
			n++
		}
	}
	return n, nil
}
