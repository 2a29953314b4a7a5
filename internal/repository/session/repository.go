package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/relaydesk/relaydesk/internal/domain"
	"gorm.io/gorm"
)

type Repository interface {
	Get(ctx context.Context, tenantID, sessionID string) (*domain.Session, error)
	Create(ctx context.Context, tenantID, displayName string) (*domain.Session, error)
	Save(ctx context.Context, session *domain.Session) error
}

type repo struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) Repository {
	return &repo{db: db}
}

func (r *repo) Get(ctx context.Context, tenantID, sessionID string) (*domain.Session, error) {
	var session domain.Session
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, sessionID).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *repo) Create(ctx context.Context, tenantID, displayName string) (*domain.Session, error) {
	session := &domain.Session{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		DisplayName: displayName,
		Status:      domain.SessionDisconnected,
	}
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, err
	}
	return session, nil
}

// Save persists the full session row with an optimistic check on version.
// A concurrent command and an in-flight event can both hold a copy of the
// same row; the loser of the race gets ErrConflict instead of silently
// overwriting the winner's write.
func (r *repo) Save(ctx context.Context, session *domain.Session) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ? AND tenant_id = ? AND version = ?", session.ID, session.TenantID, session.Version).
		Updates(map[string]any{
			"display_name":    session.DisplayName,
			"status":          session.Status,
			"phone_number":    session.PhoneNumber,
			"qr_code":         session.QRCode,
			"last_error":      session.LastError,
			"connected_at":    session.ConnectedAt,
			"disconnected_at": session.DisconnectedAt,
			"version":         session.Version + 1,
			"updated_at":      now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("session %s version %d: %w", session.ID, session.Version, domain.ErrConflict)
	}

	session.Version++
	session.UpdatedAt = &now
	return nil
}
