package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/relaydesk/relaydesk/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversationDefaults seed a conversation that is created lazily on first
// contact. They never overwrite an existing row.
type ConversationDefaults struct {
	ContactDisplayName string
}

type Repository interface {
	FindOrCreateConversation(ctx context.Context, tenantID, sessionID, contactIdentifier string, defaults ConversationDefaults) (*domain.Conversation, error)
	SaveConversation(ctx context.Context, conversation *domain.Conversation) error
	AppendMessage(ctx context.Context, message *domain.Message) error
	FindMessageByExternalID(ctx context.Context, tenantID, externalMessageID string) (*domain.Message, error)
	UpdateMessageStatus(ctx context.Context, tenantID, externalMessageID string, status domain.MessageStatus) (bool, error)
}

type repo struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) Repository {
	return &repo{db: db}
}

// FindOrCreateConversation resolves the unique (tenant, session, contact)
// conversation, creating it on first contact. Two events racing on the same
// new contact are resolved by the unique index; the loser re-reads.
func (r *repo) FindOrCreateConversation(ctx context.Context, tenantID, sessionID, contactIdentifier string, defaults ConversationDefaults) (*domain.Conversation, error) {
	var conversation domain.Conversation
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND session_id = ? AND contact_identifier = ?", tenantID, sessionID, contactIdentifier).
		Attrs(domain.Conversation{
			ID:                 uuid.NewString(),
			ContactDisplayName: defaults.ContactDisplayName,
		}).
		FirstOrCreate(&conversation).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		err = r.db.WithContext(ctx).
			Where("tenant_id = ? AND session_id = ? AND contact_identifier = ?", tenantID, sessionID, contactIdentifier).
			First(&conversation).Error
	}
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

func (r *repo) SaveConversation(ctx context.Context, conversation *domain.Conversation) error {
	now := time.Now().UTC()
	conversation.UpdatedAt = &now
	return r.db.WithContext(ctx).Save(conversation).Error
}

// AppendMessage inserts the message once. A re-delivered message.received
// event hits the (session_id, external_message_id) unique index and is
// reported as a clean no-op rather than a failure.
func (r *repo) AppendMessage(ctx context.Context, message *domain.Message) error {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(message)
	return res.Error
}

func (r *repo) FindMessageByExternalID(ctx context.Context, tenantID, externalMessageID string) (*domain.Message, error) {
	var message domain.Message
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND external_message_id = ?", tenantID, externalMessageID).
		First(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("message %s: %w", externalMessageID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// UpdateMessageStatus advances the delivery status monotonically. The guard
// lives in the WHERE clause so a late or re-delivered event can never move a
// message backward; false means the row exists but was already at or past
// the requested status.
func (r *repo) UpdateMessageStatus(ctx context.Context, tenantID, externalMessageID string, status domain.MessageStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Message{}).
		Where("tenant_id = ? AND external_message_id = ? AND status < ?", tenantID, externalMessageID, status).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
