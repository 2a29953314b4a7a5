package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/relaydesk/relaydesk/internal/domain"
	convRepo "github.com/relaydesk/relaydesk/internal/repository/conversation"
	"github.com/relaydesk/relaydesk/internal/gateway"
)

// In-memory doubles for the repository, cache and gateway interfaces. They
// mimic the store semantics that matter to the services: copies on read,
// version check on session save, insert-once on messages, monotonic status
// updates.

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]domain.Session)}
}

func sessionMapKey(tenantID, sessionID string) string {
	return tenantID + "/" + sessionID
}

func (f *fakeSessionRepo) seed(session domain.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sessionMapKey(session.TenantID, session.ID)] = session
}

func (f *fakeSessionRepo) Get(_ context.Context, tenantID, sessionID string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionMapKey(tenantID, sessionID)]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	copied := session
	return &copied, nil
}

func (f *fakeSessionRepo) Create(_ context.Context, tenantID, displayName string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session := domain.Session{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		DisplayName: displayName,
		Status:      domain.SessionDisconnected,
		CreatedAt:   time.Now().UTC(),
	}
	f.sessions[sessionMapKey(tenantID, session.ID)] = session
	copied := session
	return &copied, nil
}

func (f *fakeSessionRepo) Save(_ context.Context, session *domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := sessionMapKey(session.TenantID, session.ID)
	stored, ok := f.sessions[key]
	if !ok || stored.Version != session.Version {
		return fmt.Errorf("session %s: %w", session.ID, domain.ErrConflict)
	}
	session.Version++
	f.sessions[key] = *session
	return nil
}

type fakeConversationRepo struct {
	mu            sync.Mutex
	conversations map[string]domain.Conversation
	messages      map[string]domain.Message
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{
		conversations: make(map[string]domain.Conversation),
		messages:      make(map[string]domain.Message),
	}
}

func conversationMapKey(tenantID, sessionID, contact string) string {
	return tenantID + "/" + sessionID + "/" + contact
}

func messageMapKey(tenantID, externalMessageID string) string {
	return tenantID + "/" + externalMessageID
}

func (f *fakeConversationRepo) FindOrCreateConversation(_ context.Context, tenantID, sessionID, contactIdentifier string, defaults convRepo.ConversationDefaults) (*domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := conversationMapKey(tenantID, sessionID, contactIdentifier)
	conversation, ok := f.conversations[key]
	if !ok {
		conversation = domain.Conversation{
			ID:                 uuid.NewString(),
			TenantID:           tenantID,
			SessionID:          sessionID,
			ContactIdentifier:  contactIdentifier,
			ContactDisplayName: defaults.ContactDisplayName,
			CreatedAt:          time.Now().UTC(),
		}
		f.conversations[key] = conversation
	}
	copied := conversation
	return &copied, nil
}

func (f *fakeConversationRepo) SaveConversation(_ context.Context, conversation *domain.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := conversationMapKey(conversation.TenantID, conversation.SessionID, conversation.ContactIdentifier)
	f.conversations[key] = *conversation
	return nil
}

func (f *fakeConversationRepo) AppendMessage(_ context.Context, message *domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := messageMapKey(message.TenantID, message.ExternalMessageID)
	if _, exists := f.messages[key]; exists {
		// unique (session, external id) index: re-delivery is a no-op
		return nil
	}
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	f.messages[key] = *message
	return nil
}

func (f *fakeConversationRepo) FindMessageByExternalID(_ context.Context, tenantID, externalMessageID string) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	message, ok := f.messages[messageMapKey(tenantID, externalMessageID)]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", externalMessageID, domain.ErrNotFound)
	}
	copied := message
	return &copied, nil
}

func (f *fakeConversationRepo) UpdateMessageStatus(_ context.Context, tenantID, externalMessageID string, status domain.MessageStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := messageMapKey(tenantID, externalMessageID)
	message, ok := f.messages[key]
	if !ok || message.Status >= status {
		return false, nil
	}
	message.Status = status
	f.messages[key] = message
	return true, nil
}

func (f *fakeConversationRepo) conversationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conversations)
}

func (f *fakeConversationRepo) messageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func convDefaults() convRepo.ConversationDefaults {
	return convRepo.ConversationDefaults{}
}

type fakeCache struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[string]string)}
}

func (f *fakeCache) Set(_ context.Context, key, val string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = val
	return nil
}

func (f *fakeCache) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	val, ok := f.values[key]
	if !ok {
		return "", fmt.Errorf("cache miss: %s", key)
	}
	return val, nil
}

func (f *fakeCache) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, key)
	return nil
}

type fakeGateway struct {
	mu              sync.Mutex
	registerCalls   int
	connectCalls    int
	disconnectCalls int
	sendCalls       int

	registerErr   error
	connectErr    error
	disconnectErr error
	sendErr       error
	externalID    string
}

func (f *fakeGateway) RegisterSession(context.Context, string, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registerCalls++
	return f.registerErr
}

func (f *fakeGateway) Connect(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	return f.connectErr
}

func (f *fakeGateway) Disconnect(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnectCalls++
	return f.disconnectErr
}

func (f *fakeGateway) SendMessage(context.Context, gateway.SendMessageRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	if f.sendErr != nil {
		return "", f.sendErr
	}
	if f.externalID != "" {
		return f.externalID, nil
	}
	return fmt.Sprintf("ext-%d", f.sendCalls), nil
}
