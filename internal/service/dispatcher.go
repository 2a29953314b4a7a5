package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaydesk/relaydesk/internal/cache"
	"github.com/relaydesk/relaydesk/internal/domain"
	"github.com/relaydesk/relaydesk/internal/gateway"
	convRepo "github.com/relaydesk/relaydesk/internal/repository/conversation"
	sessionRepo "github.com/relaydesk/relaydesk/internal/repository/session"
)

// Dispatcher issues outbound sends to the gateway. It never retries: a
// resubmission is a caller decision and produces a new external message id,
// keeping duplicate-send ambiguity out of this component.
type Dispatcher struct {
	sessions      sessionRepo.Repository
	conversations convRepo.Repository
	gateway       gateway.Client
	cache         cache.Cache
	locks         *KeyedMutex
	logger        *slog.Logger
	sendTimeout   time.Duration
}

func NewDispatcher(sessions sessionRepo.Repository, conversations convRepo.Repository, gw gateway.Client, c cache.Cache, locks *KeyedMutex, logger *slog.Logger, sendTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		sessions:      sessions,
		conversations: conversations,
		gateway:       gw,
		cache:         c,
		locks:         locks,
		logger:        logger,
		sendTimeout:   sendTimeout,
	}
}

// Send validates the session, calls the gateway with a bounded timeout and
// persists the outbound message correlated to the returned external id. A
// gateway failure or timeout leaves no partial state behind. The stored
// message starts at queued; the gateway's own message.sent event advances it.
func (d *Dispatcher) Send(ctx context.Context, tenantID, sessionID, to string, contentType domain.ContentType, content, mediaURL string) (*domain.Message, error) {
	if contentType == "" {
		contentType = domain.ContentText
	}

	session, err := d.sessions.Get(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != domain.SessionConnected {
		return nil, fmt.Errorf("session %s in status %q: %w", sessionID, session.Status, domain.ErrSessionNotConnected)
	}

	// the session lock is deliberately not held across this call
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	externalID, err := d.gateway.SendMessage(sendCtx, gateway.SendMessageRequest{
		SessionID:   sessionID,
		To:          to,
		ContentType: contentType,
		Content:     content,
		MediaURL:    mediaURL,
	})
	if err != nil {
		return nil, err
	}

	mu := d.locks.lock(sessionKey(sessionID))
	defer mu.Unlock()

	conversation, err := d.conversations.FindOrCreateConversation(ctx, tenantID, sessionID, to, convRepo.ConversationDefaults{})
	if err != nil {
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}

	message := &domain.Message{
		TenantID:          tenantID,
		ConversationID:    conversation.ID,
		SessionID:         sessionID,
		Direction:         domain.DirectionOutbound,
		ContentType:       contentType,
		Content:           content,
		MediaURL:          mediaURL,
		ExternalMessageID: externalID,
		Status:            domain.StatusQueued,
	}
	if err := d.conversations.AppendMessage(ctx, message); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	now := time.Now().UTC()
	conversation.LastMessageAt = &now
	if err := d.conversations.SaveConversation(ctx, conversation); err != nil {
		return nil, fmt.Errorf("save conversation: %w", err)
	}

	d.cacheSentMessage(ctx, externalID, now)

	d.logger.Info("outbound message dispatched",
		slog.String("sessionId", sessionID),
		slog.String("conversationId", conversation.ID),
		slog.String("externalMessageId", externalID))
	return message, nil
}

// cacheSentMessage writes the send correlation to cache for cheap lookup by
// operational tooling. Expire after 24 hours to keep memory clean.
func (d *Dispatcher) cacheSentMessage(ctx context.Context, externalID string, sentAt time.Time) {
	if d.cache == nil {
		return
	}
	key := fmt.Sprintf("sent_msg:%s", externalID)

	value := map[string]any{
		"externalMessageId": externalID,
		"sentAt":            sentAt,
	}
	jsonVal, _ := json.Marshal(value)

	if err := d.cache.Set(ctx, key, string(jsonVal), 24*time.Hour); err != nil {
		d.logger.Error("failed to cache sent message", "error", err.Error())
	}
}
