package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/relaydesk/relaydesk/internal/cache"
	"github.com/relaydesk/relaydesk/internal/domain"
	convRepo "github.com/relaydesk/relaydesk/internal/repository/conversation"
	sessionRepo "github.com/relaydesk/relaydesk/internal/repository/session"
)

const qrCacheTTL = 2 * time.Minute

// EventProcessor applies gateway events to sessions, conversations and
// messages. The transport is at-least-once and out of order, so every apply
// path is idempotent, and a failure on one event never affects another.
type EventProcessor struct {
	sessions      sessionRepo.Repository
	conversations convRepo.Repository
	cache         cache.Cache
	locks         *KeyedMutex
	logger        *slog.Logger
}

func NewEventProcessor(sessions sessionRepo.Repository, conversations convRepo.Repository, c cache.Cache, locks *KeyedMutex, logger *slog.Logger) *EventProcessor {
	return &EventProcessor{
		sessions:      sessions,
		conversations: conversations,
		cache:         c,
		locks:         locks,
		logger:        logger,
	}
}

// Apply routes one event to the session state machine or the message store.
// The returned error is always an infrastructure failure (store outage,
// lost CAS race) worth re-delivering; semantic problems — unknown session,
// stale message id, invalid transition — are logged and absorbed here so the
// rest of the event stream keeps flowing.
func (p *EventProcessor) Apply(ctx context.Context, tenantID string, event domain.Event) error {
	switch ev := event.(type) {
	case domain.SessionConnectedEvent:
		return p.applySessionEvent(ctx, tenantID, ev.SessionID, ev.EventType(), func(s *domain.Session) error {
			return s.ApplyConnected(ev.PhoneNumber, time.Now().UTC())
		})
	case domain.SessionDisconnectedEvent:
		return p.applySessionEvent(ctx, tenantID, ev.SessionID, ev.EventType(), func(s *domain.Session) error {
			return s.ApplyDisconnected(ev.Reason, time.Now().UTC())
		})
	case domain.SessionQRUpdatedEvent:
		return p.applySessionEvent(ctx, tenantID, ev.SessionID, ev.EventType(), func(s *domain.Session) error {
			return s.ApplyQRUpdated(ev.QRCode)
		})
	case domain.SessionStatusEvent:
		return p.applySessionStatus(ctx, tenantID, ev)
	case domain.MessageReceivedEvent:
		return p.applyMessageReceived(ctx, tenantID, ev)
	case domain.MessageSentEvent:
		return p.applyMessageStatus(ctx, tenantID, ev.ExternalMessageID, domain.StatusSent, ev.EventType())
	case domain.MessageDeliveredEvent:
		return p.applyMessageStatus(ctx, tenantID, ev.ExternalMessageID, domain.StatusDelivered, ev.EventType())
	case domain.MessageReadEvent:
		return p.applyMessageStatus(ctx, tenantID, ev.ExternalMessageID, domain.StatusRead, ev.EventType())
	default:
		p.logger.Warn("discarding unhandled event variant",
			slog.String("event", string(event.EventType())))
		return nil
	}
}

func (p *EventProcessor) applySessionStatus(ctx context.Context, tenantID string, ev domain.SessionStatusEvent) error {
	var apply func(*domain.Session) error
	switch ev.Status {
	case domain.SessionReconnecting:
		apply = func(s *domain.Session) error { return s.ApplyReconnecting() }
	case domain.SessionBanned:
		apply = func(s *domain.Session) error { return s.ApplyBanned(ev.Reason) }
	case domain.SessionError:
		apply = func(s *domain.Session) error { return s.ApplyError(ev.Reason) }
	default:
		p.logger.Warn("discarding status event with unknown status",
			slog.String("sessionId", ev.SessionID),
			slog.String("status", string(ev.Status)))
		return nil
	}
	return p.applySessionEvent(ctx, tenantID, ev.SessionID, ev.EventType(), apply)
}

// applySessionEvent runs one state-machine transition under the session
// lock. Events for a session that no longer exists are discarded with a
// warning; it may have been removed administratively while the gateway was
// still emitting.
func (p *EventProcessor) applySessionEvent(ctx context.Context, tenantID, sessionID string, evType domain.EventType, apply func(*domain.Session) error) error {
	logger := p.logger.With(
		slog.String("event", string(evType)),
		slog.String("sessionId", sessionID))

	mu := p.locks.lock(sessionKey(sessionID))
	defer mu.Unlock()

	session, err := p.sessions.Get(ctx, tenantID, sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Warn("discarding event for unknown session")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	if err := apply(session); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			logger.Warn("ignoring invalid transition", "error", err.Error())
			return nil
		}
		return err
	}

	if err := p.sessions.Save(ctx, session); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	p.syncQRCache(ctx, session, logger)
	return nil
}

// syncQRCache keeps the short-lived qr copy in redis aligned with the
// session row. The row is authoritative; cache failures are logged only.
func (p *EventProcessor) syncQRCache(ctx context.Context, session *domain.Session, logger *slog.Logger) {
	if p.cache == nil {
		return
	}
	key := fmt.Sprintf("session_qr:%s", session.ID)

	var err error
	if session.Status == domain.SessionWaitingQR && session.QRCode != "" {
		err = p.cache.Set(ctx, key, session.QRCode, qrCacheTTL)
	} else {
		err = p.cache.Delete(ctx, key)
	}
	if err != nil {
		logger.Error("failed to sync qr cache", "error", err.Error())
	}
}

func (p *EventProcessor) applyMessageReceived(ctx context.Context, tenantID string, ev domain.MessageReceivedEvent) error {
	logger := p.logger.With(
		slog.String("event", string(ev.EventType())),
		slog.String("sessionId", ev.SessionID),
		slog.String("externalMessageId", ev.ExternalMessageID))

	mu := p.locks.lock(sessionKey(ev.SessionID))
	defer mu.Unlock()

	contactName := strings.TrimSpace(ev.ContactName)
	conversation, err := p.conversations.FindOrCreateConversation(ctx, tenantID, ev.SessionID, ev.From, convRepo.ConversationDefaults{
		ContactDisplayName: contactName,
	})
	if err != nil {
		return fmt.Errorf("resolve conversation: %w", err)
	}

	changed := false
	if contactName != "" && contactName != conversation.ContactDisplayName {
		conversation.ContactDisplayName = contactName
		changed = true
	}

	contentType := ev.ContentType
	if contentType == "" {
		contentType = domain.ContentText
	}

	// An inbound message has by definition already been delivered to this
	// endpoint, so it enters the log at delivered.
	message := &domain.Message{
		TenantID:          tenantID,
		ConversationID:    conversation.ID,
		SessionID:         ev.SessionID,
		Direction:         domain.DirectionInbound,
		ContentType:       contentType,
		Content:           ev.Content,
		MediaURL:          ev.MediaURL,
		ExternalMessageID: ev.ExternalMessageID,
		Status:            domain.StatusDelivered,
		Metadata:          ev.Raw,
	}
	if err := p.conversations.AppendMessage(ctx, message); err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	receivedAt := ev.Timestamp
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	if conversation.LastMessageAt == nil || receivedAt.After(*conversation.LastMessageAt) {
		conversation.LastMessageAt = &receivedAt
		changed = true
	}

	if changed {
		if err := p.conversations.SaveConversation(ctx, conversation); err != nil {
			return fmt.Errorf("save conversation: %w", err)
		}
	}

	logger.Info("inbound message stored", slog.String("conversationId", conversation.ID))
	return nil
}

// applyMessageStatus advances a stored message along queued < sent <
// delivered < read. Status events carry no session id, so serialization is
// keyed on the external message id instead.
func (p *EventProcessor) applyMessageStatus(ctx context.Context, tenantID, externalMessageID string, status domain.MessageStatus, evType domain.EventType) error {
	logger := p.logger.With(
		slog.String("event", string(evType)),
		slog.String("externalMessageId", externalMessageID))

	if externalMessageID == "" {
		logger.Warn("discarding status event without external message id")
		return nil
	}

	mu := p.locks.lockStriped(externalMessageID)
	defer mu.Unlock()

	message, err := p.conversations.FindMessageByExternalID(ctx, tenantID, externalMessageID)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Warn("discarding status event for unknown message")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}

	updated, err := p.conversations.UpdateMessageStatus(ctx, tenantID, externalMessageID, status)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	if !updated {
		logger.Info("ignoring duplicate or out-of-order status event",
			slog.String("currentStatus", message.Status.String()),
			slog.String("requestedStatus", status.String()))
	}
	return nil
}

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}
