package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaydesk/relaydesk/internal/cache"
	"github.com/relaydesk/relaydesk/internal/domain"
	"github.com/relaydesk/relaydesk/internal/gateway"
	sessionRepo "github.com/relaydesk/relaydesk/internal/repository/session"
)

// SessionService executes operator commands against sessions: register,
// connect, disconnect. Commands talk to the gateway with a bounded timeout
// and never hold the session lock across that call; the lock covers only the
// local read-mutate-save section.
type SessionService struct {
	sessions       sessionRepo.Repository
	gateway        gateway.Client
	cache          cache.Cache
	locks          *KeyedMutex
	logger         *slog.Logger
	commandTimeout time.Duration
}

func NewSessionService(sessions sessionRepo.Repository, gw gateway.Client, c cache.Cache, locks *KeyedMutex, logger *slog.Logger, commandTimeout time.Duration) *SessionService {
	return &SessionService{
		sessions:       sessions,
		gateway:        gw,
		cache:          c,
		locks:          locks,
		logger:         logger,
		commandTimeout: commandTimeout,
	}
}

func (s *SessionService) Get(ctx context.Context, tenantID, sessionID string) (*domain.Session, error) {
	return s.sessions.Get(ctx, tenantID, sessionID)
}

// Register creates the session record (disconnected) and announces it to the
// gateway. The local record survives a gateway failure so the registration
// can be retried against an existing session id.
func (s *SessionService) Register(ctx context.Context, tenantID, displayName string) (*domain.Session, error) {
	session, err := s.sessions.Create(ctx, tenantID, displayName)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.commandTimeout)
	defer cancel()

	if err := s.gateway.RegisterSession(gwCtx, tenantID, session.ID, displayName); err != nil {
		session.MarkFailed(err)
		if saveErr := s.sessions.Save(ctx, session); saveErr != nil {
			s.logger.Error("failed to record gateway registration failure",
				slog.String("sessionId", session.ID), "error", saveErr.Error())
		}
		return nil, fmt.Errorf("register session with gateway: %w", err)
	}

	return session, nil
}

// Connect asks the gateway to open the session's connection. On gateway
// success the session moves tentatively to waiting_qr; the definitive
// qr_updated/connected events follow asynchronously. On gateway failure the
// session stays disconnected with the error recorded.
func (s *SessionService) Connect(ctx context.Context, tenantID, sessionID string) (*domain.Session, error) {
	session, err := s.sessions.Get(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.CanConnect() {
		return nil, fmt.Errorf("%w: connect command in status %q", domain.ErrInvalidTransition, session.Status)
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.commandTimeout)
	defer cancel()
	gwErr := s.gateway.Connect(gwCtx, sessionID)

	mu := s.locks.lock(sessionKey(sessionID))
	defer mu.Unlock()

	// reload: events may have advanced the session while the gateway call
	// was in flight
	session, err = s.sessions.Get(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}

	if gwErr != nil {
		session.MarkFailed(gwErr)
		if saveErr := s.sessions.Save(ctx, session); saveErr != nil {
			s.logger.Error("failed to record connect failure",
				slog.String("sessionId", sessionID), "error", saveErr.Error())
		}
		return nil, fmt.Errorf("connect session: %w", gwErr)
	}

	if session.CanConnect() {
		session.MarkConnecting()
		if err := s.sessions.Save(ctx, session); err != nil {
			return nil, fmt.Errorf("save session: %w", err)
		}
	}

	s.logger.Info("connect command accepted by gateway",
		slog.String("sessionId", sessionID), slog.String("status", string(session.Status)))
	return session, nil
}

// Disconnect is best effort towards the gateway: the local session is marked
// disconnected even when the gateway call fails, because a stale connected
// row is worse than a dangling gateway connection.
func (s *SessionService) Disconnect(ctx context.Context, tenantID, sessionID string) (*domain.Session, error) {
	session, err := s.sessions.Get(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == domain.SessionDisconnected {
		return session, nil
	}
	if !session.CanDisconnect() {
		return nil, fmt.Errorf("%w: disconnect command in status %q", domain.ErrInvalidTransition, session.Status)
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.commandTimeout)
	defer cancel()
	if err := s.gateway.Disconnect(gwCtx, sessionID); err != nil {
		s.logger.Warn("gateway disconnect failed, applying local disconnect anyway",
			slog.String("sessionId", sessionID), "error", err.Error())
	}

	mu := s.locks.lock(sessionKey(sessionID))
	defer mu.Unlock()

	session, err = s.sessions.Get(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	session.MarkDisconnected(time.Now().UTC())
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, fmt.Sprintf("session_qr:%s", sessionID)); err != nil {
			s.logger.Error("failed to drop cached qr code",
				slog.String("sessionId", sessionID), "error", err.Error())
		}
	}

	return session, nil
}
