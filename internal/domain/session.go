package domain

import (
	"fmt"
	"time"
)

type SessionStatus string

const (
	SessionDisconnected SessionStatus = "disconnected"
	SessionWaitingQR    SessionStatus = "waiting_qr"
	SessionConnected    SessionStatus = "connected"
	SessionReconnecting SessionStatus = "reconnecting"
	SessionBanned       SessionStatus = "banned"
	SessionError        SessionStatus = "error"
)

// Session is one tenant's logical connection to the external messaging
// network. All lifecycle mutations go through the Apply*/Mark* methods below;
// repositories persist the struct as-is.
type Session struct {
	ID             string        `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID       string        `gorm:"type:uuid;not null;index" json:"tenant_id"`
	DisplayName    string        `gorm:"type:varchar(120);not null" json:"display_name"`
	Status         SessionStatus `gorm:"type:varchar(20);not null" json:"status"`
	PhoneNumber    string        `gorm:"type:varchar(20)" json:"phone_number,omitempty"`
	QRCode         string        `gorm:"type:text" json:"qr_code,omitempty"`
	LastError      string        `gorm:"type:text" json:"last_error,omitempty"`
	ConnectedAt    *time.Time    `json:"connected_at,omitempty"`
	DisconnectedAt *time.Time    `json:"disconnected_at,omitempty"`
	Version        int64         `gorm:"not null;default:0" json:"-"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      *time.Time    `json:"updated_at,omitempty"`
}

// ApplyQRUpdated moves the session to waiting_qr and records the code.
// Re-delivery of the same code is a no-op.
func (s *Session) ApplyQRUpdated(qrCode string) error {
	if s.Status == SessionBanned {
		return s.bannedErr("qr_updated")
	}
	if s.Status == SessionWaitingQR && s.QRCode == qrCode {
		return nil
	}
	s.Status = SessionWaitingQR
	s.QRCode = qrCode
	return nil
}

// ApplyConnected records a successful pairing. The qr code and last error
// are cleared; re-delivery with the same phone number leaves ConnectedAt
// untouched.
func (s *Session) ApplyConnected(phoneNumber string, at time.Time) error {
	if s.Status == SessionBanned {
		return s.bannedErr("connected")
	}
	if s.Status == SessionConnected && s.PhoneNumber == phoneNumber {
		return nil
	}
	s.Status = SessionConnected
	s.PhoneNumber = phoneNumber
	s.ConnectedAt = &at
	s.QRCode = ""
	s.LastError = ""
	return nil
}

// ApplyDisconnected handles the gateway losing the connection. Only a live
// session can disconnect; a session that is already disconnected absorbs
// the re-delivery without touching DisconnectedAt.
func (s *Session) ApplyDisconnected(reason string, at time.Time) error {
	switch s.Status {
	case SessionConnected, SessionReconnecting:
		s.Status = SessionDisconnected
		s.DisconnectedAt = &at
		s.LastError = reason
		s.QRCode = ""
		return nil
	case SessionDisconnected:
		if s.LastError == reason {
			return nil
		}
		s.LastError = reason
		return nil
	default:
		return fmt.Errorf("%w: disconnected event in status %q", ErrInvalidTransition, s.Status)
	}
}

// ApplyReconnecting marks the gateway's automatic reconnect attempt.
func (s *Session) ApplyReconnecting() error {
	switch s.Status {
	case SessionWaitingQR, SessionConnected:
		s.Status = SessionReconnecting
		s.QRCode = ""
		return nil
	case SessionReconnecting:
		return nil
	default:
		return fmt.Errorf("%w: reconnecting event in status %q", ErrInvalidTransition, s.Status)
	}
}

// ApplyBanned is terminal. Reactivation requires registering a new session.
func (s *Session) ApplyBanned(reason string) error {
	if s.Status == SessionBanned {
		return nil
	}
	s.Status = SessionBanned
	s.LastError = reason
	s.QRCode = ""
	return nil
}

// ApplyError records a gateway-reported failure state.
func (s *Session) ApplyError(reason string) error {
	if s.Status == SessionBanned {
		return s.bannedErr("error")
	}
	s.Status = SessionError
	s.LastError = reason
	s.QRCode = ""
	return nil
}

// CanConnect reports whether a connect command may be issued. Error is
// included so a failed session can be recovered without administrative
// intervention; banned sessions stay banned.
func (s *Session) CanConnect() bool {
	return s.Status == SessionDisconnected || s.Status == SessionError
}

// CanDisconnect reports whether a disconnect command makes sense.
func (s *Session) CanDisconnect() bool {
	switch s.Status {
	case SessionConnected, SessionWaitingQR, SessionReconnecting:
		return true
	}
	return false
}

// MarkConnecting is the tentative transition after the gateway accepted a
// connect command; the definitive qr_updated/connected events follow.
func (s *Session) MarkConnecting() {
	s.Status = SessionWaitingQR
	s.LastError = ""
}

// MarkDisconnected applies a local disconnect. Disconnect commands are
// best-effort towards the gateway, so this runs even when the gateway call
// failed; a stale connected row is worse than a dangling gateway session.
func (s *Session) MarkDisconnected(at time.Time) {
	s.Status = SessionDisconnected
	s.DisconnectedAt = &at
	s.QRCode = ""
}

// MarkFailed records a command failure without changing the lifecycle state.
func (s *Session) MarkFailed(err error) {
	s.LastError = err.Error()
}

func (s *Session) bannedErr(event string) error {
	return fmt.Errorf("%w: %s event on banned session", ErrInvalidTransition, event)
}
