package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/relaydesk/relaydesk/internal/domain"
	convRepo "github.com/relaydesk/relaydesk/internal/repository/conversation"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProcessor(sessions *fakeSessionRepo, conversations *fakeConversationRepo) *EventProcessor {
	return NewEventProcessor(sessions, conversations, newFakeCache(), NewKeyedMutex(), testLogger())
}

func TestPairingScenario(t *testing.T) {
	t.Parallel()
	sessions := newFakeSessionRepo()
	sessions.seed(domain.Session{ID: "s1", TenantID: "t1", Status: domain.SessionDisconnected})
	processor := newTestProcessor(sessions, newFakeConversationRepo())
	ctx := context.Background()

	if err := processor.Apply(ctx, "t1", domain.SessionQRUpdatedEvent{SessionID: "s1", QRCode: "ABC"}); err != nil {
		t.Fatalf("apply qr_updated: %v", err)
	}
	session, _ := sessions.Get(ctx, "t1", "s1")
	if session.Status != domain.SessionWaitingQR || session.QRCode != "ABC" {
		t.Fatalf("after qr_updated: status %q qr %q", session.Status, session.QRCode)
	}

	if err := processor.Apply(ctx, "t1", domain.SessionConnectedEvent{SessionID: "s1", PhoneNumber: "+551199999"}); err != nil {
		t.Fatalf("apply connected: %v", err)
	}
	session, _ = sessions.Get(ctx, "t1", "s1")
	if session.Status != domain.SessionConnected {
		t.Fatalf("status: got %q, want connected", session.Status)
	}
	if session.PhoneNumber != "+551199999" {
		t.Fatalf("phone number: got %q", session.PhoneNumber)
	}
	if session.QRCode != "" {
		t.Fatal("qr code must be cleared once connected")
	}
}

func TestConnectedReDeliveryLeavesStateUnchanged(t *testing.T) {
	t.Parallel()
	sessions := newFakeSessionRepo()
	sessions.seed(domain.Session{ID: "s1", TenantID: "t1", Status: domain.SessionDisconnected})
	processor := newTestProcessor(sessions, newFakeConversationRepo())
	ctx := context.Background()

	event := domain.SessionConnectedEvent{SessionID: "s1", PhoneNumber: "+5511"}
	if err := processor.Apply(ctx, "t1", event); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	first, _ := sessions.Get(ctx, "t1", "s1")

	if err := processor.Apply(ctx, "t1", event); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	second, _ := sessions.Get(ctx, "t1", "s1")

	if !second.ConnectedAt.Equal(*first.ConnectedAt) {
		t.Fatalf("connected at moved on re-delivery: %v vs %v", second.ConnectedAt, first.ConnectedAt)
	}
	if second.Status != first.Status || second.PhoneNumber != first.PhoneNumber {
		t.Fatal("re-delivery changed session state")
	}
}

func TestEventForUnknownSessionIsDiscarded(t *testing.T) {
	t.Parallel()
	processor := newTestProcessor(newFakeSessionRepo(), newFakeConversationRepo())

	err := processor.Apply(context.Background(), "t1", domain.SessionConnectedEvent{SessionID: "ghost", PhoneNumber: "+1"})
	if err != nil {
		t.Fatalf("unknown session must be absorbed, got %v", err)
	}
}

func TestSessionStatusEvents(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		from       domain.SessionStatus
		status     domain.SessionStatus
		wantStatus domain.SessionStatus
	}{
		{name: "reconnecting from connected", from: domain.SessionConnected, status: domain.SessionReconnecting, wantStatus: domain.SessionReconnecting},
		{name: "banned from connected", from: domain.SessionConnected, status: domain.SessionBanned, wantStatus: domain.SessionBanned},
		{name: "error from waiting_qr", from: domain.SessionWaitingQR, status: domain.SessionError, wantStatus: domain.SessionError},
		{name: "unknown status discarded", from: domain.SessionConnected, status: domain.SessionStatus("frozen"), wantStatus: domain.SessionConnected},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			sessions := newFakeSessionRepo()
			sessions.seed(domain.Session{ID: "s1", TenantID: "t1", Status: test.from})
			processor := newTestProcessor(sessions, newFakeConversationRepo())
			ctx := context.Background()

			err := processor.Apply(ctx, "t1", domain.SessionStatusEvent{SessionID: "s1", Status: test.status, Reason: "gateway says so"})
			if err != nil {
				t.Fatalf("apply: %v", err)
			}
			session, _ := sessions.Get(ctx, "t1", "s1")
			if session.Status != test.wantStatus {
				t.Fatalf("status: got %q, want %q", session.Status, test.wantStatus)
			}
		})
	}
}

func TestMessageReceivedCreatesConversationAndMessage(t *testing.T) {
	t.Parallel()
	sessions := newFakeSessionRepo()
	conversations := newFakeConversationRepo()
	processor := newTestProcessor(sessions, conversations)
	ctx := context.Background()

	raw := json.RawMessage(`{"event":"message.received","external_message_id":"m1"}`)
	event := domain.MessageReceivedEvent{
		SessionID:         "s1",
		ExternalMessageID: "m1",
		From:              "+5511888",
		ContactName:       "Ana",
		ContentType:       domain.ContentText,
		Content:           "hi",
		Timestamp:         time.Now().UTC(),
		Raw:               raw,
	}
	if err := processor.Apply(ctx, "t1", event); err != nil {
		t.Fatalf("apply message.received: %v", err)
	}

	if conversations.conversationCount() != 1 {
		t.Fatalf("conversations: got %d, want 1", conversations.conversationCount())
	}
	message, err := conversations.FindMessageByExternalID(ctx, "t1", "m1")
	if err != nil {
		t.Fatalf("find message: %v", err)
	}
	if message.Direction != domain.DirectionInbound {
		t.Fatalf("direction: got %q", message.Direction)
	}
	if message.Status != domain.StatusDelivered {
		t.Fatalf("status: got %v, want delivered", message.Status)
	}
	if message.Content != "hi" {
		t.Fatalf("content: got %q", message.Content)
	}
	if len(message.Metadata) == 0 {
		t.Fatal("raw payload must be stored in metadata")
	}

	// later read receipt advances the status
	if err := processor.Apply(ctx, "t1", domain.MessageReadEvent{ExternalMessageID: "m1"}); err != nil {
		t.Fatalf("apply message.read: %v", err)
	}
	message, _ = conversations.FindMessageByExternalID(ctx, "t1", "m1")
	if message.Status != domain.StatusRead {
		t.Fatalf("status after read: got %v, want read", message.Status)
	}
}

func TestMessageReceivedReusesConversation(t *testing.T) {
	t.Parallel()
	conversations := newFakeConversationRepo()
	processor := newTestProcessor(newFakeSessionRepo(), conversations)
	ctx := context.Background()

	for _, id := range []string{"m1", "m2"} {
		event := domain.MessageReceivedEvent{
			SessionID:         "s1",
			ExternalMessageID: id,
			From:              "+5511888",
			Content:           "hello " + id,
		}
		if err := processor.Apply(ctx, "t1", event); err != nil {
			t.Fatalf("apply %s: %v", id, err)
		}
	}

	if conversations.conversationCount() != 1 {
		t.Fatalf("conversations: got %d, want 1", conversations.conversationCount())
	}
	if conversations.messageCount() != 2 {
		t.Fatalf("messages: got %d, want 2", conversations.messageCount())
	}
}

func TestMessageReceivedReDeliveryIsIdempotent(t *testing.T) {
	t.Parallel()
	conversations := newFakeConversationRepo()
	processor := newTestProcessor(newFakeSessionRepo(), conversations)
	ctx := context.Background()

	event := domain.MessageReceivedEvent{SessionID: "s1", ExternalMessageID: "m1", From: "+5511888", Content: "hi"}
	for range 2 {
		if err := processor.Apply(ctx, "t1", event); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	if conversations.messageCount() != 1 {
		t.Fatalf("messages: got %d, want 1", conversations.messageCount())
	}
}

func TestMessageReceivedUpdatesContactName(t *testing.T) {
	t.Parallel()
	conversations := newFakeConversationRepo()
	processor := newTestProcessor(newFakeSessionRepo(), conversations)
	ctx := context.Background()

	first := domain.MessageReceivedEvent{SessionID: "s1", ExternalMessageID: "m1", From: "+5511888"}
	if err := processor.Apply(ctx, "t1", first); err != nil {
		t.Fatalf("apply first: %v", err)
	}
	second := domain.MessageReceivedEvent{SessionID: "s1", ExternalMessageID: "m2", From: "+5511888", ContactName: "Ana Maria"}
	if err := processor.Apply(ctx, "t1", second); err != nil {
		t.Fatalf("apply second: %v", err)
	}

	conversation, err := conversations.FindOrCreateConversation(ctx, "t1", "s1", "+5511888", convRepo.ConversationDefaults{})
	if err != nil {
		t.Fatalf("find conversation: %v", err)
	}
	if conversation.ContactDisplayName != "Ana Maria" {
		t.Fatalf("contact name: got %q, want Ana Maria", conversation.ContactDisplayName)
	}
}

func TestStatusNeverRegresses(t *testing.T) {
	t.Parallel()
	conversations := newFakeConversationRepo()
	processor := newTestProcessor(newFakeSessionRepo(), conversations)
	ctx := context.Background()

	received := domain.MessageReceivedEvent{SessionID: "s1", ExternalMessageID: "m1", From: "+5511888", Content: "hi"}
	if err := processor.Apply(ctx, "t1", received); err != nil {
		t.Fatalf("apply received: %v", err)
	}

	// the transport re-delivers a stale sent receipt after the message is
	// already delivered
	if err := processor.Apply(ctx, "t1", domain.MessageSentEvent{ExternalMessageID: "m1"}); err != nil {
		t.Fatalf("apply stale sent: %v", err)
	}

	message, _ := conversations.FindMessageByExternalID(ctx, "t1", "m1")
	if message.Status != domain.StatusDelivered {
		t.Fatalf("status regressed: got %v, want delivered", message.Status)
	}
}

func TestStatusEventForUnknownMessageIsDiscarded(t *testing.T) {
	t.Parallel()
	processor := newTestProcessor(newFakeSessionRepo(), newFakeConversationRepo())

	err := processor.Apply(context.Background(), "t1", domain.MessageDeliveredEvent{ExternalMessageID: "ghost"})
	if err != nil {
		t.Fatalf("unknown message must be absorbed, got %v", err)
	}
}

func TestStatusEventWithoutExternalIDIsDiscarded(t *testing.T) {
	t.Parallel()
	processor := newTestProcessor(newFakeSessionRepo(), newFakeConversationRepo())

	err := processor.Apply(context.Background(), "t1", domain.MessageSentEvent{})
	if err != nil {
		t.Fatalf("unroutable status event must be absorbed, got %v", err)
	}
}
