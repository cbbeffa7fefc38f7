package service

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"walletchat/internal/apperr"
	"walletchat/internal/domain"
	"walletchat/internal/security"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Notifier receives domain events after they are durably stored. The ws hub
// implements it; a nil notifier disables fan-out (tests, offline tooling).
type Notifier interface {
	MessageCreated(m *domain.Message)
	MessageRead(m *domain.Message, reader string)
}

// MessageService owns message creation, threads and the read/delete/edit
// projections. Messages are persisted before any fan-out.
type MessageService struct {
	messages   domain.MessageRepository
	identities domain.IdentityRepository
	groups     domain.GroupRepository
	guard      *Guard
	notifier   Notifier
	clock      Clock
	log        *zap.Logger

	maxContentLength int
}

func NewMessageService(
	messages domain.MessageRepository,
	identities domain.IdentityRepository,
	groups domain.GroupRepository,
	guard *Guard,
	clock Clock,
	log *zap.Logger,
	maxContentLength int,
) *MessageService {
	if clock == nil {
		clock = realClock{}
	}
	if maxContentLength <= 0 {
		maxContentLength = 5000
	}
	return &MessageService{
		messages:         messages,
		identities:       identities,
		groups:           groups,
		guard:            guard,
		clock:            clock,
		log:              log,
		maxContentLength: maxContentLength,
	}
}

// SetNotifier wires the fan-out sink. Called once at startup; the hub needs
// the service and the service needs the hub, so one side is set late.
func (s *MessageService) SetNotifier(n Notifier) { s.notifier = n }

// SendInput is the caller-supplied part of a new message.
type SendInput struct {
	Type      domain.MessageType `json:"type"`
	Content   string             `json:"content"`
	File      *domain.FileInfo   `json:"file"`
	Encrypted bool               `json:"encrypted"`
	ReplyTo   *string            `json:"reply_to"`
}

// Send validates, authorizes, persists and fans out a new message.
func (s *MessageService) Send(ctx context.Context, sender string, scope domain.Scope, in SendInput) (*domain.Message, error) {
	if scope.IsZero() {
		return nil, apperr.InvalidArg("message scope is empty")
	}
	if err := s.validatePayload(in); err != nil {
		return nil, err
	}
	if err := s.guard.Check(ctx, sender, scope, ActionSend); err != nil {
		return nil, err
	}
	if in.ReplyTo != nil {
		parent, err := s.messages.GetByID(ctx, *in.ReplyTo)
		if err != nil {
			return nil, fmt.Errorf("lookup reply target: %w", err)
		}
		if parent == nil || parent.Deleted || !sameConversation(sender, scope, parent) {
			return nil, apperr.InvalidArg("reply target not in this conversation")
		}
	}

	m := &domain.Message{
		ID:        uuid.NewString(),
		From:      sender,
		Scope:     scope,
		Type:      in.Type,
		Content:   in.Content,
		File:      in.File,
		Encrypted: in.Encrypted,
		Status:    domain.StatusSent,
		ReplyTo:   in.ReplyTo,
		CreatedAt: s.clock.Now(),
	}
	if err := s.messages.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}
	if err := s.identities.IncrementMessagesSent(ctx, sender); err != nil {
		return nil, fmt.Errorf("bump messages sent: %w", err)
	}
	if groupID, ok := scope.Group(); ok {
		if err := s.groups.IncrementMessageCount(ctx, groupID); err != nil {
			return nil, fmt.Errorf("bump group message count: %w", err)
		}
	}

	if s.notifier != nil {
		s.notifier.MessageCreated(m)
	}
	s.log.Debug("message stored",
		zap.String("message_id", m.ID),
		zap.String("from", security.ShortAddress(sender)),
		zap.Bool("group", scope.IsGroup()))
	return m, nil
}

func (s *MessageService) validatePayload(in SendInput) error {
	if !domain.ValidMessageType(in.Type) || in.Type == domain.TypeSystem {
		return apperr.InvalidArg("invalid message type")
	}
	if utf8.RuneCountInString(in.Content) > s.maxContentLength {
		return apperr.InvalidArg(fmt.Sprintf("content exceeds %d characters", s.maxContentLength))
	}
	switch in.Type {
	case domain.TypeText:
		if in.Content == "" {
			return apperr.InvalidArg("text message requires content")
		}
	case domain.TypeVoice, domain.TypeVideo:
		if in.File == nil || in.File.URL == "" {
			return apperr.InvalidArg("media message requires a file")
		}
		if in.File.Duration <= 0 {
			return apperr.InvalidArg("media message requires a duration")
		}
	case domain.TypeImage, domain.TypeFile:
		if in.File == nil || in.File.URL == "" {
			return apperr.InvalidArg("file message requires a file")
		}
	case domain.TypeLocation, domain.TypeContact:
		if in.Content == "" {
			return apperr.InvalidArg("payload message requires content")
		}
	}
	return nil
}

// ReplySummary is a short view of a replied-to message.
type ReplySummary struct {
	ID      string             `json:"id"`
	From    string             `json:"from"`
	Type    domain.MessageType `json:"type"`
	Content string             `json:"content,omitempty"`
}

// MessageView is a message plus its hydrated reply summary.
type MessageView struct {
	*domain.Message
	Reply *ReplySummary `json:"reply,omitempty"`
}

// Thread returns the direct conversation between viewer and peer, newest
// first.
func (s *MessageService) Thread(ctx context.Context, viewer, peer string, limit, offset int) ([]*MessageView, error) {
	limit, offset = clampPage(limit, offset)
	msgs, err := s.messages.Thread(ctx, viewer, security.CanonicalAddress(peer), limit, offset)
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, msgs)
}

// GroupThread returns the group conversation for a member, newest first.
func (s *MessageService) GroupThread(ctx context.Context, viewer, groupID string, limit, offset int) ([]*MessageView, error) {
	if err := s.guard.Check(ctx, viewer, domain.GroupScope(groupID), ActionReadHistory); err != nil {
		return nil, err
	}
	limit, offset = clampPage(limit, offset)
	msgs, err := s.messages.GroupThread(ctx, groupID, viewer, limit, offset)
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, msgs)
}

func (s *MessageService) hydrate(ctx context.Context, msgs []*domain.Message) ([]*MessageView, error) {
	views := make([]*MessageView, 0, len(msgs))
	for _, m := range msgs {
		v := &MessageView{Message: m}
		if m.ReplyTo != nil {
			parent, err := s.messages.GetByID(ctx, *m.ReplyTo)
			if err != nil {
				return nil, fmt.Errorf("lookup reply target: %w", err)
			}
			if parent != nil && !parent.Deleted {
				v.Reply = &ReplySummary{
					ID:      parent.ID,
					From:    parent.From,
					Type:    parent.Type,
					Content: excerpt(parent.Content, 120),
				}
			}
		}
		views = append(views, v)
	}
	return views, nil
}

// MarkRead records that reader has seen the message. For a direct message the
// sender marking their own message is a no-op success; repeated marks are
// idempotent. Group reads accumulate per-member receipts.
func (s *MessageService) MarkRead(ctx context.Context, reader, messageID string) error {
	m, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return err
	}

	if groupID, ok := m.Scope.Group(); ok {
		if err := s.guard.Check(ctx, reader, domain.GroupScope(groupID), ActionReadHistory); err != nil {
			return err
		}
		if err := s.messages.AddReadReceipt(ctx, messageID, reader, s.clock.Now()); err != nil {
			return err
		}
		return nil
	}

	peer, _ := m.Scope.Peer()
	if reader == m.From {
		return nil
	}
	if reader != peer {
		return apperr.Forbidden("not a participant of this conversation")
	}
	if err := s.messages.MarkRead(ctx, messageID, s.clock.Now()); err != nil {
		return err
	}
	if s.notifier != nil {
		s.notifier.MessageRead(m, reader)
	}
	return nil
}

// SoftDelete tombstones the message for actor. For direct messages, the
// second participant's delete flips the shared deleted flag so the message
// vanishes from both threads.
func (s *MessageService) SoftDelete(ctx context.Context, actor, messageID string) error {
	m, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if groupID, ok := m.Scope.Group(); ok {
		if err := s.guard.Check(ctx, actor, domain.GroupScope(groupID), ActionReadHistory); err != nil {
			return err
		}
	} else if peer, _ := m.Scope.Peer(); actor != m.From && actor != peer {
		return apperr.Forbidden("not a participant of this conversation")
	}

	fully, err := s.messages.AddDeleteMarker(ctx, messageID, actor)
	if err != nil {
		return err
	}
	if fully {
		s.log.Debug("message fully deleted", zap.String("message_id", messageID))
	}
	return nil
}

// Edit replaces the content of a text message. Only the sender may edit, and
// only while the message is not deleted; prior content goes to the history.
func (s *MessageService) Edit(ctx context.Context, actor, messageID, content string) (*domain.Message, error) {
	if content == "" {
		return nil, apperr.InvalidArg("edit requires content")
	}
	if utf8.RuneCountInString(content) > s.maxContentLength {
		return nil, apperr.InvalidArg(fmt.Sprintf("content exceeds %d characters", s.maxContentLength))
	}
	m, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.From != actor {
		return nil, apperr.Forbidden("only the sender can edit a message")
	}
	if m.Type != domain.TypeText {
		return nil, apperr.InvalidArg("only text messages can be edited")
	}
	if err := s.messages.AppendEdit(ctx, messageID, m.Content, content, s.clock.Now()); err != nil {
		return nil, err
	}
	return s.loadMessage(ctx, messageID)
}

func (s *MessageService) EditHistory(ctx context.Context, actor, messageID string) ([]domain.EditRecord, error) {
	m, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if groupID, ok := m.Scope.Group(); ok {
		if err := s.guard.Check(ctx, actor, domain.GroupScope(groupID), ActionReadHistory); err != nil {
			return nil, err
		}
	} else if peer, _ := m.Scope.Peer(); actor != m.From && actor != peer {
		return nil, apperr.Forbidden("not a participant of this conversation")
	}
	return s.messages.EditHistory(ctx, messageID)
}

// SetPinned pins or unpins a group message. Admin or owner only.
func (s *MessageService) SetPinned(ctx context.Context, actor, messageID string, pinned bool) error {
	m, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return err
	}
	groupID, ok := m.Scope.Group()
	if !ok {
		return apperr.InvalidArg("only group messages can be pinned")
	}
	if err := s.guard.Check(ctx, actor, domain.GroupScope(groupID), ActionManageSettings); err != nil {
		return err
	}
	return s.messages.SetPinned(ctx, messageID, pinned)
}

func (s *MessageService) ReadReceipts(ctx context.Context, actor, messageID string) ([]domain.ReadReceipt, error) {
	m, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	groupID, ok := m.Scope.Group()
	if !ok {
		return nil, apperr.InvalidArg("read receipts exist for group messages only")
	}
	if err := s.guard.Check(ctx, actor, domain.GroupScope(groupID), ActionReadHistory); err != nil {
		return nil, err
	}
	return s.messages.ReadReceipts(ctx, messageID)
}

func (s *MessageService) UnreadCount(ctx context.Context, address string) (int, error) {
	return s.messages.UnreadCount(ctx, address)
}

func (s *MessageService) loadMessage(ctx context.Context, id string) (*domain.Message, error) {
	m, err := s.messages.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lookup message: %w", err)
	}
	if m == nil || m.Deleted {
		return nil, apperr.NotFound("message not found")
	}
	return m, nil
}

// sameConversation reports whether parent belongs to the conversation the new
// message targets. Direct scopes are directional, so the comparison is over
// the unordered participant pair.
func sameConversation(sender string, scope domain.Scope, parent *domain.Message) bool {
	if groupID, ok := scope.Group(); ok {
		pg, ok := parent.Scope.Group()
		return ok && pg == groupID
	}
	peer, _ := scope.Peer()
	parentPeer, ok := parent.Scope.Peer()
	if !ok {
		return false
	}
	return (parent.From == sender && parentPeer == peer) ||
		(parent.From == peer && parentPeer == sender)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func excerpt(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "…"
}
