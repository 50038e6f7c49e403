package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sharecare/internal/lock"
	"sharecare/internal/model"
	"sharecare/internal/repo"
	"sharecare/internal/safety"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidAction = errors.New("invalid action")
	ErrChatExpired   = errors.New("chat has expired")
	ErrInvalidInput  = errors.New("invalid input")
)

// System message bodies for the reveal flow.
const (
	revealWaitingText = "User has requested to share identities. Waiting for mutual consent."
	revealMutualText  = "Identity revealed by mutual consent. You can now see each other's names."
)

// chatTTL is stamped on new chats so abandoned conversations age out.
const chatTTL = 30 * 24 * time.Hour

// BlockedError rejects a message that failed the safety check.
type BlockedError struct {
	Reason     string
	Violations []string
}

func (e *BlockedError) Error() string { return e.Reason }

// Broadcaster pushes a persisted message to the chat's live room.
// Satisfied by the hub; a no-op in tests.
type Broadcaster interface {
	BroadcastMessage(msg *model.Message)
}

// ChatService is the HTTP-facing surface over chats: creation with
// dedup, history, the message write path, and the mutual-consent
// identity reveal state machine.
type ChatService interface {
	CreateChat(ctx context.Context, participants []model.Participant, chatCtx model.ChatContext) (*model.Chat, bool, error)
	ListChats(ctx context.Context, userID string) ([]model.Chat, error)
	GetMessages(ctx context.Context, chatID string) ([]model.Message, error)
	SendMessage(ctx context.Context, chatID, senderID, text, kind, mediaURL string) (*model.Message, error)
	RequestReveal(ctx context.Context, chatID, userID, action string) (*model.Chat, error)
}

type chatService struct {
	chats       repo.ChatRepository
	messages    repo.MessageRepository
	broadcaster Broadcaster
	chatLocks   *lock.KeyedMutex
	logger      *zap.Logger
}

func NewChatService(chats repo.ChatRepository, messages repo.MessageRepository, broadcaster Broadcaster, chatLocks *lock.KeyedMutex, logger *zap.Logger) ChatService {
	return &chatService{
		chats:       chats,
		messages:    messages,
		broadcaster: broadcaster,
		chatLocks:   chatLocks,
		logger:      logger,
	}
}

// -----------------------------------------------------------------
// Chat creation
// -----------------------------------------------------------------

// CreateChat creates a chat for the participant pair, deduplicating
// against an existing chat with the same pair and context. The second
// return value reports whether a new chat was created.
func (s *chatService) CreateChat(ctx context.Context, participants []model.Participant, chatCtx model.ChatContext) (*model.Chat, bool, error) {
	if len(participants) < 2 {
		return nil, false, fmt.Errorf("%w: at least two participants required", ErrInvalidInput)
	}

	seen := make(map[string]bool, len(participants))
	userIDs := make([]string, 0, len(participants))
	for _, p := range participants {
		if p.UserID == "" {
			return nil, false, fmt.Errorf("%w: participant user id required", ErrInvalidInput)
		}
		if seen[p.UserID] {
			return nil, false, fmt.Errorf("%w: duplicate participant %s", ErrInvalidInput, p.UserID)
		}
		seen[p.UserID] = true
		userIDs = append(userIDs, p.UserID)
	}

	existing, err := s.chats.FindExisting(ctx, userIDs, chatCtx.ItemID, chatCtx.Kind)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	expires := time.Now().UTC().Add(chatTTL)
	chat := &model.Chat{
		Participants: participants,
		Context:      chatCtx,
		Status:       model.ChatStatusActive,
		IsAnonymous:  true,
		ExpiresAt:    &expires,
	}

	created, err := s.chats.Insert(ctx, chat)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

func (s *chatService) ListChats(ctx context.Context, userID string) ([]model.Chat, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", ErrInvalidInput)
	}
	return s.chats.FindForUser(ctx, userID, 20)
}

func (s *chatService) GetMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	ok, err := s.chats.Exists(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, repo.ErrChatNotFound
	}
	return s.messages.ListByChat(ctx, chatID)
}

// -----------------------------------------------------------------
// Message write path (HTTP side-channel)
// -----------------------------------------------------------------

// SendMessage runs the same persist-then-broadcast pipeline as the
// socket path, with the stricter boundary checks of the HTTP surface:
// expired chats reject writes here.
func (s *chatService) SendMessage(ctx context.Context, chatID, senderID, text, kind, mediaURL string) (*model.Message, error) {
	if kind == "" {
		kind = model.KindText
	}
	if kind != model.KindText && kind != model.KindImage {
		return nil, fmt.Errorf("%w: unsupported message kind %q", ErrInvalidInput, kind)
	}

	if text == "" && kind == model.KindImage {
		text = model.ImagePlaceholder
	}
	if text == "" {
		return nil, fmt.Errorf("%w: message text required", ErrInvalidInput)
	}

	if kind == model.KindText {
		if verdict := safety.CheckMessage(text); !verdict.IsSafe {
			return nil, &BlockedError{Reason: verdict.Reason, Violations: verdict.Violations}
		}
	}

	unlock := s.chatLocks.Lock(chatID)
	defer unlock()

	chat, err := s.chats.FindByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.Status == model.ChatStatusExpired {
		return nil, ErrChatExpired
	}
	if !chat.IsParticipant(senderID) {
		return nil, ErrUnauthorized
	}

	msg := &model.Message{
		ChatID:   chat.ID,
		SenderID: senderID,
		Text:     text,
		Kind:     kind,
		MediaURL: mediaURL,
		ReadBy:   []string{senderID},
	}

	persisted, err := s.messages.Insert(ctx, msg)
	if err != nil {
		return nil, err
	}

	if err := s.chats.UpdateLastMessage(ctx, chatID, model.LastMessage{
		Text:     text,
		SenderID: senderID,
		SentAt:   persisted.CreatedAt,
	}); err != nil {
		s.logger.Warn("last message update failed", zap.String("chat_id", chatID), zap.Error(err))
	}

	s.broadcaster.BroadcastMessage(persisted)
	return persisted, nil
}

// -----------------------------------------------------------------
// Identity reveal
// -----------------------------------------------------------------

// RequestReveal runs the mutual-consent transition. The per-chat lock
// plus the conditional participant update keep concurrent requests from
// producing a half-revealed chat or duplicate reveal announcements.
func (s *chatService) RequestReveal(ctx context.Context, chatID, userID, action string) (*model.Chat, error) {
	if action != "request" {
		return nil, ErrInvalidAction
	}

	unlock := s.chatLocks.Lock(chatID)
	defer unlock()

	chat, err := s.chats.FindByID(ctx, chatID)
	if err != nil {
		return nil, err
	}

	idx := chat.ParticipantIndex(userID)
	if idx == -1 {
		return nil, ErrUnauthorized
	}
	if chat.Participants[idx].IdentityRevealed {
		return nil, repo.ErrAlreadyRevealed
	}

	if err := s.chats.SetIdentityRequested(ctx, chatID, userID); err != nil {
		return nil, err
	}

	other := chat.Other(userID)
	if other != nil && other.IdentityRequested {
		// Mutual consent: both flip in one document update.
		if err := s.chats.RevealAll(ctx, chatID); err != nil {
			return nil, err
		}
		s.appendSystemMessage(ctx, chat.ID, revealMutualText)
		s.logger.Info("identities revealed",
			zap.String("chat_id", chatID),
		)
	} else {
		s.appendSystemMessage(ctx, chat.ID, revealWaitingText)
		s.logger.Info("identity reveal requested",
			zap.String("chat_id", chatID),
			zap.String("user_id", userID),
		)
	}

	return s.chats.FindByID(ctx, chatID)
}

// appendSystemMessage persists and fans out a relay-generated message.
// The reveal state is already durable when this runs, so failures are
// logged rather than surfaced.
func (s *chatService) appendSystemMessage(ctx context.Context, chatID primitive.ObjectID, text string) {
	msg := &model.Message{
		ChatID:   chatID,
		SenderID: model.SystemSender,
		Text:     text,
		Kind:     model.KindSystem,
		ReadBy:   []string{},
	}

	persisted, err := s.messages.Insert(ctx, msg)
	if err != nil {
		s.logger.Error("failed to append system message",
			zap.String("chat_id", chatID.Hex()),
			zap.Error(err),
		)
		return
	}

	s.broadcaster.BroadcastMessage(persisted)
}
