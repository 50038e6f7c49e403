package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sharecare/internal/db"
	"sharecare/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

var (
	ErrChatNotFound    = errors.New("chat not found")
	ErrInvalidChatID   = errors.New("invalid chat ID")
	ErrAlreadyRevealed = errors.New("identity already revealed")
)

type chatRepository struct {
	mongoRepo *db.Repository[model.Chat]
	logger    *zap.Logger
}

// ChatRepository is the durable store for chat documents. Reveal-flag
// updates are conditional single-document writes so the mutual-consent
// transition never does a read-then-write of the whole document.
type ChatRepository interface {
	FindByID(ctx context.Context, id string) (*model.Chat, error)
	Exists(ctx context.Context, id string) (bool, error)
	FindForUser(ctx context.Context, userID string, limit int64) ([]model.Chat, error)
	FindExisting(ctx context.Context, userIDs []string, itemID, kind string) (*model.Chat, error)
	Insert(ctx context.Context, chat *model.Chat) (*model.Chat, error)
	UpdateLastMessage(ctx context.Context, chatID string, lm model.LastMessage) error
	SetIdentityRequested(ctx context.Context, chatID, userID string) error
	RevealAll(ctx context.Context, chatID string) error
}

func NewChatRepository(repo *db.Repository[model.Chat], logger *zap.Logger) ChatRepository {
	return &chatRepository{
		mongoRepo: repo,
		logger:    logger,
	}
}

func (r *chatRepository) FindByID(ctx context.Context, id string) (*model.Chat, error) {
	if _, err := primitive.ObjectIDFromHex(id); err != nil {
		return nil, ErrInvalidChatID
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	chat, err := r.mongoRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrChatNotFound
		}
		r.logger.Error("failed to load chat", zap.String("chat_id", id), zap.Error(err))
		return nil, fmt.Errorf("find chat: %w", err)
	}
	return chat, nil
}

// Exists answers the existence question without decoding the document.
func (r *chatRepository) Exists(ctx context.Context, id string) (bool, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, ErrInvalidChatID
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	ok, err := r.mongoRepo.Exists(ctx, db.NewFilter().Eq("_id", objectID).Build())
	if err != nil {
		r.logger.Error("failed to check chat", zap.String("chat_id", id), zap.Error(err))
		return false, fmt.Errorf("check chat: %w", err)
	}
	return ok, nil
}

func (r *chatRepository) FindForUser(ctx context.Context, userID string, limit int64) ([]model.Chat, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("participants.user_id", userID).Build()
	opts := findSorted("updated_at", true)
	if limit > 0 {
		opts.SetLimit(limit)
	}

	chats, err := r.mongoRepo.FindAll(ctx, filter, opts)
	if err != nil {
		r.logger.Error("failed to list chats", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return chats, nil
}

// FindExisting dedups chat creation: same participant pair plus either a
// matching item context or, for direct chats, any existing direct chat.
// Returns (nil, nil) when no chat matches.
func (r *chatRepository) FindExisting(ctx context.Context, userIDs []string, itemID, kind string) (*model.Chat, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	f := db.NewFilter().All("participants.user_id", userIDs)
	if kind == model.ContextDirect {
		f.Eq("context.kind", model.ContextDirect)
	} else {
		f.Eq("context.item_id", itemID)
	}

	chat, err := r.mongoRepo.FindOne(ctx, f.Build())
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("find existing chat: %w", err)
	}
	return chat, nil
}

func (r *chatRepository) Insert(ctx context.Context, chat *model.Chat) (*model.Chat, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	now := time.Now().UTC()
	chat.CreatedAt = now
	chat.UpdatedAt = now

	result, err := r.mongoRepo.Create(ctx, *chat)
	if err != nil {
		r.logger.Error("failed to insert chat", zap.Error(err))
		return nil, fmt.Errorf("insert chat: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		chat.ID = oid
	}

	r.logger.Info("chat created",
		zap.String("chat_id", chat.ID.Hex()),
		zap.String("kind", chat.Context.Kind),
	)
	return chat, nil
}

// UpdateLastMessage refreshes the denormalized preview. Best-effort from
// the pipeline's point of view: the message itself is already durable.
func (r *chatRepository) UpdateLastMessage(ctx context.Context, chatID string, lm model.LastMessage) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	_, err := r.mongoRepo.UpdateByID(ctx, chatID, bson.M{
		"$set": bson.M{
			"last_message": lm,
			"updated_at":   time.Now().UTC(),
		},
	})
	if err != nil {
		return fmt.Errorf("update last message: %w", err)
	}
	return nil
}

// SetIdentityRequested flags one participant as wanting the reveal. The
// filter requires that participant to still be unrevealed, so a request
// against an already revealed identity matches nothing.
func (r *chatRepository) SetIdentityRequested(ctx context.Context, chatID, userID string) error {
	objectID, err := primitive.ObjectIDFromHex(chatID)
	if err != nil {
		return ErrInvalidChatID
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("_id", objectID).
		ElemMatch("participants", bson.M{
			"user_id":           userID,
			"identity_revealed": false,
		}).
		Build()
	update := bson.M{
		"$set": bson.M{
			"participants.$.identity_requested": true,
			"updated_at":                        time.Now().UTC(),
		},
	}

	result, err := r.mongoRepo.UpdateOne(ctx, filter, update)
	if err != nil {
		r.logger.Error("failed to set identity request",
			zap.String("chat_id", chatID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return fmt.Errorf("set identity requested: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrAlreadyRevealed
	}
	return nil
}

// RevealAll flips both participants to revealed in a single document
// update and clears the pending request flags.
func (r *chatRepository) RevealAll(ctx context.Context, chatID string) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	_, err := r.mongoRepo.UpdateByID(ctx, chatID, bson.M{
		"$set": bson.M{
			"participants.$[].identity_revealed":  true,
			"participants.$[].identity_requested": false,
			"is_anonymous":                        false,
			"updated_at":                          time.Now().UTC(),
		},
	})
	if err != nil {
		r.logger.Error("failed to reveal identities", zap.String("chat_id", chatID), zap.Error(err))
		return fmt.Errorf("reveal identities: %w", err)
	}
	return nil
}
