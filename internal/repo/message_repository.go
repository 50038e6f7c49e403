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
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

var (
	ErrInvalidMessage = errors.New("invalid message: message cannot be nil")
)

const (
	// Timeouts
	defaultWriteTimeout = 5 * time.Second
	defaultReadTimeout  = 30 * time.Second

	// Retry configuration
	maxRetries     = 3
	baseRetryDelay = 100 * time.Millisecond
	maxRetryDelay  = 2 * time.Second
)

type messageRepository struct {
	mongoRepo *db.Repository[model.Message]
	logger    *zap.Logger
}

// MessageRepository is the append-only message log. MarkRead is an
// atomic set-union update so concurrent readers never lose each other's
// receipts.
type MessageRepository interface {
	Insert(ctx context.Context, msg *model.Message) (*model.Message, error)
	ListByChat(ctx context.Context, chatID string) ([]model.Message, error)
	MarkRead(ctx context.Context, chatID, userID string) (int64, error)
}

func NewMessageRepository(repo *db.Repository[model.Message], logger *zap.Logger) MessageRepository {
	return &messageRepository{
		mongoRepo: repo,
		logger:    logger,
	}
}

// -----------------------------------------------------------------------------
// Insert
// -----------------------------------------------------------------------------

func (m *messageRepository) Insert(ctx context.Context, msg *model.Message) (*model.Message, error) {
	if msg == nil {
		return nil, ErrInvalidMessage
	}
	if msg.ChatID.IsZero() {
		return nil, ErrInvalidChatID
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := waitForRetry(ctx, attempt); err != nil {
				return nil, err
			}
		}

		result, err := m.mongoRepo.Create(ctx, *msg)
		if err == nil {
			if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
				msg.ID = oid
			}

			m.logger.Info("message inserted",
				zap.String("message_id", msg.ID.Hex()),
				zap.String("chat_id", msg.ChatID.Hex()),
				zap.String("kind", msg.Kind),
				zap.Int("attempt", attempt+1),
			)
			return msg, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}

		m.logger.Warn("insert attempt failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxRetries),
		)
	}

	m.logger.Error("failed to insert message after all retries",
		zap.Error(lastErr),
		zap.String("chat_id", msg.ChatID.Hex()),
	)
	return nil, fmt.Errorf("insert message failed: %w", lastErr)
}

// -----------------------------------------------------------------------------
// ListByChat
// -----------------------------------------------------------------------------

func (m *messageRepository) ListByChat(ctx context.Context, chatID string) ([]model.Message, error) {
	if _, err := primitive.ObjectIDFromHex(chatID); err != nil {
		return nil, ErrInvalidChatID
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().ObjectID("chat_id", chatID).Build()
	msgs, err := m.mongoRepo.FindAll(ctx, filter, findSorted("created_at", false))
	if err != nil {
		m.logger.Error("failed to list messages", zap.String("chat_id", chatID), zap.Error(err))
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// -----------------------------------------------------------------------------
// MarkRead
// -----------------------------------------------------------------------------

// MarkRead adds userID to read_by on every message of the chat that does
// not carry it yet. $addToSet keeps the update idempotent and monotonic.
// Returns the number of messages newly marked.
func (m *messageRepository) MarkRead(ctx context.Context, chatID, userID string) (int64, error) {
	objectID, err := primitive.ObjectIDFromHex(chatID)
	if err != nil {
		return 0, ErrInvalidChatID
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("chat_id", objectID).
		Ne("read_by", userID).
		Build()
	update := bson.M{
		"$addToSet": bson.M{"read_by": userID},
	}

	result, err := m.mongoRepo.UpdateMany(ctx, filter, update)
	if err != nil {
		m.logger.Error("failed to mark messages read",
			zap.String("chat_id", chatID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return 0, fmt.Errorf("mark read: %w", err)
	}

	m.logger.Debug("messages marked read",
		zap.String("chat_id", chatID),
		zap.String("user_id", userID),
		zap.Int64("count", result.ModifiedCount),
	)
	return result.ModifiedCount, nil
}

// -----------------------------------------------------------------------------
// Shared helpers
// -----------------------------------------------------------------------------

func findSorted(field string, desc bool) *options.FindOptions {
	order := 1
	if desc {
		order = -1
	}
	return options.Find().SetSort(bson.D{{Key: field, Value: order}})
}

func ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hadDeadline := ctx.Deadline(); hadDeadline {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func waitForRetry(ctx context.Context, attempt int) error {
	delay := time.Duration(1<<uint(attempt)) * baseRetryDelay
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	return mongo.IsTimeout(err) || mongo.IsNetworkError(err)
}
