package configuration

import (
	"context"
	"fmt"
	"os"
	"time"

	"sharecare/internal/db"
	"sharecare/internal/handler"
	"sharecare/internal/hub"
	"sharecare/internal/lock"
	"sharecare/internal/model"
	"sharecare/internal/repo"
	"sharecare/internal/service"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const defaultConfigPath = "config.json"

type Container struct {
	ChatHandler handler.ChatHandler
	Hub         *hub.Hub
	Config      Config
	Logger      *zap.Logger

	// private - for cleanup
	mongoClient *mongo.Database
}

func BuildContainer() (*Container, error) {
	configPath := os.Getenv("SHARECARE_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", configPath, err)
	}

	con, err := db.OpenConnection(config.ChatDatabase.Uri, config.ChatDatabase.Database)
	if err != nil {
		return nil, err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	chatStore := db.NewRepository[model.Chat](con, config.ChatDatabase.ChatsCollection)
	messageStore := db.NewRepository[model.Message](con, config.ChatDatabase.MessagesCollection)

	chatRepo := repo.NewChatRepository(chatStore, logger)
	messageRepo := repo.NewMessageRepository(messageStore, logger)

	// One lock set for both write paths: socket pipeline and HTTP
	// side-channel serialize per chat.
	chatLocks := lock.NewKeyedMutex()

	relayHub := hub.NewHub(chatRepo, messageRepo, chatLocks)

	chatService := service.NewChatService(chatRepo, messageRepo, relayHub, chatLocks, logger)
	chatHandler := handler.NewChatHandler(chatService)

	return &Container{
		ChatHandler: chatHandler,
		Hub:         relayHub,
		Config:      *config,
		Logger:      logger,
		mongoClient: con,
	}, nil
}

// Close gracefully shuts down all connections
func (c *Container) Close() error {
	// Stop the hub first (closes all WebSocket connections)
	if c.Hub != nil {
		c.Hub.Stop()
	}

	if c.Logger != nil {
		_ = c.Logger.Sync()
	}

	if c.mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.mongoClient.Client().Disconnect(ctx); err != nil {
			return fmt.Errorf("failed to close MongoDB connection: %w", err)
		}
	}

	return nil
}
