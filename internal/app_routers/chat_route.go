package approuters

import (
	"sharecare/internal/configuration"

	"github.com/gin-gonic/gin"
)

func ChatRouters(router *gin.Engine, container *configuration.Container) {
	chatRoute := router.Group("/api/chats")
	{
		chatRoute.POST("", container.ChatHandler.CreateChat)
		chatRoute.GET("", container.ChatHandler.ListChats)
		chatRoute.GET("/:id/messages", container.ChatHandler.GetMessages)
		chatRoute.POST("/:id/messages", container.ChatHandler.SendMessage)
		chatRoute.POST("/:id/identity", container.ChatHandler.RequestReveal)
	}
}
