package api

import (
	"Fieldlink/internal/api/middleware"
	"Fieldlink/internal/pkg/logger"
	"net/http"

	"github.com/gin-gonic/gin"
)

func SetupRouter(group *HandlersGroup) *gin.Engine {
	r := gin.New()
	_ = r.SetTrustedProxies([]string{"localhost"})

	// TraceId & Logger & CORS
	r.Use(middleware.TraceMiddleware())
	r.Use(middleware.AuditMiddleware())
	r.Use(middleware.CORSMiddleware())
	logger.SetupGin(r)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"Code":    200,
				"Message": "pong",
				"Data":    nil,
			})
		})

		// 观察流走查询参数鉴权，不经过 Header 中间件
		apiGroup.GET("/stream", group.WSHandler.Stream)

		imGroup := apiGroup.Group("/im")
		imGroup.Use(middleware.AuthMiddleware())
		{
			imGroup.POST("/send", group.IMHandler.SendMessage)
			imGroup.POST("/retry/:message_id", group.IMHandler.RetryMessage)
			imGroup.GET("/history", group.IMHandler.GetChatHistory)
			imGroup.GET("/list", group.IMHandler.GetConversationList)
			imGroup.POST("/read", group.IMHandler.MarkAsRead)
			imGroup.POST("/pin", group.IMHandler.PinConversation)
			imGroup.POST("/clear", group.IMHandler.ClearAll)
			imGroup.POST("/active/:peer_id", group.IMHandler.EnterConversation)
			imGroup.DELETE("/active", group.IMHandler.LeaveConversation)
			imGroup.POST("/download/:message_id", group.IMHandler.RetryDownload)
		}

		pushGroup := apiGroup.Group("/push")
		pushGroup.Use(middleware.AuthMiddleware())
		{
			pushGroup.POST("/wake", group.PushHandler.Wake)
		}

		presenceGroup := apiGroup.Group("/presence")
		presenceGroup.Use(middleware.AuthMiddleware())
		{
			presenceGroup.POST("/status", group.PresenceHandler.SetStatus)
			presenceGroup.POST("/typing", group.PresenceHandler.SetTyping)
			presenceGroup.GET("/list", group.PresenceHandler.GetPeers)
		}
	}

	return r
}
