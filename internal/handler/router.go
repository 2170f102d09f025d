package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/ragchat/internal/middleware"
)

// WSPathPrefix is relative to the api group; compression middleware must skip
// it because the upgrade hijacks the connection.
const WSPathPrefix = "/ws"

type RouterDeps struct {
	Auth          *AuthHandler
	Files         *FileHandler
	Sessions      *SessionHandler
	Search        *SearchHandler
	Chat          *ChatHandler
	Authenticator middleware.Authenticator
	UploadWindow  time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.POST("/auth/register", deps.Auth.Register)
	api.POST("/auth/login", deps.Auth.Login)
	api.POST("/auth/logout", deps.Auth.Logout)

	api.GET(WSPathPrefix+"/chat/:session_id", deps.Chat.Serve)

	authGroup := api.Group("")
	authGroup.Use(middleware.JWTAuth(deps.Authenticator))
	authGroup.GET("/auth/me", deps.Auth.Me)

	authGroup.POST("/files", middleware.RateLimit(deps.UploadWindow), deps.Files.Upload)
	authGroup.GET("/files", deps.Files.List)
	authGroup.GET("/files/:id", deps.Files.Get)
	authGroup.DELETE("/files/:id", deps.Files.Delete)
	authGroup.POST("/files/:id/reindex", deps.Files.Reindex)

	authGroup.POST("/chat/sessions", deps.Sessions.Create)
	authGroup.GET("/chat/sessions", deps.Sessions.List)
	authGroup.GET("/chat/sessions/:id", deps.Sessions.Get)
	authGroup.PUT("/chat/sessions/:id", deps.Sessions.Rename)
	authGroup.DELETE("/chat/sessions/:id", deps.Sessions.Delete)
	authGroup.GET("/chat/sessions/:id/messages", deps.Sessions.Messages)

	authGroup.GET("/search", deps.Search.Search)
}
