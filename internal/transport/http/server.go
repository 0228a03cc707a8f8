package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"gradeflow/internal/bootstrap"
	"gradeflow/internal/metrics"
	"gradeflow/internal/transport/http/handler"
	"gradeflow/internal/transport/http/middleware"
)

// bodyOverhead leaves room for the JSON envelope around a base64 image.
const bodyOverhead = 64 << 10

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	metrics.Init()

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), metrics.GinMiddleware())

	authCaller := middleware.AuthCaller(app.Config.Auth.APIKey, app.Config.Auth.JWTSecret)

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Live)
	router.GET("/readyz", authCaller, healthHandler.Ready)
	router.GET("/metrics", authCaller, gin.WrapH(metrics.Handler()))

	authHandler := handler.NewAuthHandler(
		app.Config.Auth.APIKey,
		app.Config.Auth.JWTSecret,
		time.Duration(app.Config.Auth.JWTExpireMinute)*time.Minute,
	)
	sessionHandler := handler.NewSessionHandler(app.Manager)
	gradingHandler := handler.NewGradingHandler(app.Manager)

	maxBody := int64(app.Config.Session.MaxImageBytes)*4/3 + bodyOverhead

	v1 := router.Group("/api/v1")
	v1.Use(middleware.BodyLimit(maxBody))
	v1.POST("/auth/token", authHandler.Token)

	secured := v1.Group("")
	secured.Use(authCaller)

	sessions := secured.Group("/sessions")
	sessions.POST("", sessionHandler.Create)
	sessions.GET("/:id", sessionHandler.Get)
	sessions.DELETE("/:id", sessionHandler.Delete)
	sessions.POST("/:id/screenshots", sessionHandler.UploadScreenshot)
	sessions.GET("/:id/results", sessionHandler.Results)

	secured.POST("/grade", gradingHandler.Trigger)
	secured.GET("/grade/status/:id", gradingHandler.Status)

	return router
}
