package handler

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gradeflow/internal/bootstrap"
)

type HealthHandler struct {
	app *bootstrap.App
}

type dependencyStatus struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func NewHealthHandler(app *bootstrap.App) *HealthHandler {
	return &HealthHandler{app: app}
}

// Live never touches dependencies.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"app":        h.app.Config.App.Name,
		"env":        h.app.Config.App.Env,
		"uptime_sec": int(time.Since(h.app.StartedAt).Seconds()),
	})
}

func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	deps := gin.H{"store": h.checkStore(ctx)}
	allOK := deps["store"].(dependencyStatus).OK
	if h.app.MQConn != nil {
		rmq := h.checkRabbitMQ()
		deps["rabbitmq"] = rmq
		allOK = allOK && rmq.OK
	}

	statusCode := http.StatusOK
	if !allOK {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, gin.H{
		"app":          h.app.Config.App.Name,
		"store":        h.app.Config.Store.Backend,
		"dependencies": deps,
	})
}

func (h *HealthHandler) checkStore(ctx context.Context) dependencyStatus {
	if err := h.app.Store.Ping(ctx); err != nil {
		log.Printf("readiness store ping failed: %v", err)
		return dependencyStatus{OK: false, Message: "unavailable"}
	}
	return dependencyStatus{OK: true}
}

func (h *HealthHandler) checkRabbitMQ() dependencyStatus {
	if h.app.MQConn.IsClosed() {
		return dependencyStatus{OK: false, Message: "unavailable"}
	}
	return dependencyStatus{OK: true}
}
