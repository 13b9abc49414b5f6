package v1

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes регистрирует все маршруты API v1
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	dispatcher := DispatcherAuthMiddleware(h.cfg, h.sessions, h.logger)

	// Доска происшествий. Чтение и создание открыты, изменение - только диспетчеру
	incidents := api.Group("/incidents")
	{
		incidents.POST("", h.createIncident)
		incidents.GET("", h.listIncidents)
		incidents.GET("/nearby", h.nearbyIncidents)
		incidents.GET("/:id", h.getIncident)
		incidents.PATCH("/:id", dispatcher, h.updateIncidentStatus)
		incidents.DELETE("/:id", dispatcher, h.deleteIncident)
		incidents.DELETE("", dispatcher, h.clearIncidents)
	}

	// Сообщение репортера в свободной форме
	api.POST("/reports", h.submitReport)

	api.GET("/facilities/nearest", h.nearestFacility)

	auth := api.Group("/auth")
	{
		auth.POST("/login", h.login)
		auth.POST("/logout", h.logout)
	}

	// Маршрут Health-check
	api.GET("/system/health", h.healthCheck)
}
