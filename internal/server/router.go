package server

import (
	"os"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/threadscope/threadscope-backend/internal/handlers"
)

type RouterConfig struct {
	JobsHandler  *handlers.JobsHandler
	PostsHandler *handlers.PostsHandler
	SSEHandler   *handlers.SSEHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := []string{"http://localhost:3000", "http://localhost:5173"}
	if raw := strings.TrimSpace(os.Getenv("CORS_ALLOW_ORIGINS")); raw != "" {
		origins = strings.Split(raw, ",")
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)
	router.GET("/sse/stream", cfg.SSEHandler.SSEStream)

	api := router.Group("/api")
	{
		api.POST("/jobs", cfg.JobsHandler.CreateJob)
		api.GET("/jobs", cfg.JobsHandler.ListJobs)
		api.GET("/jobs/:id", cfg.JobsHandler.GetJobByID)
		api.GET("/jobs/:id/items", cfg.JobsHandler.ListJobItems)
		api.POST("/jobs/:id/cancel", cfg.JobsHandler.CancelJob)

		api.GET("/posts/:id/analysis", cfg.PostsHandler.GetAnalysis)
		api.GET("/posts/:id/quant-runs", cfg.PostsHandler.ListQuantRuns)
	}

	return router
}
