package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/pdfsum-backend/internal/http/handlers"
	httpMW "github.com/yungbote/pdfsum-backend/internal/http/middleware"
	"github.com/yungbote/pdfsum-backend/internal/observability"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	ServiceName    string
	CORSOrigins    []string
	Metrics        *observability.Metrics
	AuthMiddleware *httpMW.AuthMiddleware

	DocumentHandler *httpH.DocumentHandler
	JobHandler      *httpH.JobHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS(cfg.CORSOrigins...))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}

	protected := r.Group("/api")
	if cfg.AuthMiddleware != nil {
		protected.Use(cfg.AuthMiddleware.RequireUser())
	}
	{
		// Documents
		if cfg.DocumentHandler != nil {
			protected.POST("/documents", cfg.DocumentHandler.Register)
			protected.GET("/documents", cfg.DocumentHandler.List)
			protected.GET("/documents/:id", cfg.DocumentHandler.Get)
			protected.DELETE("/documents/:id", cfg.DocumentHandler.Delete)
			protected.GET("/documents/:id/estimate", cfg.DocumentHandler.Estimate)
			protected.GET("/documents/:id/summaries", cfg.DocumentHandler.ListSummaries)
			protected.POST("/documents/:id/jobs", cfg.DocumentHandler.EnqueueJob)
			protected.GET("/documents/:id/jobs", cfg.DocumentHandler.ListJobs)
			protected.GET("/summaries/:id", cfg.DocumentHandler.GetSummary)
			protected.GET("/usage", cfg.DocumentHandler.Usage)
		}

		// Jobs
		if cfg.JobHandler != nil {
			protected.GET("/jobs/:id", cfg.JobHandler.GetJob)
			protected.POST("/jobs/:id/cancel", cfg.JobHandler.CancelJob)
			protected.POST("/jobs/:id/retry", cfg.JobHandler.RetryJob)
			protected.POST("/admin/jobs/recover-stuck", cfg.JobHandler.RecoverStuck)
		}
	}

	return r
}
