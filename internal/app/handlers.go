package app

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yungbote/pdfsum-backend/internal/http"
	httpH "github.com/yungbote/pdfsum-backend/internal/http/handlers"
	httpMW "github.com/yungbote/pdfsum-backend/internal/http/middleware"
	"github.com/yungbote/pdfsum-backend/internal/observability"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
)

type Handlers struct {
	Health   *httpH.HealthHandler
	Document *httpH.DocumentHandler
	Job      *httpH.JobHandler
}

func wireHandlers(log *logger.Logger, db *gorm.DB, cfg Config, services Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:   httpH.NewHealthHandler(db),
		Document: httpH.NewDocumentHandler(services.DocumentService, services.JobService),
		Job:      httpH.NewJobHandler(services.JobService, cfg.StuckJobTimeout),
	}
}

func wireRouter(log *logger.Logger, cfg Config, handlers Handlers) *gin.Engine {
	return http.NewRouter(http.RouterConfig{
		Log:             log,
		ServiceName:     cfg.ServiceName,
		CORSOrigins:     cfg.CORSOrigins,
		Metrics:         observability.Current(),
		AuthMiddleware:  httpMW.NewAuthMiddleware(log),
		DocumentHandler: handlers.Document,
		JobHandler:      handlers.Job,
		HealthHandler:   handlers.Health,
	})
}
