package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facedoor/internal/api/handlers"
	"github.com/your-org/facedoor/internal/api/ws"
	"github.com/your-org/facedoor/internal/auth"
)

type RouterConfig struct {
	APIKey string
	Faces  handlers.FaceService
	// Events is nil when no access log is configured.
	Events handlers.AccessLogReader
	Checks map[string]handlers.Check
	// Hub is optional; /v1/ws is only mounted when it is set.
	Hub *ws.Hub

	RecognizeRate  float64
	RecognizeBurst int
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	limit := RateLimit(cfg.RecognizeRate, cfg.RecognizeBurst)

	faceH := handlers.NewFaceHandler(cfg.Faces)
	v1.POST("/faces", faceH.Enroll)
	v1.GET("/faces", faceH.List)
	v1.GET("/faces/export", faceH.Export)
	v1.POST("/faces/capture", faceH.EnrollFromCamera)
	v1.POST("/faces/recognize", limit, faceH.Recognize)
	v1.POST("/faces/recognize/capture", limit, faceH.RecognizeFromCamera)
	v1.GET("/faces/:name/variations", faceH.Variations)
	v1.DELETE("/faces/:name", faceH.Delete)
	v1.DELETE("/faces/:name/variations/:label", faceH.DeleteVariation)

	eventH := handlers.NewEventHandler(cfg.Events)
	v1.GET("/events", eventH.List)

	return r
}
