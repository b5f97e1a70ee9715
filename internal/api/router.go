package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facegate/internal/api/handlers"
	"github.com/your-org/facegate/internal/api/ws"
	"github.com/your-org/facegate/internal/auth"
	"github.com/your-org/facegate/internal/dispatch"
)

type RouterConfig struct {
	Keys      auth.Keys
	FaceAuth  handlers.FaceAuth
	Pool      *dispatch.Pool
	Hub       *ws.Hub
	Checks    []handlers.Check
	MaxUpload int64
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware())
	r.Use(cors.New(corsConfig()))

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks...)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")

	// Door terminals: recognition and the event feed.
	terminal := v1.Group("", auth.APIKeyMiddleware(cfg.Keys, auth.RoleTerminal))
	recognizeH := handlers.NewRecognizeHandler(cfg.FaceAuth, cfg.Pool, cfg.MaxUpload)
	terminal.POST("/recognize", recognizeH.Recognize)
	terminal.POST("/faces/check", recognizeH.CheckPhoto)
	if cfg.Hub != nil {
		terminal.GET("/ws", cfg.Hub.HandleWS)
	}

	// Enrollment
	operator := v1.Group("", auth.APIKeyMiddleware(cfg.Keys, auth.RoleOperator))
	memberH := handlers.NewMemberHandler(cfg.FaceAuth, cfg.Pool, cfg.MaxUpload)
	operator.POST("/members", memberH.Register)
	operator.GET("/members", memberH.List)
	operator.POST("/members/:id/photos", memberH.AddPhoto)
	operator.DELETE("/members/:id", memberH.Remove)

	return r
}

func corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowAllOrigins = true
	cfg.AllowHeaders = append(cfg.AllowHeaders, "X-API-Key", requestIDHeader)
	cfg.ExposeHeaders = []string{requestIDHeader}
	return cfg
}
