package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/ITspirit/vanilla/internal/config"
	"github.com/ITspirit/vanilla/internal/http/handler"
	httpmiddleware "github.com/ITspirit/vanilla/internal/http/middleware"
	"github.com/ITspirit/vanilla/internal/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, ssoHandler *handler.SSOHandler, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger))
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	sso := r.Group("/sso")
	{
		sso.GET("/providers", ssoHandler.ListProviders)
		sso.GET("/connect", ssoHandler.Connect)
		sso.GET("/:provider/start", ssoHandler.Start)
		sso.GET("/:provider/callback", ssoHandler.Callback)
	}

	oauth := r.Group("/oauth2")
	{
		oauth.POST("/token", ssoHandler.Token)
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
