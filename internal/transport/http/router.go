package http

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/indiguild/offramp-service/internal/auth"
	"github.com/indiguild/offramp-service/internal/config"
	"github.com/indiguild/offramp-service/internal/provider"
	"github.com/indiguild/offramp-service/internal/service"
)

func NewRouter(lc *service.Lifecycle, client *provider.Client, signer *auth.Signer, cfg *config.Config, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))
	r.Use(RateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	RegisterHandlers(r, lc, client, signer, cfg.Sell.FiatSymbol)
	return r
}
