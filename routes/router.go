package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/cppla/mediastage/config"
	"github.com/cppla/mediastage/controllers"
	"github.com/cppla/mediastage/middleware"
	"github.com/cppla/mediastage/utils"
)

// Handlers groups the controllers mounted by SetupRouter.
type Handlers struct {
	Media   *controllers.MediaController
	Banners *controllers.BannerController
	Modules *controllers.ModuleController
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(cfg config.AppConfig, h Handlers) *gin.Engine {
	switch strings.ToLower(cfg.App.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.RequestID())
	gl, err := utils.NewRollingFileLogger(cfg.App.AccessLogPath, cfg.Log.Level, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups, cfg.Log.MaxAgeDays, cfg.Log.Compress)
	if err == nil {
		r.Use(utils.Ginzap(gl, time.RFC3339, true))
		r.Use(utils.RecoveryWithZap(gl, false))
	} else {
		utils.Sugar.Warnf("access log disabled: %v", err)
		r.Use(gin.Recovery())
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.App.AllowedOrigins) == 1 && cfg.App.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.App.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})
	r.GET("/media/*filepath", h.Media.Serve)

	api := r.Group("/api/v1")

	api.POST("/media/upload", middleware.RateLimit(cfg.App.RateLimitPerMinute), h.Media.Upload)

	banners := api.Group("/banners")
	banners.GET("", h.Banners.ListBanners)
	banners.GET("/:id", h.Banners.GetBanner)
	banners.POST("", h.Banners.CreateBanner)
	banners.PUT("/:id", h.Banners.UpdateBanner)
	banners.DELETE("/:id", h.Banners.DeleteBanner)

	api.GET("/modules", h.Modules.ListVersions)
	api.GET("/modules/:name/version", h.Modules.GetVersion)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "route not found")
	})

	return r
}
