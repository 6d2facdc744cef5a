package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/cppla/livewell/config"
	"github.com/cppla/livewell/controllers"
	"github.com/cppla/livewell/middleware"
	"github.com/cppla/livewell/services"
	"github.com/cppla/livewell/utils"
)

// SetupRouter wires routes, middlewares, and controllers. sweeperErr is the reason
// the sweeper could not be built, if any; alert-check then answers it as a 500.
func SetupRouter(db *gorm.DB, sweeper *services.Sweeper, sweeperErr error) *gin.Engine {
	// Load config and set Gin mode from configuration
	cfg := config.Get()
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	// Replace default console logger with file-based zap logger
	gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
	if err == nil {
		r.Use(utils.Ginzap(gl, time.RFC3339, true))
		r.Use(utils.RecoveryWithZap(gl, false))
	} else {
		// no access log, but panics still answer JSON
		r.Use(utils.RecoveryWithZap(utils.L(), true))
	}

	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	if cfg.MetricsEnabled {
		middleware.InitPrometheus(prometheus.DefaultRegisterer)
		services.RegisterMetrics(prometheus.DefaultRegisterer)
		r.Use(middleware.Metrics())

		metrics := gin.WrapH(promhttp.Handler())
		if cfg.MetricsUser != "" {
			r.GET("/metrics", gin.BasicAuth(gin.Accounts{cfg.MetricsUser: cfg.MetricsPass}), metrics)
		} else {
			r.GET("/metrics", metrics)
		}
	}

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	log := utils.L()
	syncController := controllers.NewSyncController(services.NewSyncService(db, log), log)
	alertController := controllers.NewAlertController(sweeper, sweeperErr, log)
	statsController := controllers.NewStatsController(db, cfg.AlertThreshold)
	configController := controllers.NewConfigController()

	// the client calls /sync and schedulers call /alert-check; /api/* serve the same handlers
	for _, g := range []*gin.RouterGroup{&r.RouterGroup, r.Group("/api")} {
		g.POST("/sync", middleware.RateLimitMiddleware("sync"), syncController.Push)
		g.GET("/alert-check", middleware.RateLimitMiddleware("alert"), alertController.Check)
	}

	api := r.Group("/api")
	api.GET("/stats", statsController.GetStats)
	api.GET("/config/policy", configController.GetPolicy)

	r.NoRoute(func(ctx *gin.Context) {
		ctx.JSON(http.StatusNotFound, utils.ErrorBody{Status: "error", Error: "route not found"})
	})
	r.NoMethod(func(ctx *gin.Context) {
		ctx.JSON(http.StatusMethodNotAllowed, utils.ErrorBody{Status: "error", Error: "method not allowed"})
	})

	return r
}
