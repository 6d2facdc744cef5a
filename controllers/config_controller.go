package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/cppla/livewell/config"
	"github.com/cppla/livewell/liveness"
	"github.com/cppla/livewell/services"
	"github.com/cppla/livewell/utils"
)

// ConfigController serves the liveness policy clients derive their countdown from.
type ConfigController struct{}

func NewConfigController() *ConfigController { return &ConfigController{} }

// GetPolicy returns threshold, unit and the client liveness settings.
func (c *ConfigController) GetPolicy(ctx *gin.Context) {
	cfg := config.Get()
	p := liveness.PolicyFromConfig(cfg)
	utils.Success(ctx, gin.H{
		"threshold_seconds": int64(p.Threshold.Seconds()),
		"unit":              cfg.AlertUnit,
		"live_mode":         p.LiveMode,
		"grace_seconds":     int64(p.Grace.Seconds()),
		"history_cap":       p.HistoryCap,
		"max_guardians":     services.MaxGuardians,
	})
}
