package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/livewell/models"
	"github.com/cppla/livewell/utils"
)

// StatsController provides aggregate numbers for the operator dashboard.
type StatsController struct {
	db        *gorm.DB
	threshold time.Duration
	now       func() time.Time
}

// NewStatsController creates a new StatsController instance.
func NewStatsController(db *gorm.DB, threshold time.Duration) *StatsController {
	return &StatsController{db: db, threshold: threshold, now: time.Now}
}

// GetStats returns subject counts, pending alerts and today's check-ins.
func (s *StatsController) GetStats(ctx *gin.Context) {
	if s.db == nil {
		utils.Error(ctx, http.StatusInternalServerError, 50010, "database is not configured")
		return
	}
	now := s.now()
	cutoff := now.Add(-s.threshold).UnixMilli()

	var registered, overdue, alerted, checkInsToday int64

	if err := s.db.Model(&models.User{}).Where("is_registered = ?", true).Count(&registered).Error; err != nil {
		// Fallback to 0 instead of failing the whole endpoint
		registered = 0
	}

	// overdue and still waiting for an alert in the current missed period
	if err := s.db.Model(&models.User{}).
		Where("is_registered = ?", true).
		Where("last_check_in IS NOT NULL AND last_check_in < ?", cutoff).
		Where("last_alert_sent_at IS NULL OR last_alert_sent_at < last_check_in").
		Count(&overdue).Error; err != nil {
		overdue = 0
	}

	// alerted and not checked in since
	if err := s.db.Model(&models.User{}).
		Where("last_alert_sent_at IS NOT NULL AND last_alert_sent_at >= last_check_in").
		Count(&alerted).Error; err != nil {
		alerted = 0
	}

	today := now.In(time.Local).Format("2006-01-02")
	if err := s.db.Model(&models.CheckIn{}).Where("date_string = ?", today).Count(&checkInsToday).Error; err != nil {
		checkInsToday = 0
	}

	utils.Success(ctx, gin.H{
		"registered_count":      registered,
		"pending_alert_count":   overdue,
		"alerted_count":         alerted,
		"check_ins_today_count": checkInsToday,
	})
}
