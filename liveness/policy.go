package liveness

import (
	"time"

	"github.com/cppla/livewell/config"
)

// LiveMode selects how "checked in recently" is judged.
type LiveMode string

const (
	// LiveWindow: live while now - lastCheckIn < Grace.
	LiveWindow LiveMode = "window"
	// LiveCalendarDay: live while lastCheckIn falls on today's local date.
	LiveCalendarDay LiveMode = "calendar_day"
)

// StreakPolicy selects how consecutive check-ins are counted.
type StreakPolicy string

const (
	// StreakGapAware resets the streak to 1 when the previous check-in is older than StreakGap.
	StreakGapAware StreakPolicy = "gap_aware"
	// StreakMonotonic adds one per check-in and never resets.
	StreakMonotonic StreakPolicy = "monotonic"
)

const (
	DefaultStreakGap  = 36 * time.Hour
	DefaultHistoryCap = 365
	MinHistoryCap     = 100
)

// Policy holds the rules a tracker evaluates state against.
type Policy struct {
	Threshold  time.Duration
	Grace      time.Duration
	LiveMode   LiveMode
	Streak     StreakPolicy
	StreakGap  time.Duration
	HistoryCap int
	// Location is the subject's local zone for calendar dates. Defaults to time.Local.
	Location *time.Location
}

// DefaultPolicy mirrors the production server defaults.
func DefaultPolicy() Policy {
	return Policy{
		Threshold:  48 * time.Hour,
		Grace:      60 * time.Second,
		LiveMode:   LiveCalendarDay,
		Streak:     StreakGapAware,
		StreakGap:  DefaultStreakGap,
		HistoryCap: DefaultHistoryCap,
	}
}

// PolicyFromConfig builds the client policy from the shared configuration.
func PolicyFromConfig(cfg config.AppConfig) Policy {
	p := DefaultPolicy()
	if cfg.AlertThreshold > 0 {
		p.Threshold = cfg.AlertThreshold
	}
	if cfg.LiveGrace > 0 {
		p.Grace = cfg.LiveGrace
	}
	if cfg.LiveMode == string(LiveWindow) {
		p.LiveMode = LiveWindow
	}
	if cfg.HistoryCap > 0 {
		p.HistoryCap = cfg.HistoryCap
	}
	return p.normalized()
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.Threshold <= 0 {
		p.Threshold = d.Threshold
	}
	if p.Grace <= 0 {
		p.Grace = d.Grace
	}
	if p.LiveMode == "" {
		p.LiveMode = d.LiveMode
	}
	if p.Streak == "" {
		p.Streak = d.Streak
	}
	if p.StreakGap <= 0 {
		p.StreakGap = d.StreakGap
	}
	switch {
	case p.HistoryCap <= 0:
		p.HistoryCap = d.HistoryCap
	case p.HistoryCap < MinHistoryCap:
		p.HistoryCap = MinHistoryCap
	case p.HistoryCap > DefaultHistoryCap:
		p.HistoryCap = DefaultHistoryCap
	}
	if p.Location == nil {
		p.Location = time.Local
	}
	return p
}
