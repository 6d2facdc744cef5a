package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/livewell/config"
	"github.com/cppla/livewell/models"
	"github.com/cppla/livewell/notify"
)

// Candidate outcomes.
const (
	OutcomeSent      = "sent"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomeDuplicate = "duplicate"
	OutcomeAborted   = "aborted"
)

// Sweep modes.
const (
	ModeBatch        = "batch"
	ModeTargeted     = "targeted"
	ModeConnectivity = "connectivity"
)

// ReportEntry is the outcome for one candidate of a sweep.
type ReportEntry struct {
	User    string `json:"user"`
	UserID  string `json:"userId,omitempty"`
	Email   string `json:"email"`
	Success bool   `json:"success"`
	Outcome string `json:"outcome"`
	Missed  int64  `json:"missed,omitempty"`
	Debug   string `json:"debug,omitempty"`
}

// Report is the result of one sweep. A report is returned even when some candidates failed.
type Report struct {
	Status    string        `json:"status"`
	Mode      string        `json:"mode"`
	CheckedAt int64         `json:"checkedAt"`
	Sent      int           `json:"sent"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Entries   []ReportEntry `json:"report"`
}

func (r *Report) add(e ReportEntry) {
	switch e.Outcome {
	case OutcomeSent, OutcomeDuplicate:
		r.Sent++
	case OutcomeFailed:
		r.Failed++
	default:
		r.Skipped++
	}
	alertsTotal.WithLabelValues(e.Outcome).Inc()
	r.Entries = append(r.Entries, e)
}

// SweeperOptions configures a Sweeper. Zero values take the production defaults.
type SweeperOptions struct {
	Threshold time.Duration
	// Unit is the granularity of "missed" in the alert text: minute, hour or day.
	Unit string
	// UnitLength is the duration of one Unit. Derived from Unit when zero.
	UnitLength time.Duration
	BatchSize  int
	Timeout   time.Duration
	ClaimTTL  time.Duration
	Claims    ClaimStore
	Now       func() time.Time
	Logger    *zap.Logger
}

// Sweeper finds overdue subjects and notifies their primary guardian once per missed period.
type Sweeper struct {
	db     *gorm.DB
	sender notify.Sender
	opts   SweeperOptions
	log    *zap.Logger
}

// NewSweeper builds a Sweeper over db that delivers through sender. Either may be nil;
// the sweep then fails with a configuration error instead of panicking.
func NewSweeper(db *gorm.DB, sender notify.Sender, opts SweeperOptions) *Sweeper {
	if opts.Threshold <= 0 {
		opts.Threshold = 48 * time.Hour
	}
	if opts.Unit == "" {
		opts.Unit = notify.UnitDay
	}
	if opts.UnitLength <= 0 {
		opts.UnitLength = config.AppConfig{AlertUnit: opts.Unit}.UnitDuration()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = 2 * time.Minute
	}
	if opts.Claims == nil {
		opts.Claims = NewMemoryClaimStore()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{db: db, sender: sender, opts: opts, log: log}
}

// NewSweeperFromConfig wires the configured sender and policy. A missing delivery
// credential is reported as a configuration error.
func NewSweeperFromConfig(db *gorm.DB, cfg config.AppConfig, claims ClaimStore, log *zap.Logger) (*Sweeper, error) {
	sender, err := notify.NewSenderFromConfig(cfg)
	if err != nil {
		return nil, &Error{Kind: ErrConfiguration, Msg: err.Error(), Err: err}
	}
	return NewSweeper(db, sender, SweeperOptions{
		Threshold:  cfg.AlertThreshold,
		Unit:       cfg.AlertUnit,
		UnitLength: cfg.UnitDuration(),
		BatchSize:  cfg.SweepBatchSize,
		Timeout:    cfg.SweepTimeout,
		ClaimTTL:   cfg.AlertClaimTTL,
		Claims:     claims,
		Logger:     log,
	}), nil
}

// MissedUnits is floor((now - lastCheckIn) / unit), never negative.
func (s *Sweeper) MissedUnits(nowMs, lastCheckIn int64) int64 {
	elapsed := nowMs - lastCheckIn
	if elapsed <= 0 {
		return 0
	}
	return elapsed / s.opts.UnitLength.Milliseconds()
}

func (s *Sweeper) ready() error {
	if s.sender == nil {
		return &Error{Kind: ErrConfiguration, Msg: "notification delivery is not configured"}
	}
	if s.db == nil {
		return &Error{Kind: ErrConfiguration, Msg: "database is not configured"}
	}
	return nil
}

// Run performs one batch sweep over overdue, not yet alerted subjects.
func (s *Sweeper) Run(ctx context.Context) (*Report, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { sweepDuration.WithLabelValues(ModeBatch).Observe(time.Since(start).Seconds()) }()

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	now := s.opts.Now()
	nowMs := now.UnixMilli()
	candidates, err := s.selectCandidates(ctx, nowMs)
	if err != nil {
		return nil, persistence("failed to load overdue subjects", err)
	}

	report := &Report{Status: "success", Mode: ModeBatch, CheckedAt: nowMs, Entries: []ReportEntry{}}
	for i := range candidates {
		if ctx.Err() != nil {
			for _, rest := range candidates[i:] {
				report.add(ReportEntry{
					User:    rest.Name,
					UserID:  rest.ID,
					Email:   primaryEmail(&rest),
					Outcome: OutcomeAborted,
					Debug:   "sweep deadline exceeded",
				})
			}
			s.log.Warn("sweep aborted", zap.Int("remaining", len(candidates)-i))
			break
		}
		report.add(s.dispatch(ctx, &candidates[i], nowMs))
	}

	s.log.Info("sweep finished",
		zap.Int("candidates", len(candidates)),
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

func (s *Sweeper) selectCandidates(ctx context.Context, nowMs int64) ([]models.User, error) {
	cutoff := nowMs - s.opts.Threshold.Milliseconds()
	var users []models.User
	err := s.db.WithContext(ctx).
		Preload("Contacts", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("is_registered = ?", true).
		Where("last_check_in IS NOT NULL AND last_check_in < ?", cutoff).
		Where("last_alert_sent_at IS NULL OR last_alert_sent_at < last_check_in").
		// subjects not yet tried in this missed period first, oldest check-in first;
		// then previously failed ones, least recently tried first
		Order("CASE WHEN " + untriedThisPeriod + " THEN 0 ELSE 1 END").
		Order("CASE WHEN " + untriedThisPeriod + " THEN 0 ELSE last_alert_attempt_at END").
		Order("last_check_in ASC").
		Limit(s.opts.BatchSize).
		Find(&users).Error
	return users, err
}

const untriedThisPeriod = "last_alert_attempt_at IS NULL OR last_alert_attempt_at < last_check_in"

// markAttempt records a failed alert so the subject moves behind untried ones in
// the next batch. The watermark is not touched.
func (s *Sweeper) markAttempt(ctx context.Context, userID string, nowMs int64) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := s.db.WithContext(cctx).Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("last_alert_attempt_at", nowMs).Error
	if err != nil {
		s.log.Warn("failed to record alert attempt", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *Sweeper) dispatch(ctx context.Context, u *models.User, nowMs int64) ReportEntry {
	entry := ReportEntry{User: u.Name, UserID: u.ID}
	log := s.log.With(zap.String("user_id", u.ID))

	contact := u.PrimaryContact()
	if contact == nil || strings.TrimSpace(contact.Email) == "" {
		entry.Outcome = OutcomeFailed
		entry.Debug = "no guardian email"
		log.Warn("alert not sent: no guardian email")
		s.markAttempt(ctx, u.ID, nowMs)
		return entry
	}
	entry.Email = contact.Email

	last := *u.LastCheckIn
	entry.Missed = s.MissedUnits(nowMs, last)
	key := ClaimKey(u.ID, last)
	claimed, err := s.opts.Claims.TryClaim(ctx, key, s.opts.ClaimTTL)
	if err != nil {
		entry.Outcome = OutcomeFailed
		entry.Debug = "claim failed: " + err.Error()
		s.markAttempt(ctx, u.ID, nowMs)
		return entry
	}
	if !claimed {
		entry.Outcome = OutcomeSkipped
		entry.Debug = "another sweep is handling this subject"
		log.Info("alert skipped: claimed elsewhere")
		return entry
	}

	msg := notify.Render(u.Name, u.Language, entry.Missed, s.opts.Unit)
	if err := s.sender.Send(ctx, contact.Email, msg.Subject, msg.Body); err != nil {
		// free the claim so the next sweep retries this period
		_ = s.opts.Claims.Release(context.WithoutCancel(ctx), key)
		entry.Outcome = OutcomeFailed
		entry.Debug = (&Error{Kind: ErrDelivery, Msg: "send failed", Err: err}).Error()
		log.Warn("alert delivery failed", zap.String("email", contact.Email), zap.Int64("missed", entry.Missed), zap.Error(err))
		s.markAttempt(ctx, u.ID, nowMs)
		return entry
	}
	entry.Success = true

	committed, err := s.commitWatermark(ctx, u.ID, last, nowMs)
	switch {
	case err != nil:
		// delivered but not recorded: the subject stays eligible, the claim holds off
		// other sweeps until it expires
		entry.Outcome = OutcomeSent
		entry.Debug = "watermark not committed: " + err.Error()
		log.Error("watermark commit failed", zap.Error(err))
	case !committed:
		entry.Outcome = OutcomeDuplicate
		entry.Debug = s.commitMissReason(ctx, u.ID, last)
		log.Info("alert sent but watermark not committed", zap.String("email", contact.Email), zap.String("reason", entry.Debug))
	default:
		entry.Outcome = OutcomeSent
		log.Info("alert sent", zap.String("email", contact.Email), zap.Int64("missed", entry.Missed))
	}
	return entry
}

// commitWatermark advances last_alert_sent_at only while the subject is still in the
// missed period the alert was sent for.
func (s *Sweeper) commitWatermark(ctx context.Context, userID string, lastCheckIn, nowMs int64) (bool, error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	res := s.db.WithContext(cctx).Model(&models.User{}).
		Where("id = ? AND last_check_in = ?", userID, lastCheckIn).
		Where("last_alert_sent_at IS NULL OR last_alert_sent_at < last_check_in").
		UpdateColumn("last_alert_sent_at", nowMs)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// commitMissReason tells a check-in that landed during the sweep apart from a
// watermark another sweep committed first.
func (s *Sweeper) commitMissReason(ctx context.Context, userID string, lastCheckIn int64) string {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	var u models.User
	err := s.db.WithContext(cctx).Select("id", "last_check_in").Where("id = ?", userID).Take(&u).Error
	switch {
	case err != nil:
		return "watermark not committed: subject changed since selection"
	case u.LastCheckIn == nil || *u.LastCheckIn != lastCheckIn:
		return "watermark not committed: subject checked in since selection"
	default:
		return "watermark already advanced by another sweep"
	}
}

// RunTargeted alerts one subject's primary guardian regardless of the overdue
// filter and claims. It never commits the watermark.
func (s *Sweeper) RunTargeted(ctx context.Context, userID string) (*Report, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { sweepDuration.WithLabelValues(ModeTargeted).Observe(time.Since(start).Seconds()) }()

	var u models.User
	err := s.db.WithContext(ctx).
		Preload("Contacts", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("id = ?", userID).
		Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &Error{Kind: ErrNotFound, Msg: fmt.Sprintf("user %q not found", userID)}
	}
	if err != nil {
		return nil, persistence("failed to load user", err)
	}

	nowMs := s.opts.Now().UnixMilli()
	report := &Report{Status: "success", Mode: ModeTargeted, CheckedAt: nowMs, Entries: []ReportEntry{}}
	entry := ReportEntry{User: u.Name, UserID: u.ID, Debug: "targeted test, watermark unchanged"}

	contact := u.PrimaryContact()
	if contact == nil || strings.TrimSpace(contact.Email) == "" {
		entry.Outcome = OutcomeFailed
		entry.Debug = "no guardian email"
		report.add(entry)
		return report, nil
	}
	entry.Email = contact.Email
	if u.LastCheckIn != nil {
		entry.Missed = s.MissedUnits(nowMs, *u.LastCheckIn)
	}

	msg := notify.Render(u.Name, u.Language, entry.Missed, s.opts.Unit)
	if err := s.sender.Send(ctx, contact.Email, msg.Subject, msg.Body); err != nil {
		entry.Outcome = OutcomeFailed
		entry.Debug = err.Error()
		s.log.Warn("targeted alert failed", zap.String("user_id", u.ID), zap.Error(err))
	} else {
		entry.Outcome = OutcomeSent
		entry.Success = true
	}
	report.add(entry)
	return report, nil
}

// RunConnectivityCheck sends the fixed test message to one address without touching the store.
func (s *Sweeper) RunConnectivityCheck(ctx context.Context, to string) (*Report, error) {
	if s.sender == nil {
		return nil, &Error{Kind: ErrConfiguration, Msg: "notification delivery is not configured"}
	}
	to = strings.TrimSpace(to)
	if !strings.Contains(to, "@") {
		return nil, validationf("test_to %q is not an email address", to)
	}

	report := &Report{Status: "success", Mode: ModeConnectivity, CheckedAt: s.opts.Now().UnixMilli(), Entries: []ReportEntry{}}
	entry := ReportEntry{User: "connectivity-check", Email: to}
	msg := notify.RenderConnectivityCheck(notify.LangZH)
	if err := s.sender.Send(ctx, to, msg.Subject, msg.Body); err != nil {
		entry.Outcome = OutcomeFailed
		entry.Debug = err.Error()
	} else {
		entry.Outcome = OutcomeSent
		entry.Success = true
	}
	report.add(entry)
	return report, nil
}

func primaryEmail(u *models.User) string {
	if c := u.PrimaryContact(); c != nil {
		return c.Email
	}
	return ""
}
