package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/livewell/models"
)

// SyncService reconciles client snapshots into the store.
type SyncService struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewSyncService stores synced documents in db.
func NewSyncService(db *gorm.DB, log *zap.Logger) *SyncService {
	if log == nil {
		log = zap.NewNop()
	}
	return &SyncService{db: db, log: log}
}

// Push upserts the subject, appends its latest check-in once per date and replaces its guardians.
// Pushing the same payload twice leaves the store unchanged after the first call.
func (s *SyncService) Push(ctx context.Context, payload *models.SyncPayload) (string, error) {
	if s.db == nil {
		return "", &Error{Kind: ErrConfiguration, Msg: "database is not configured"}
	}
	p, err := NormalizePayload(payload)
	if err != nil {
		syncTotal.WithLabelValues("invalid").Inc()
		return "", err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.upsertUser(tx, p); err != nil {
			return err
		}
		if err := s.appendCheckIn(tx, p); err != nil {
			return err
		}
		return s.replaceContacts(tx, p)
	})
	if err != nil {
		var se *Error
		if errors.As(err, &se) {
			return "", err
		}
		syncTotal.WithLabelValues("error").Inc()
		s.log.Error("sync failed", zap.String("user_id", p.UserID), zap.Error(err))
		return "", persistence("failed to store subject state", err)
	}
	syncTotal.WithLabelValues("ok").Inc()

	s.log.Debug("sync stored", zap.String("detail", describe(p)))
	return p.UserID, nil
}

func (s *SyncService) upsertUser(tx *gorm.DB, p *models.SyncPayload) error {
	var existing models.User
	err := lockForUpdate(tx).Where("id = ?", p.UserID).Take(&existing).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	found := err == nil

	user := models.User{
		ID:           p.UserID,
		Name:         p.UserContact.Name,
		Email:        p.UserContact.Email,
		LastCheckIn:  p.LastCheckIn,
		Streak:       p.Streak,
		Language:     p.Language,
		IsRegistered: p.IsRegistered,
	}
	// check-ins never move backward; a stale push keeps the stored check-in and its streak
	if found && existing.LastCheckIn != nil && (p.LastCheckIn == nil || *existing.LastCheckIn > *p.LastCheckIn) {
		user.LastCheckIn = existing.LastCheckIn
		user.Streak = existing.Streak
	}

	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "last_check_in", "streak", "language", "is_registered", "updated_at"}),
	}).Create(&user).Error
}

func (s *SyncService) appendCheckIn(tx *gorm.DB, p *models.SyncPayload) error {
	latest, ok := p.LatestCheckIn()
	if !ok {
		return nil
	}
	row := models.CheckIn{
		UserID:     p.UserID,
		DateString: latest.DateString,
		Timestamp:  latest.Timestamp,
		TimeString: latest.TimeString,
	}
	// the unique (user_id, date_string) index is the guard, not the client's history
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func (s *SyncService) replaceContacts(tx *gorm.DB, p *models.SyncPayload) error {
	if err := tx.Where("user_id = ?", p.UserID).Delete(&models.Contact{}).Error; err != nil {
		return err
	}
	if len(p.EmergencyContacts) == 0 {
		return nil
	}

	ids := make([]string, 0, len(p.EmergencyContacts))
	for _, g := range p.EmergencyContacts {
		if g.ID != "" {
			ids = append(ids, g.ID)
		}
	}
	taken := map[string]bool{}
	if len(ids) > 0 {
		// this subject's rows are gone, so any match belongs to someone else
		var owned []string
		if err := tx.Model(&models.Contact{}).Where("id IN ?", ids).Pluck("id", &owned).Error; err != nil {
			return err
		}
		for _, id := range owned {
			taken[id] = true
		}
	}

	contacts := make([]models.Contact, 0, len(p.EmergencyContacts))
	for i, g := range p.EmergencyContacts {
		id := g.ID
		if id == "" || taken[id] {
			fresh := uuid.NewString()
			s.log.Warn("guardian id replaced",
				zap.String("user_id", p.UserID),
				zap.String("old_id", id),
				zap.String("new_id", fresh),
			)
			id = fresh
		}
		taken[id] = true
		contacts = append(contacts, models.Contact{
			ID:       id,
			UserID:   p.UserID,
			Position: i,
			Name:     g.Name,
			Email:    g.Email,
			Phone:    g.Phone,
		})
	}
	return tx.Create(&contacts).Error
}

// lockForUpdate adds SELECT ... FOR UPDATE where the dialect supports it.
// sqlite serializes writers on its own.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
