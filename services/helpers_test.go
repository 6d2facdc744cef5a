package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/cppla/livewell/config"
	"github.com/cppla/livewell/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "_" + uuid.NewString()[:8]
	db, err := config.OpenDatabase("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name), "silent")
	require.NoError(t, err)
	require.NoError(t, config.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
	// block makes Send wait for ctx to end
	block bool
}

func (f *fakeSender) Send(ctx context.Context, to, subject, body string) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type guardian struct {
	id, name, email string
}

func int64p(v int64) *int64 { return &v }

// subjectPayload builds a registered subject who last checked in at lastMs.
func subjectPayload(userID, name string, lastMs int64, guardians ...guardian) *models.SyncPayload {
	p := &models.SyncPayload{
		UserID:       userID,
		Language:     "en",
		Streak:       1,
		IsRegistered: true,
		UserContact:  models.ContactPayload{Name: name, Email: strings.ToLower(name) + "@example.com"},
	}
	if lastMs > 0 {
		p.LastCheckIn = int64p(lastMs)
		at := time.UnixMilli(lastMs).UTC()
		p.CheckInHistory = []models.CheckInPayload{{
			Timestamp:  lastMs,
			DateString: at.Format("2006-01-02"),
			TimeString: at.Format("15:04"),
		}}
	}
	for _, g := range guardians {
		p.EmergencyContacts = append(p.EmergencyContacts, models.GuardianPayload{ID: g.id, Name: g.name, Email: g.email})
	}
	return p
}

// clock is a settable time source for sweeps.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func loadUser(t *testing.T, db *gorm.DB, id string) models.User {
	t.Helper()
	var u models.User
	require.NoError(t, db.Preload("Contacts").Where("id = ?", id).Take(&u).Error)
	return u
}
