package liveness

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

type CheckIn struct {
	Timestamp  int64  `json:"timestamp"`
	DateString string `json:"dateString"`
	TimeString string `json:"timeString"`
}

type Guardian struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// State is the subject's complete client-side record. It is a value: every
// operation returns a new State and leaves the receiver untouched. The JSON
// form is the /sync document.
type State struct {
	UserID            string     `json:"userId"`
	Language          string     `json:"language"`
	LastCheckIn       *int64     `json:"lastCheckIn"`
	CheckInHistory    []CheckIn  `json:"checkInHistory"`
	EmergencyContacts []Guardian `json:"emergencyContacts"`
	UserContact       Contact    `json:"userContact"`
	Streak            int        `json:"streak"`
	IsRegistered      bool       `json:"isRegistered"`
}

// NewState returns an unregistered subject with a fresh random identifier.
func NewState() State {
	return State{
		UserID:            "user_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		Language:          "zh",
		CheckInHistory:    []CheckIn{},
		EmergencyContacts: []Guardian{},
	}
}

func (s State) clone() State {
	out := s
	if s.LastCheckIn != nil {
		v := *s.LastCheckIn
		out.LastCheckIn = &v
	}
	out.CheckInHistory = slices.Clone(s.CheckInHistory)
	out.EmergencyContacts = slices.Clone(s.EmergencyContacts)
	return out
}

// LastCheckInTime returns the last check-in and whether there was one.
func (s State) LastCheckInTime() (time.Time, bool) {
	if s.LastCheckIn == nil {
		return time.Time{}, false
	}
	return time.UnixMilli(*s.LastCheckIn), true
}

// RecordCheckIn returns the state after a check-in at now.
// lastCheckIn never moves backward: a check-in older than the current one is ignored.
func (s State) RecordCheckIn(now time.Time, p Policy) State {
	p = p.normalized()
	ts := now.UnixMilli()
	if s.LastCheckIn != nil && ts < *s.LastCheckIn {
		return s.clone()
	}

	next := s.clone()
	switch {
	case p.Streak == StreakMonotonic:
		next.Streak = s.Streak + 1
	case s.LastCheckIn != nil && time.Duration(ts-*s.LastCheckIn)*time.Millisecond <= p.StreakGap:
		next.Streak = s.Streak + 1
	default:
		next.Streak = 1
	}
	next.LastCheckIn = &ts

	local := now.In(p.Location)
	date := local.Format("2006-01-02")
	if !next.hasDate(date) {
		next.CheckInHistory = append(next.CheckInHistory, CheckIn{
			Timestamp:  ts,
			DateString: date,
			TimeString: local.Format("15:04"),
		})
	}
	if over := len(next.CheckInHistory) - p.HistoryCap; over > 0 {
		next.CheckInHistory = append([]CheckIn(nil), next.CheckInHistory[over:]...)
	}
	return next
}

func (s State) hasDate(date string) bool {
	for _, c := range s.CheckInHistory {
		if c.DateString == date {
			return true
		}
	}
	return false
}

// IsLive reports whether the subject counts as checked in at now.
func (s State) IsLive(now time.Time, p Policy) bool {
	p = p.normalized()
	last, ok := s.LastCheckInTime()
	if !ok {
		return false
	}
	if p.LiveMode == LiveWindow {
		return now.Sub(last) < p.Grace
	}
	ly, lm, ld := last.In(p.Location).Date()
	ny, nm, nd := now.In(p.Location).Date()
	return ly == ny && lm == nm && ld == nd
}

// SecondsToAlert is max(0, threshold - whole seconds elapsed), or the full
// threshold when the subject never checked in.
func (s State) SecondsToAlert(now time.Time, p Policy) int64 {
	p = p.normalized()
	threshold := int64(p.Threshold / time.Second)
	last, ok := s.LastCheckInTime()
	if !ok {
		return threshold
	}
	elapsed := int64(now.Sub(last) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	if remaining := threshold - elapsed; remaining > 0 {
		return remaining
	}
	return 0
}

// WithProfile returns the state with the subject's own contact details and language.
func (s State) WithProfile(name, email, phone, language string) State {
	next := s.clone()
	next.UserContact = Contact{
		Name:  strings.TrimSpace(name),
		Email: strings.TrimSpace(email),
		Phone: strings.TrimSpace(phone),
	}
	if language != "" {
		next.Language = language
	}
	return next
}

// WithGuardians replaces the guardian list. Guardians without an id get a fresh
// random one; ids are never defaulted to a shared constant.
func (s State) WithGuardians(guardians []Guardian) State {
	next := s.clone()
	next.EmergencyContacts = make([]Guardian, 0, len(guardians))
	seen := map[string]bool{}
	for _, g := range guardians {
		g.ID = strings.TrimSpace(g.ID)
		if g.ID == "" || seen[g.ID] {
			g.ID = uuid.NewString()
		}
		seen[g.ID] = true
		g.Name = strings.TrimSpace(g.Name)
		g.Email = strings.TrimSpace(g.Email)
		g.Phone = strings.TrimSpace(g.Phone)
		next.EmergencyContacts = append(next.EmergencyContacts, g)
	}
	return next
}

// Register completes onboarding: profile, the first guardian and the registered flag.
func (s State) Register(language, name, guardianName, guardianEmail string) State {
	next := s.WithProfile(name, s.UserContact.Email, s.UserContact.Phone, language)
	next = next.WithGuardians([]Guardian{{Name: guardianName, Email: guardianEmail}})
	next.IsRegistered = true
	return next
}
