package models

// SyncPayload is the document accepted by POST /sync.
type SyncPayload struct {
	UserID            string            `json:"userId"`
	Language          string            `json:"language"`
	LastCheckIn       *int64            `json:"lastCheckIn"`
	Streak            int               `json:"streak"`
	IsRegistered      bool              `json:"isRegistered"`
	UserContact       ContactPayload    `json:"userContact"`
	EmergencyContacts []GuardianPayload `json:"emergencyContacts"`
	CheckInHistory    []CheckInPayload  `json:"checkInHistory"`
}

type ContactPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type GuardianPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type CheckInPayload struct {
	Timestamp  int64  `json:"timestamp"`
	DateString string `json:"dateString"`
	TimeString string `json:"timeString"`
}

// LatestCheckIn returns the last history item, which is the only one the store appends.
func (p *SyncPayload) LatestCheckIn() (CheckInPayload, bool) {
	if len(p.CheckInHistory) == 0 {
		return CheckInPayload{}, false
	}
	return p.CheckInHistory[len(p.CheckInHistory)-1], true
}
