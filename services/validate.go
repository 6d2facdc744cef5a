package services

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/cppla/livewell/models"
	"github.com/cppla/livewell/notify"
)

// MaxGuardians is the number of guardians a subject may register.
const MaxGuardians = 3

//go:embed schema/sync.schema.json
var schemaFS embed.FS

var (
	syncSchema     *jsonschema.Schema
	syncSchemaErr  error
	syncSchemaOnce sync.Once

	// names end up in plain text mail; strip any markup
	namePolicy = bluemonday.StrictPolicy()
)

func compiledSyncSchema() (*jsonschema.Schema, error) {
	syncSchemaOnce.Do(func() {
		raw, err := schemaFS.ReadFile("schema/sync.schema.json")
		if err != nil {
			syncSchemaErr = err
			return
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			syncSchemaErr = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("sync.schema.json", doc); err != nil {
			syncSchemaErr = err
			return
		}
		syncSchema, syncSchemaErr = c.Compile("sync.schema.json")
	})
	return syncSchema, syncSchemaErr
}

// ValidateSyncDocument checks the raw /sync body against the document schema.
func ValidateSyncDocument(raw []byte) error {
	sch, err := compiledSyncSchema()
	if err != nil {
		return &Error{Kind: ErrConfiguration, Msg: "sync schema unavailable", Err: err}
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &Error{Kind: ErrValidation, Msg: "request body is not valid JSON", Err: err}
	}
	if err := sch.Validate(inst); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return &Error{Kind: ErrValidation, Msg: "request body does not match the sync document", Err: err}
		}
		return &Error{Kind: ErrValidation, Msg: "invalid sync document", Err: err}
	}
	return nil
}

// SanitizeName strips markup and surrounding space from a display name.
func SanitizeName(name string) string {
	// the policy escapes entities for HTML; alert mail is plain text
	return strings.TrimSpace(html.UnescapeString(namePolicy.Sanitize(name)))
}

// NormalizePayload validates p and returns a cleaned copy. Nothing is written before it succeeds.
func NormalizePayload(p *models.SyncPayload) (*models.SyncPayload, error) {
	if p == nil {
		return nil, validationf("empty sync payload")
	}
	out := *p
	out.UserID = strings.TrimSpace(p.UserID)
	if out.UserID == "" {
		return nil, validationf("userId is required")
	}
	if len(out.UserID) > 64 {
		return nil, validationf("userId is too long")
	}

	switch p.Language {
	case "":
		out.Language = notify.LangZH
	case notify.LangZH, notify.LangEN:
	default:
		return nil, validationf("unsupported language %q", p.Language)
	}
	if p.Streak < 0 {
		return nil, validationf("streak must not be negative")
	}
	if p.LastCheckIn != nil && *p.LastCheckIn < 0 {
		return nil, validationf("lastCheckIn must not be negative")
	}

	out.UserContact.Name = SanitizeName(p.UserContact.Name)
	out.UserContact.Email = strings.TrimSpace(p.UserContact.Email)
	if out.UserContact.Email != "" && !strings.Contains(out.UserContact.Email, "@") {
		return nil, validationf("user email %q is not an email address", out.UserContact.Email)
	}

	// guardians without an email are dropped, as the contact form allows blank rows
	out.EmergencyContacts = make([]models.GuardianPayload, 0, len(p.EmergencyContacts))
	for i, g := range p.EmergencyContacts {
		g.Email = strings.TrimSpace(g.Email)
		if g.Email == "" {
			continue
		}
		if !strings.Contains(g.Email, "@") {
			return nil, validationf("guardian %d email %q is not an email address", i+1, g.Email)
		}
		g.ID = strings.TrimSpace(g.ID)
		g.Name = SanitizeName(g.Name)
		g.Phone = strings.TrimSpace(g.Phone)
		out.EmergencyContacts = append(out.EmergencyContacts, g)
	}
	if len(out.EmergencyContacts) > MaxGuardians {
		return nil, validationf("at most %d guardians are allowed, got %d", MaxGuardians, len(out.EmergencyContacts))
	}

	if out.IsRegistered {
		if out.UserContact.Name == "" {
			return nil, validationf("name is required for a registered subject")
		}
		if len(out.EmergencyContacts) == 0 {
			return nil, validationf("a registered subject needs at least one guardian with an email")
		}
	}

	for i, c := range p.CheckInHistory {
		if strings.TrimSpace(c.DateString) == "" {
			return nil, validationf("checkInHistory[%d] has no dateString", i)
		}
		if c.Timestamp < 0 {
			return nil, validationf("checkInHistory[%d] timestamp must not be negative", i)
		}
	}
	return &out, nil
}

func describe(p *models.SyncPayload) string {
	return fmt.Sprintf("user=%s registered=%t guardians=%d history=%d", p.UserID, p.IsRegistered, len(p.EmergencyContacts), len(p.CheckInHistory))
}
