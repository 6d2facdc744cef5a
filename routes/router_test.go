package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/cppla/livewell/config"
	"github.com/cppla/livewell/notify"
	"github.com/cppla/livewell/services"
)

type recordingSender struct {
	mu sync.Mutex
	to []string
}

func (r *recordingSender) Send(_ context.Context, to, _, _ string) error {
	r.mu.Lock()
	r.to = append(r.to, to)
	r.mu.Unlock()
	return nil
}

func testConfig() config.AppConfig {
	return config.AppConfig{
		GinMode:            "test",
		RateLimitPerMinute: 6000,
		AllowedOrigins:     []string{"*"},
		AlertThreshold:     2 * time.Minute,
		AlertUnit:          "minute",
		LiveMode:           "window",
		LiveGrace:          60 * time.Second,
		HistoryCap:         365,
	}
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := config.OpenDatabase("sqlite", fmt.Sprintf("file:routes_%s?mode=memory&cache=shared", uuid.NewString()[:8]), "silent")
	require.NoError(t, err)
	require.NoError(t, config.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body must be JSON: %s", rec.Body.String())
	return rec, out
}

func syncBody(userID string, lastMs int64) string {
	at := time.UnixMilli(lastMs).UTC()
	return fmt.Sprintf(`{
		"userId": %q,
		"language": "en",
		"lastCheckIn": %d,
		"streak": 1,
		"isRegistered": true,
		"userContact": {"name": "Sam", "email": "sam@example.com", "phone": ""},
		"emergencyContacts": [{"id": "c-%s", "name": "Gina", "email": "gina@example.com", "phone": ""}],
		"checkInHistory": [{"timestamp": %d, "dateString": %q, "timeString": %q}]
	}`, userID, lastMs, userID, lastMs, at.Format("2006-01-02"), at.Format("15:04"))
}

func TestSyncThenAlertCheck(t *testing.T) {
	config.Set(testConfig())
	t.Cleanup(config.Reset)
	db := testDB(t)
	sender := &recordingSender{}
	last := time.Now().Add(-10 * time.Minute).UnixMilli()
	sweeper := services.NewSweeper(db, sender, services.SweeperOptions{Threshold: 2 * time.Minute, Unit: "minute"})
	r := SetupRouter(db, sweeper, nil)

	rec, out := do(t, r, http.MethodPost, "/sync", syncBody("user_route", last))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "user_route", out["userId"])

	rec, out = do(t, r, http.MethodGet, "/api/alert-check", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, "batch", out["mode"])
	assert.Equal(t, float64(1), out["sent"])
	entries := out["report"].([]any)
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]any)
	assert.Equal(t, "Sam", entry["user"])
	assert.Equal(t, "gina@example.com", entry["email"])
	assert.Equal(t, true, entry["success"])

	// dedup: nothing new until the next check-in
	_, out = do(t, r, http.MethodGet, "/alert-check", "")
	assert.Empty(t, out["report"])
	assert.Equal(t, []string{"gina@example.com"}, sender.to)

	rec, out = do(t, r, http.MethodGet, "/alert-check?user_id=nobody", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "error", out["status"])

	rec, out = do(t, r, http.MethodGet, "/alert-check?test_to=ops@example.com", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "connectivity", out["mode"])
}

func TestSyncRejectsInvalidDocuments(t *testing.T) {
	config.Set(testConfig())
	t.Cleanup(config.Reset)
	r := SetupRouter(testDB(t), nil, errors.New("unused"))

	rec, out := do(t, r, http.MethodPost, "/sync", `{"streak": 1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, out["error"])

	body := strings.Replace(syncBody("user_bad", time.Now().UnixMilli()), "gina@example.com", "gina.example.com", 1)
	rec, out = do(t, r, http.MethodPost, "/api/sync", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, out["error"], "not an email address")
}

func TestAlertCheckWithoutCredential(t *testing.T) {
	config.Set(testConfig())
	t.Cleanup(config.Reset)
	db := testDB(t)
	_, err := services.NewSweeperFromConfig(db, config.Get(), nil, nil)
	require.Error(t, err)
	require.ErrorIs(t, err, notify.ErrNotConfigured)
	r := SetupRouter(db, nil, err)

	rec, out := do(t, r, http.MethodGet, "/alert-check", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "error", out["status"])
	assert.Contains(t, out["error"], "RESEND_API_KEY")
}

func TestUnknownRouteAnswersJSON(t *testing.T) {
	config.Set(testConfig())
	t.Cleanup(config.Reset)
	r := SetupRouter(testDB(t), nil, nil)

	rec, out := do(t, r, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "error", out["status"])

	rec, _ = do(t, r, http.MethodDelete, "/sync", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPolicyAndStats(t *testing.T) {
	config.Set(testConfig())
	t.Cleanup(config.Reset)
	db := testDB(t)
	r := SetupRouter(db, nil, nil)

	_, out := do(t, r, http.MethodPost, "/sync", syncBody("user_stats", time.Now().Add(-time.Hour).UnixMilli()))
	require.Equal(t, true, out["success"])

	rec, out := do(t, r, http.MethodGet, "/api/config/policy", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := out["data"].(map[string]any)
	assert.Equal(t, float64(120), data["threshold_seconds"])
	assert.Equal(t, "window", data["live_mode"])

	rec, out = do(t, r, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data = out["data"].(map[string]any)
	assert.Equal(t, float64(1), data["registered_count"])
	assert.Equal(t, float64(1), data["pending_alert_count"])
	assert.Equal(t, float64(0), data["alerted_count"])
}

func TestRateLimitAnswersJSON(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerMinute = 2
	config.Set(cfg)
	t.Cleanup(config.Reset)
	r := SetupRouter(testDB(t), nil, errors.New("no sender"))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/sync", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "198.51.100.7:4000"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	assert.NotEqual(t, http.StatusTooManyRequests, first.Code)

	second := send()
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &out))
	assert.Equal(t, "error", out["status"])
	assert.Equal(t, "rate limit exceeded", out["error"])

	// buckets are per scope: alert-check from the same address is unaffected
	req := httptest.NewRequest(http.MethodGet, "/alert-check", nil)
	req.RemoteAddr = "198.51.100.7:4000"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.NotEqual(t, http.StatusTooManyRequests, rec.Code)
}
