package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/livewell/liveness"
)

type syncRecorder struct {
	mu     sync.Mutex
	bodies []liveness.State
	status int
}

func (r *syncRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var s liveness.State
	_ = json.NewDecoder(req.Body).Decode(&s)
	r.mu.Lock()
	r.bodies = append(r.bodies, s)
	status := r.status
	r.mu.Unlock()
	if status != 0 && status != http.StatusOK {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"rejected"}`))
		return
	}
	_, _ = w.Write([]byte(`{"success":true,"userId":"` + s.UserID + `"}`))
}

func (r *syncRecorder) Pushed() []liveness.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]liveness.State(nil), r.bodies...)
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRegisterThenCheckIn(t *testing.T) {
	rec := &syncRecorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()
	state := filepath.Join(t.TempDir(), "state.json")

	out, err := runCLI(t, "register", "--state", state, "--server", srv.URL,
		"--name", "Sam", "--guardian-email", "mum@example.com", "--guardian-name", "Mum", "--lang", "en")
	require.NoError(t, err)
	assert.Contains(t, out, "registered user_")

	s, ok, err := LoadState(state)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, s.IsRegistered)
	assert.Equal(t, "en", s.Language)
	require.Len(t, s.EmergencyContacts, 1)
	assert.NotEmpty(t, s.EmergencyContacts[0].ID)

	_, err = runCLI(t, "checkin", "--state", state, "--server", srv.URL, "--format", "json")
	require.NoError(t, err)

	pushed := rec.Pushed()
	require.Len(t, pushed, 2)
	assert.Equal(t, s.UserID, pushed[1].UserID)
	require.NotNil(t, pushed[1].LastCheckIn)
	assert.Equal(t, 1, pushed[1].Streak)
	assert.Len(t, pushed[1].CheckInHistory, 1)
}

func TestCheckInRequiresRegistration(t *testing.T) {
	state := filepath.Join(t.TempDir(), "state.json")
	_, err := runCLI(t, "checkin", "--state", state, "--server", "http://127.0.0.1:1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCheckInKeepsStateWhenSyncFails(t *testing.T) {
	rec := &syncRecorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()
	state := filepath.Join(t.TempDir(), "state.json")

	_, err := runCLI(t, "register", "--state", state, "--server", srv.URL, "--name", "Sam", "--guardian-email", "mum@example.com")
	require.NoError(t, err)

	rec.mu.Lock()
	rec.status = http.StatusBadRequest
	rec.mu.Unlock()

	_, err = runCLI(t, "checkin", "--state", state, "--server", srv.URL)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	s, _, err := LoadState(state)
	require.NoError(t, err)
	assert.NotNil(t, s.LastCheckIn, "local state is saved before the push")
}

func TestRegisterRejectsBadGuardianEmail(t *testing.T) {
	state := filepath.Join(t.TempDir(), "state.json")
	_, err := runCLI(t, "register", "--state", state, "--name", "Sam", "--guardian-email", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	_, statErr := os.Stat(state)
	assert.True(t, os.IsNotExist(statErr))
}

func TestStatusText(t *testing.T) {
	state := filepath.Join(t.TempDir(), "state.json")
	s := liveness.NewState().Register("zh", "Sam", "", "mum@example.com")
	require.NoError(t, SaveState(state, s))

	out, err := runCLI(t, "status", "--state", state)
	require.NoError(t, err)
	assert.Contains(t, out, s.UserID)
	assert.Contains(t, out, "never")
}

func TestLoadStateRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, ok, err := LoadState(path)
	require.Error(t, err)
	assert.False(t, ok)
}
