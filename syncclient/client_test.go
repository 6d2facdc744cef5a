package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/livewell/liveness"
)

func registeredState() liveness.State {
	return liveness.NewState().Register("en", "Sam", "Guard", "guard@example.com")
}

func fastClient(url string) *Client {
	c := NewClient(url, nil)
	c.baseDelay = time.Millisecond
	c.maxDelay = 5 * time.Millisecond
	return c
}

func TestClientPush_PostsSnapshot(t *testing.T) {
	s := registeredState()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sync", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, s.UserID, body["userId"])
		assert.Equal(t, []any{}, body["checkInHistory"])
		assert.Len(t, body["emergencyContacts"], 1)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"userId":"` + s.UserID + `"}`))
	}))
	defer srv.Close()

	res, err := fastClient(srv.URL + "/").Push(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, s.UserID, res.UserID)
}

func TestClientPush_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"userId":"u"}`))
	}))
	defer srv.Close()

	_, err := fastClient(srv.URL).Push(context.Background(), registeredState())
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClientPush_ValidationErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"userId is required"}`))
	}))
	defer srv.Close()

	_, err := fastClient(srv.URL).Push(context.Background(), registeredState())
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
	assert.Equal(t, "userId is required", httpErr.Message)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClientPush_GivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"database unavailable"}`))
	}))
	defer srv.Close()

	_, err := fastClient(srv.URL).Push(context.Background(), registeredState())
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, "database unavailable", httpErr.Message)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}
