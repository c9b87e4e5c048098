package control

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/goodtune/focusguard/internal/config"
	"github.com/goodtune/focusguard/internal/coordinator"
	"github.com/goodtune/focusguard/internal/focus"
	"github.com/goodtune/focusguard/internal/override"
	"github.com/goodtune/focusguard/internal/storage"
	"github.com/goodtune/focusguard/internal/storage/redis"
)

type stubEnforcer struct{}

func (stubEnforcer) ApplyRestrictions(context.Context, []string, []string) error { return nil }
func (stubEnforcer) RemoveRestrictions(context.Context) error                    { return nil }
func (stubEnforcer) Refresh(context.Context) error                               { return nil }

func setupTestServer(t *testing.T) (*Client, *clockwork.FakeClock) {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := redis.Open(config.RedisConfig{
		Host:         mr.Addr(),
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clock := clockwork.NewFakeClockAt(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()
	coord, err := coordinator.New(ctx, store, stubEnforcer{}, coordinator.Options{
		Clock:        clock,
		Location:     time.UTC,
		BreakPresets: map[string]time.Duration{"short": 5 * time.Minute},
		Policy:       override.Policy{Window: override.WindowCalendarDay, MaxGrants: 1, BreakDuration: time.Hour},
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, coord.Start(ctx))
	t.Cleanup(func() { _ = coord.Stop(context.Background()) })

	srv := NewServer("127.0.0.1:0", coord, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return NewClient(ts.URL), clock
}

func apiCode(t *testing.T, err error) int {
	t.Helper()
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "expected APIError, got %v", err)
	return apiErr.Code
}

func TestSessionLifecycle(t *testing.T) {
	client, clock := setupTestServer(t)
	ctx := context.Background()

	st, err := client.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, focus.StateIdle, st.State)

	session, err := client.StartSession(ctx, "Medium")
	require.NoError(t, err)
	require.Equal(t, focus.TierMedium, session.Tier)
	require.NotEmpty(t, session.ID)

	_, err = client.StartSession(ctx, "low")
	require.Equal(t, http.StatusConflict, apiCode(t, err))

	clock.Advance(10 * time.Minute)
	st, err = client.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, focus.StateRestricting, st.State)
	require.Equal(t, int64(20*60), st.RemainingSeconds)

	brk, err := client.StartBreak(ctx, "short")
	require.NoError(t, err)
	require.Equal(t, focus.BreakUser, brk.Kind)

	st, err = client.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, focus.StateOnBreak, st.State)
	require.Equal(t, int64(5*60), st.BreakRemainingSeconds)

	require.NoError(t, client.EndBreak(ctx))
	require.Equal(t, http.StatusConflict, apiCode(t, client.EndBreak(ctx)))

	require.NoError(t, client.Refresh(ctx))
	require.NoError(t, client.StopSession(ctx))
	require.Equal(t, http.StatusNotFound, apiCode(t, client.StopSession(ctx)))

	summary, err := client.Stats(ctx, 1)
	require.NoError(t, err)
	require.Len(t, summary.Days, 1)
	require.Equal(t, int64(10), summary.TotalFocusMinutesToday)
	require.Equal(t, int64(600), summary.TotalFocusSeconds)
}

func TestBadRequests(t *testing.T) {
	client, _ := setupTestServer(t)
	ctx := context.Background()

	_, err := client.StartSession(ctx, "extreme")
	require.Equal(t, http.StatusBadRequest, apiCode(t, err))

	_, err = client.StartBreak(ctx, "lunch")
	require.Equal(t, http.StatusBadRequest, apiCode(t, err))

	// Valid duration but no session
	_, err = client.StartBreak(ctx, "10m")
	require.Equal(t, http.StatusNotFound, apiCode(t, err))

	_, err = client.Stats(ctx, 0)
	require.Equal(t, http.StatusBadRequest, apiCode(t, err))
}

func TestEmergencyPass(t *testing.T) {
	client, _ := setupTestServer(t)
	ctx := context.Background()

	res, err := client.RequestEmergencyPass(ctx)
	require.NoError(t, err)
	require.False(t, res.Granted)

	_, err = client.StartSession(ctx, "deep")
	require.NoError(t, err)

	res, err = client.RequestEmergencyPass(ctx)
	require.NoError(t, err)
	require.True(t, res.Granted)
	require.Equal(t, time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC), res.BreakEnd.UTC())

	res, err = client.RequestEmergencyPass(ctx)
	require.NoError(t, err)
	require.False(t, res.Granted)

	summary, err := client.Stats(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, int64(2), summary.OverrideAttemptsToday)
}

func TestSelection(t *testing.T) {
	client, _ := setupTestServer(t)
	ctx := context.Background()

	sel, err := client.SetSelection(ctx, []string{"com.example.game"}, []string{"News.example.com", "news.example.com"})
	require.NoError(t, err)
	require.Equal(t, []string{"news.example.com"}, sel.Sites)

	got, err := client.Selection(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"com.example.game"}, got.Apps)

	presets, err := client.BreakPresets(ctx)
	require.NoError(t, err)
	require.Equal(t, []coordinator.Preset{{Name: "short", Duration: 5 * time.Minute}}, presets)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{focus.ErrSessionActive, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", focus.ErrNoActiveSession), http.StatusNotFound},
		{storage.ErrNotFound, http.StatusNotFound},
		{focus.ErrUnknownTier, http.StatusBadRequest},
		{focus.ErrStopped, http.StatusServiceUnavailable},
		{&focus.EnforcementError{Op: "remove", Err: errors.New("boom")}, http.StatusBadGateway},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestMalformedBody(t *testing.T) {
	srv := NewServer("127.0.0.1:0", nil, zerolog.Nop())
	req := httptest.NewRequest(http.MethodPost, "/v1/session", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "Invalid request body")

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestNewClient_AddsScheme(t *testing.T) {
	require.Equal(t, "http://127.0.0.1:7878", NewClient("127.0.0.1:7878/").baseURL)
	require.Equal(t, "https://focus.local", NewClient("https://focus.local").baseURL)
}
