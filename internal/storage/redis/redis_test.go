package redis

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/goodtune/focusguard/internal/analytics"
	"github.com/goodtune/focusguard/internal/config"
	"github.com/goodtune/focusguard/internal/storage"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() returns "host:port", so Port stays 0
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		Port:         0,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 1,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store, mr
}

func TestOpen_InvalidTimeout(t *testing.T) {
	_, err := Open(config.RedisConfig{Host: "localhost", DialTimeout: "soon"})
	if err == nil {
		t.Fatal("Expected error for invalid dial_timeout")
	}
}

func TestOpen_DefaultTimeouts(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := Open(config.RedisConfig{Host: mr.Addr()})
	if err != nil {
		t.Fatalf("Expected empty timeouts to fall back to defaults, got %v", err)
	}
	defer func() { _ = store.Close() }()

	opts := store.client.Options()
	if opts.DialTimeout != defaultDialTimeout {
		t.Errorf("DialTimeout = %v, want %v", opts.DialTimeout, defaultDialTimeout)
	}
	if opts.ReadTimeout != defaultReadTimeout {
		t.Errorf("ReadTimeout = %v, want %v", opts.ReadTimeout, defaultReadTimeout)
	}
	if opts.WriteTimeout != defaultWriteTimeout {
		t.Errorf("WriteTimeout = %v, want %v", opts.WriteTimeout, defaultWriteTimeout)
	}
}

func TestPreferenceStore_SetSelection(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	prefs := store.Preferences()

	sel := storage.Selection{
		Apps:  []string{"com.example.game", "com.example.chat", "com.example.game"},
		Sites: []string{"News.Example.com.", " video.example.com ", ""},
	}
	if err := prefs.SetSelection(ctx, sel); err != nil {
		t.Fatalf("SetSelection failed: %v", err)
	}

	apps, err := prefs.SelectedApps(ctx)
	if err != nil {
		t.Fatalf("SelectedApps failed: %v", err)
	}
	wantApps := []string{"com.example.chat", "com.example.game"}
	if !reflect.DeepEqual(apps, wantApps) {
		t.Errorf("Expected apps %v, got %v", wantApps, apps)
	}

	sites, err := prefs.SelectedSites(ctx)
	if err != nil {
		t.Fatalf("SelectedSites failed: %v", err)
	}
	wantSites := []string{"news.example.com", "video.example.com"}
	if !reflect.DeepEqual(sites, wantSites) {
		t.Errorf("Expected sites %v, got %v", wantSites, sites)
	}

	got, err := prefs.GetSelection(ctx)
	if err != nil {
		t.Fatalf("GetSelection failed: %v", err)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("Expected UpdatedAt to be set")
	}

	// Replacing drops previous entries
	if err := prefs.SetSelection(ctx, storage.Selection{Sites: []string{"social.example.com"}}); err != nil {
		t.Fatalf("SetSelection failed: %v", err)
	}
	apps, _ = prefs.SelectedApps(ctx)
	if len(apps) != 0 {
		t.Errorf("Expected no apps after replace, got %v", apps)
	}
	sites, _ = prefs.SelectedSites(ctx)
	if !reflect.DeepEqual(sites, []string{"social.example.com"}) {
		t.Errorf("Expected replaced sites, got %v", sites)
	}
}

func TestPreferenceStore_EmptySelection(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	sel, err := store.Preferences().GetSelection(context.Background())
	if err != nil {
		t.Fatalf("GetSelection failed: %v", err)
	}
	if len(sel.Apps) != 0 || len(sel.Sites) != 0 {
		t.Errorf("Expected empty selection, got %+v", sel)
	}
	if !sel.UpdatedAt.IsZero() {
		t.Errorf("Expected zero UpdatedAt, got %v", sel.UpdatedAt)
	}
}

func TestAnalyticsStore_IncrementAndLoad(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	as := store.Analytics()

	deltas := []analytics.Delta{
		{Day: "2026-03-01", FocusSeconds: 900, CompletedSessions: 1, NaturalCompletions: 1},
		{Day: "2026-03-01", BreaksTaken: 1},
		{Day: "2026-03-02", OverrideAttempts: 2, OverridesGranted: 1},
		{Day: "2026-03-03"},
	}
	for _, d := range deltas {
		if err := as.Increment(ctx, d); err != nil {
			t.Fatalf("Increment failed: %v", err)
		}
	}

	day, err := as.GetDay(ctx, "2026-03-01")
	if err != nil {
		t.Fatalf("GetDay failed: %v", err)
	}
	want := analytics.DailyStats{FocusSeconds: 900, CompletedSessions: 1, NaturalCompletions: 1, BreaksTaken: 1}
	if *day != want {
		t.Errorf("Expected %+v, got %+v", want, *day)
	}

	snap, err := as.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(snap.Days) != 3 {
		t.Fatalf("Expected 3 days, got %d", len(snap.Days))
	}
	if (snap.Days["2026-03-03"] != analytics.DailyStats{}) {
		t.Errorf("Expected zero entry for 2026-03-03, got %+v", snap.Days["2026-03-03"])
	}
	wantTotals := analytics.Totals{FocusSeconds: 900, CompletedSessions: 1, BreaksTaken: 1, OverrideAttempts: 2, OverridesGranted: 1}
	if snap.Lifetime != wantTotals {
		t.Errorf("Expected lifetime %+v, got %+v", wantTotals, snap.Lifetime)
	}

	// The loaded snapshot restores into an equivalent ledger
	ledger := analytics.NewLedger()
	ledger.Restore(*snap)
	if ledger.Lifetime() != wantTotals {
		t.Errorf("Restored ledger totals mismatch: %+v", ledger.Lifetime())
	}
}

func TestAnalyticsStore_GetDayNotFound(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	_, err := store.Analytics().GetDay(context.Background(), "1999-01-01")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestOverrideStore_Grants(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	ovr := store.Overrides()

	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	for _, at := range []time.Time{base, base.Add(24 * time.Hour), base.Add(72 * time.Hour)} {
		if err := ovr.RecordGrant(ctx, at, 48*time.Hour); err != nil {
			t.Fatalf("RecordGrant failed: %v", err)
		}
	}

	// The first grant is older than the retention of the third
	grants, err := ovr.ListGrants(ctx, time.Time{})
	if err != nil {
		t.Fatalf("ListGrants failed: %v", err)
	}
	if len(grants) != 2 || !grants[0].Equal(base.Add(24*time.Hour)) || !grants[1].Equal(base.Add(72*time.Hour)) {
		t.Errorf("Expected the two latest grants, got %v", grants)
	}

	grants, err = ovr.ListGrants(ctx, base.Add(96*time.Hour))
	if err != nil {
		t.Fatalf("ListGrants failed: %v", err)
	}
	if len(grants) != 0 {
		t.Errorf("Expected no grants after since, got %v", grants)
	}
}

func TestOverrideStore_SubMillisecondGrants(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	ovr := store.Overrides()

	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	early, late := base.Add(100*time.Nanosecond), base.Add(300*time.Nanosecond)
	for _, at := range []time.Time{early, late} {
		if err := ovr.RecordGrant(ctx, at, 0); err != nil {
			t.Fatalf("RecordGrant failed: %v", err)
		}
	}

	score, err := mr.ZScore(keyOverrideGrants, late.UTC().Format(time.RFC3339Nano))
	if err != nil {
		t.Fatalf("ZScore failed: %v", err)
	}
	if score != float64(base.UnixMilli()) {
		t.Errorf("Expected millisecond score %d, got %f", base.UnixMilli(), score)
	}

	grants, err := ovr.ListGrants(ctx, base.Add(200*time.Nanosecond))
	if err != nil {
		t.Fatalf("ListGrants failed: %v", err)
	}
	if len(grants) != 1 || !grants[0].Equal(late) {
		t.Errorf("Expected only the grant after since, got %v", grants)
	}
}

func TestShieldStore_PublishAndCurrent(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()

	sub := store.SubscribeShield(ctx)
	defer func() { _ = sub.Close() }()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	state := storage.ShieldState{
		Active: true,
		Apps:   []string{"com.example.game"},
		Sites:  []string{"news.example.com"},
	}
	if err := store.Shield().Publish(ctx, state); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var got storage.ShieldState
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("Invalid payload: %v", err)
		}
		if !got.Active || len(got.Sites) != 1 {
			t.Errorf("Unexpected payload: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for shield message")
	}

	current, err := store.Shield().Current(ctx)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if !current.Active || !reflect.DeepEqual(current.Apps, state.Apps) || !reflect.DeepEqual(current.Sites, state.Sites) {
		t.Errorf("Unexpected current state: %+v", current)
	}

	// Deactivating clears the sets
	if err := store.Shield().Publish(ctx, storage.ShieldState{Active: false, Sites: []string{"ignored.example.com"}}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	current, err = store.Shield().Current(ctx)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if current.Active || len(current.Sites) != 0 || len(current.Apps) != 0 {
		t.Errorf("Expected inactive empty shield, got %+v", current)
	}
}

func TestShieldStore_CurrentNotFound(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	_, err := store.Shield().Current(context.Background())
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
