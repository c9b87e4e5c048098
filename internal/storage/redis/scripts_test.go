package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a miniredis instance for testing Lua scripts
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr
}

func TestIncrementAnalyticsScript(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	script := redis.NewScript(incrementAnalyticsScript)

	day := "2026-02-10"
	keys := []string{dailyKey(day), keyAnalyticsLifetime, keyAnalyticsDays}

	tests := []struct {
		name         string
		args         []interface{}
		wantFocus    string
		wantNatural  string
		wantLifetime string
	}{
		{
			name:         "create day entry",
			args:         []interface{}{day, 600, 1, 1, 0, 0, 0},
			wantFocus:    "600",
			wantNatural:  "1",
			wantLifetime: "600",
		},
		{
			name:         "increment existing entry",
			args:         []interface{}{day, 300, 1, 0, 1, 0, 0},
			wantFocus:    "900",
			wantNatural:  "1",
			wantLifetime: "900",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := script.Run(ctx, client, keys, tt.args...).Err(); err != nil {
				t.Fatalf("Script failed: %v", err)
			}

			if got := mr.HGet(dailyKey(day), "focus_seconds"); got != tt.wantFocus {
				t.Errorf("Expected focus_seconds %s, got %s", tt.wantFocus, got)
			}
			if got := mr.HGet(dailyKey(day), "natural_completions"); got != tt.wantNatural {
				t.Errorf("Expected natural_completions %s, got %s", tt.wantNatural, got)
			}
			if got := mr.HGet(keyAnalyticsLifetime, "focus_seconds"); got != tt.wantLifetime {
				t.Errorf("Expected lifetime focus_seconds %s, got %s", tt.wantLifetime, got)
			}
		})
	}

	// natural completions are only tracked per day
	if got := mr.HGet(keyAnalyticsLifetime, "natural_completions"); got != "" {
		t.Errorf("Expected no lifetime natural_completions, got %s", got)
	}

	isMember, err := mr.SIsMember(keyAnalyticsDays, day)
	if err != nil || !isMember {
		t.Errorf("Expected %s in day index", day)
	}
}

func TestReplaceSelectionScript(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	script := redis.NewScript(replaceSelectionScript)
	keys := []string{keySelectedApps, keySelectedSites, keySelectionMeta}

	args := []interface{}{"2026-02-10T09:00:00Z", 1, "com.example.game", "news.example.com", "video.example.com"}
	if err := script.Run(ctx, client, keys, args...).Err(); err != nil {
		t.Fatalf("Script failed: %v", err)
	}

	apps, _ := mr.Members(keySelectedApps)
	if len(apps) != 1 || apps[0] != "com.example.game" {
		t.Errorf("Unexpected apps: %v", apps)
	}
	sites, _ := mr.Members(keySelectedSites)
	if len(sites) != 2 {
		t.Errorf("Unexpected sites: %v", sites)
	}
	if got := mr.HGet(keySelectionMeta, "updated_at"); got != "2026-02-10T09:00:00Z" {
		t.Errorf("Unexpected updated_at: %s", got)
	}

	// No apps, no sites
	if err := script.Run(ctx, client, keys, "2026-02-11T09:00:00Z", 0).Err(); err != nil {
		t.Fatalf("Script failed: %v", err)
	}
	if mr.Exists(keySelectedApps) || mr.Exists(keySelectedSites) {
		t.Error("Expected both sets to be removed")
	}
}
