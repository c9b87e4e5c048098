package focus

import (
	"fmt"
	"strings"
	"time"
)

// Tier selects the length of a focus session.
type Tier int

const (
	TierLow Tier = iota + 1
	TierMedium
	TierHigh
	TierDeep
)

var tierNames = map[Tier]string{
	TierLow:    "low",
	TierMedium: "medium",
	TierHigh:   "high",
	TierDeep:   "deep",
}

var tierDurations = map[Tier]time.Duration{
	TierLow:    15 * time.Minute,
	TierMedium: 30 * time.Minute,
	TierHigh:   60 * time.Minute,
	TierDeep:   120 * time.Minute,
}

// Tiers returns every tier in ascending order of duration.
func Tiers() []Tier {
	return []Tier{TierLow, TierMedium, TierHigh, TierDeep}
}

// ParseTier parses a tier name, case-insensitively.
func ParseTier(s string) (Tier, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for t, n := range tierNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTier, s)
}

// Valid reports whether t is one of the defined tiers.
func (t Tier) Valid() bool {
	_, ok := tierNames[t]
	return ok
}

// Duration is the fixed session length for the tier.
func (t Tier) Duration() time.Duration {
	return tierDurations[t]
}

func (t Tier) String() string {
	if n, ok := tierNames[t]; ok {
		return n
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTier, int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
