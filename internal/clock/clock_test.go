package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExtendedInsideWindow(t *testing.T) {
	cfg := Config{ExtensionWindow: 300 * time.Second, ExtensionAmount: 300 * time.Second}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	closesAt := now.Add(60 * time.Second)

	deadline, ok := cfg.Extended(now, closesAt)
	require.True(t, ok)
	require.Equal(t, now.Add(300*time.Second), deadline)
}

func TestExtendedOutsideWindow(t *testing.T) {
	cfg := Config{ExtensionWindow: 300 * time.Second, ExtensionAmount: 300 * time.Second}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	closesAt := now.Add(301 * time.Second)

	deadline, ok := cfg.Extended(now, closesAt)
	require.False(t, ok)
	require.Equal(t, closesAt, deadline)
}

func TestExtendedNotCumulative(t *testing.T) {
	cfg := Config{ExtensionWindow: 300 * time.Second, ExtensionAmount: 300 * time.Second}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	deadline, ok := cfg.Extended(now, now.Add(60*time.Second))
	require.True(t, ok)

	// A second qualifying bid resets from its own now; it does not stack
	// on top of the previous extension.
	later := now.Add(10 * time.Second)
	deadline2, ok := cfg.Extended(later, deadline)
	require.True(t, ok)
	require.Equal(t, later.Add(300*time.Second), deadline2)
}

func TestExtendedAfterDeadline(t *testing.T) {
	cfg := Default()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	closesAt := now.Add(-time.Second)

	deadline, ok := cfg.Extended(now, closesAt)
	require.False(t, ok)
	require.Equal(t, closesAt, deadline)
}

func TestDescendingPrice(t *testing.T) {
	cfg := Config{DescendingInterval: 60 * time.Second}
	activated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	const (
		base    = int64(500_000)
		ceiling = int64(800_000)
		step    = int64(50_000)
	)

	require.Equal(t, ceiling, cfg.DescendingPrice(activated, activated, base, ceiling, step))
	require.Equal(t, ceiling, cfg.DescendingPrice(activated.Add(59*time.Second), activated, base, ceiling, step))
	require.Equal(t, ceiling-step, cfg.DescendingPrice(activated.Add(60*time.Second), activated, base, ceiling, step))
	require.Equal(t, ceiling-2*step, cfg.DescendingPrice(activated.Add(2*time.Minute), activated, base, ceiling, step))

	// Clamped at the base price, never below.
	require.Equal(t, base, cfg.DescendingPrice(activated.Add(24*time.Hour), activated, base, ceiling, step))
}
