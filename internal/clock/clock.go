// Package clock holds the pure countdown arithmetic for a lot: anti-snipe
// deadline extension and the descending price curve. The arbiter owns the
// actual timer; everything here is side-effect free so it can be tested
// against a fixed now.
package clock

import "time"

const (
	DefaultExtensionWindow    = 300 * time.Second
	DefaultExtensionAmount    = 300 * time.Second
	DefaultDescendingInterval = 60 * time.Second
)

type Config struct {
	// ExtensionWindow: a bid accepted within this much of closesAt
	// triggers an extension.
	ExtensionWindow time.Duration
	// ExtensionAmount: the new deadline becomes now + ExtensionAmount.
	ExtensionAmount time.Duration
	// DescendingInterval: how often a descending lot's ask steps down.
	DescendingInterval time.Duration
}

func Default() Config {
	return Config{
		ExtensionWindow:    DefaultExtensionWindow,
		ExtensionAmount:    DefaultExtensionAmount,
		DescendingInterval: DefaultDescendingInterval,
	}
}

// Extended evaluates the anti-snipe rule for a bid accepted at now. It
// returns the new deadline and true when the bid qualifies: the deadline is
// reset to now + ExtensionAmount, a single reset per qualifying bid, never
// cumulative. Otherwise it returns closesAt unchanged.
func (c Config) Extended(now, closesAt time.Time) (time.Time, bool) {
	if now.After(closesAt) {
		return closesAt, false
	}
	if closesAt.Sub(now) > c.ExtensionWindow {
		return closesAt, false
	}
	return now.Add(c.ExtensionAmount), true
}

// DescendingPrice is the current ask on a Dutch lot: it starts at the
// ceiling when the lot activates and steps down by bidStep once per
// interval, clamped at the base price.
func (c Config) DescendingPrice(now, activatedAt time.Time, basePrice, ceilingPrice, bidStep int64) int64 {
	if !now.After(activatedAt) {
		return ceilingPrice
	}
	steps := int64(now.Sub(activatedAt) / c.DescendingInterval)
	price := ceilingPrice - steps*bidStep
	if price < basePrice {
		return basePrice
	}
	return price
}
