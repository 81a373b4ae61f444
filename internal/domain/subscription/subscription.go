// Package subscription is the aggregate root for a customer's access grant:
// its validity window, traffic budget, and the notification state tracked
// against it.
package subscription

import (
	"fmt"
	"time"
)

// ExpiryThreshold is a bit in the notification bitmask, set the first time
// the expiry scheduler crosses it for a given subscription so the
// notification sweep never fires the same warning twice.
type ExpiryThreshold uint8

const (
	ThresholdSevenDays ExpiryThreshold = 1 << iota
	ThresholdOneDay
	ThresholdOneHour
)

// Subscription is the aggregate root.
type Subscription struct {
	id                       uint
	userID                   uint
	token                    string
	createdAt                time.Time
	expiresAt                time.Time
	tariffID                 uint
	isActive                 bool
	trafficLimitMB           *int64 // overrides the tariff's limit when set
	trafficUsageBytes        int64
	trafficOverLimitAt       *time.Time
	trafficOverLimitNotified bool
	expiryNotifiedMask       ExpiryThreshold
	purchaseNotificationSent bool
	lastUpdatedAt            time.Time
	displayTitle             *string // overrides the bundle's default Profile-Title when set
	referralBonusMB          int64   // additive traffic bonus earned via referrals, on top of the effective limit
}

// New creates a freshly purchased subscription. token must already be
// verified unique by the caller (the engine retries token generation
// against the store before calling New).
func New(userID uint, token string, tariffID uint, durationSec int64) (*Subscription, error) {
	if userID == 0 {
		return nil, fmt.Errorf("user id is required")
	}
	if token == "" {
		return nil, ErrTokenRequired
	}
	if tariffID == 0 {
		return nil, ErrTariffRequired
	}
	if durationSec <= 0 {
		return nil, ErrInvalidDuration
	}
	now := time.Now().UTC()
	return &Subscription{
		userID:        userID,
		token:         token,
		createdAt:     now,
		expiresAt:     now.Add(time.Duration(durationSec) * time.Second),
		tariffID:      tariffID,
		isActive:      true,
		lastUpdatedAt: now,
	}, nil
}

// Reconstruct rebuilds a Subscription from persistence.
func Reconstruct(
	id, userID uint, token string, createdAt, expiresAt time.Time, tariffID uint, isActive bool,
	trafficLimitMB *int64, trafficUsageBytes int64, trafficOverLimitAt *time.Time, trafficOverLimitNotified bool,
	expiryNotifiedMask ExpiryThreshold, purchaseNotificationSent bool, lastUpdatedAt time.Time, displayTitle *string,
	referralBonusMB int64,
) (*Subscription, error) {
	if id == 0 {
		return nil, fmt.Errorf("subscription id cannot be zero")
	}
	if token == "" {
		return nil, ErrTokenRequired
	}
	return &Subscription{
		id: id, userID: userID, token: token, createdAt: createdAt, expiresAt: expiresAt,
		tariffID: tariffID, isActive: isActive, trafficLimitMB: trafficLimitMB,
		trafficUsageBytes: trafficUsageBytes, trafficOverLimitAt: trafficOverLimitAt,
		trafficOverLimitNotified: trafficOverLimitNotified, expiryNotifiedMask: expiryNotifiedMask,
		purchaseNotificationSent: purchaseNotificationSent, lastUpdatedAt: lastUpdatedAt, displayTitle: displayTitle,
		referralBonusMB: referralBonusMB,
	}, nil
}

func (s *Subscription) ID() uint                            { return s.id }
func (s *Subscription) UserID() uint                        { return s.userID }
func (s *Subscription) Token() string                       { return s.token }
func (s *Subscription) CreatedAt() time.Time                { return s.createdAt }
func (s *Subscription) ExpiresAt() time.Time                { return s.expiresAt }
func (s *Subscription) TariffID() uint                      { return s.tariffID }
func (s *Subscription) IsActive() bool                      { return s.isActive }
func (s *Subscription) TrafficLimitMB() *int64              { return s.trafficLimitMB }
func (s *Subscription) TrafficUsageBytes() int64            { return s.trafficUsageBytes }
func (s *Subscription) TrafficOverLimitAt() *time.Time      { return s.trafficOverLimitAt }
func (s *Subscription) TrafficOverLimitNotified() bool      { return s.trafficOverLimitNotified }
func (s *Subscription) ExpiryNotifiedMask() ExpiryThreshold { return s.expiryNotifiedMask }
func (s *Subscription) PurchaseNotificationSent() bool      { return s.purchaseNotificationSent }
func (s *Subscription) LastUpdatedAt() time.Time            { return s.lastUpdatedAt }
func (s *Subscription) DisplayTitle() *string                { return s.displayTitle }
func (s *Subscription) ReferralBonusMB() int64                { return s.referralBonusMB }

// GrantReferralBonus adds mb to the accumulated referral bonus. Bonuses
// stack across multiple referrals and persist across Extend (unlike traffic
// usage, which resets each term).
func (s *Subscription) GrantReferralBonus(mb int64) {
	s.referralBonusMB += mb
	s.lastUpdatedAt = time.Now().UTC()
}

// SetDisplayTitle overrides the bundle's Profile-Title for this subscription.
// An empty string clears the override back to the fleet-wide default.
func (s *Subscription) SetDisplayTitle(title string) {
	if title == "" {
		s.displayTitle = nil
		return
	}
	s.displayTitle = &title
}

// IsExpired reports whether expiresAt has passed as of now.
func (s *Subscription) IsExpired(now time.Time) bool {
	return now.After(s.expiresAt)
}

// IsOverLimit reports whether usage has crossed the effective limit.
// effectiveLimitBytes of 0 or negative means unlimited.
func (s *Subscription) IsOverLimit(effectiveLimitBytes int64) bool {
	if effectiveLimitBytes <= 0 {
		return false
	}
	return s.trafficUsageBytes >= effectiveLimitBytes
}

// Extend pushes expiresAt forward from its CURRENT value, never from now —
// stacking purchases must accumulate rather than reset the clock. It clears
// the purchase-notification flag so the new term gets its own purchase
// confirmation, and resets traffic accounting for the new term. overrideTariffID,
// when non-nil, replaces the tariff for the new term; otherwise the existing
// tariff carries over.
func (s *Subscription) Extend(durationSec int64, overrideTariffID *uint) error {
	if durationSec <= 0 {
		return ErrInvalidDuration
	}
	s.expiresAt = s.expiresAt.Add(time.Duration(durationSec) * time.Second)
	if overrideTariffID != nil {
		s.tariffID = *overrideTariffID
	}
	s.isActive = true
	s.purchaseNotificationSent = false
	s.resetTrafficLocked()
	s.expiryNotifiedMask = 0
	s.lastUpdatedAt = time.Now().UTC()
	return nil
}

// resetTrafficLocked clears usage counters and over-limit state. Called on
// extension and on administrative traffic resets.
func (s *Subscription) resetTrafficLocked() {
	s.trafficUsageBytes = 0
	s.trafficOverLimitAt = nil
	s.trafficOverLimitNotified = false
}

// ResetTraffic is the public entry point for the reset path described above,
// usable independent of extension (e.g. admin correction).
func (s *Subscription) ResetTraffic() {
	s.resetTrafficLocked()
	s.lastUpdatedAt = time.Now().UTC()
}

// RecordTraffic overwrites the cumulative usage counter with the latest
// figure observed from backend polling. The traffic monitor always reports
// cumulative totals, never deltas, so this is an assignment, not an
// addition.
func (s *Subscription) RecordTraffic(cumulativeBytes int64) {
	s.trafficUsageBytes = cumulativeBytes
	s.lastUpdatedAt = time.Now().UTC()
}

// MarkOverLimit records the moment traffic first crossed the limit. A
// second call after the first is a no-op so trafficOverLimitAt reflects the
// earliest crossing.
func (s *Subscription) MarkOverLimit(at time.Time) {
	if s.trafficOverLimitAt == nil {
		s.trafficOverLimitAt = &at
	}
}

// MarkOverLimitNotified flips the notify-once guard so the traffic monitor
// never sends a duplicate over-limit email for the same crossing.
func (s *Subscription) MarkOverLimitNotified() {
	s.trafficOverLimitNotified = true
}

// Deactivate flips the subscription inactive. It does not touch keys or
// traffic counters; the engine is responsible for tearing down keys before
// calling this.
func (s *Subscription) Deactivate() {
	s.isActive = false
	s.lastUpdatedAt = time.Now().UTC()
}

// MarkPurchaseNotified records that the purchase-completed email went out
// for the current term.
func (s *Subscription) MarkPurchaseNotified() {
	s.purchaseNotificationSent = true
}

// HasCrossedThreshold reports whether a given expiry warning was already
// sent for the current term.
func (s *Subscription) HasCrossedThreshold(t ExpiryThreshold) bool {
	return s.expiryNotifiedMask&t != 0
}

// MarkThresholdNotified sets a bit in the expiry notification bitmask.
func (s *Subscription) MarkThresholdNotified(t ExpiryThreshold) {
	s.expiryNotifiedMask |= t
}

// TimeRemaining returns how long until expiry, possibly negative.
func (s *Subscription) TimeRemaining(now time.Time) time.Duration {
	return s.expiresAt.Sub(now)
}
