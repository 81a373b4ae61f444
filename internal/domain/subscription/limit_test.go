package subscription

import (
	"testing"
	"time"

	domainkey "github.com/veevpn/panel/internal/domain/key"
)

func mb(v int64) *int64 { return &v }

func newSubWithLimit(t *testing.T, trafficLimitMB *int64, referralBonusMB int64) *Subscription {
	t.Helper()
	s, err := Reconstruct(1, 1, "tok", time.Now(), time.Now().Add(time.Hour), 1, true,
		trafficLimitMB, 0, nil, false, 0, false, time.Now(), nil, referralBonusMB)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s
}

func TestEffectiveLimitBytes_SubscriptionOverrideWins(t *testing.T) {
	s := newSubWithLimit(t, mb(100), 0)
	got := EffectiveLimitBytesOrZero(s, mb(500), nil)
	if want := int64(100 * 1024 * 1024); got != want {
		t.Fatalf("got %d, want %d", got, want)
	}
}

func TestEffectiveLimitBytes_SubscriptionOverrideZeroIsUnlimitedEvenWithTariffLimit(t *testing.T) {
	s := newSubWithLimit(t, mb(0), 500)
	got := EffectiveLimitBytesOrZero(s, mb(500), nil)
	if got != 0 {
		t.Fatalf("got %d, want 0 (unlimited)", got)
	}
}

func TestEffectiveLimitBytes_FallsBackToTariffWhenSubscriptionNil(t *testing.T) {
	s := newSubWithLimit(t, nil, 0)
	got := EffectiveLimitBytesOrZero(s, mb(200), nil)
	if want := int64(200 * 1024 * 1024); got != want {
		t.Fatalf("got %d, want %d", got, want)
	}
}

func TestEffectiveLimitBytes_LegacyKeyFallbackAppliesWhenTariffIsZero(t *testing.T) {
	s := newSubWithLimit(t, nil, 0)
	keys := []*domainkey.Key{
		mustOutlineKey(t, mb(300)),
		mustOutlineKey(t, mb(300)),
	}
	got := EffectiveLimitBytesOrZero(s, mb(0), keys)
	if want := int64(300 * 1024 * 1024); got != want {
		t.Fatalf("got %d, want %d", got, want)
	}
}

func TestEffectiveLimitBytes_LegacyKeyFallbackUnlimitedWhenKeysDisagree(t *testing.T) {
	s := newSubWithLimit(t, nil, 0)
	keys := []*domainkey.Key{
		mustOutlineKey(t, mb(300)),
		mustOutlineKey(t, mb(400)),
	}
	got := EffectiveLimitBytesOrZero(s, nil, keys)
	if got != 0 {
		t.Fatalf("got %d, want 0 (unlimited when keys disagree)", got)
	}
}

func TestEffectiveLimitBytes_ReferralBonusNeverConvertsUnlimitedToCapped(t *testing.T) {
	s := newSubWithLimit(t, mb(0), 500)
	got := EffectiveLimitBytesOrZero(s, nil, nil)
	if got != 0 {
		t.Fatalf("got %d, want 0: a referral bonus must not turn unlimited into a finite cap", got)
	}
}

func TestEffectiveLimitBytes_ReferralBonusAddsOnTopOfPositiveBase(t *testing.T) {
	s := newSubWithLimit(t, mb(100), 50)
	got := EffectiveLimitBytesOrZero(s, nil, nil)
	if want := int64(150 * 1024 * 1024); got != want {
		t.Fatalf("got %d, want %d", got, want)
	}
}

func mustOutlineKey(t *testing.T, limitMB *int64) *domainkey.Key {
	t.Helper()
	k, err := domainkey.NewOutlineKey(1, 1, nil, "a@example.com", "1", "ss://url", limitMB)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return k
}
