package subscription

import domainkey "github.com/veevpn/panel/internal/domain/key"

// EffectiveLimitBytes resolves the traffic ceiling that actually applies to
// a subscription, trying three tiers in order before falling back to
// unlimited. ReferralBonusMB is added on top of whichever positive base is
// found; a base of 0 means unlimited and a bonus cannot turn an unlimited
// subscription into a capped one, so it is never added to a zero base.
//
//	effective_limit_bytes(sub):
//	  if sub.traffic_limit_mb is not null:
//	      return sub.traffic_limit_mb * MiB         # including 0 = unlimited
//	  if tariff(sub).traffic_limit_mb > 0:
//	      return tariff(sub).traffic_limit_mb * MiB
//	  # Legacy fallback: if all keys of sub share one positive limit, use it
//	  limits = distinct positive key.traffic_limit_mb over sub
//	  if |limits| == 1:
//	      return sole(limits) * MiB
//	  return 0                                       # unlimited
//
// keys is the subscription's own key set, only consulted for the legacy
// fallback tier; callers that already know the first two tiers will resolve
// (or that accept skipping the fallback) may pass nil.
func EffectiveLimitBytes(s *Subscription, tariffLimitMB *int64, keys []*domainkey.Key) *int64 {
	var baseMB int64
	switch {
	case s.trafficLimitMB != nil:
		baseMB = *s.trafficLimitMB
	case tariffLimitMB != nil && *tariffLimitMB > 0:
		baseMB = *tariffLimitMB
	default:
		baseMB = soleLegacyKeyLimitMB(keys)
	}

	if baseMB <= 0 {
		var zero int64
		return &zero
	}
	bytes := (baseMB + s.referralBonusMB) * 1024 * 1024
	return &bytes
}

// soleLegacyKeyLimitMB returns the one distinct positive traffic_limit_mb
// shared by every key that has one set, or 0 if the keys disagree or none
// carry a limit at all.
func soleLegacyKeyLimitMB(keys []*domainkey.Key) int64 {
	distinct := make(map[int64]struct{})
	for _, k := range keys {
		limitMB := k.TrafficLimitMB()
		if limitMB == nil || *limitMB <= 0 {
			continue
		}
		distinct[*limitMB] = struct{}{}
	}
	if len(distinct) != 1 {
		return 0
	}
	for mb := range distinct {
		return mb
	}
	return 0
}

// EffectiveLimitBytesOrZero is the convenience form used by callers that
// treat "0 or negative" as unlimited (IsOverLimit's contract).
func EffectiveLimitBytesOrZero(s *Subscription, tariffLimitMB *int64, keys []*domainkey.Key) int64 {
	limit := EffectiveLimitBytes(s, tariffLimitMB, keys)
	if limit == nil {
		return 0
	}
	return *limit
}
