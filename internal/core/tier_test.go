package core

import "testing"

func TestLimits_StableAcrossCalls(t *testing.T) {
	for _, tier := range []Tier{TierStarter, TierPro, TierPower, TierEnterprise} {
		first := Limits(tier)
		for i := 0; i < 3; i++ {
			if got := Limits(tier); got != first {
				t.Errorf("Limits(%s) changed between calls: %v vs %v", tier, got, first)
			}
		}
		if first.NanoCPUs <= 0 || first.MemoryBytes <= 0 {
			t.Errorf("Limits(%s) returned non-positive limits: %v", tier, first)
		}
	}
}

func TestHourlyRate_StableAcrossCalls(t *testing.T) {
	for _, tier := range []Tier{TierStarter, TierPro, TierPower, TierEnterprise} {
		first := HourlyRateCents(tier)
		if got := HourlyRateCents(tier); got != first {
			t.Errorf("HourlyRateCents(%s) changed between calls: %d vs %d", tier, got, first)
		}
		if first <= 0 {
			t.Errorf("HourlyRateCents(%s) = %d, want positive", tier, first)
		}
	}
}

func TestTiers_Ordered(t *testing.T) {
	order := []Tier{TierStarter, TierPro, TierPower, TierEnterprise}
	for i := 1; i < len(order); i++ {
		lo, hi := order[i-1], order[i]
		if Limits(hi).NanoCPUs <= Limits(lo).NanoCPUs {
			t.Errorf("%s should have more CPU than %s", hi, lo)
		}
		if HourlyRateCents(hi) <= HourlyRateCents(lo) {
			t.Errorf("%s should cost more than %s", hi, lo)
		}
	}
}

func TestUnknownTier_FallsBackToStarter(t *testing.T) {
	unknown := Tier("MEGA")
	if unknown.Valid() {
		t.Fatal("MEGA should not be a valid tier")
	}
	if got := Limits(unknown); got != Limits(TierStarter) {
		t.Errorf("unknown tier limits = %v, want starter %v", got, Limits(TierStarter))
	}
	if got := HourlyRateCents(unknown); got != HourlyRateCents(TierStarter) {
		t.Errorf("unknown tier rate = %d, want starter %d", got, HourlyRateCents(TierStarter))
	}
}
