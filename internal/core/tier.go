package core

type Tier string

const (
	TierStarter    Tier = "STARTER"
	TierPro        Tier = "PRO"
	TierPower      Tier = "POWER"
	TierEnterprise Tier = "ENTERPRISE"
)

// ResourceLimits are the container limits resolved from a tier.
type ResourceLimits struct {
	NanoCPUs    int64
	MemoryBytes int64
}

const (
	gib = int64(1) << 30
	cpu = int64(1e9)
)

var tierLimits = map[Tier]ResourceLimits{
	TierStarter:    {NanoCPUs: 1 * cpu, MemoryBytes: 2 * gib},
	TierPro:        {NanoCPUs: 2 * cpu, MemoryBytes: 4 * gib},
	TierPower:      {NanoCPUs: 4 * cpu, MemoryBytes: 8 * gib},
	TierEnterprise: {NanoCPUs: 8 * cpu, MemoryBytes: 16 * gib},
}

var tierRates = map[Tier]int{
	TierStarter:    20,
	TierPro:        60,
	TierPower:      150,
	TierEnterprise: 400,
}

// Valid reports whether t is a known tier. Callers that receive an unknown
// tier log a warning and fall back to STARTER limits.
func (t Tier) Valid() bool {
	_, ok := tierLimits[t]
	return ok
}

// Limits resolves the resource limits for a tier. Unknown tiers fall back to
// the STARTER limits.
func Limits(t Tier) ResourceLimits {
	if l, ok := tierLimits[t]; ok {
		return l
	}
	return tierLimits[TierStarter]
}

// HourlyRateCents returns the billing rate for a tier in cents per hour.
// Unknown tiers fall back to the STARTER rate.
func HourlyRateCents(t Tier) int {
	if r, ok := tierRates[t]; ok {
		return r
	}
	return tierRates[TierStarter]
}
