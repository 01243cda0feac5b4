package credentials

import (
	"time"
)

// KeyRecord tracks one API credential: budget accounting, error history
// and cooldown state. Constructed once at pool creation; mutated by every
// call outcome; deactivated rather than deleted.
type KeyRecord struct {
	Key              string
	Provider         string
	Alias            string
	MonthlyBudgetUSD float64
	CostPer1KInput   float64
	CostPer1KOutput  float64
	TokensIn         int64
	TokensOut        int64
	RateLimitErrors  int
	ServerErrors     int
	LastUsed         time.Time
	CooldownUntil    time.Time
	Active           bool
}

// EstimatedCostUSD derives the spend so far from token counters.
func (k *KeyRecord) EstimatedCostUSD() float64 {
	return float64(k.TokensIn)/1000.0*k.CostPer1KInput +
		float64(k.TokensOut)/1000.0*k.CostPer1KOutput
}

// BudgetRemainingUSD is the budget ceiling minus estimated spend, floored at 0.
func (k *KeyRecord) BudgetRemainingUSD() float64 {
	remaining := k.MonthlyBudgetUSD - k.EstimatedCostUSD()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsAvailable reports whether the credential can serve a call right now.
func (k *KeyRecord) IsAvailable(now time.Time) bool {
	return k.Active &&
		!now.Before(k.CooldownUntil) &&
		k.BudgetRemainingUSD() > 0.001
}

// HealthScore is the routing metric: remaining budget fraction, minus an
// error penalty, plus a small recency boost. Never negative.
func (k *KeyRecord) HealthScore(now time.Time) float64 {
	errorPenalty := float64(k.RateLimitErrors*2+k.ServerErrors) * 0.05

	budgetFactor := k.BudgetRemainingUSD() / max(0.001, k.MonthlyBudgetUSD)
	if budgetFactor > 1.0 {
		budgetFactor = 1.0
	}

	recencyBoost := 0.0
	if !k.LastUsed.IsZero() {
		idle := now.Sub(k.LastUsed).Seconds()
		recencyBoost = 1.0 / max(1.0, idle)
		if recencyBoost > 0.05 {
			recencyBoost = 0.05
		}
	}

	score := budgetFactor - errorPenalty + recencyBoost
	if score < 0 {
		return 0
	}
	return score
}

// recordUsage accumulates token counters and stamps last use.
func (k *KeyRecord) recordUsage(now time.Time, tokensIn, tokensOut int64) {
	k.TokensIn += tokensIn
	k.TokensOut += tokensOut
	k.LastUsed = now
}

// recordError bumps the matching error counter and moves the cooldown
// forward. Rate-limit cooldowns grow exponentially, capped at five minutes
// and at four doublings; server errors impose a flat 15 seconds.
func (k *KeyRecord) recordError(now time.Time, status int) {
	switch {
	case status == 429 || status == 529:
		k.RateLimitErrors++
		doublings := k.RateLimitErrors
		if doublings > 4 {
			doublings = 4
		}
		backoff := 30.0 * float64(int64(1)<<doublings)
		if backoff > 300.0 {
			backoff = 300.0
		}
		k.CooldownUntil = now.Add(time.Duration(backoff * float64(time.Second)))
	case status >= 500:
		k.ServerErrors++
		k.CooldownUntil = now.Add(15 * time.Second)
	}
}

// recordSuccess decays the rate-limit counter: a clean call is partial
// recovery evidence. The cooldown itself is never shortened by success.
func (k *KeyRecord) recordSuccess() {
	if k.RateLimitErrors > 0 {
		k.RateLimitErrors--
	}
}
