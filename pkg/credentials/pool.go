package credentials

import (
	"sync"
	"time"

	"github.com/Alb4don/RPGAgentArena/pkg/config"
	"github.com/Alb4don/RPGAgentArena/pkg/errors"
)

// Pool routes outgoing calls to the healthiest available credential and
// absorbs usage and error feedback. One pool per process, constructed at
// startup and passed to every consumer; all mutation serializes through a
// single lock.
type Pool struct {
	mu   sync.Mutex
	keys []*KeyRecord

	// now is swapped in tests to step through cooldown windows.
	now func() time.Time
}

// Credential is the immutable view handed to callers by Acquire.
type Credential struct {
	Alias    string
	Key      string
	Provider string
}

// Summary is one row of the pool's status report.
type Summary struct {
	Alias              string
	Available          bool
	Health             float64
	CostUSD            float64
	BudgetRemainingUSD float64
	TokensIn           int64
	TokensOut          int64
	RateLimitErrors    int
}

// NewPool builds a pool from resolved credential configuration.
func NewPool(creds []config.CredentialConfig) (*Pool, error) {
	if len(creds) == 0 {
		return nil, errors.New(errors.CredentialsUnavailable, "credential pool requires at least one credential")
	}

	p := &Pool{now: time.Now}
	for _, c := range creds {
		p.keys = append(p.keys, &KeyRecord{
			Key:              c.APIKey,
			Provider:         c.Provider,
			Alias:            c.Alias,
			MonthlyBudgetUSD: c.MonthlyBudgetUSD,
			CostPer1KInput:   c.CostPer1KInput,
			CostPer1KOutput:  c.CostPer1KOutput,
			Active:           true,
		})
	}
	return p, nil
}

// Acquire returns the healthiest credential that is active, past cooldown
// and within budget. It fails fast instead of waiting: CredentialsExhausted
// carries the shortest remaining cooldown when some keys are merely cooling
// down; CredentialsUnavailable means nothing can ever qualify right now.
func (p *Pool) Acquire() (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()

	var best *KeyRecord
	bestScore := -1.0
	for _, k := range p.keys {
		if !k.IsAvailable(now) {
			continue
		}
		if score := k.HealthScore(now); score > bestScore {
			best = k
			bestScore = score
		}
	}

	if best == nil {
		shortest := time.Duration(-1)
		for _, k := range p.keys {
			if !k.Active || !k.CooldownUntil.After(now) {
				continue
			}
			wait := k.CooldownUntil.Sub(now)
			if shortest < 0 || wait < shortest {
				shortest = wait
			}
		}
		if shortest >= 0 {
			return Credential{}, errors.WithFields(
				errors.Newf(errors.CredentialsExhausted,
					"all credentials rate-limited or over budget, shortest cooldown %.0fs",
					shortest.Seconds()),
				errors.Fields{"shortest_cooldown": shortest},
			)
		}
		return Credential{}, errors.New(errors.CredentialsUnavailable,
			"no credentials available, check budgets and key validity")
	}

	return Credential{Alias: best.Alias, Key: best.Key, Provider: best.Provider}, nil
}

// ReportUsage feeds a successful call's token counts back into the record.
func (p *Pool) ReportUsage(alias string, tokensIn, tokensOut int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, k := range p.keys {
		if k.Alias == alias {
			k.recordUsage(p.now(), tokensIn, tokensOut)
			k.recordSuccess()
			return
		}
	}
}

// ReportError feeds a failed call's status code back into the record.
func (p *Pool) ReportError(alias string, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, k := range p.keys {
		if k.Alias == alias {
			k.recordError(p.now(), status)
			return
		}
	}
}

// Deactivate permanently removes a credential from routing.
func (p *Pool) Deactivate(alias string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, k := range p.keys {
		if k.Alias == alias {
			k.Active = false
			return
		}
	}
}

// TotalCostUSD sums estimated spend across the pool.
func (p *Pool) TotalCostUSD() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0.0
	for _, k := range p.keys {
		total += k.EstimatedCostUSD()
	}
	return total
}

// Summaries returns a consistent snapshot of every credential's state.
func (p *Pool) Summaries() []Summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	summaries := make([]Summary, 0, len(p.keys))
	for _, k := range p.keys {
		summaries = append(summaries, Summary{
			Alias:              k.Alias,
			Available:          k.IsAvailable(now),
			Health:             k.HealthScore(now),
			CostUSD:            k.EstimatedCostUSD(),
			BudgetRemainingUSD: k.BudgetRemainingUSD(),
			TokensIn:           k.TokensIn,
			TokensOut:          k.TokensOut,
			RateLimitErrors:    k.RateLimitErrors,
		})
	}
	return summaries
}
