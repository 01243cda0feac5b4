package evolution

import (
	"math"

	"github.com/Alb4don/RPGAgentArena/pkg/storage"
)

// Candidate is one competing instruction prompt in an agent's pool.
type Candidate struct {
	PromptID   string
	AgentID    string
	Text       string
	Wins       int
	Losses     int
	AvgDamage  float64
	AvgRounds  float64
	Generation int
	CreatedAt  float64
}

// Evaluations is the number of game results attributed to the candidate.
func (c *Candidate) Evaluations() int {
	return c.Wins + c.Losses
}

// WinRate defaults to 0.5 for an unevaluated candidate so that a fresh
// prompt is neither favored nor punished by ranking on raw win rate.
func (c *Candidate) WinRate() float64 {
	total := c.Evaluations()
	if total == 0 {
		return 0.5
	}
	return float64(c.Wins) / float64(total)
}

// UCBScore ranks the candidate against the rest of its pool: observed win
// rate plus an exploration bonus shrinking with evaluations, plus a small
// damage bonus. Zero evaluations score +Inf so every new candidate is
// tried before any exploitation.
func (c *Candidate) UCBScore(totalEvaluations int) float64 {
	total := c.Evaluations()
	if total == 0 {
		return math.Inf(1)
	}
	exploit := c.WinRate()
	explore := math.Sqrt(2.0 * math.Log(math.Max(1, float64(totalEvaluations))) / float64(total))
	damageBonus := math.Min(0.15, c.AvgDamage/600.0)
	return exploit + explore + damageBonus
}

func (c *Candidate) toRecord() *storage.CandidateRecord {
	return &storage.CandidateRecord{
		PromptID:   c.PromptID,
		AgentID:    c.AgentID,
		Text:       c.Text,
		Wins:       c.Wins,
		Losses:     c.Losses,
		AvgDamage:  c.AvgDamage,
		AvgRounds:  c.AvgRounds,
		Generation: c.Generation,
		CreatedAt:  c.CreatedAt,
	}
}

func candidateFromRecord(rec storage.CandidateRecord) *Candidate {
	return &Candidate{
		PromptID:   rec.PromptID,
		AgentID:    rec.AgentID,
		Text:       rec.Text,
		Wins:       rec.Wins,
		Losses:     rec.Losses,
		AvgDamage:  rec.AvgDamage,
		AvgRounds:  rec.AvgRounds,
		Generation: rec.Generation,
		CreatedAt:  rec.CreatedAt,
	}
}
