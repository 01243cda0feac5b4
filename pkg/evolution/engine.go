package evolution

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Alb4don/RPGAgentArena/pkg/config"
	"github.com/Alb4don/RPGAgentArena/pkg/errors"
	"github.com/Alb4don/RPGAgentArena/pkg/llm"
	"github.com/Alb4don/RPGAgentArena/pkg/logging"
	"github.com/Alb4don/RPGAgentArena/pkg/storage"
)

const (
	// resultSmoothing is the EMA factor for candidate damage/rounds averages.
	resultSmoothing = 0.3
	// minVariantLen discards degenerate variant blocks.
	minVariantLen = 80

	variantMaxTokens   = 2200
	variantTemperature = 0.93
)

var variantPattern = regexp.MustCompile(`(?s)<VARIANT>(.*?)</VARIANT>`)

// Engine evolves one agent's prompt pool: UCB1 selection among candidates,
// per-game result accounting, and periodic regeneration of new variants
// from the best performer using the model itself as the mutation operator.
// All mutation paths serialize through the engine's lock.
type Engine struct {
	agentID   string
	agentName string
	class     string

	store     *storage.Store
	completer llm.Completer
	cfg       config.EvolutionConfig

	mu               sync.Mutex
	candidates       []*Candidate
	current          *Candidate
	gamesSinceEvolve int

	now func() time.Time
}

// NewEngine loads the agent's persisted candidate pool and returns an
// engine ready to select from it. An empty pool is valid; callers seed it
// with SeedInitial before the first selection.
func NewEngine(store *storage.Store, completer llm.Completer, cfg config.EvolutionConfig, agentID, agentName, class string) (*Engine, error) {
	records, err := store.LoadCandidates(agentID)
	if err != nil {
		return nil, err
	}

	candidates := make([]*Candidate, 0, len(records))
	for _, rec := range records {
		candidates = append(candidates, candidateFromRecord(rec))
	}

	return &Engine{
		agentID:    agentID,
		agentName:  agentName,
		class:      class,
		store:      store,
		completer:  completer,
		cfg:        cfg,
		candidates: candidates,
		now:        time.Now,
	}, nil
}

// HasCandidates reports whether the pool holds at least one candidate.
func (e *Engine) HasCandidates() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.candidates) > 0
}

// SeedInitial installs the agent's base prompt as the generation-zero
// candidate. The seed id is stable per agent, so reseeding an existing
// agent is an upsert, not a duplicate.
func (e *Engine) SeedInitial(basePrompt string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	seed := &Candidate{
		PromptID:  "seed_" + e.agentID,
		AgentID:   e.agentID,
		Text:      basePrompt,
		CreatedAt: float64(e.now().UnixNano()) / 1e9,
	}
	if err := e.store.UpsertCandidate(seed.toRecord()); err != nil {
		return err
	}
	e.candidates = []*Candidate{seed}
	return nil
}

// ActivePrompt selects the candidate to play the next game with. Ties
// break toward the earlier pool position, so selection is deterministic
// for a given pool state.
func (e *Engine) ActivePrompt() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.candidates) == 0 {
		return "", errors.WithFields(
			errors.New(errors.NoCandidates, "prompt pool is empty, seed it first"),
			errors.Fields{"agent_id": e.agentID},
		)
	}

	totalEvals := e.totalEvaluations()
	best := e.candidates[0]
	bestScore := best.UCBScore(totalEvals)
	for _, c := range e.candidates[1:] {
		if score := c.UCBScore(totalEvals); score > bestScore {
			best = c
			bestScore = score
		}
	}

	e.current = best
	return best.Text, nil
}

// RecordGameResult attributes one finished game to the active candidate:
// wins/losses move by exactly one, damage and rounds update by EMA, and
// the result persists immediately. Once enough games have elapsed and the
// pool has enough signal, an evolution cycle breeds new variants from the
// current best performer. Evolution failures degrade to a no-op; the
// result itself is already durable.
func (e *Engine) RecordGameResult(ctx context.Context, won bool, damageDealt, roundsSurvived int, battleSummary string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != nil {
		if won {
			e.current.Wins++
		} else {
			e.current.Losses++
		}
		e.current.AvgDamage = e.current.AvgDamage*(1-resultSmoothing) + float64(damageDealt)*resultSmoothing
		e.current.AvgRounds = e.current.AvgRounds*(1-resultSmoothing) + float64(roundsSurvived)*resultSmoothing

		if err := e.store.UpsertCandidate(e.current.toRecord()); err != nil {
			return err
		}
	}

	e.gamesSinceEvolve++
	if e.gamesSinceEvolve >= e.cfg.EvalEvery && e.totalEvaluations() >= e.cfg.MinGames {
		e.gamesSinceEvolve = 0
		e.evolve(ctx, battleSummary)
	}
	return nil
}

// totalEvaluations sums wins+losses across the pool. Callers hold e.mu.
func (e *Engine) totalEvaluations() int {
	total := 0
	for _, c := range e.candidates {
		total += c.Evaluations()
	}
	return total
}

// evolve breeds variants from the candidate with the best raw win rate
// and grafts them into the pool at the next generation. Callers hold e.mu.
func (e *Engine) evolve(ctx context.Context, feedback string) {
	logger := logging.GetLogger()

	if len(e.candidates) == 0 {
		return
	}

	best := e.candidates[0]
	maxGeneration := best.Generation
	for _, c := range e.candidates[1:] {
		if c.WinRate() > best.WinRate() {
			best = c
		}
		if c.Generation > maxGeneration {
			maxGeneration = c.Generation
		}
	}

	variants := e.generateVariants(ctx, best, feedback)
	if len(variants) == 0 {
		logger.Warn(ctx, "evolution for %s produced no usable variants", e.agentID)
	}

	now := e.now()
	for i, text := range variants {
		c := &Candidate{
			PromptID:   fmt.Sprintf("ape_%s_%d_%d", e.agentID, now.Unix(), i),
			AgentID:    e.agentID,
			Text:       text,
			Generation: maxGeneration + 1,
			CreatedAt:  float64(now.UnixNano()) / 1e9,
		}
		if err := e.store.UpsertCandidate(c.toRecord()); err != nil {
			logger.Error(ctx, "failed to persist variant %s: %v", c.PromptID, err)
			continue
		}
		e.candidates = append(e.candidates, c)
	}

	logger.Info(ctx, "evolution for %s: %d new candidates at generation %d, pool size %d",
		e.agentID, len(variants), maxGeneration+1, len(e.candidates))

	e.prune(ctx)
}

// generateVariants asks the model for rewritten prompt variants and keeps
// the well-formed ones. A failed or unparsable generation yields nothing;
// the pool simply does not grow this cycle.
func (e *Engine) generateVariants(ctx context.Context, best *Candidate, feedback string) []string {
	basePrompt := best.Text
	if len(basePrompt) > 1200 {
		basePrompt = basePrompt[:1200]
	}

	meta := fmt.Sprintf(
		"You are an expert at writing AI agent system prompts for RPG combat games.\n\n"+
			"Current prompt for %[1]s (a %[2]s):\n"+
			"<CURRENT_PROMPT>\n%[3]s\n</CURRENT_PROMPT>\n\n"+
			"Win rate: %[4].1f%%\n"+
			"Recent battle feedback: %[5]s\n\n"+
			"Generate %[6]d improved variants. Each must:\n"+
			"- Keep the name (%[1]s) and class (%[2]s)\n"+
			"- Sound like a real person under pressure, not a game bot\n"+
			"- Try a different strategic emphasis or emotional angle\n"+
			"- Stay under 600 words\n"+
			"- End with: ACTION: <action_name>\n\n"+
			"Return exactly %[6]d variants like this:\n"+
			"<VARIANT>\n...prompt...\n</VARIANT>",
		e.agentName, e.class, basePrompt, best.WinRate()*100, feedback, e.cfg.Candidates)

	resp, err := e.completer.Complete(ctx, llm.Request{
		System:      "Return only the variant prompts in the requested format. No preamble.",
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: meta}},
		MaxTokens:   variantMaxTokens,
		Temperature: variantTemperature,
	})
	if err != nil {
		logging.GetLogger().Warn(ctx, "variant generation for %s failed: %v", e.agentID, err)
		return nil
	}

	var variants []string
	for _, match := range variantPattern.FindAllStringSubmatch(resp.Text, -1) {
		text := strings.TrimSpace(match[1])
		if len(text) <= minVariantLen {
			continue
		}
		variants = append(variants, text)
		if len(variants) == e.cfg.Candidates {
			break
		}
	}
	return variants
}

// prune trims an oversized pool to its best members by UCB score.
// Evicted candidates are physically deleted only while unproven; rows
// with two or more evaluations stay durable even once dropped from the
// in-memory pool. Callers hold e.mu.
func (e *Engine) prune(ctx context.Context) {
	if len(e.candidates) <= e.cfg.MaxPool {
		return
	}

	totalEvals := e.totalEvaluations()
	sortCandidatesByUCB(e.candidates, totalEvals)

	keep := e.cfg.MaxPool - 2
	evicted := e.candidates[keep:]
	e.candidates = e.candidates[:keep]

	logger := logging.GetLogger()
	for _, c := range evicted {
		if err := e.store.DeleteCandidateIfUnproven(c.PromptID); err != nil {
			logger.Error(ctx, "failed to prune candidate %s: %v", c.PromptID, err)
		}
	}
	logger.Debug(ctx, "pruned prompt pool for %s to %d candidates", e.agentID, keep)
}

// sortCandidatesByUCB orders best-first. The sort is stable so equal
// scores keep their pool order and selection stays deterministic.
func sortCandidatesByUCB(candidates []*Candidate, totalEvaluations int) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].UCBScore(totalEvaluations) > candidates[j].UCBScore(totalEvaluations)
	})
}
