package arena

import (
	"context"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/Alb4don/RPGAgentArena/pkg/agent"
	"github.com/Alb4don/RPGAgentArena/pkg/errors"
	"github.com/Alb4don/RPGAgentArena/pkg/logging"
	"github.com/Alb4don/RPGAgentArena/pkg/policy"
	"github.com/Alb4don/RPGAgentArena/pkg/storage"
)

// Resolver turns a chosen action into damage dealt to the defender. The
// arena applies the damage; the formula itself belongs to the caller.
type Resolver func(action policy.Action, attacker, defender *Fighter, round int) int

// MatchResult is the outcome of one finished game.
type MatchResult struct {
	GameID      string
	WinnerID    string // empty for a draw
	Rounds      int
	DamageBy    map[string]int
	Reflections map[string]string
}

// SeriesResult aggregates a best-of-N series between two agents.
type SeriesResult struct {
	Agent1ID string
	Agent2ID string
	Wins     map[string]int
	Draws    int
	Matches  []*MatchResult
}

// Arena drives games between agents against the shared store. Matches for
// distinct pairings may run concurrently; the store and credential pool
// serialize internally.
type Arena struct {
	store     *storage.Store
	resolver  Resolver
	maxRounds int
}

// New builds an arena. maxRounds caps game length before the HP tiebreak.
func New(store *storage.Store, resolver Resolver, maxRounds int) *Arena {
	return &Arena{store: store, resolver: resolver, maxRounds: maxRounds}
}

// RunMatch plays one game between two agents to the death or the round
// cap, persists the game record, and runs both post-game reflections.
func (a *Arena) RunMatch(ctx context.Context, agent1, agent2 *agent.Agent) (*MatchResult, error) {
	logger := logging.GetLogger()

	env := RandomEnvironment()
	battle := NewBattle(env.Name, env.Weather, a.maxRounds)
	f1 := NewFighter(agent1)
	f2 := NewFighter(agent2)

	result := &MatchResult{
		GameID:   uuid.NewString()[:8],
		DamageBy: map[string]int{agent1.ID: 0, agent2.ID: 0},
	}
	logger.Info(ctx, "match %s: %s vs %s in %s (%s)",
		result.GameID, agent1.AgentName, agent2.AgentName, env.Name, env.Weather)

	for battle.round < battle.maxRounds && f1.Alive() && f2.Alive() {
		if err := errors.CheckContext(ctx, "arena match"); err != nil {
			return nil, err
		}
		battle.round++

		for _, turn := range []struct{ actor, target *Fighter }{{f1, f2}, {f2, f1}} {
			if !turn.actor.Alive() || !turn.target.Alive() {
				break
			}

			action, narration := turn.actor.Agent.Decide(ctx,
				combatantView{turn.actor}, combatantView{turn.target}, battle)
			damage := a.resolver(action, turn.actor, turn.target, battle.round)
			if damage > 0 {
				turn.target.HP -= damage
				if turn.target.HP < 0 {
					turn.target.HP = 0
				}
			}

			result.DamageBy[turn.actor.Agent.ID] += damage
			turn.actor.Agent.RecordTurnOutcome(damage, turn.target.Agent.Class, env.Name)
			battle.logTurn(turn.actor.Agent.AgentName, action, narration, damage)
		}
	}

	switch {
	case f1.Alive() && !f2.Alive():
		result.WinnerID = agent1.ID
	case f2.Alive() && !f1.Alive():
		result.WinnerID = agent2.ID
	case f1.HP > f2.HP:
		result.WinnerID = agent1.ID
	case f2.HP > f1.HP:
		result.WinnerID = agent2.ID
	}
	result.Rounds = battle.round

	if err := a.store.SaveGame(&storage.GameRecord{
		GameID:      result.GameID,
		Agent1ID:    agent1.ID,
		Agent2ID:    agent2.ID,
		WinnerID:    result.WinnerID,
		Rounds:      battle.round,
		Environment: env.Name,
		Log:         battle.log,
	}); err != nil {
		return nil, err
	}

	result.Reflections = map[string]string{
		agent1.ID: agent1.PostGameReflect(ctx, result.WinnerID == agent1.ID,
			agent2.ID, battle, result.DamageBy[agent1.ID]),
		agent2.ID: agent2.PostGameReflect(ctx, result.WinnerID == agent2.ID,
			agent1.ID, battle, result.DamageBy[agent2.ID]),
	}

	logger.Info(ctx, "match %s finished after %d rounds, winner=%q",
		result.GameID, result.Rounds, result.WinnerID)
	return result, nil
}

// RunSeries plays a fixed number of games between the pair, one after
// another. Each game feeds both agents' learning loops before the next
// begins.
func (a *Arena) RunSeries(ctx context.Context, agent1, agent2 *agent.Agent, games int) (*SeriesResult, error) {
	series := &SeriesResult{
		Agent1ID: agent1.ID,
		Agent2ID: agent2.ID,
		Wins:     map[string]int{agent1.ID: 0, agent2.ID: 0},
	}

	for i := 0; i < games; i++ {
		match, err := a.RunMatch(ctx, agent1, agent2)
		if err != nil {
			return series, err
		}
		series.Matches = append(series.Matches, match)
		if match.WinnerID == "" {
			series.Draws++
		} else {
			series.Wins[match.WinnerID]++
		}
	}
	return series, nil
}

// Pairing names two agents that should play a series.
type Pairing struct {
	Agent1 *agent.Agent
	Agent2 *agent.Agent
	Games  int
}

// RunTournament runs each pairing's series concurrently, bounded by
// maxConcurrent. Agents must not appear in more than one pairing; the
// shared pool and store are safe across pairings.
func (a *Arena) RunTournament(ctx context.Context, pairings []Pairing, maxConcurrent int) ([]*SeriesResult, error) {
	results := make([]*SeriesResult, len(pairings))

	p := pool.New().WithContext(ctx).WithMaxGoroutines(maxConcurrent)
	for i, pairing := range pairings {
		i, pairing := i, pairing
		p.Go(func(ctx context.Context) error {
			series, err := a.RunSeries(ctx, pairing.Agent1, pairing.Agent2, pairing.Games)
			results[i] = series
			return err
		})
	}
	if err := p.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// HeadToHead reports the all-time record between two agents.
func (a *Arena) HeadToHead(agent1ID, agent2ID string) (*storage.HeadToHead, error) {
	return a.store.LoadHeadToHead(agent1ID, agent2ID)
}
