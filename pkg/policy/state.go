package policy

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Alb4don/RPGAgentArena/pkg/storage"
)

const (
	// prefSmoothing is the EMA factor for action preference updates.
	prefSmoothing = 0.15
	// prefInitial is the starting preference for an unseen action.
	prefInitial = 0.5
)

// BanditStat is one arm of the per-agent action bandit.
type BanditStat struct {
	Total float64
	Plays int
}

// State holds everything an agent has learned: win/loss tallies, action
// preferences, the action bandit and per-opponent tendency models. A State
// belongs to exactly one decision loop and is not safe for concurrent use;
// durability is explicit through Memory.SaveState after a mutation batch.
type State struct {
	AgentID     string
	Name        string
	Class       string
	Level       int
	Wins        int
	Losses      int
	DamageDealt int
	DamageTaken int

	PrefActions map[Action]float64
	OppModels   map[string]map[Action]int
	UCBStats    map[Action]BanditStat
}

// NewState builds a fresh policy state for an agent with no history.
func NewState(agentID, name, class string) *State {
	return &State{
		AgentID:     agentID,
		Name:        name,
		Class:       class,
		Level:       1,
		PrefActions: make(map[Action]float64),
		OppModels:   make(map[string]map[Action]int),
		UCBStats:    make(map[Action]BanditStat),
	}
}

// WinRate is wins over total games, 0 with no games.
func (s *State) WinRate() float64 {
	total := s.Wins + s.Losses
	if total == 0 {
		return 0
	}
	return float64(s.Wins) / float64(total)
}

// RecordActionOutcome nudges the action's preference toward 1 on success
// and 0 on failure. Unseen actions start at 0.5.
func (s *State) RecordActionOutcome(action Action, success bool) {
	cur, ok := s.PrefActions[action]
	if !ok {
		cur = prefInitial
	}
	target := 0.0
	if success {
		target = 1.0
	}
	s.PrefActions[action] = cur*(1-prefSmoothing) + target*prefSmoothing
}

// UpdateBandit accumulates one pull's reward for the action.
func (s *State) UpdateBandit(action Action, reward float64) {
	stat := s.UCBStats[action]
	stat.Total += reward
	stat.Plays++
	s.UCBStats[action] = stat
}

// BestAction picks from candidates by UCB1. An action with zero recorded
// plays is returned immediately so every arm gets tried; with no bandit
// data at all the second return is false.
func (s *State) BestAction(candidates []Action) (Action, bool) {
	if len(s.UCBStats) == 0 {
		return "", false
	}

	totalPlays := 0
	for _, stat := range s.UCBStats {
		totalPlays += stat.Plays
	}

	bestScore := -1.0
	var best Action
	found := false
	for _, action := range candidates {
		stat := s.UCBStats[action]
		if stat.Plays == 0 {
			return action, true
		}
		avg := stat.Total / float64(stat.Plays)
		score := avg + math.Sqrt(2.0*math.Log(math.Max(1, float64(totalPlays)))/float64(stat.Plays))
		if score > bestScore {
			bestScore = score
			best = action
			found = true
		}
	}
	return best, found
}

// UCBSummary renders the top bandit arms by mean reward for prompt context.
// Empty when no arm has been pulled.
func (s *State) UCBSummary() string {
	if len(s.UCBStats) == 0 {
		return ""
	}

	type arm struct {
		action Action
		mean   float64
	}
	arms := make([]arm, 0, len(s.UCBStats))
	for action, stat := range s.UCBStats {
		arms = append(arms, arm{action, stat.Total / math.Max(1, float64(stat.Plays))})
	}
	sort.Slice(arms, func(i, j int) bool {
		if arms[i].mean != arms[j].mean {
			return arms[i].mean > arms[j].mean
		}
		return arms[i].action < arms[j].action
	})
	if len(arms) > 4 {
		arms = arms[:4]
	}

	parts := make([]string, 0, len(arms))
	for _, a := range arms {
		parts = append(parts, fmt.Sprintf("%s(%.2f)", a.action, a.mean))
	}
	return "Data: " + strings.Join(parts, ", ")
}

// PreferredActions returns up to the three highest-preference actions.
func (s *State) PreferredActions() []Action {
	type pref struct {
		action Action
		score  float64
	}
	prefs := make([]pref, 0, len(s.PrefActions))
	for action, score := range s.PrefActions {
		prefs = append(prefs, pref{action, score})
	}
	sort.Slice(prefs, func(i, j int) bool {
		if prefs[i].score != prefs[j].score {
			return prefs[i].score > prefs[j].score
		}
		return prefs[i].action < prefs[j].action
	})
	if len(prefs) > 3 {
		prefs = prefs[:3]
	}

	out := make([]Action, 0, len(prefs))
	for _, p := range prefs {
		out = append(out, p.action)
	}
	return out
}

// UpdateOpponentModel tallies whether the action proved effective against
// the opponent: +1 when it landed, -1 when it did not.
func (s *State) UpdateOpponentModel(opponentID string, action Action, effective bool) {
	tendencies, ok := s.OppModels[opponentID]
	if !ok {
		tendencies = make(map[Action]int)
		s.OppModels[opponentID] = tendencies
	}
	if effective {
		tendencies[action]++
	} else {
		tendencies[action]--
	}
}

// OpponentInsight summarizes what has and has not worked against the
// opponent: up to two actions each way. Empty with no data.
func (s *State) OpponentInsight(opponentID string) string {
	tendencies := s.OppModels[opponentID]
	if len(tendencies) == 0 {
		return ""
	}

	type tally struct {
		action Action
		count  int
	}
	ranked := make([]tally, 0, len(tendencies))
	for action, count := range tendencies {
		ranked = append(ranked, tally{action, count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].action < ranked[j].action
	})

	var effective, weak []string
	for _, t := range ranked {
		if t.count > 0 && len(effective) < 2 {
			effective = append(effective, string(t.action))
		}
		if t.count < 0 && len(weak) < 2 {
			weak = append(weak, string(t.action))
		}
	}

	var parts []string
	if len(effective) > 0 {
		parts = append(parts, "effective: "+strings.Join(effective, ", "))
	}
	if len(weak) > 0 {
		parts = append(parts, "less useful: "+strings.Join(weak, ", "))
	}
	return strings.Join(parts, "; ")
}

// toRecord converts to the string-keyed storage form.
func (s *State) toRecord() *storage.AgentRecord {
	prefs := make(map[string]float64, len(s.PrefActions))
	for action, score := range s.PrefActions {
		prefs[string(action)] = score
	}

	opps := make(map[string]map[string]int, len(s.OppModels))
	for opp, tendencies := range s.OppModels {
		m := make(map[string]int, len(tendencies))
		for action, count := range tendencies {
			m[string(action)] = count
		}
		opps[opp] = m
	}

	stats := make(map[string]storage.UCBStat, len(s.UCBStats))
	for action, stat := range s.UCBStats {
		stats[string(action)] = storage.UCBStat{Total: stat.Total, Plays: stat.Plays}
	}

	return &storage.AgentRecord{
		AgentID:     s.AgentID,
		Name:        s.Name,
		Class:       s.Class,
		Level:       s.Level,
		Wins:        s.Wins,
		Losses:      s.Losses,
		DamageDealt: s.DamageDealt,
		DamageTaken: s.DamageTaken,
		PrefActions: prefs,
		OppModels:   opps,
		UCBStats:    stats,
	}
}

// stateFromRecord converts the storage form back into a typed State.
// Unrecognized action strings are dropped rather than carried loose.
func stateFromRecord(rec *storage.AgentRecord) *State {
	s := NewState(rec.AgentID, rec.Name, rec.Class)
	s.Level = rec.Level
	s.Wins = rec.Wins
	s.Losses = rec.Losses
	s.DamageDealt = rec.DamageDealt
	s.DamageTaken = rec.DamageTaken

	for name, score := range rec.PrefActions {
		if action, ok := ParseAction(name); ok {
			s.PrefActions[action] = score
		}
	}
	for opp, tendencies := range rec.OppModels {
		m := make(map[Action]int, len(tendencies))
		for name, count := range tendencies {
			if action, ok := ParseAction(name); ok {
				m[action] = count
			}
		}
		if len(m) > 0 {
			s.OppModels[opp] = m
		}
	}
	for name, stat := range rec.UCBStats {
		if action, ok := ParseAction(name); ok {
			s.UCBStats[action] = BanditStat{Total: stat.Total, Plays: stat.Plays}
		}
	}
	return s
}
