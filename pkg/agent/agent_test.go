package agent

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alb4don/RPGAgentArena/pkg/config"
	"github.com/Alb4don/RPGAgentArena/pkg/errors"
	"github.com/Alb4don/RPGAgentArena/pkg/llm"
	"github.com/Alb4don/RPGAgentArena/pkg/policy"
	"github.com/Alb4don/RPGAgentArena/pkg/storage"
)

type fakeCompleter struct {
	text     string
	err      error
	requests []llm.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Text: f.text}, nil
}

type fakeCombatant struct {
	id    string
	name  string
	class string
	hp    float64
	items []string
}

func (f fakeCombatant) ID() string            { return f.id }
func (f fakeCombatant) Name() string          { return f.name }
func (f fakeCombatant) Class() string         { return f.class }
func (f fakeCombatant) HPPercent() float64    { return f.hp }
func (f fakeCombatant) MP() (int, int)        { return 40, 50 }
func (f fakeCombatant) UsableItems() []string { return f.items }

type fakeBattle struct {
	round int
	log   []storage.TurnLogEntry
}

func (f fakeBattle) Environment() string { return "ancient ruins" }
func (f fakeBattle) Weather() string     { return "stormy night" }
func (f fakeBattle) Round() (int, int)   { return f.round, 20 }
func (f fakeBattle) RecentSummary(int) string {
	if len(f.log) == 0 {
		return "The battle has just begun."
	}
	return "Round 1 -- Kara: swings hard."
}
func (f fakeBattle) TurnLog() []storage.TurnLogEntry { return f.log }

func newTestAgent(t *testing.T, completer llm.Completer) (*Agent, *storage.Store) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "arena.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Default()
	a, err := New(store, completer, cfg, "Kara", "warrior", Options{AgentID: "kara-01"})
	require.NoError(t, err)
	return a, store
}

func testFighters() (fakeCombatant, fakeCombatant) {
	self := fakeCombatant{id: "kara-01", name: "Kara", class: "warrior", hp: 0.9, items: []string{"Bandage"}}
	opp := fakeCombatant{id: "orc-07", name: "Gruk", class: "Berserker", hp: 0.6}
	return self, opp
}

func TestNewSeedsPromptPool(t *testing.T) {
	a, store := newTestAgent(t, &fakeCompleter{})

	records, err := store.LoadCandidates("kara-01")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "seed_kara-01", records[0].PromptID)
	assert.Contains(t, records[0].Text, "You are Kara, a warrior")
	assert.Contains(t, a.baseSystem, "ACTION: <action_name>")
}

func TestNewReloadsExistingState(t *testing.T) {
	completer := &fakeCompleter{}
	a, store := newTestAgent(t, completer)
	a.state.Wins = 4
	require.NoError(t, a.memory.SaveState(a.state))

	cfg := config.Default()
	again, err := New(store, completer, cfg, "Kara", "warrior", Options{AgentID: "kara-01"})
	require.NoError(t, err)
	assert.Equal(t, 4, again.state.Wins)
}

func TestDecideParsesActionAndNarration(t *testing.T) {
	completer := &fakeCompleter{text: "Gruk is slowing down. I keep my shield up and wait for the opening. ACTION: defend"}
	a, _ := newTestAgent(t, completer)
	self, opp := testFighters()

	action, narration := a.Decide(context.Background(), self, opp, fakeBattle{round: 3})

	assert.Equal(t, policy.ActionDefend, action)
	assert.NotContains(t, narration, "ACTION:")
	assert.Contains(t, narration, "shield")

	// The decided action nudges its own preference optimistically.
	assert.Greater(t, a.state.PrefActions[policy.ActionDefend], 0.5)

	// The situation prompt carries the HP-feel buckets.
	require.NotEmpty(t, completer.requests)
	prompt := completer.requests[len(completer.requests)-1].Messages
	assert.Contains(t, prompt[len(prompt)-1].Content, "barely broken a sweat")
	assert.Contains(t, prompt[len(prompt)-1].Content, "bleeding but holding it together")
}

func TestDecideFallbackOnCallFailure(t *testing.T) {
	completer := &fakeCompleter{err: errors.New(errors.LLMGenerationFailed, "offline")}
	a, _ := newTestAgent(t, completer)
	self, opp := testFighters()

	action, narration := a.Decide(context.Background(), self, opp, fakeBattle{round: 1})

	assert.Equal(t, policy.ActionAttack, action)
	assert.Contains(t, narration, "presses forward")
}

func TestDecideFallbackOnMalformedResponse(t *testing.T) {
	completer := &fakeCompleter{err: errors.New(errors.InvalidResponse, "no text blocks")}
	a, _ := newTestAgent(t, completer)
	self, opp := testFighters()

	action, narration := a.Decide(context.Background(), self, opp, fakeBattle{round: 1})

	assert.Equal(t, policy.ActionDefend, action)
	assert.Contains(t, narration, "holds position")
}

func TestDecideRateLimitedFallsBackWithoutCalling(t *testing.T) {
	completer := &fakeCompleter{text: "unused. ACTION: taunt"}
	a, _ := newTestAgent(t, completer)
	a.limiter = newRateLimiter(0, time.Minute)
	self, opp := testFighters()

	action, narration := a.Decide(context.Background(), self, opp, fakeBattle{round: 1})

	assert.Equal(t, policy.ActionAttack, action)
	assert.Contains(t, narration, "trusts instinct")
	assert.Empty(t, completer.requests)
}

func TestDecideConversationStaysBounded(t *testing.T) {
	completer := &fakeCompleter{text: "Pressing on. ACTION: attack"}
	a, _ := newTestAgent(t, completer)
	self, opp := testFighters()

	for i := 0; i < 15; i++ {
		a.Decide(context.Background(), self, opp, fakeBattle{round: i + 1})
	}
	assert.LessOrEqual(t, len(a.conversation), maxConversation)
}

func TestParseActionFallbackChain(t *testing.T) {
	a, _ := newTestAgent(t, &fakeCompleter{})

	// Explicit tag wins.
	assert.Equal(t, policy.ActionFlee, a.parseAction("no way out. ACTION: flee"))

	// Mention in prose when the tag is missing.
	assert.Equal(t, policy.ActionTaunt, a.parseAction("I taunt him across the clearing"))

	// Bandit arm when nothing matches.
	a.state.UpdateBandit(policy.ActionObserve, 0.9)
	got := a.parseAction("???")
	_, inSet := policy.ParseAction(string(got))
	assert.True(t, inSet)

	// Bare attack with no data at all.
	fresh, _ := newTestAgent(t, &fakeCompleter{})
	assert.Equal(t, policy.ActionAttack, fresh.parseAction("???"))
}

func TestRecordTurnOutcomeFeedsBanditAndEpisodes(t *testing.T) {
	completer := &fakeCompleter{text: "Strike now. ACTION: attack"}
	a, store := newTestAgent(t, completer)
	self, opp := testFighters()

	a.Decide(context.Background(), self, opp, fakeBattle{round: 1})
	a.RecordTurnOutcome(24, "Berserker", "ancient ruins")

	stat := a.state.UCBStats[policy.ActionAttack]
	assert.Equal(t, 1, stat.Plays)
	assert.InDelta(t, 0.8, stat.Total, 1e-9)

	episodes, err := store.RecentEpisodes("kara-01", 10)
	require.NoError(t, err)
	require.Len(t, episodes, 1)
	assert.Equal(t, "attack", episodes[0].Action)
	assert.Equal(t, "Berserker", episodes[0].OpponentClass)
	assert.LessOrEqual(t, len(episodes[0].Situation), maxEpisodeSituation)
}

func TestRecordTurnOutcomeBeforeAnyDecisionIsNoOp(t *testing.T) {
	a, store := newTestAgent(t, &fakeCompleter{})
	a.RecordTurnOutcome(10, "Berserker", "ancient ruins")

	assert.Empty(t, a.state.UCBStats)
	episodes, err := store.RecentEpisodes("kara-01", 10)
	require.NoError(t, err)
	assert.Empty(t, episodes)
}

func TestPostGameReflectTalliesAndPersists(t *testing.T) {
	completer := &fakeCompleter{text: "I leaned on raw aggression and it carried me. Next time I watch the counter."}
	a, store := newTestAgent(t, completer)

	battle := fakeBattle{
		round: 6,
		log: []storage.TurnLogEntry{
			{Round: 1, Agent: "Kara", Action: "attack", Damage: 22},
			{Round: 1, Agent: "Gruk", Action: "cast_spell", Damage: 25},
			{Round: 2, Agent: "Kara", Action: "defend", Damage: 0},
			{Round: 2, Agent: "Gruk", Action: "taunt", Damage: 0},
		},
	}

	reflection := a.PostGameReflect(context.Background(), true, "orc-07", battle, 22)
	assert.Contains(t, reflection, "aggression")

	assert.Equal(t, 1, a.state.Wins)
	assert.Equal(t, 22, a.state.DamageDealt)
	assert.Equal(t, 25, a.state.DamageTaken)

	// Winning boosts the reward for every own action.
	attackStat := a.state.UCBStats[policy.ActionAttack]
	assert.InDelta(t, min(1.0, 22.0/30.0)+0.3, attackStat.Total, 1e-9)

	// Damaging opponent actions enter the tendency model; the zero-damage
	// taunt does not.
	insight := a.state.OpponentInsight("orc-07")
	assert.Contains(t, insight, "cast_spell")
	assert.NotContains(t, insight, "taunt")

	// State reached the store.
	rec, err := store.LoadAgent("kara-01")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.Wins)
}

func TestPostGameReflectFallbackTexts(t *testing.T) {
	completer := &fakeCompleter{err: errors.New(errors.LLMGenerationFailed, "offline")}
	a, _ := newTestAgent(t, completer)

	won := a.PostGameReflect(context.Background(), true, "orc-07", fakeBattle{round: 3}, 10)
	assert.Equal(t, "Noted. Adjusting.", won)

	lost := a.PostGameReflect(context.Background(), false, "orc-07", fakeBattle{round: 3}, 10)
	assert.Equal(t, "That cost me. Won't happen the same way.", lost)
}

func TestBaseSystemMoodBuckets(t *testing.T) {
	a, _ := newTestAgent(t, &fakeCompleter{})

	a.state.Wins = 8
	a.state.Losses = 2
	assert.Contains(t, a.buildBaseSystem(), "quiet confidence")

	a.state.Wins = 1
	a.state.Losses = 5
	assert.Contains(t, a.buildBaseSystem(), "something to prove")

	a.state.Wins = 0
	a.state.Losses = 0
	assert.Contains(t, a.buildBaseSystem(), "unpredictable")
}

func TestSanitizeResponseStripsControlChars(t *testing.T) {
	raw := "Hold\x00 the \x1bline.\nACTION: defend"
	clean := sanitizeResponse(raw)
	assert.Equal(t, "Hold the line.\nACTION: defend", clean)
}
